package types

// Quarter is one reporting period for a company: a human label like
// "Mar 2024" plus the raw metric values as scraped. Values are kept as
// strings (possibly with a trailing "%"); nil means not declared.
type Quarter struct {
	Label   string             `json:"label"`
	Metrics map[string]*string `json:"metrics"`
}

// CompanyData is the materialized quarterly dataset for one company.
type CompanyData struct {
	Symbol   string    `json:"symbol"`
	Name     string    `json:"name,omitempty"`
	Quarters []Quarter `json:"quarters"`
}

// Formula is an Excel-like expression plus the signal label it emits when
// it evaluates to true. Priority and Scope are consumed by the precedence
// glue that decides which formula applies to which company; the engine
// itself only reads Expression and Signal.
type Formula struct {
	Expression string `json:"expression"`
	Signal     string `json:"signal,omitempty"`
	Priority   int    `json:"priority,omitempty"`
	Scope      string `json:"scope,omitempty"`
}

// ResultType tags the dynamic type of an evaluation result.
type ResultType string

const (
	ResultNumber  ResultType = "number"
	ResultString  ResultType = "string"
	ResultBoolean ResultType = "boolean"
	ResultNull    ResultType = "null"
	ResultError   ResultType = "error"
)

// Signal sentinels. A false/null result maps to SignalNone; a parse or
// runtime failure maps to SignalError so callers can tell "no signal" from
// "could not compute".
const (
	SignalNone  = "No Signal"
	SignalError = "Error"
)

// Error classes carried on EvalResult when ResultType is ResultError.
const (
	ErrClassParse   = "parse"
	ErrClassRuntime = "runtime"
)

// Substitution records one resolved metric reference.
type Substitution struct {
	Token      string   `json:"token"`
	Metric     string   `json:"metric"`
	Quarter    string   `json:"quarter"`
	Index      int      `json:"index"`
	Value      *float64 `json:"value"`
	Normalized bool     `json:"normalized"`
}

// Step categories recorded in a trace.
const (
	StepMetricLookup = "metric_lookup"
	StepFunctionCall = "function_call"
	StepComparison   = "comparison"
	StepArithmetic   = "arithmetic"
	StepLogical      = "logical"
	StepUnary        = "unary"
)

// EvalStep is one elementary evaluation action. OffsetMicros is the
// wall-clock offset from evaluation start, so a trace replays in order
// even after serialization.
type EvalStep struct {
	Seq          int               `json:"seq"`
	OffsetMicros int64             `json:"offset_us"`
	Category     string            `json:"category"`
	Description  string            `json:"description"`
	Inputs       []string          `json:"inputs,omitempty"`
	Output       string            `json:"output,omitempty"`
	Meta         map[string]string `json:"meta,omitempty"`
}

// FormulaTrace is the complete audit record for one evaluation. It holds
// no references to engine internals and serializes standalone.
type FormulaTrace struct {
	Formula        string         `json:"formula"`
	Substituted    string         `json:"substituted"`
	Substitutions  []Substitution `json:"substitutions"`
	Steps          []EvalStep     `json:"steps"`
	Result         string         `json:"result"`
	ResultType     ResultType     `json:"result_type"`
	QuartersUsed   []string       `json:"quarters_used"`
	DurationMicros int64          `json:"duration_us"`
}

// EvalResult is the typed outcome of one evaluation. Exactly one of
// Number/Text/Bool is set according to ResultType; all are nil/empty for
// null and error results.
type EvalResult struct {
	ResultType   ResultType    `json:"result_type"`
	Number       *float64      `json:"number,omitempty"`
	Text         *string       `json:"text,omitempty"`
	Bool         *bool         `json:"bool,omitempty"`
	Signal       string        `json:"signal"`
	ErrorClass   string        `json:"error_class,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	QuartersUsed []string      `json:"quarters_used"`
	Trace        *FormulaTrace `json:"trace,omitempty"`
}
