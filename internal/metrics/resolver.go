package metrics

import (
	"sort"
	"strconv"
	"strings"

	"formula-signal-engine/internal/types"
)

// Resolver maps a requested metric name (human or sanitized) to a value
// inside one quarter. Resolution never fails hard: a metric that cannot be
// matched, or a value that cannot be parsed, resolves to nil.
type Resolver struct {
	fallbacks []FallbackRule
}

// NewResolver builds a resolver from the built-in fallback rules plus any
// extra rules from configuration. Extra rules are tried after the built-in
// ones, in the order given.
func NewResolver(extra ...FallbackRule) *Resolver {
	rules := make([]FallbackRule, 0, len(defaultFallbacks)+len(extra))
	rules = append(rules, defaultFallbacks...)
	rules = append(rules, extra...)
	return &Resolver{fallbacks: rules}
}

// Lookup is the outcome of resolving one metric in one quarter.
type Lookup struct {
	// Metric is the dataset's own name for the matched metric.
	Metric string
	// Value is the coerced numeric value; nil when the metric is missing
	// or its raw value is not numeric.
	Value *float64
	// Normalized is true when resolution went through a fallback alias.
	Normalized bool
	// Found is true when some metric name matched, even if its value is nil.
	Found bool
}

// Resolve looks up a requested metric name within a quarter.
//
// Matching order: exact normalized match, then substring in either
// direction, then the fallback alias rules (e.g. OPM-style names retried
// against the Financing Margin aliases for banking datasets).
func (r *Resolver) Resolve(q types.Quarter, requested string) Lookup {
	if name, ok := r.match(q, requested); ok {
		return Lookup{Metric: name, Value: ParseValue(q.Metrics[name]), Found: true}
	}

	norm := Normalize(requested)
	for _, rule := range r.fallbacks {
		if !rule.triggeredBy(norm) {
			continue
		}
		for _, alias := range rule.Aliases {
			if name, ok := r.match(q, alias); ok {
				return Lookup{
					Metric:     name,
					Value:      ParseValue(q.Metrics[name]),
					Normalized: true,
					Found:      true,
				}
			}
		}
	}

	return Lookup{}
}

// match runs the exact-then-substring search for one candidate name.
func (r *Resolver) match(q types.Quarter, requested string) (string, bool) {
	norm := Normalize(requested)
	if norm == "" {
		return "", false
	}

	// Sorted keys keep substring matching deterministic when more than one
	// metric name contains the requested token.
	names := make([]string, 0, len(q.Metrics))
	for name := range q.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if Normalize(name) == norm {
			return name, true
		}
	}
	for _, name := range names {
		cand := Normalize(name)
		if strings.Contains(cand, norm) || strings.Contains(norm, cand) {
			return name, true
		}
	}
	return "", false
}

// Normalize reduces a metric name to its canonical comparison form:
// lower-case with every non-alphanumeric rune removed. Two names are the
// same metric iff their normalized forms are equal, which makes matching
// immune to case, spacing, parentheses and percent punctuation.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseValue coerces a raw dataset value to a float. Trailing "%" is
// stripped, thousands separators are tolerated. Missing or unparseable
// values come back nil, never NaN.
func ParseValue(raw *string) *float64 {
	if raw == nil {
		return nil
	}
	s := strings.TrimSpace(*raw)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
