package formula

import (
	"strings"

	"formula-signal-engine/internal/types"
)

// MapSignal converts a raw evaluation result into the caller's signal
// label: true becomes the configured label upper-cased, false and null
// become the "No Signal" sentinel, and string or numeric results pass
// through unchanged (formulas may compute the signal text directly, or be
// used as plain queries).
func MapSignal(v Value, label string) string {
	switch v.Kind {
	case KindBool:
		if !v.Bool {
			return types.SignalNone
		}
		label = strings.ToUpper(strings.TrimSpace(label))
		if label == "" {
			return types.SignalNone
		}
		return label
	case KindString:
		return v.Str
	case KindNumber:
		return formatNumber(v.Num)
	default:
		return types.SignalNone
	}
}

// substitutedText rewrites the formula with every reference replaced by
// its resolved value, the way the trace viewer displays it.
func substitutedText(formula string, subs []types.Substitution) string {
	out := formula
	seen := make(map[string]bool, len(subs))
	for _, sub := range subs {
		if sub.Token == "" || seen[sub.Token] {
			continue
		}
		seen[sub.Token] = true
		repl := "null"
		if sub.Value != nil {
			repl = formatNumber(*sub.Value)
		}
		out = strings.ReplaceAll(out, sub.Token, repl)
	}
	return out
}
