package metrics

import "strings"

// FallbackRule retries a metric that failed exact and substring matching
// against an ordered list of alias names. Triggers are normalized
// substrings of the requested name; Aliases are candidate metric names
// tried in order with the usual exact-then-substring search.
//
// The table is declarative so behavior stays deterministic and rules can
// be extended from configuration instead of editing matching code.
type FallbackRule struct {
	Name     string   `yaml:"name"`
	Triggers []string `yaml:"triggers"`
	Aliases  []string `yaml:"aliases"`
}

func (f FallbackRule) triggeredBy(normalized string) bool {
	for _, trigger := range f.Triggers {
		if trigger == "" {
			continue
		}
		if strings.Contains(normalized, Normalize(trigger)) {
			return true
		}
	}
	return false
}

// defaultFallbacks are the built-in rules. Banking companies report
// "Financing Margin %" where everyone else reports "OPM %", so OPM-style
// requests fall back to the financing margin family.
var defaultFallbacks = []FallbackRule{
	{
		Name:     "opm-to-financing-margin",
		Triggers: []string{"opm", "operatingmargin", "operatingprofitmargin"},
		Aliases: []string{
			"Financing Margin %",
			"Financing Margin",
			"Financing Profit Margin",
		},
	},
}
