package dataset

import (
	"fmt"

	"formula-signal-engine/internal/interfaces"
)

// New builds the configured loader. Source is "JSON" for snapshot files or
// "HTML" for saved screener result pages.
func New(source, dir string) (interfaces.DatasetLoader, error) {
	switch source {
	case "JSON":
		return NewJSONLoader(dir), nil
	case "HTML":
		return NewHTMLLoader(dir), nil
	default:
		return nil, fmt.Errorf("unknown dataset source '%s'", source)
	}
}
