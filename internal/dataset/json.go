package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"formula-signal-engine/internal/types"
)

// JSONLoader reads one snapshot file per company: <dir>/<SYMBOL>.json
// holding a serialized CompanyData.
type JSONLoader struct {
	dir string
}

func NewJSONLoader(dir string) *JSONLoader {
	return &JSONLoader{dir: dir}
}

func (l *JSONLoader) Load(ctx context.Context, symbol string) (*types.CompanyData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(l.dir, symbol+".json")
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset for %s: %w", symbol, err)
	}

	var data types.CompanyData
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("failed to parse dataset for %s: %w", symbol, err)
	}
	if data.Symbol == "" {
		data.Symbol = symbol
	}
	return &data, nil
}

func (l *JSONLoader) Symbols(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset dir: %w", err)
	}

	symbols := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		symbols = append(symbols, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(symbols)
	return symbols, nil
}
