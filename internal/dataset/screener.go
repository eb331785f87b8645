package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"formula-signal-engine/internal/types"
)

// HTMLLoader parses saved screener result pages: <dir>/<SYMBOL>.html, each
// holding the company page with the quarterly results table. Keeping the
// raw pages on disk makes a batch run reproducible without hitting the
// site again.
type HTMLLoader struct {
	dir string
}

func NewHTMLLoader(dir string) *HTMLLoader {
	return &HTMLLoader{dir: dir}
}

func (l *HTMLLoader) Load(ctx context.Context, symbol string) (*types.CompanyData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(l.dir, symbol+".html")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open page for %s: %w", symbol, err)
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page for %s: %w", symbol, err)
	}

	quarters, err := parseQuarterlyTable(doc)
	if err != nil {
		return nil, fmt.Errorf("page for %s: %w", symbol, err)
	}

	name := strings.TrimSpace(doc.Find("h1").First().Text())
	return &types.CompanyData{
		Symbol:   symbol,
		Name:     name,
		Quarters: quarters,
	}, nil
}

// parseQuarterlyTable extracts the "#quarters" section table: the header
// row carries the quarter labels, each body row a metric name followed by
// one value per quarter. An empty cell means the metric was not declared
// that quarter.
func parseQuarterlyTable(doc *goquery.Document) ([]types.Quarter, error) {
	table := doc.Find("section#quarters table").First()
	if table.Length() == 0 {
		// Some saved pages keep only the bare table.
		table = doc.Find("table.data-table").First()
	}
	if table.Length() == 0 {
		return nil, fmt.Errorf("no quarterly results table found")
	}

	var labels []string
	table.Find("thead th").Each(func(i int, s *goquery.Selection) {
		if i == 0 {
			return // metric-name column
		}
		labels = append(labels, strings.TrimSpace(s.Text()))
	})
	if len(labels) == 0 {
		return nil, fmt.Errorf("quarterly table has no header row")
	}

	quarters := make([]types.Quarter, len(labels))
	for i, label := range labels {
		quarters[i] = types.Quarter{Label: label, Metrics: make(map[string]*string)}
	}

	table.Find("tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		metric := strings.TrimSpace(cells.First().Text())
		// Screener suffixes expandable rows with a plus button.
		metric = strings.TrimSpace(strings.TrimSuffix(metric, "+"))
		if metric == "" {
			return
		}
		cells.Each(func(i int, cell *goquery.Selection) {
			if i == 0 || i > len(labels) {
				return
			}
			raw := strings.TrimSpace(cell.Text())
			if raw == "" {
				quarters[i-1].Metrics[metric] = nil
				return
			}
			v := raw
			quarters[i-1].Metrics[metric] = &v
		})
	})

	return quarters, nil
}

func (l *HTMLLoader) Symbols(ctx context.Context) ([]string, error) {
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
		if e.IsDir() || !strings.HasSuffix(name, ".html") {
			continue
		}
		symbols = append(symbols, strings.TrimSuffix(name, ".html"))
	}
	sort.Strings(symbols)
	return symbols, nil
}
