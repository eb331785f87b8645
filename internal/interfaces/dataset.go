package interfaces

import (
	"context"

	"formula-signal-engine/internal/types"
)

// DatasetLoader defines the interface for loading company quarterly data
// This allows for multiple implementations (JSON snapshots, saved HTML
// pages, mock, etc.)
type DatasetLoader interface {
	// Load materializes the quarterly dataset for one company
	Load(ctx context.Context, symbol string) (*types.CompanyData, error)

	// Symbols lists the companies this loader can serve
	Symbols(ctx context.Context) ([]string, error)
}
