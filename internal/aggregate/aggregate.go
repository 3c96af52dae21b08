// Package aggregate merges the rows produced by concurrent extraction workers
// into the dataset table.
package aggregate

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/matsen/pmcrefs/internal/config"
	"github.com/matsen/pmcrefs/internal/reference"
)

// Aggregator receives rows from many goroutines and produces dataset.csv
// when finished.
type Aggregator interface {
	// Write hands one row to the aggregator. Safe for concurrent use.
	Write(ctx context.Context, a *reference.Article) error
	// Finish completes the table. No Write may be called after or
	// concurrently with Finish.
	Finish(ctx context.Context) (*Summary, error)
}

// Summary describes a finished aggregation.
type Summary struct {
	Mode       config.AggregationMode `json:"mode"`
	Path       string                 `json:"path"`
	Rows       int                    `json:"rows"`                 // Rows in the final table
	Written    int                    `json:"written"`              // Rows written during this run
	Shards     int                    `json:"shards,omitempty"`     // Shards merged (sharded mode)
	Duplicates int                    `json:"duplicates,omitempty"` // Exact duplicate rows dropped
}

// New returns the aggregator for mode, writing under csvDir.
func New(mode config.AggregationMode, csvDir string, queueSize int, logger *zap.Logger) (Aggregator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch mode {
	case config.AggregationSharded:
		return NewShardWriter(csvDir, logger)
	case config.AggregationSingle:
		return NewSingleWriter(filepath.Join(csvDir, config.DatasetFile), queueSize, logger)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidAggregation, mode)
	}
}
