package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matsen/pmcrefs/internal/aggregate"
	"github.com/matsen/pmcrefs/internal/publish"
)

// RunResult is the report of one full run.
type RunResult struct {
	Fetch     *FetchStats        `json:"fetch,omitempty"`
	Split     *SplitStats        `json:"split"`
	IDs       *IDStats           `json:"ids"`
	Extract   *ExtractStats      `json:"extract"`
	Aggregate *aggregate.Summary `json:"aggregate"`
	Publish   *publish.Result    `json:"publish,omitempty"`
	Duration  time.Duration      `json:"duration_ns"`
}

// Run executes fetch (unless skip_download is set or no fetcher is
// configured), split, identifier table, extract and aggregate, then publishes
// when a publisher is set. Fetch failures are logged and the run continues
// with what is on disk.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{}

	if !p.cfg.SkipDownload && p.fetcher != nil {
		stats, err := p.Fetch(ctx)
		result.Fetch = stats
		if err != nil {
			p.logger.Warn("fetch incomplete", zap.Error(err))
		}
	}

	split, err := p.Split(ctx)
	if err != nil {
		return result, fmt.Errorf("split stage: %w", err)
	}
	result.Split = split

	table, ids, err := p.LoadTable(false)
	if err != nil {
		return result, fmt.Errorf("identifier table: %w", err)
	}
	result.IDs = ids

	stats, summary, err := p.Extract(ctx, table)
	result.Extract = stats
	result.Aggregate = summary
	if err != nil {
		return result, fmt.Errorf("extract stage: %w", err)
	}

	if p.publisher != nil {
		pub, err := p.Publish(ctx)
		if err != nil {
			return result, fmt.Errorf("publish stage: %w", err)
		}
		result.Publish = pub
	}

	result.Duration = time.Since(start)
	if err := p.metrics.WriteTextfile(p.cfg.MetricsFile); err != nil {
		p.logger.Warn("metrics not written", zap.Error(err))
	}
	return result, nil
}
