// Package pipeline runs the stages that turn dump archives into the
// references table: fetch, split, identifier table, extract, aggregate and
// publish.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/matsen/pmcrefs/internal/aggregate"
	"github.com/matsen/pmcrefs/internal/config"
	"github.com/matsen/pmcrefs/internal/fetch"
	"github.com/matsen/pmcrefs/internal/manifest"
	"github.com/matsen/pmcrefs/internal/metrics"
	"github.com/matsen/pmcrefs/internal/publish"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageSplit     Stage = "split"
	StageIDs       Stage = "ids"
	StageExtract   Stage = "extract"
	StageAggregate Stage = "aggregate"
	StagePublish   Stage = "publish"
)

// ErrNoFetcher is returned by Fetch when no download client is set.
var ErrNoFetcher = errors.New("no fetcher configured")

// ErrNoPublisher is returned by Publish when publishing is not configured.
var ErrNoPublisher = errors.New("no publisher configured")

// ProgressReporter receives per-stage progress updates.
type ProgressReporter interface {
	// OnProgress is called after each unit of work in a stage.
	OnProgress(stage Stage, current, total int)
}

// ProgressFunc is a function adapter for ProgressReporter.
type ProgressFunc func(stage Stage, current, total int)

// OnProgress implements ProgressReporter.
func (f ProgressFunc) OnProgress(stage Stage, current, total int) {
	f(stage, current, total)
}

// Fetcher downloads dump archives and the PMC-ids dataset.
type Fetcher interface {
	ListDumps(ctx context.Context, listingURL string) ([]string, error)
	FetchDumps(ctx context.Context, urls []string, dumpDir string, m *manifest.Manifest, workers, limit int) (*fetch.Report, error)
	FetchIDs(ctx context.Context, url, dest string) (bool, error)
}

// Publisher uploads the final table.
type Publisher interface {
	Publish(ctx context.Context, path string) (*publish.Result, error)
}

// Pipeline runs stages against one data directory.
type Pipeline struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Recorder
	progress  ProgressReporter
	fetcher   Fetcher
	publisher Publisher
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithProgress sets the progress reporter.
func WithProgress(r ProgressReporter) Option {
	return func(p *Pipeline) {
		p.progress = r
	}
}

// WithFetcher sets the download client used by the fetch stage.
func WithFetcher(f Fetcher) Option {
	return func(p *Pipeline) {
		p.fetcher = f
	}
}

// WithPublisher sets the uploader used by the publish stage.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) {
		p.publisher = pub
	}
}

// New creates a Pipeline for cfg.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() *config.Config {
	return p.cfg
}

func (p *Pipeline) report(stage Stage, current, total int) {
	if p.progress != nil {
		p.progress.OnProgress(stage, current, total)
	}
}

// timed logs and records the duration of a stage.
func (p *Pipeline) timed(stage Stage) func() time.Duration {
	start := time.Now()
	p.logger.Info("stage started", zap.String("stage", string(stage)))
	return func() time.Duration {
		d := time.Since(start)
		p.metrics.StageDuration(string(stage), d)
		p.logger.Info("stage finished", zap.String("stage", string(stage)), zap.Duration("duration", d))
		return d
	}
}

// Aggregate merges leftover shards in the csv directory into the table. It
// is the recovery path for a sharded run that stopped before concatenation.
func (p *Pipeline) Aggregate(ctx context.Context) (*aggregate.Summary, error) {
	done := p.timed(StageAggregate)
	defer done()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return aggregate.Concatenate(config.CSVPath(p.cfg.DataDir), p.logger)
}

// Publish uploads the final table.
func (p *Pipeline) Publish(ctx context.Context) (*publish.Result, error) {
	if p.publisher == nil {
		return nil, ErrNoPublisher
	}
	done := p.timed(StagePublish)
	defer done()

	return p.publisher.Publish(ctx, config.DatasetPath(p.cfg.DataDir))
}
