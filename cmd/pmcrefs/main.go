// Package main provides the pmcrefs CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matsen/pmcrefs/internal/config"
	"github.com/matsen/pmcrefs/internal/fetch"
	"github.com/matsen/pmcrefs/internal/idtable"
	"github.com/matsen/pmcrefs/internal/logging"
	"github.com/matsen/pmcrefs/internal/metrics"
	"github.com/matsen/pmcrefs/internal/pipeline"
	"github.com/matsen/pmcrefs/internal/publish"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// humanOutput controls whether to use human-readable output
	humanOutput bool
	configPath  string
	verbose     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Print the error since we have SilenceErrors: true
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pmcrefs",
	Short: "Build a references table from the Europe PMC open-access dump",
	Long: `pmcrefs turns the Europe PMC open-access XML dump into a tab-separated
table with one row per article and its references as JSON.

Stages:
  fetch      download dump archives and the PMC-ids dataset
  split      split archives into one XML document per article
  ids        build the identifier table cache from PMC-ids
  extract    extract citations and identifiers from every document
  aggregate  merge per-document shards into csv/dataset.csv

'pmcrefs run' executes all of them in order. Every stage skips work already
done on disk, so an interrupted run can simply be started again.
All commands output JSON by default; use --human for readable output.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./pmcrefs.yml or ~/.config/pmcrefs/config.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.Version = Version
}

// mustLoadConfig loads configuration, exits on error.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	return cfg
}

// newLogger builds the stderr logger for cfg.
func newLogger(cfg *config.Config) *zap.Logger {
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	return logging.Must(level, cfg.LogFormat)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newFetchClient builds the download client from cfg.
func newFetchClient(cfg *config.Config, logger *zap.Logger) *fetch.Client {
	return fetch.NewClient(
		fetch.WithRateLimit(cfg.RequestsPerSecond),
		fetch.WithRetry(fetch.RetryPolicy{MaxAttempts: cfg.MaxRetry, Delay: cfg.RetryDelay}),
		fetch.WithLogger(logger),
	)
}

// errPublisherConfig marks a publisher that could not be set up from config.
var errPublisherConfig = errors.New("configuring publisher")

// pipelineOptions selects the collaborators wired into a pipeline.
type pipelineOptions struct {
	fetch   bool
	publish bool
}

// newPipeline builds a pipeline for cfg.
func newPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger, rec *metrics.Recorder, opts pipelineOptions) (*pipeline.Pipeline, error) {
	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(rec),
	}
	if humanOutput {
		pipeOpts = append(pipeOpts, pipeline.WithProgress(newProgressPrinter(os.Stderr, 2*time.Second)))
	}
	if opts.fetch {
		pipeOpts = append(pipeOpts, pipeline.WithFetcher(newFetchClient(cfg, logger)))
	}
	if opts.publish && cfg.S3.Enabled() {
		pub, err := publish.NewS3Publisher(ctx, cfg.S3, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errPublisherConfig, err)
		}
		pipeOpts = append(pipeOpts, pipeline.WithPublisher(pub))
	}
	return pipeline.New(cfg, pipeOpts...), nil
}

// mustNewPipeline builds a pipeline for cfg, exits on error.
func mustNewPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger, rec *metrics.Recorder, opts pipelineOptions) *pipeline.Pipeline {
	p, err := newPipeline(ctx, cfg, logger, rec, opts)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	return p
}

// exitCode maps a stage error to a process exit code.
func exitCode(err error) int {
	switch {
	case errors.Is(err, idtable.ErrNoSource), errors.Is(err, idtable.ErrMissingColumn):
		return ExitDataError
	case errors.Is(err, config.ErrInvalidAggregation), errors.Is(err, config.ErrInvalidValue),
		errors.Is(err, publish.ErrNotConfigured), errors.Is(err, pipeline.ErrNoPublisher),
		errors.Is(err, errPublisherConfig):
		return ExitConfigError
	default:
		return ExitError
	}
}
