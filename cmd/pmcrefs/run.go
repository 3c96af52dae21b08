package main

import (
	"context"
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matsen/pmcrefs/internal/config"
	"github.com/matsen/pmcrefs/internal/metrics"
)

var (
	runSchedule     string
	runSkipDownload bool
)

func init() {
	runCmd.Flags().StringVar(&runSchedule, "schedule", "", "Cron spec (5 fields) to run repeatedly until interrupted")
	runCmd.Flags().BoolVar(&runSkipDownload, "skip-download", false, "Use only archives already in dump/")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the whole pipeline",
	Long: `Run fetch, split, ids, extract and aggregate in order, then upload the
table if an S3 bucket is configured.

With --schedule (or 'schedule' in the config file) the pipeline runs on a cron
schedule until interrupted; a run still in progress when the next one is due
is not overlapped.

Examples:
  pmcrefs run
  pmcrefs run --skip-download --human
  pmcrefs run --schedule "0 3 * * 0"`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if runSkipDownload {
		cfg.SkipDownload = true
	}
	if runSchedule != "" {
		cfg.Schedule = runSchedule
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	if cfg.Schedule != "" {
		return runScheduled(ctx, cfg, logger)
	}

	if err := runOnce(ctx, cfg, logger); err != nil {
		exitWithError(exitCode(err), "%v", err)
	}
	return nil
}

// runOnce executes one pipeline run and prints its report. It never exits
// the process, so a scheduled run's failure only ends that run.
func runOnce(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	rec := metrics.New()
	p, err := newPipeline(ctx, cfg, logger, rec, pipelineOptions{fetch: true, publish: true})
	if err != nil {
		return err
	}

	result, err := p.Run(ctx)
	if err != nil {
		return err
	}

	if humanOutput {
		printRunHuman(os.Stdout, result)
	} else {
		outputJSON(result)
	}
	return nil
}

// runScheduled runs the pipeline on cfg.Schedule until ctx is cancelled.
func runScheduled(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))

	_, err := c.AddFunc(cfg.Schedule, func() {
		if err := runOnce(ctx, cfg, logger); err != nil {
			logger.Error("scheduled run failed", zap.Error(err))
		}
	})
	if err != nil {
		exitWithError(ExitConfigError, "invalid schedule %q: %v", cfg.Schedule, err)
	}

	logger.Info("scheduler started", zap.String("schedule", cfg.Schedule))
	if humanOutput {
		fmt.Fprintf(os.Stderr, "Running on schedule %q, Ctrl-C to stop\n", cfg.Schedule)
	}
	c.Start()

	<-ctx.Done()
	logger.Info("stopping scheduler")
	<-c.Stop().Done()
	return nil
}
