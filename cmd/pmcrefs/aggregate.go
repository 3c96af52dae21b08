package main

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(aggregateCmd)
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Merge leftover shards into csv/dataset.csv",
	Long: `Concatenate the per-document shards in csv/ into dataset.csv, keeping the
rows already there and dropping exact duplicate rows. Use this after a sharded
extract was interrupted before it finished.`,
	Args: cobra.NoArgs,
	RunE: runAggregate,
}

func runAggregate(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	p := mustNewPipeline(ctx, cfg, logger, nil, pipelineOptions{})
	summary, err := p.Aggregate(ctx)
	if err != nil {
		exitWithError(exitCode(err), "aggregate: %v", err)
	}

	if humanOutput {
		printAggregateHuman(os.Stdout, summary)
	} else {
		outputJSON(summary)
	}
	return nil
}
