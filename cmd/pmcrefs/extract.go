package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/pmcrefs/internal/aggregate"
	"github.com/matsen/pmcrefs/internal/metrics"
	"github.com/matsen/pmcrefs/internal/pipeline"
)

func init() {
	rootCmd.AddCommand(extractCmd)
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract references from split documents into the table",
	Long: `Process every pending document under articles/, write its row with the
configured aggregation mode and finish csv/dataset.csv. Documents that cannot
be parsed go to articles/exceptions, documents without any identifier go to
articles/without-id.`,
	Args: cobra.NoArgs,
	RunE: runExtract,
}

// ExtractResponse is the response for the extract command.
type ExtractResponse struct {
	IDs       *pipeline.IDStats      `json:"ids"`
	Extract   *pipeline.ExtractStats `json:"extract"`
	Aggregate *aggregate.Summary     `json:"aggregate"`
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	rec := metrics.New()
	p := mustNewPipeline(ctx, cfg, logger, rec, pipelineOptions{})

	table, ids, err := p.LoadTable(false)
	if err != nil {
		exitWithError(exitCode(err), "loading identifier table: %v", err)
	}

	stats, summary, err := p.Extract(ctx, table)
	if err != nil {
		exitWithError(exitCode(err), "extract: %v", err)
	}
	if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
		logger.Warn(err.Error())
	}

	if humanOutput {
		printIDsHuman(os.Stdout, ids)
		printExtractHuman(os.Stdout, stats)
		printAggregateHuman(os.Stdout, summary)
	} else {
		outputJSON(ExtractResponse{IDs: ids, Extract: stats, Aggregate: summary})
	}
	return nil
}
