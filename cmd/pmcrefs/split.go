package main

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(splitCmd)
}

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split dump archives into per-article documents",
	Long: `Split every archive in dump/ into articles/<dump>/<bucket>/<uuid>.xml.
Archives recorded in downloaded-dump.txt are skipped. A failed archive is
reported and kept in dump/ for the next run.`,
	Args: cobra.NoArgs,
	RunE: runSplit,
}

func runSplit(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	p := mustNewPipeline(ctx, cfg, logger, nil, pipelineOptions{})
	stats, err := p.Split(ctx)
	if err != nil {
		exitWithError(exitCode(err), "split: %v", err)
	}

	if humanOutput {
		printSplitHuman(os.Stdout, stats)
	} else {
		outputJSON(stats)
	}
	return nil
}
