package main

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download dump archives and the PMC-ids dataset",
	Long: `Download the dump archives listed at listing_url into dump/, skipping
archives already split or already downloaded, and download PMC-ids.csv.gz if
it is missing. At most max_files_to_download new archives are fetched.`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	p := mustNewPipeline(ctx, cfg, logger, nil, pipelineOptions{fetch: true})
	stats, err := p.Fetch(ctx)
	if err != nil && stats == nil {
		exitWithError(exitCode(err), "fetch: %v", err)
	}

	if humanOutput {
		printFetchHuman(os.Stdout, stats)
	} else {
		outputJSON(stats)
	}
	if err != nil {
		exitWithError(ExitError, "fetch incomplete: %v", err)
	}
	return nil
}
