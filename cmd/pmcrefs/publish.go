package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/matsen/pmcrefs/internal/publish"
)

func init() {
	rootCmd.AddCommand(publishCmd)
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload csv/dataset.csv to the configured S3 bucket",
	Long: `Upload the final table to s3://<bucket>/<prefix>/dataset.csv.

The bucket, region, prefix and endpoint come from the 's3' config section or
PMCREFS_S3_* variables. Credentials use the default AWS chain unless
PMCREFS_S3_ACCESS_KEY_ID and PMCREFS_S3_SECRET_ACCESS_KEY are set.`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if !cfg.S3.Enabled() {
		exitWithError(ExitConfigError, "%v: set s3.bucket or PMCREFS_S3_BUCKET", publish.ErrNotConfigured)
	}
	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	p := mustNewPipeline(ctx, cfg, logger, nil, pipelineOptions{publish: true})
	res, err := p.Publish(ctx)
	if err != nil {
		exitWithError(exitCode(err), "publish: %v", err)
	}

	if humanOutput {
		fmt.Printf("Uploaded %s (%s)\n", res.URI(), humanize.Bytes(uint64(res.Size)))
	} else {
		outputJSON(res)
	}
	return nil
}
