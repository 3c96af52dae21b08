package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/pmcrefs/internal/config"
	"github.com/matsen/pmcrefs/internal/ident"
	"github.com/matsen/pmcrefs/internal/idtable"
)

var idsBuildForce bool

func init() {
	idsBuildCmd.Flags().BoolVar(&idsBuildForce, "force", false, "Rebuild the cache even if it exists")
	idsCmd.AddCommand(idsBuildCmd)
	idsCmd.AddCommand(idsLookupCmd)
	rootCmd.AddCommand(idsCmd)
}

var idsCmd = &cobra.Command{
	Use:   "ids",
	Short: "Manage the identifier table",
}

var idsBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the identifier table cache from PMC-ids.csv.gz",
	Args:  cobra.NoArgs,
	RunE:  runIDsBuild,
}

var idsLookupCmd = &cobra.Command{
	Use:   "lookup <pmid|pmcid>",
	Short: "Look up one identifier in the table",
	Long: `Look up a PMID or PMCID in the identifier table and print the record.

Examples:
  pmcrefs ids lookup 12345
  pmcrefs ids lookup PMC3531190`,
	Args: cobra.ExactArgs(1),
	RunE: runIDsLookup,
}

func runIDsBuild(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	logger := newLogger(cfg)
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	p := mustNewPipeline(ctx, cfg, logger, nil, pipelineOptions{})
	_, stats, err := p.LoadTable(idsBuildForce)
	if err != nil {
		exitWithError(exitCode(err), "building identifier table: %v", err)
	}

	if humanOutput {
		printIDsHuman(os.Stdout, stats)
		fmt.Printf("  Cache:       %s (%s)\n", config.IDsDBPath(cfg.DataDir), fileSize(config.IDsDBPath(cfg.DataDir)))
	} else {
		outputJSON(stats)
	}
	return nil
}

// LookupResponse is the response for ids lookup.
type LookupResponse struct {
	Query  string          `json:"query"`
	Found  bool            `json:"found"`
	Record *idtable.Record `json:"record,omitempty"`
}

func runIDsLookup(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	logger := newLogger(cfg)
	defer logger.Sync()

	root := cfg.DataDir
	res, err := idtable.LoadOrBuild(config.IDsCSVPath(root), config.IDsDBPath(root), false, logger)
	if err != nil {
		exitWithError(exitCode(err), "loading identifier table: %v", err)
	}

	query := args[0]
	var rec idtable.Record
	var found bool
	if pmid, ok := ident.ParsePMID(query); ok {
		rec, found = res.Table.LookupPMID(pmid)
	} else {
		rec, found = res.Table.LookupPMCID(query)
	}

	resp := LookupResponse{Query: query, Found: found}
	if found {
		resp.Record = &rec
	}

	if humanOutput {
		if !found {
			fmt.Printf("%s: not found\n", query)
			return nil
		}
		fmt.Printf("PMID:  %d\n", rec.PMID)
		fmt.Printf("PMCID: %s\n", rec.PMCID)
		fmt.Printf("DOI:   %s\n", rec.DOI)
		return nil
	}
	outputJSON(resp)
	return nil
}
