package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/matsen/pmcrefs/internal/config"
	"github.com/matsen/pmcrefs/internal/fetch"
	"github.com/matsen/pmcrefs/internal/manifest"
)

// FetchStats reports the fetch stage.
type FetchStats struct {
	Dumps         *fetch.Report `json:"dumps,omitempty"`
	IDsDownloaded bool          `json:"ids_downloaded"`
}

// Fetch lists the dump archives, downloads the ones not yet split or present,
// and downloads the PMC-ids dataset if it is missing.
func (p *Pipeline) Fetch(ctx context.Context) (*FetchStats, error) {
	if p.fetcher == nil {
		return nil, ErrNoFetcher
	}
	done := p.timed(StageFetch)
	defer done()

	root := p.cfg.DataDir
	if err := config.EnsureLayout(root); err != nil {
		return nil, err
	}
	m, err := manifest.Open(config.ManifestPath(root))
	if err != nil {
		return nil, err
	}

	stats := &FetchStats{}
	var errs []error

	urls, err := p.fetcher.ListDumps(ctx, p.cfg.ListingURL)
	if err != nil {
		errs = append(errs, fmt.Errorf("listing dumps: %w", err))
	} else {
		report, err := p.fetcher.FetchDumps(ctx, urls, config.DumpPath(root), m,
			p.cfg.DownloadWorkers, p.cfg.MaxFilesToDownload)
		stats.Dumps = report
		if err != nil {
			errs = append(errs, fmt.Errorf("downloading dumps: %w", err))
		}
		if report != nil {
			p.report(StageFetch, len(report.Downloaded), len(report.Downloaded)+len(report.Failed))
		}
	}

	downloaded, err := p.fetcher.FetchIDs(ctx, p.cfg.IDsURL, config.IDsCSVPath(root))
	if err != nil {
		errs = append(errs, err)
	}
	stats.IDsDownloaded = downloaded

	if stats.Dumps != nil {
		p.logger.Info("fetched dumps",
			zap.Int("listed", stats.Dumps.Listed),
			zap.Int("downloaded", len(stats.Dumps.Downloaded)),
			zap.Int("skipped", stats.Dumps.Skipped),
			zap.Int("failed", len(stats.Dumps.Failed)))
	}
	return stats, errors.Join(errs...)
}
