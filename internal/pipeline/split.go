package pipeline

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matsen/pmcrefs/internal/config"
	"github.com/matsen/pmcrefs/internal/manifest"
	"github.com/matsen/pmcrefs/internal/splitter"
)

// SplitStats reports the split stage.
type SplitStats struct {
	Archives int      `json:"archives"`
	Split    int      `json:"split"`
	Skipped  int      `json:"skipped"`
	Failed   []string `json:"failed,omitempty"`
	Articles int      `json:"articles"`
}

// Split splits every archive in the dump directory, SplitWorkers at a time.
// A failed archive is logged and counted; it never stops the stage.
func (p *Pipeline) Split(ctx context.Context) (*SplitStats, error) {
	done := p.timed(StageSplit)
	defer done()

	root := p.cfg.DataDir
	if err := config.EnsureLayout(root); err != nil {
		return nil, err
	}
	m, err := manifest.Open(config.ManifestPath(root))
	if err != nil {
		return nil, err
	}
	archives, err := splitter.ListArchives(config.DumpPath(root))
	if err != nil {
		return nil, err
	}

	s := splitter.New(config.ArticlesPath(root), p.cfg.FolderArticles, m, p.logger)
	stats := &SplitStats{Archives: len(archives)}

	var mu sync.Mutex
	processed := 0

	g := new(errgroup.Group)
	g.SetLimit(max(p.cfg.SplitWorkers, 1))

	for _, archive := range archives {
		g.Go(func() error {
			res, err := s.Split(ctx, archive)

			mu.Lock()
			defer mu.Unlock()
			processed++
			switch {
			case err != nil:
				p.logger.Warn("archive failed", zap.String("archive", splitter.ArchiveName(archive)), zap.Error(err))
				stats.Failed = append(stats.Failed, splitter.ArchiveName(archive))
				p.metrics.ArchiveDone("failed")
			case res.Skipped:
				stats.Skipped++
				p.metrics.ArchiveDone("skipped")
			default:
				stats.Split++
				stats.Articles += res.Articles
				p.metrics.ArchiveDone("split")
			}
			p.report(StageSplit, processed, len(archives))
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(stats.Failed)
	p.logger.Info("split archives",
		zap.Int("archives", stats.Archives), zap.Int("split", stats.Split),
		zap.Int("skipped", stats.Skipped), zap.Int("failed", len(stats.Failed)),
		zap.Int("articles", stats.Articles))
	return stats, nil
}
