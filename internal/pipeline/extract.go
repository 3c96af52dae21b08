package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matsen/pmcrefs/internal/aggregate"
	"github.com/matsen/pmcrefs/internal/config"
	"github.com/matsen/pmcrefs/internal/extract"
)

// ExtractStats reports the extract stage.
type ExtractStats struct {
	Documents  int `json:"documents"`
	Rows       int `json:"rows"`
	Exceptions int `json:"exceptions"`
	WithoutID  int `json:"without_id"`
	References int `json:"references"`
}

// ListDocuments returns the pending article documents under articlesDir in
// lexical order. The quarantine directories are not descended into.
func ListDocuments(articlesDir string) ([]string, error) {
	skip := map[string]bool{
		filepath.Join(articlesDir, config.ExceptionsDir): true,
		filepath.Join(articlesDir, config.WithoutIDDir):  true,
	}

	var docs []string
	err := filepath.WalkDir(articlesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == articlesDir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if skip[path] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".xml") {
			docs = append(docs, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	sort.Strings(docs)
	return docs, nil
}

// Extract processes every pending document with ExtractWorkers workers and
// aggregates the rows into the table. Per-document failures are quarantined
// and counted. A row that cannot be written stops the stage; its document is
// kept for the next run.
func (p *Pipeline) Extract(ctx context.Context, table extract.Resolver) (*ExtractStats, *aggregate.Summary, error) {
	done := p.timed(StageExtract)
	defer done()

	root := p.cfg.DataDir
	if err := config.EnsureLayout(root); err != nil {
		return nil, nil, err
	}
	docs, err := ListDocuments(config.ArticlesPath(root))
	if err != nil {
		return nil, nil, err
	}

	agg, err := aggregate.New(p.cfg.Aggregation, config.CSVPath(root), p.cfg.QueueSize, p.logger)
	if err != nil {
		return nil, nil, err
	}

	ex := extract.New(table, config.ArticlesPath(root),
		config.ExceptionsPath(root), config.WithoutIDPath(root), p.logger)
	stats := &ExtractStats{Documents: len(docs)}

	var mu sync.Mutex
	processed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.ExtractWorkers, 1))

	for _, doc := range docs {
		g.Go(func() error {
			res, err := ex.Process(gctx, doc, agg)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			processed++
			switch res.Outcome {
			case extract.OutcomeRow:
				stats.Rows++
				stats.References += res.References
				p.metrics.References(res.References)
			case extract.OutcomeException:
				stats.Exceptions++
			case extract.OutcomeWithoutID:
				stats.WithoutID++
			}
			p.metrics.DocumentDone(res.Outcome.String())
			p.report(StageExtract, processed, len(docs))
			return nil
		})
	}
	runErr := g.Wait()

	// The aggregator is finished even after a failure so the single writer
	// stops and rows already delivered reach the table.
	summary, finishErr := agg.Finish(ctx)
	if err := errors.Join(runErr, finishErr); err != nil {
		return stats, summary, err
	}

	p.logger.Info("extracted documents",
		zap.Int("documents", stats.Documents), zap.Int("rows", stats.Rows),
		zap.Int("exceptions", stats.Exceptions), zap.Int("without_id", stats.WithoutID),
		zap.Int("references", stats.References))
	return stats, summary, nil
}
