package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matsen/pmcrefs/internal/manifest"
)

// Report summarises one FetchDumps call.
type Report struct {
	Listed     int      `json:"listed"`
	Downloaded []string `json:"downloaded"`
	Skipped    int      `json:"skipped"`
	Failed     []string `json:"failed,omitempty"`
}

// FetchDumps downloads the archives in urls into dumpDir. Archives already
// recorded in m or already present in dumpDir are skipped. At most limit new
// archives are downloaded (0 means all), workers at a time. A failed archive
// is logged and listed in the report; it does not stop the others.
func (c *Client) FetchDumps(ctx context.Context, urls []string, dumpDir string, m *manifest.Manifest, workers, limit int) (*Report, error) {
	if err := os.MkdirAll(dumpDir, 0755); err != nil {
		return nil, fmt.Errorf("creating dump directory: %w", err)
	}
	if workers < 1 {
		workers = 1
	}

	report := &Report{Listed: len(urls), Downloaded: []string{}}

	var pending []string
	for _, u := range urls {
		name := FileName(u)
		if m != nil && m.Contains(name) {
			report.Skipped++
			continue
		}
		if _, err := os.Stat(filepath.Join(dumpDir, name)); err == nil {
			report.Skipped++
			continue
		}
		if limit > 0 && len(pending) >= limit {
			break
		}
		pending = append(pending, u)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, u := range pending {
		g.Go(func() error {
			name := FileName(u)
			err := c.Download(gctx, u, filepath.Join(dumpDir, name))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return err
				}
				c.logger.Warn("archive download failed", zap.String("archive", name), zap.Error(err))
				report.Failed = append(report.Failed, name)
				return nil
			}
			c.logger.Info("downloaded archive", zap.String("archive", name))
			report.Downloaded = append(report.Downloaded, name)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

// FetchIDs downloads the PMC-ids dataset to dest unless it is already
// present. It reports whether a download happened.
func (c *Client) FetchIDs(ctx context.Context, rawURL, dest string) (bool, error) {
	if _, err := os.Stat(dest); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return false, fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}
	if err := c.Download(ctx, rawURL, dest); err != nil {
		return false, fmt.Errorf("downloading identifier table: %w", err)
	}
	c.logger.Info("downloaded identifier table", zap.String("path", dest))
	return true, nil
}
