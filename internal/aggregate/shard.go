package aggregate

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/matsen/pmcrefs/internal/config"
	"github.com/matsen/pmcrefs/internal/reference"
)

const (
	shardExt = ".csv"
	tmpExt   = ".tmp"
)

// ShardWriter writes every row to its own shard file, csv/<document>.csv,
// and concatenates the shards into dataset.csv on Finish.
type ShardWriter struct {
	dir     string
	logger  *zap.Logger
	written atomic.Int64
}

// NewShardWriter creates a ShardWriter over dir, creating it if needed.
func NewShardWriter(dir string, logger *zap.Logger) (*ShardWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating csv directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShardWriter{dir: dir, logger: logger}, nil
}

// ShardPath returns the shard file for a row, named after its document.
func (w *ShardWriter) ShardPath(a *reference.Article) string {
	return filepath.Join(w.dir, filepath.Base(a.Name)+shardExt)
}

// Write writes a single-row shard with a header line.
func (w *ShardWriter) Write(_ context.Context, a *reference.Article) error {
	path := w.ShardPath(a)
	tmp := path + tmpExt

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating shard: %w", err)
	}

	cw := reference.NewTableWriter(f)
	if err := cw.Write(reference.Header); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing shard header: %w", err)
	}
	if err := reference.WriteArticle(cw, a); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing shard: %w", err)
	}

	// Rename so concatenation never sees a half-written shard.
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("installing shard: %w", err)
	}
	w.written.Add(1)
	return nil
}

// Finish concatenates the shards into dataset.csv.
func (w *ShardWriter) Finish(_ context.Context) (*Summary, error) {
	sum, err := Concatenate(w.dir, w.logger)
	if err != nil {
		return nil, err
	}
	sum.Written = int(w.written.Load())
	return sum, nil
}

// ListShards returns the shard files in dir, sorted.
func ListShards(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading csv directory: %w", err)
	}

	var shards []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == config.DatasetFile || !strings.HasSuffix(name, shardExt) {
			continue
		}
		shards = append(shards, filepath.Join(dir, name))
	}
	sort.Strings(shards)
	return shards, nil
}

// Concatenate merges every shard in dir into dir/dataset.csv with a single
// header, keeping rows already in dataset.csv, drops exact duplicate rows
// (first occurrence wins) and removes the merged shards.
func Concatenate(dir string, logger *zap.Logger) (*Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	shards, err := ListShards(dir)
	if err != nil {
		return nil, err
	}

	datasetPath := filepath.Join(dir, config.DatasetFile)
	sum := &Summary{Mode: config.AggregationSharded, Path: datasetPath, Shards: len(shards)}

	sources := shards
	if _, err := os.Stat(datasetPath); err == nil {
		sources = append([]string{datasetPath}, shards...)
	}
	if len(sources) == 0 {
		return sum, nil
	}

	tmp := datasetPath + tmpExt
	out, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("creating dataset: %w", err)
	}

	d := newDeduper()
	bw := bufio.NewWriterSize(out, 1<<20)
	cw := reference.NewTableWriter(bw)

	if err := cw.Write(reference.Header); err != nil {
		out.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("writing header: %w", err)
	}

	for _, src := range sources {
		if err := copyRows(src, cw, d); err != nil {
			out.Close()
			os.Remove(tmp)
			return nil, err
		}
	}

	cw.Flush()
	if err := errors.Join(cw.Error(), bw.Flush(), out.Close()); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("writing dataset: %w", err)
	}
	if err := os.Rename(tmp, datasetPath); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("installing dataset: %w", err)
	}

	var removeErrs []error
	for _, shard := range shards {
		if err := os.Remove(shard); err != nil && !os.IsNotExist(err) {
			removeErrs = append(removeErrs, err)
		}
	}
	if err := errors.Join(removeErrs...); err != nil {
		return nil, fmt.Errorf("removing shards: %w", err)
	}

	sum.Rows = d.kept
	sum.Duplicates = d.dropped
	logger.Info("concatenated dataset",
		zap.String("path", datasetPath), zap.Int("shards", len(shards)),
		zap.Int("rows", d.kept), zap.Int("duplicates", d.dropped))
	return sum, nil
}

// copyRows appends the data rows of the table at src to cw, skipping its
// header and rows seen before.
func copyRows(src string, cw *csv.Writer, d *deduper) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer f.Close()

	cr := reference.NewTableReader(bufio.NewReader(f))
	cr.ReuseRecord = true

	first := true
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", src, err)
		}
		if first {
			first = false
			if isHeader(row) {
				continue
			}
		}
		if !d.add(row) {
			continue
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row from %s: %w", src, err)
		}
	}
}

func isHeader(row []string) bool {
	if len(row) != len(reference.Header) {
		return false
	}
	for i, h := range reference.Header {
		if row[i] != h {
			return false
		}
	}
	return true
}

// deduper remembers row digests to drop exact duplicates.
type deduper struct {
	seen    map[[sha256.Size]byte]struct{}
	kept    int
	dropped int
}

func newDeduper() *deduper {
	return &deduper{seen: make(map[[sha256.Size]byte]struct{})}
}

// add reports whether row is new.
func (d *deduper) add(row []string) bool {
	h := sha256.New()
	for _, field := range row {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	var key [sha256.Size]byte
	copy(key[:], h.Sum(nil))

	if _, ok := d.seen[key]; ok {
		d.dropped++
		return false
	}
	d.seen[key] = struct{}{}
	d.kept++
	return true
}
