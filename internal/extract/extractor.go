package extract

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"github.com/matsen/pmcrefs/internal/reference"
)

// Outcome is the terminal state of one processed document.
type Outcome int

const (
	// OutcomeRow means the document produced a row and was removed.
	OutcomeRow Outcome = iota
	// OutcomeException means the document could not be processed and was
	// moved to the exceptions directory.
	OutcomeException
	// OutcomeWithoutID means the document had no identifier and was moved to
	// the without-id directory.
	OutcomeWithoutID
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRow:
		return "row"
	case OutcomeException:
		return "exception"
	case OutcomeWithoutID:
		return "without_id"
	default:
		return "unknown"
	}
}

// Sink receives the rows produced by extraction. Implementations must be
// safe for concurrent use, and Write may return nil only once the row is in
// the output file: the document is deleted right after.
type Sink interface {
	Write(ctx context.Context, a *reference.Article) error
}

// Result reports what happened to one document.
type Result struct {
	Path       string
	Outcome    Outcome
	References int
	Err        error // Cause of an exception or without-id outcome
}

// Extractor processes article documents. It is safe for concurrent use.
type Extractor struct {
	table         Resolver
	articlesDir   string
	exceptionsDir string
	withoutIDDir  string
	logger        *zap.Logger
}

// New creates an Extractor. Names recorded in rows are relative to
// articlesDir; quarantined documents are moved to exceptionsDir and
// withoutIDDir.
func New(table Resolver, articlesDir, exceptionsDir, withoutIDDir string, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		table:         table,
		articlesDir:   articlesDir,
		exceptionsDir: exceptionsDir,
		withoutIDDir:  withoutIDDir,
		logger:        logger,
	}
}

// Process extracts the document at path and hands the row to sink.
// Document-level failures become quarantine outcomes, not errors. An error is
// returned only when the row could not be delivered or a quarantine move
// failed; the document is then left in place for a later run.
func (e *Extractor) Process(ctx context.Context, path string, sink Sink) (*Result, error) {
	res := &Result{Path: path}

	article, err := e.parse(path)
	if err != nil {
		dir := e.exceptionsDir
		res.Outcome = OutcomeException
		if errors.Is(err, ErrNoIdentifiers) {
			dir = e.withoutIDDir
			res.Outcome = OutcomeWithoutID
		}
		res.Err = err

		if err := quarantine(path, dir); err != nil {
			return nil, fmt.Errorf("quarantining %s: %w", path, err)
		}
		e.logger.Warn("quarantined document",
			zap.String("document", path), zap.Stringer("outcome", res.Outcome), zap.Error(res.Err))
		return res, nil
	}

	if err := sink.Write(ctx, article); err != nil {
		return nil, fmt.Errorf("writing row for %s: %w", path, err)
	}
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("removing processed document: %w", err)
	}

	res.Outcome = OutcomeRow
	res.References = len(article.References)
	return res, nil
}

// parse reads and extracts one document. Panics from malformed trees are
// converted into errors so a single document cannot take down a worker.
func (e *Extractor) parse(path string) (article *reference.Article, err error) {
	defer func() {
		if r := recover(); r != nil {
			article, err = nil, fmt.Errorf("extracting: %v", r)
		}
	}()

	doc := etree.NewDocument()
	doc.ReadSettings.Entity = xml.HTMLEntity
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}

	return ParseArticle(doc.Root(), e.name(path), e.table)
}

// name returns path relative to the articles directory, slash-separated.
func (e *Extractor) name(path string) string {
	if e.articlesDir != "" {
		if rel, err := filepath.Rel(e.articlesDir, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.ToSlash(path)
}

// quarantine moves path into dir, keeping its file name.
func quarantine(path, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating quarantine directory: %w", err)
	}

	dst := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dst); err == nil {
		return nil
	}

	// Rename fails across filesystems; fall back to copy and remove.
	if err := copyFile(path, dst); err != nil {
		return err
	}
	return os.Remove(path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying to %s: %w", dst, err)
	}
	return out.Close()
}
