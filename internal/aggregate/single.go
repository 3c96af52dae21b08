package aggregate

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/matsen/pmcrefs/internal/config"
	"github.com/matsen/pmcrefs/internal/reference"
)

// ErrWriterClosed is returned by Write after the single writer stopped.
var ErrWriterClosed = errors.New("dataset writer closed")

// SingleWriter funnels rows from many producers through a bounded channel to
// one goroutine that appends them to dataset.csv, writing the header when it
// creates the file. Closing the channel ends the stream.
//
// Write returns only once the row has been flushed to the file, so a caller
// may discard the row's source after a nil error.
type SingleWriter struct {
	path   string
	rows   chan rowRequest
	done   chan struct{}
	logger *zap.Logger

	closeOnce sync.Once
	err       error // Set by the writer goroutine before done is closed
	written   int
}

// rowRequest carries one row and the channel its write result is sent on.
type rowRequest struct {
	article *reference.Article
	ack     chan error
}

// NewSingleWriter starts the writer goroutine for the table at path.
func NewSingleWriter(path string, queueSize int, logger *zap.Logger) (*SingleWriter, error) {
	if queueSize < 1 {
		return nil, fmt.Errorf("queue size must be positive, got %d", queueSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &SingleWriter{
		path:   path,
		rows:   make(chan rowRequest, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go w.run()
	return w, nil
}

// Write queues a row, blocking while the queue is full, and waits until the
// writer has flushed it.
func (w *SingleWriter) Write(ctx context.Context, a *reference.Article) error {
	select {
	case <-w.done:
		return w.stopErr()
	default:
	}

	req := rowRequest{article: a, ack: make(chan error, 1)}
	select {
	case w.rows <- req:
	case <-w.done:
		return w.stopErr()
	case <-ctx.Done():
		return ctx.Err()
	}

	// Once queued the row is either written or failed; cancellation is not
	// observed here so a nil error always means the row is on disk.
	select {
	case err := <-req.ack:
		return err
	case <-w.done:
		select {
		case err := <-req.ack:
			return err
		default:
			return w.stopErr()
		}
	}
}

func (w *SingleWriter) stopErr() error {
	if w.err != nil {
		return w.err
	}
	return ErrWriterClosed
}

// Close ends the stream and waits for queued rows to be written.
func (w *SingleWriter) Close() error {
	w.closeOnce.Do(func() { close(w.rows) })
	<-w.done
	return w.err
}

// Finish closes the writer and reports the rows written.
func (w *SingleWriter) Finish(_ context.Context) (*Summary, error) {
	if err := w.Close(); err != nil {
		return nil, err
	}

	rows, err := countRows(w.path)
	if err != nil {
		return nil, err
	}
	w.logger.Info("dataset written", zap.String("path", w.path), zap.Int("rows", w.written))
	return &Summary{
		Mode:    config.AggregationSingle,
		Path:    w.path,
		Rows:    rows,
		Written: w.written,
	}, nil
}

func (w *SingleWriter) run() {
	defer close(w.done)

	var (
		f       *os.File
		bw      *bufio.Writer
		cw      *csv.Writer
		pending []chan error // Written but not yet flushed
	)

	ackAll := func(err error) {
		for _, ack := range pending {
			ack <- err
		}
		pending = pending[:0]
	}
	fail := func(req *rowRequest, err error) {
		w.err = err
		if req != nil {
			req.ack <- err
		}
		ackAll(err)
		// Rows still queued are failed too; producers blocked on send see done.
		for {
			select {
			case r, ok := <-w.rows:
				if !ok {
					return
				}
				r.ack <- err
			default:
				return
			}
		}
	}

	defer func() {
		if f == nil {
			return
		}
		cw.Flush()
		if err := errors.Join(cw.Error(), bw.Flush(), f.Close()); err != nil && w.err == nil {
			w.err = fmt.Errorf("closing dataset: %w", err)
			ackAll(w.err)
		}
	}()

	for req := range w.rows {
		if f == nil {
			var err error
			if f, bw, cw, err = openAppend(w.path); err != nil {
				fail(&req, err)
				return
			}
		}

		if err := reference.WriteArticle(cw, req.article); err != nil {
			fail(&req, err)
			return
		}
		w.written++
		pending = append(pending, req.ack)

		// Flush when the queue drains or the batch is full, then release the
		// producers of the flushed rows.
		if len(w.rows) == 0 || len(pending) >= cap(w.rows) {
			if err := bw.Flush(); err != nil {
				fail(nil, fmt.Errorf("flushing dataset: %w", err))
				return
			}
			ackAll(nil)
		}
	}
}

// openAppend opens the table for appending, writing the header if the file
// is new or empty.
func openAppend(path string) (*os.File, *bufio.Writer, *csv.Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening dataset: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, nil, fmt.Errorf("stat dataset: %w", err)
	}

	bw := bufio.NewWriterSize(f, 1<<16)
	cw := reference.NewTableWriter(bw)
	if info.Size() == 0 {
		if err := cw.Write(reference.Header); err != nil {
			f.Close()
			return nil, nil, nil, fmt.Errorf("writing header: %w", err)
		}
	}
	return f, bw, cw, nil
}

// countRows returns the number of data rows in the table at path.
func countRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	cr := reference.NewTableReader(bufio.NewReader(f))
	cr.ReuseRecord = true
	n := 0
	for {
		row, err := cr.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, fmt.Errorf("reading dataset: %w", err)
		}
		if n == 0 && isHeader(row) {
			continue
		}
		n++
	}
	return n, nil
}
