package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/matsen/pmcrefs/internal/aggregate"
	"github.com/matsen/pmcrefs/internal/pipeline"
)

var (
	headingColor = color.New(color.Bold)
	okColor      = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg})
	}
	os.Exit(code)
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// count formats n with thousands separators.
func count(n int) string {
	return humanize.Comma(int64(n))
}

// fileSize returns the humanized size of path, or "-" if it is missing.
func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "-"
	}
	return humanize.Bytes(uint64(info.Size()))
}

// warnCount colors n as a warning when it is non-zero.
func warnCount(n int) string {
	if n == 0 {
		return count(n)
	}
	return warnColor.Sprint(count(n))
}

func printFetchHuman(w io.Writer, s *pipeline.FetchStats) {
	headingColor.Fprintln(w, "Fetch")
	if s.Dumps != nil {
		fmt.Fprintf(w, "  Listed:      %s\n", count(s.Dumps.Listed))
		fmt.Fprintf(w, "  Downloaded:  %s\n", count(len(s.Dumps.Downloaded)))
		fmt.Fprintf(w, "  Skipped:     %s\n", count(s.Dumps.Skipped))
		fmt.Fprintf(w, "  Failed:      %s\n", warnCount(len(s.Dumps.Failed)))
	}
	fmt.Fprintf(w, "  PMC-ids:     %s\n", map[bool]string{true: "downloaded", false: "present"}[s.IDsDownloaded])
}

func printSplitHuman(w io.Writer, s *pipeline.SplitStats) {
	headingColor.Fprintln(w, "Split")
	fmt.Fprintf(w, "  Archives:    %s\n", count(s.Archives))
	fmt.Fprintf(w, "  Split:       %s\n", count(s.Split))
	fmt.Fprintf(w, "  Skipped:     %s\n", count(s.Skipped))
	fmt.Fprintf(w, "  Failed:      %s\n", warnCount(len(s.Failed)))
	for _, name := range s.Failed {
		fmt.Fprintf(w, "    %s\n", name)
	}
	fmt.Fprintf(w, "  Articles:    %s\n", count(s.Articles))
}

func printIDsHuman(w io.Writer, s *pipeline.IDStats) {
	source := "PMC-ids dataset"
	if s.FromCache {
		source = "cache"
	}
	headingColor.Fprintln(w, "Identifier table")
	fmt.Fprintf(w, "  PMIDs:       %s\n", count(s.PMIDs))
	fmt.Fprintf(w, "  PMCIDs:      %s\n", count(s.PMCIDs))
	fmt.Fprintf(w, "  Loaded from: %s\n", source)
}

func printExtractHuman(w io.Writer, s *pipeline.ExtractStats) {
	headingColor.Fprintln(w, "Extract")
	fmt.Fprintf(w, "  Documents:   %s\n", count(s.Documents))
	fmt.Fprintf(w, "  Rows:        %s\n", okColor.Sprint(count(s.Rows)))
	fmt.Fprintf(w, "  Exceptions:  %s\n", warnCount(s.Exceptions))
	fmt.Fprintf(w, "  Without id:  %s\n", warnCount(s.WithoutID))
	fmt.Fprintf(w, "  References:  %s\n", count(s.References))
}

func printAggregateHuman(w io.Writer, s *aggregate.Summary) {
	headingColor.Fprintln(w, "Aggregate")
	fmt.Fprintf(w, "  Mode:        %s\n", s.Mode)
	fmt.Fprintf(w, "  Table:       %s (%s)\n", s.Path, fileSize(s.Path))
	fmt.Fprintf(w, "  Rows:        %s\n", count(s.Rows))
	if s.Shards > 0 {
		fmt.Fprintf(w, "  Shards:      %s\n", count(s.Shards))
	}
	if s.Duplicates > 0 {
		fmt.Fprintf(w, "  Duplicates:  %s\n", count(s.Duplicates))
	}
}

// printRunHuman prints the stage reports of a run.
func printRunHuman(w io.Writer, r *pipeline.RunResult) {
	if r.Fetch != nil {
		printFetchHuman(w, r.Fetch)
	}
	if r.Split != nil {
		printSplitHuman(w, r.Split)
	}
	if r.IDs != nil {
		printIDsHuman(w, r.IDs)
	}
	if r.Extract != nil {
		printExtractHuman(w, r.Extract)
	}
	if r.Aggregate != nil {
		printAggregateHuman(w, r.Aggregate)
	}
	if r.Publish != nil {
		headingColor.Fprintln(w, "Publish")
		fmt.Fprintf(w, "  Uploaded:    %s (%s)\n", r.Publish.URI(), humanize.Bytes(uint64(r.Publish.Size)))
	}
	if r.Duration > 0 {
		fmt.Fprintf(w, "\nFinished in %s\n", r.Duration.Round(time.Millisecond))
	}
}

// progressPrinter writes one status line per stage at most every interval,
// plus the final line of each stage.
type progressPrinter struct {
	w        io.Writer
	interval time.Duration

	mu   sync.Mutex
	last map[pipeline.Stage]time.Time
}

func newProgressPrinter(w io.Writer, interval time.Duration) *progressPrinter {
	return &progressPrinter{w: w, interval: interval, last: make(map[pipeline.Stage]time.Time)}
}

// OnProgress implements pipeline.ProgressReporter.
func (p *progressPrinter) OnProgress(stage pipeline.Stage, current, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if current < total && now.Sub(p.last[stage]) < p.interval {
		return
	}
	p.last[stage] = now
	fmt.Fprintf(p.w, "%s: %s/%s\n", stage, count(current), count(total))
}
