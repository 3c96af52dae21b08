package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matsen/pmcrefs/internal/manifest"
)

const listingHTML = `<html><body>
<a href="../">Parent</a>
<a href="PMC0001_00001.xml.gz">PMC0001_00001.xml.gz</a>
<a href="PMC0001_00002.xml.gz">PMC0001_00002.xml.gz</a>
<a href="PMC0001_00001.xml.gz">again</a>
<a href="README.txt">README</a>
</body></html>`

func testClient(hc *http.Client) *Client {
	return NewClient(
		WithHTTPClient(hc),
		WithRateLimit(0),
		WithRetry(RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}),
	)
}

func TestListDumps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, listingHTML)
	}))
	defer srv.Close()

	got, err := testClient(srv.Client()).ListDumps(context.Background(), srv.URL+"/ftp/oa/")
	if err != nil {
		t.Fatalf("ListDumps() error = %v", err)
	}

	want := []string{
		srv.URL + "/ftp/oa/PMC0001_00001.xml.gz",
		srv.URL + "/ftp/oa/PMC0001_00002.xml.gz",
	}
	if len(got) != len(want) {
		t.Fatalf("ListDumps() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListDumps()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestListDumps_NoLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><a href="x.txt">x</a></html>`)
	}))
	defer srv.Close()

	_, err := testClient(srv.Client()).ListDumps(context.Background(), srv.URL+"/")
	if !errors.Is(err, ErrNoLinks) {
		t.Errorf("ListDumps() error = %v, want ErrNoLinks", err)
	}
}

func TestDownload_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "payload")
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "a.xml.gz")
	if err := testClient(srv.Client()).Download(context.Background(), srv.URL+"/a.xml.gz", dest); err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Errorf("content = %q, want %q", data, "payload")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Errorf("partial file left behind: %v", err)
	}
}

func TestDownload_NotFoundNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "missing.xml.gz")
	err := testClient(srv.Client()).Download(context.Background(), srv.URL+"/missing.xml.gz", dest)
	if !IsNotFound(err) {
		t.Errorf("Download() error = %v, want not found", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("dest exists after failed download")
	}
}

func TestDownload_GivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := testClient(srv.Client()).Download(context.Background(), srv.URL+"/a.xml.gz", filepath.Join(t.TempDir(), "a"))
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Download() error = %v, want HTTPError", err)
	}
	if httpErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", httpErr.StatusCode)
	}
}

func TestRetryPolicy_Do(t *testing.T) {
	tests := []struct {
		name      string
		attempts  int
		failUntil int
		wantCalls int
		wantErr   bool
	}{
		{"first try", 3, 0, 1, false},
		{"second try", 3, 1, 2, false},
		{"exhausted", 3, 10, 3, true},
		{"zero attempts means one", 0, 10, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			p := RetryPolicy{MaxAttempts: tt.attempts}
			err := p.Do(context.Background(), func(attempt int) error {
				calls++
				if attempt <= tt.failUntil {
					return errors.New("boom")
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Errorf("Do() error = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestFetchDumps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.xml.gz" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, r.URL.Path)
	}))
	defer srv.Close()

	root := t.TempDir()
	dumpDir := filepath.Join(root, "dump")
	if err := os.MkdirAll(dumpDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dumpDir, "present.xml.gz"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Open(filepath.Join(root, "downloaded-dump.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Add("done.xml.gz"); err != nil {
		t.Fatal(err)
	}

	urls := []string{
		srv.URL + "/done.xml.gz",
		srv.URL + "/present.xml.gz",
		srv.URL + "/a.xml.gz",
		srv.URL + "/broken.xml.gz",
		srv.URL + "/b.xml.gz",
	}

	c := testClient(srv.Client())
	report, err := c.FetchDumps(context.Background(), urls, dumpDir, m, 2, 0)
	if err != nil {
		t.Fatalf("FetchDumps() error = %v", err)
	}

	sort.Strings(report.Downloaded)
	if len(report.Downloaded) != 2 || report.Downloaded[0] != "a.xml.gz" || report.Downloaded[1] != "b.xml.gz" {
		t.Errorf("Downloaded = %v, want [a.xml.gz b.xml.gz]", report.Downloaded)
	}
	if report.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", report.Skipped)
	}
	if len(report.Failed) != 1 || report.Failed[0] != "broken.xml.gz" {
		t.Errorf("Failed = %v, want [broken.xml.gz]", report.Failed)
	}
	if _, err := os.Stat(filepath.Join(dumpDir, "done.xml.gz")); !os.IsNotExist(err) {
		t.Errorf("archive in manifest was downloaded again")
	}
}

func TestFetchDumps_Limit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "x")
	}))
	defer srv.Close()

	urls := []string{srv.URL + "/a.xml.gz", srv.URL + "/b.xml.gz", srv.URL + "/c.xml.gz"}
	report, err := testClient(srv.Client()).FetchDumps(context.Background(), urls, t.TempDir(), nil, 1, 1)
	if err != nil {
		t.Fatalf("FetchDumps() error = %v", err)
	}
	if len(report.Downloaded) != 1 || report.Downloaded[0] != "a.xml.gz" {
		t.Errorf("Downloaded = %v, want [a.xml.gz]", report.Downloaded)
	}
}

func TestFetchIDs(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, "PMCID,PMID,DOI\n")
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "PMC-ids.csv.gz")
	c := testClient(srv.Client())

	got, err := c.FetchIDs(context.Background(), srv.URL+"/PMC-ids.csv.gz", dest)
	if err != nil || !got {
		t.Fatalf("FetchIDs() = %v, %v, want true, nil", got, err)
	}
	got, err = c.FetchIDs(context.Background(), srv.URL+"/PMC-ids.csv.gz", dest)
	if err != nil || got {
		t.Errorf("second FetchIDs() = %v, %v, want false, nil", got, err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://europepmc.org/ftp/oa/PMC1_1.xml.gz", "PMC1_1.xml.gz"},
		{"http://x/y/z.xml.gz?token=1", "z.xml.gz"},
		{"plain.xml.gz", "plain.xml.gz"},
	}
	for _, tt := range tests {
		if got := FileName(tt.url); got != tt.want {
			t.Errorf("FileName(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
