package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	r := New()
	r.ArchiveDone("split")
	r.ArchiveDone("split")
	r.ArchiveDone("failed")
	r.DocumentDone("row")
	r.DocumentDone("exception")
	r.References(5)
	r.References(-1)
	r.StageDuration("extract", 1500*time.Millisecond)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"archives split", testutil.ToFloat64(r.archives.WithLabelValues("split")), 2},
		{"archives failed", testutil.ToFloat64(r.archives.WithLabelValues("failed")), 1},
		{"documents row", testutil.ToFloat64(r.documents.WithLabelValues("row")), 1},
		{"documents exception", testutil.ToFloat64(r.documents.WithLabelValues("exception")), 1},
		{"references", testutil.ToFloat64(r.references), 5},
		{"stage", testutil.ToFloat64(r.stages.WithLabelValues("extract")), 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	r.ArchiveDone("split")
	r.DocumentDone("row")
	r.References(3)
	r.StageDuration("split", time.Second)
	if err := r.WriteTextfile(filepath.Join(t.TempDir(), "m.prom")); err != nil {
		t.Errorf("WriteTextfile() error = %v", err)
	}
	if r.Registry() != nil {
		t.Errorf("Registry() on nil recorder should be nil")
	}
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.DocumentDone("without_id")

	path := filepath.Join(t.TempDir(), "pmcrefs.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `pmcrefs_documents_total{outcome="without_id"} 1`) {
		t.Errorf("metrics file missing documents counter:\n%s", data)
	}

	if err := r.WriteTextfile(""); err != nil {
		t.Errorf("WriteTextfile(\"\") error = %v", err)
	}
}
