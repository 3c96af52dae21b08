package idtable

import (
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeGzipCSV(t *testing.T, path, content string) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating %s: %v", path, err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write([]byte(content)); err != nil {
		t.Fatalf("writing gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing file: %v", err)
	}
}

func TestLoadOrBuild(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "PMC-ids.csv.gz")
	dbPath := filepath.Join(dir, "PMC-ids.db")
	writeGzipCSV(t, csvPath, sampleCSV)

	first, err := LoadOrBuild(csvPath, dbPath, false, nil)
	if err != nil {
		t.Fatalf("LoadOrBuild() error = %v", err)
	}
	if first.FromCache {
		t.Error("first LoadOrBuild() FromCache = true, want false")
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("cache not written: %v", err)
	}

	// The cache must be used even when the CSV has gone.
	if err := os.Remove(csvPath); err != nil {
		t.Fatal(err)
	}

	second, err := LoadOrBuild(csvPath, dbPath, false, nil)
	if err != nil {
		t.Fatalf("second LoadOrBuild() error = %v", err)
	}
	if !second.FromCache {
		t.Error("second LoadOrBuild() FromCache = false, want true")
	}

	for _, pmid := range []int64{555, 777, 888} {
		want, _ := first.Table.LookupPMID(pmid)
		got, ok := second.Table.LookupPMID(pmid)
		if !ok || got != want {
			t.Errorf("cached LookupPMID(%d) = %+v, want %+v", pmid, got, want)
		}
	}
	for _, pmcid := range []string{"PMC999", "PMC1000", "PMC1001", "PMC1002"} {
		want, _ := first.Table.LookupPMCID(pmcid)
		got, ok := second.Table.LookupPMCID(pmcid)
		if !ok || got != want {
			t.Errorf("cached LookupPMCID(%s) = %+v, want %+v", pmcid, got, want)
		}
	}
}

func TestLoadOrBuild_Force(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "PMC-ids.csv")
	dbPath := filepath.Join(dir, "PMC-ids.db")

	if err := os.WriteFile(csvPath, []byte("PMCID,PMID,DOI\nPMC1,1,10.1/a\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrBuild(csvPath, dbPath, false, nil); err != nil {
		t.Fatalf("LoadOrBuild() error = %v", err)
	}

	if err := os.WriteFile(csvPath, []byte("PMCID,PMID,DOI\nPMC1,1,10.1/b\n"), 0644); err != nil {
		t.Fatal(err)
	}
	res, err := LoadOrBuild(csvPath, dbPath, true, nil)
	if err != nil {
		t.Fatalf("LoadOrBuild(force) error = %v", err)
	}
	r, _ := res.Table.LookupPMID(1)
	if r.DOI != "10.1/b" {
		t.Errorf("DOI after forced rebuild = %q, want 10.1/b", r.DOI)
	}

	cache, err := OpenCache(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()
	pmids, pmcids, err := cache.Count()
	if err != nil {
		t.Fatal(err)
	}
	if pmids != 1 || pmcids != 1 {
		t.Errorf("Count() = (%d, %d), want (1, 1)", pmids, pmcids)
	}
}

func TestLoadOrBuild_NoSource(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadOrBuild(filepath.Join(dir, "missing.csv.gz"), filepath.Join(dir, "ids.db"), false, nil)
	if !errors.Is(err, ErrNoSource) {
		t.Errorf("LoadOrBuild() error = %v, want ErrNoSource", err)
	}
}
