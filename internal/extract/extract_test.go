package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/beevik/etree"

	"github.com/matsen/pmcrefs/internal/aggregate"
	"github.com/matsen/pmcrefs/internal/idtable"
	"github.com/matsen/pmcrefs/internal/reference"
)

const fullArticle = `<article xmlns:xlink="http://www.w3.org/1999/xlink">
<front><article-meta>
  <article-id pub-id-type="pmid"> 555 </article-id>
  <article-id pub-id-type="pmcid">12</article-id>
  <article-id pub-id-type="doi">https://doi.org/10.1000/ABC</article-id>
  <article-id pub-id-type="doi">10.9/second</article-id>
</article-meta></front>
<back><ref-list>
  <ref id="r1"><element-citation><person-group><name><surname>Smith</surname></name></person-group>
    <article-title>T</article-title><pub-id pub-id-type="pmid">777</pub-id></element-citation></ref>
  <ref id="r2"><mixed-citation>See <ext-link xlink:href="ftp://x">ftp://x</ext-link></mixed-citation></ref>
  <ref id="r3"><mixed-citation><ext-link>https://example.org/a</ext-link>
    <pub-id pub-id-type="doi">DOI 10.5/XY</pub-id><pub-id pub-id-type="pmcid">88</pub-id></mixed-citation></ref>
  <ref><note/></ref>
</ref-list></back>
</article>`

func parseRoot(t *testing.T, xml string) *etree.Element {
	t.Helper()

	doc := etree.NewDocument()
	if err := doc.ReadFromString(xml); err != nil {
		t.Fatalf("parsing fixture: %v", err)
	}
	return doc.Root()
}

func testTable() *idtable.Table {
	return idtable.New([]idtable.Record{
		{PMID: 555, PMCID: "PMC999", DOI: "10.1/X"},
		{PMID: 777, PMCID: "PMC7", DOI: "10.7/seven"},
		{PMCID: "PMC88", PMID: 8800},
	})
}

func TestParseArticle(t *testing.T) {
	a, err := ParseArticle(parseRoot(t, fullArticle), "PMC1/0/a.xml", testTable())
	if err != nil {
		t.Fatalf("ParseArticle() error = %v", err)
	}

	if a.PMID != "555" || a.PMCID != "PMC12" || a.DOI != "10.1000/abc" {
		t.Errorf("ids = %q/%q/%q, want 555/PMC12/10.1000/abc", a.PMID, a.PMCID, a.DOI)
	}
	if a.Name != "PMC1/0/a.xml" {
		t.Errorf("Name = %q", a.Name)
	}
	if len(a.References) != 4 {
		t.Fatalf("len(References) = %d, want 4", len(a.References))
	}

	want := []reference.Reference{
		{EntryText: "Smith, T, PMID: 777", PMID: "777", PMCID: "PMC7", DOI: "10.7/seven", XMLID: "r1"},
		{EntryText: "See ftp://x", XMLID: "r2"},
		{EntryText: "https://example.org/a DOI: DOI 10.5/XY PMC: 88", PMID: "8800", PMCID: "PMC88", DOI: "10.5/xy", URL: "https://example.org/a", XMLID: "r3"},
		{},
	}
	for i, w := range want {
		if got := a.References[i]; got != w {
			t.Errorf("References[%d] = %+v, want %+v", i, got, w)
		}
	}
}

func TestParseArticle_TableFallback(t *testing.T) {
	tests := []struct {
		name      string
		ids       string
		wantPMID  string
		wantPMCID string
		wantDOI   string
	}{
		{
			name:      "pmid only",
			ids:       `<article-id pub-id-type="pmid">555</article-id>`,
			wantPMID:  "555",
			wantPMCID: "PMC999",
			wantDOI:   "10.1/x",
		},
		{
			name:      "pmcid only",
			ids:       `<article-id pub-id-type="pmcid">PMC7</article-id>`,
			wantPMID:  "777",
			wantPMCID: "PMC7",
			wantDOI:   "10.7/seven",
		},
		{
			name:      "non-integer pmid falls back to pmcid",
			ids:       `<article-id pub-id-type="pmid">n/a</article-id><article-id pub-id-type="pmcid">7</article-id>`,
			wantPMID:  "n/a",
			wantPMCID: "PMC7",
			wantDOI:   "10.7/seven",
		},
		{
			name:    "doi only is not looked up",
			ids:     `<article-id pub-id-type="doi">10.5/only</article-id>`,
			wantDOI: "10.5/only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			xml := `<article><front><article-meta>` + tt.ids + `</article-meta></front></article>`
			a, err := ParseArticle(parseRoot(t, xml), "x.xml", testTable())
			if err != nil {
				t.Fatalf("ParseArticle() error = %v", err)
			}
			if a.PMID != tt.wantPMID || a.PMCID != tt.wantPMCID || a.DOI != tt.wantDOI {
				t.Errorf("ids = %q/%q/%q, want %q/%q/%q", a.PMID, a.PMCID, a.DOI, tt.wantPMID, tt.wantPMCID, tt.wantDOI)
			}
			if a.References == nil || len(a.References) != 0 {
				t.Errorf("References = %v, want empty", a.References)
			}
		})
	}
}

func TestParseArticle_NoIdentifiers(t *testing.T) {
	tests := []struct {
		name string
		xml  string
	}{
		{"no article-id", `<article><front><article-meta/></front></article>`},
		{"blank ids", `<article><front><article-meta><article-id pub-id-type="pmid"> </article-id></article-meta></front></article>`},
		{"doi without marker", `<article><front><article-meta><article-id pub-id-type="doi">none</article-id></article-meta></front></article>`},
		{"ids outside front", `<article><body><article-id pub-id-type="pmid">1</article-id></body></article>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArticle(parseRoot(t, tt.xml), "x.xml", testTable())
			if !errors.Is(err, ErrNoIdentifiers) {
				t.Errorf("ParseArticle() error = %v, want ErrNoIdentifiers", err)
			}
		})
	}
}

// memorySink collects rows in memory.
type memorySink struct {
	mu   sync.Mutex
	rows []*reference.Article
	err  error
}

func (s *memorySink) Write(_ context.Context, a *reference.Article) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, a)
	return nil
}

// setupArticles lays out an articles directory and returns its root and an
// extractor over it.
func setupArticles(t *testing.T) (string, *Extractor) {
	t.Helper()

	root := filepath.Join(t.TempDir(), "articles")
	if err := os.MkdirAll(filepath.Join(root, "PMC1", "0"), 0755); err != nil {
		t.Fatal(err)
	}
	ex := New(testTable(), root, filepath.Join(root, "exceptions"), filepath.Join(root, "without-id"), nil)
	return root, ex
}

func writeDoc(t *testing.T, root, name, content string) string {
	t.Helper()

	path := filepath.Join(root, "PMC1", "0", name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcess(t *testing.T) {
	root, ex := setupArticles(t)
	sink := &memorySink{}

	tests := []struct {
		name        string
		content     string
		wantOutcome Outcome
		wantDir     string
	}{
		{"row", fullArticle, OutcomeRow, ""},
		{"without id", `<article><front/></article>`, OutcomeWithoutID, "without-id"},
		{"malformed", `<article><<</article>`, OutcomeException, "exceptions"},
		{"entity", `<article><front><article-meta><article-id pub-id-type="pmid">1&nbsp;</article-id></article-meta></front></article>`, OutcomeRow, ""},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := string(rune('a'+i)) + ".xml"
			path := writeDoc(t, root, name, tt.content)

			res, err := ex.Process(context.Background(), path, sink)
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if res.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %v, want %v (err %v)", res.Outcome, tt.wantOutcome, res.Err)
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Error("document still pending after processing")
			}
			if tt.wantDir != "" {
				if _, err := os.Stat(filepath.Join(root, tt.wantDir, name)); err != nil {
					t.Errorf("document not quarantined in %s", tt.wantDir)
				}
			}
		})
	}

	if len(sink.rows) != 2 {
		t.Fatalf("sink got %d rows, want 2", len(sink.rows))
	}
	if sink.rows[0].Name != "PMC1/0/a.xml" {
		t.Errorf("Name = %q, want path relative to articles dir", sink.rows[0].Name)
	}
	if sink.rows[1].PMID != "1" {
		t.Errorf("PMID with entity = %q, want 1", sink.rows[1].PMID)
	}
}

func TestProcess_SinkFailureKeepsDocument(t *testing.T) {
	root, ex := setupArticles(t)
	path := writeDoc(t, root, "keep.xml", fullArticle)

	sink := &memorySink{err: errors.New("disk full")}
	if _, err := ex.Process(context.Background(), path, sink); err == nil {
		t.Fatal("Process() error = nil, want sink error")
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("document removed although its row was not written")
	}
}

func TestProcess_SingleWriterFailureKeepsDocument(t *testing.T) {
	root, ex := setupArticles(t)
	path := writeDoc(t, root, "queued.xml", fullArticle)

	blocker := filepath.Join(t.TempDir(), "csv")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	w, err := aggregate.NewSingleWriter(filepath.Join(blocker, "dataset.csv"), 4, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ex.Process(context.Background(), path, w); err == nil {
		t.Error("Process() error = nil, want dataset open failure")
	}
	if _, err := w.Finish(context.Background()); err == nil {
		t.Error("Finish() error = nil, want dataset open failure")
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("document removed although its row never reached the dataset")
	}
}

func TestOutcome_String(t *testing.T) {
	for o, want := range map[Outcome]string{OutcomeRow: "row", OutcomeException: "exception", OutcomeWithoutID: "without_id"} {
		if got := o.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", o, got, want)
		}
	}
}
