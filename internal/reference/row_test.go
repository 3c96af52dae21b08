package reference

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeReferences(t *testing.T) {
	tests := []struct {
		name string
		refs []Reference
		want string
	}{
		{"nil", nil, "[]"},
		{
			name: "absent fields omitted",
			refs: []Reference{{EntryText: "Smith. A & B", PMID: "1", XMLID: "r1"}},
			want: `[{"entry_text":"Smith. A & B","ref_pmid":"1","ref_xmlid":"r1"}]`,
		},
		{
			name: "empty reference",
			refs: []Reference{{}},
			want: `[{}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeReferences(tt.refs)
			if err != nil {
				t.Fatalf("EncodeReferences() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("EncodeReferences() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestWriteArticle(t *testing.T) {
	a := &Article{
		PMCID: "PMC1",
		Name:  "dump/0/a.xml",
		References: []Reference{
			{EntryText: "x\ty", DOI: "10.1/a"},
		},
	}

	var buf bytes.Buffer
	cw := NewTableWriter(&buf)
	if err := cw.Write(Header); err != nil {
		t.Fatal(err)
	}
	if err := WriteArticle(cw, a); err != nil {
		t.Fatalf("WriteArticle() error = %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), buf.String())
	}
	if lines[0] != "cur_doi\tcur_pmid\tcur_pmcid\tcur_name\treferences" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "\t\tPMC1\tdump/0/a.xml\t\"[") {
		t.Errorf("row = %q, want empty doi/pmid and quoted references", lines[1])
	}

	cr := NewTableReader(&buf)
	records, err := cr.ReadAll()
	if err != nil {
		t.Fatalf("reading table: %v", err)
	}
	got, err := ParseRow(records[1])
	if err != nil {
		t.Fatalf("ParseRow() error = %v", err)
	}
	if got.PMCID != "PMC1" || got.Name != a.Name || len(got.References) != 1 {
		t.Fatalf("ParseRow() = %+v", got)
	}
	if got.References[0] != a.References[0] {
		t.Errorf("reference = %+v, want %+v", got.References[0], a.References[0])
	}
}

func TestParseRow_WrongWidth(t *testing.T) {
	if _, err := ParseRow([]string{"a", "b"}); err == nil {
		t.Error("ParseRow() with 2 fields succeeded, want error")
	}
}

func TestArticle_HasIdentifier(t *testing.T) {
	if (&Article{}).HasIdentifier() {
		t.Error("empty article HasIdentifier() = true")
	}
	if !(&Article{PMID: "1"}).HasIdentifier() {
		t.Error("article with PMID HasIdentifier() = false")
	}
	if (&Article{PMID: "1", PMCID: "PMC1"}).Complete() {
		t.Error("article without DOI Complete() = true")
	}
}
