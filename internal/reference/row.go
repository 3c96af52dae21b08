package reference

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Header is the fixed header line of the dataset table.
var Header = []string{"cur_doi", "cur_pmid", "cur_pmcid", "cur_name", "references"}

// Row returns the tab-separated table fields for a.
// The references column holds a compact JSON array.
func (a *Article) Row() ([]string, error) {
	refs, err := EncodeReferences(a.References)
	if err != nil {
		return nil, err
	}
	return []string{a.DOI, a.PMID, a.PMCID, a.Name, refs}, nil
}

// EncodeReferences renders refs as a compact JSON array; nil encodes as "[]".
func EncodeReferences(refs []Reference) (string, error) {
	if refs == nil {
		refs = []Reference{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(refs); err != nil {
		return "", fmt.Errorf("encoding references: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// DecodeReferences parses the references column.
func DecodeReferences(s string) ([]Reference, error) {
	var refs []Reference
	if err := json.Unmarshal([]byte(s), &refs); err != nil {
		return nil, fmt.Errorf("decoding references: %w", err)
	}
	return refs, nil
}

// ParseRow rebuilds an Article from table fields.
func ParseRow(fields []string) (*Article, error) {
	if len(fields) != len(Header) {
		return nil, fmt.Errorf("row has %d fields, want %d", len(fields), len(Header))
	}
	refs, err := DecodeReferences(fields[4])
	if err != nil {
		return nil, err
	}
	return &Article{
		DOI:        fields[0],
		PMID:       fields[1],
		PMCID:      fields[2],
		Name:       fields[3],
		References: refs,
	}, nil
}

// NewTableWriter returns a csv.Writer configured for the dataset table.
func NewTableWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return cw
}

// NewTableReader returns a csv.Reader configured for the dataset table.
func NewTableReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = len(Header)
	cr.LazyQuotes = true
	return cr
}

// WriteArticle writes a as one table row and flushes.
func WriteArticle(cw *csv.Writer, a *Article) error {
	row, err := a.Row()
	if err != nil {
		return err
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("writing row: %w", err)
	}
	cw.Flush()
	return cw.Error()
}
