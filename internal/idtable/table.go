// Package idtable holds the PMID/PMCID -> identifier-triple lookup built from
// the PMC-ids dataset.
package idtable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/matsen/pmcrefs/internal/ident"
)

// Column names in the PMC-ids dataset.
const (
	ColumnPMCID = "PMCID"
	ColumnPMID  = "PMID"
	ColumnDOI   = "DOI"
)

// ErrMissingColumn is returned when the dataset header lacks a required column.
var ErrMissingColumn = errors.New("identifier dataset missing column")

// Record is one row of the identifier dataset.
// Empty strings and a zero PMID mean the value is absent.
type Record struct {
	PMID  int64  `json:"pmid,omitempty"`
	PMCID string `json:"pmcid,omitempty"`
	DOI   string `json:"doi,omitempty"`
}

// HasPMID reports whether the record carries a PMID.
func (r Record) HasPMID() bool {
	return r.PMID > 0
}

// Table is an immutable lookup from PMID or PMCID to a Record.
// It is safe for concurrent reads once built.
type Table struct {
	byPMID  map[int64]Record
	byPMCID map[string]Record
}

// New builds a Table from records in dataset order; later records win on
// duplicate keys.
func New(records []Record) *Table {
	t := &Table{
		byPMID:  make(map[int64]Record, len(records)),
		byPMCID: make(map[string]Record, len(records)),
	}
	for _, r := range records {
		t.add(r)
	}
	return t
}

func (t *Table) add(r Record) {
	if r.HasPMID() {
		t.byPMID[r.PMID] = r
	}
	if r.PMCID != "" {
		t.byPMCID[r.PMCID] = r
	}
}

// LookupPMID returns the record keyed by pmid.
func (t *Table) LookupPMID(pmid int64) (Record, bool) {
	r, ok := t.byPMID[pmid]
	return r, ok
}

// LookupPMCID returns the record keyed by pmcid. The PMC prefix is added if missing.
func (t *Table) LookupPMCID(pmcid string) (Record, bool) {
	key, ok := ident.NormalisePMCID(pmcid)
	if !ok {
		return Record{}, false
	}
	r, ok := t.byPMCID[key]
	return r, ok
}

// Resolve applies the fallback chain used for articles and references:
// the PMID (if it parses as an integer and is known) first, then the PMCID.
func (t *Table) Resolve(pmid, pmcid string) (Record, bool) {
	if t == nil {
		return Record{}, false
	}
	if pmid != "" {
		if n, ok := ident.ParsePMID(pmid); ok {
			if r, ok := t.LookupPMID(n); ok {
				return r, true
			}
		}
	}
	if pmcid != "" {
		return t.LookupPMCID(pmcid)
	}
	return Record{}, false
}

// Len returns the number of PMID keys and PMCID keys.
func (t *Table) Len() (pmids, pmcids int) {
	return len(t.byPMID), len(t.byPMCID)
}

// ReadRecords parses the PMC-ids CSV. Columns are located by header name,
// other columns are ignored. Rows with neither a PMID nor a PMCID are skipped;
// exact duplicate rows collapse when keyed into a Table.
func ReadRecords(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	cols := map[string]int{ColumnPMCID: -1, ColumnPMID: -1, ColumnDOI: -1}
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF"))
		if _, ok := cols[name]; ok {
			cols[name] = i
		}
	}
	for name, idx := range cols {
		if idx == -1 {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	var records []Record
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("reading line %d: %w", line, err)
		}

		rec := Record{
			PMCID: field(row, cols[ColumnPMCID]),
			DOI:   field(row, cols[ColumnDOI]),
		}
		if pmcid, ok := ident.NormalisePMCID(rec.PMCID); ok {
			rec.PMCID = pmcid
		}
		if n, ok := ident.ParsePMID(field(row, cols[ColumnPMID])); ok && n > 0 {
			rec.PMID = n
		}
		if !rec.HasPMID() && rec.PMCID == "" {
			continue
		}

		records = append(records, rec)
	}

	return records, nil
}

func field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
