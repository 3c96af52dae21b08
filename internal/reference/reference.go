// Package reference defines the output records: one Article per processed
// document, each carrying its resolved References.
package reference

// Article is one output row. Empty identifier fields are absent values.
type Article struct {
	DOI   string `json:"cur_doi,omitempty"`   // Normalised, lower-cased
	PMID  string `json:"cur_pmid,omitempty"`  // As found in the XML or the PMC-ids table
	PMCID string `json:"cur_pmcid,omitempty"` // Always PMC-prefixed
	Name  string `json:"cur_name"`            // Source document path, relative to articles/

	References []Reference `json:"references"`
}

// Reference is one ref-list entry of an Article. Absent fields are omitted
// from the serialised form.
type Reference struct {
	EntryText string `json:"entry_text,omitempty"` // Reconstructed citation string
	PMID      string `json:"ref_pmid,omitempty"`
	PMCID     string `json:"ref_pmcid,omitempty"`
	DOI       string `json:"ref_doi,omitempty"`
	URL       string `json:"ref_url,omitempty"`   // First ext-link, only if it starts with "http"
	XMLID     string `json:"ref_xmlid,omitempty"` // The ref element's id attribute
}

// HasIdentifier reports whether any of the three article identifiers is set.
func (a *Article) HasIdentifier() bool {
	return a.DOI != "" || a.PMID != "" || a.PMCID != ""
}

// Complete reports whether all three article identifiers are set.
func (a *Article) Complete() bool {
	return a.DOI != "" && a.PMID != "" && a.PMCID != ""
}

// Complete reports whether all three reference identifiers are set.
func (r *Reference) Complete() bool {
	return r.DOI != "" && r.PMID != "" && r.PMCID != ""
}
