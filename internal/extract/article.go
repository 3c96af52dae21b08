// Package extract turns one split article document into an output row,
// resolving missing identifiers through the identifier table.
package extract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/matsen/pmcrefs/internal/citation"
	"github.com/matsen/pmcrefs/internal/ident"
	"github.com/matsen/pmcrefs/internal/idtable"
	"github.com/matsen/pmcrefs/internal/reference"
)

// ErrNoIdentifiers is returned for documents without a PMID, PMCID or DOI.
var ErrNoIdentifiers = errors.New("article has no identifiers")

const (
	idTypePMID  = "pmid"
	idTypePMCID = "pmcid"
	idTypeDOI   = "doi"
)

// Resolver fills missing identifiers. *idtable.Table implements it.
type Resolver interface {
	Resolve(pmid, pmcid string) (idtable.Record, bool)
}

// ParseArticle extracts the article record from a parsed document root.
// name is stored as the record's source name. table may be nil.
func ParseArticle(root *etree.Element, name string, table Resolver) (*reference.Article, error) {
	if root == nil {
		return nil, errors.New("document has no root element")
	}

	a := &reference.Article{Name: name}
	a.PMID = articleID(root, idTypePMID)
	if pmcid, ok := ident.NormalisePMCID(articleID(root, idTypePMCID)); ok {
		a.PMCID = pmcid
	}
	if doi, ok := ident.NormaliseDOI(articleID(root, idTypeDOI)); ok {
		a.DOI = doi
	}

	if !a.HasIdentifier() {
		return nil, ErrNoIdentifiers
	}

	if !a.Complete() && table != nil {
		if rec, ok := table.Resolve(a.PMID, a.PMCID); ok {
			fillFromRecord(&a.PMID, &a.PMCID, &a.DOI, rec)
		}
	}

	refs := root.FindElements(".//ref-list/ref")
	a.References = make([]reference.Reference, 0, len(refs))
	for _, el := range refs {
		a.References = append(a.References, parseReference(el, table))
	}

	return a, nil
}

// articleID returns the trimmed text of the first article-id of idType in
// the front matter, or "".
func articleID(root *etree.Element, idType string) string {
	el := root.FindElement(fmt.Sprintf(".//front/article-meta/article-id[@pub-id-type='%s']", idType))
	if el == nil {
		return ""
	}
	return strings.TrimSpace(textContent(el))
}

func parseReference(el *etree.Element, table Resolver) reference.Reference {
	var r reference.Reference

	if text, ok := citation.Reconstruct(el); ok {
		r.EntryText = text
	}

	r.PMID = strings.TrimSpace(pubID(el, idTypePMID))
	if doi, ok := ident.NormaliseDOI(pubID(el, idTypeDOI)); ok {
		r.DOI = doi
	}
	if pmcid, ok := ident.NormalisePMCID(pubID(el, idTypePMCID)); ok {
		r.PMCID = pmcid
	}

	if link := el.FindElement(".//ext-link"); link != nil {
		if url := strings.TrimSpace(textContent(link)); strings.HasPrefix(url, "http") {
			r.URL = url
		}
	}

	r.XMLID = el.SelectAttrValue("id", "")

	if !r.Complete() && table != nil {
		if rec, ok := table.Resolve(r.PMID, r.PMCID); ok {
			fillFromRecord(&r.PMID, &r.PMCID, &r.DOI, rec)
		}
	}

	return r
}

// pubID returns the text of the first pub-id of idType below el, or "".
func pubID(el *etree.Element, idType string) string {
	id := el.FindElement(fmt.Sprintf(".//pub-id[@pub-id-type='%s']", idType))
	if id == nil {
		return ""
	}
	return textContent(id)
}

// fillFromRecord sets each empty identifier from rec.
func fillFromRecord(pmid, pmcid, doi *string, rec idtable.Record) {
	if *pmid == "" && rec.HasPMID() {
		*pmid = strconv.FormatInt(rec.PMID, 10)
	}
	if *pmcid == "" {
		if v, ok := ident.NormalisePMCID(rec.PMCID); ok {
			*pmcid = v
		}
	}
	if *doi == "" {
		if v, ok := ident.NormaliseDOI(rec.DOI); ok {
			*doi = v
		}
	}
}

// textContent concatenates all character data below el in document order.
func textContent(el *etree.Element) string {
	var b strings.Builder
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		for _, tok := range e.Child {
			switch t := tok.(type) {
			case *etree.CharData:
				b.WriteString(t.Data)
			case *etree.Element:
				walk(t)
			}
		}
	}
	walk(el)
	return b.String()
}
