// Package citation rebuilds a plain-text citation string from the loosely
// structured reference markup found in JATS ref-list entries.
package citation

import (
	"regexp"
	"strings"

	"github.com/beevik/etree"
)

const (
	elementCitationTag = "element-citation"
	mixedCitationTag   = "mixed-citation"
	citationTag        = "citation"
	personGroupTag     = "person-group"
	pubIDTag           = "pub-id"
)

// Labels written before a pub-id value, keyed by pub-id-type.
var pubIDLabels = map[string]string{
	"doi":   "DOI: ",
	"pmid":  "PMID: ",
	"pmcid": "PMC: ",
}

// Cleanup rewrites, applied in order after whitespace collapsing.
var cleanups = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(` ([,.!?;:])`), "$1"},
	{regexp.MustCompile(`([-–]) `), "$1"},
	{regexp.MustCompile(`[-–,.!?;:] ?([-–,.!?;:])`), "$1"},
	{regexp.MustCompile(`(\(\. ?)+`), "("},
	{regexp.MustCompile(`\( +`), "("},
}

// FindCitation returns the first element-citation, mixed-citation or citation
// child of ref, or nil.
func FindCitation(ref *etree.Element) *etree.Element {
	for _, child := range ref.ChildElements() {
		switch child.Tag {
		case elementCitationTag, mixedCitationTag, citationTag:
			return child
		}
	}
	return nil
}

// Reconstruct builds the citation string for a ref element.
// Returns false when the reference has no citation child or no text.
func Reconstruct(ref *etree.Element) (string, bool) {
	var raw string
	if cit := FindCitation(ref); cit != nil {
		raw = assemble(cit)
	}

	s := Clean(raw)
	if s == "" {
		return "", false
	}
	return s, true
}

// assemble concatenates the text under cit, inserting separators at element
// boundaries and labels before pub-id values.
func assemble(cit *etree.Element) string {
	commaSeparated := cit.Tag == elementCitationTag || cit.Tag == citationTag

	var b strings.Builder
	hasListOfPeople := false
	firstTextPassed := false

	for _, n := range Walk(cit) {
		switch n.Kind {
		case ElementNode:
			if !isBlank(n.Text) {
				if firstTextPassed {
					switch {
					case n.InPersonGroup:
						b.WriteString(", ")
						hasListOfPeople = true
					case hasListOfPeople:
						b.WriteString(". ")
						hasListOfPeople = false
					case commaSeparated:
						b.WriteString(", ")
					default:
						b.WriteString(" ")
					}
				} else {
					firstTextPassed = true
				}
			}
			if n.Element.Tag == pubIDTag {
				b.WriteString(pubIDLabels[n.Element.SelectAttrValue("pub-id-type", "")])
			}
		case TextNode:
			b.WriteString(n.Text)
		}
	}

	return b.String()
}

// Clean collapses whitespace and applies the punctuation rewrites.
func Clean(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	for _, c := range cleanups {
		s = c.re.ReplaceAllString(s, c.repl)
	}
	return s
}

func isBlank(s string) bool {
	return len(strings.Fields(s)) == 0
}
