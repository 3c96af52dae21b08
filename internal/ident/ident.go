// Package ident normalises the article identifiers carried by PMC XML and the
// PMC-ids table: DOIs, PMIDs and PMCIDs.
package ident

import (
	"strconv"
	"strings"
	"unicode"
)

// PMCPrefix is the prefix every normalised PMCID carries.
const PMCPrefix = "PMC"

// doiMarker is where a DOI starts inside a resolver URL or a noisy string.
const doiMarker = "10."

// NormaliseDOI extracts a DOI from s: everything from the first "10." is
// percent-decoded, stripped of whitespace and NUL bytes, and lower-cased.
// Returns false if s holds no "10." substring.
func NormaliseDOI(s string) (string, bool) {
	idx := strings.Index(s, doiMarker)
	if idx == -1 {
		return "", false
	}

	decoded := unquote(s[idx:])
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == 0 {
			return -1
		}
		return r
	}, decoded)

	doi := strings.TrimSpace(strings.ToLower(cleaned))
	if doi == "" {
		return "", false
	}
	return doi, true
}

// NormalisePMCID trims s and prefixes it with "PMC" when missing.
// Returns false for an empty value.
func NormalisePMCID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if !strings.HasPrefix(s, PMCPrefix) {
		s = PMCPrefix + s
	}
	return s, true
}

// ParsePMID parses a PMID as the integer key used by the identifier table.
// Values such as "12345.0" (as found in float-typed CSV exports) are accepted.
func ParsePMID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int64(f), true
}

// unquote decodes %XX escapes leniently: malformed escapes are kept verbatim
// and "+" is not treated as a space.
func unquote(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) {
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])
			if ok1 && ok2 {
				b.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return strings.ToValidUTF8(b.String(), "�")
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
