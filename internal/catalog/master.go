// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package catalog

import (
	"strings"
	"unicode"

	"github.com/pdiddy/primary-preserver/pkg/types"
)

// titleYear buckets master entries by normalized title and year for the
// fallback match.
type titleYear struct {
	title string
	year  int
}

// Index is an in-memory view of the master catalog used to decide which
// discovered candidates are already held. The master file itself is never
// modified.
type Index struct {
	bibcodes map[string]bool
	dois     map[string]bool
	buckets  map[titleYear]bool
}

// LoadMaster reads the master catalog CSV and builds the lookup index.
// Master rows reuse the biblio schema, but the fetch loader's identifier
// requirement does not apply: a row known only by title and year still
// contributes its title/year bucket, so held documents without a bibcode
// or DOI are not re-reported as missing.
func LoadMaster(path string) (*Index, error) {
	rows, _, err := readRows(path)
	if err != nil {
		return nil, err
	}
	records := make([]types.Candidate, 0, len(rows))
	for _, nr := range rows {
		records = append(records, masterRecord(nr.Row))
	}
	return NewIndex(records), nil
}

// masterRecord normalizes a master row without requiring an identifier. An
// unparseable year leaves the year at zero, keeping the row out of any
// bucket a dated candidate would hit.
func masterRecord(row Row) types.Candidate {
	year, _ := parseYear(row.Year)
	return types.Candidate{
		Title:   strings.TrimSpace(row.Title),
		Year:    year,
		Bibcode: strings.TrimSpace(row.Bibcode),
		DOI:     strings.ToLower(strings.TrimSpace(row.DOI)),
	}
}

// NewIndex builds an Index from already-loaded records. Title/year buckets
// cover ±1 year to absorb off-by-one publication dates between catalogs.
func NewIndex(records []types.Candidate) *Index {
	ix := &Index{
		bibcodes: make(map[string]bool),
		dois:     make(map[string]bool),
		buckets:  make(map[titleYear]bool),
	}
	for _, r := range records {
		if r.Bibcode != "" {
			ix.bibcodes[r.Bibcode] = true
		}
		if r.DOI != "" {
			ix.dois[strings.ToLower(r.DOI)] = true
		}
		t := NormalizeTitle(r.Title)
		if t == "" {
			continue
		}
		for dy := -1; dy <= 1; dy++ {
			ix.buckets[titleYear{title: t, year: r.Year + dy}] = true
		}
	}
	return ix
}

// Contains reports whether the master catalog already holds the candidate,
// matching by bibcode first, then DOI, then normalized title and year.
func (ix *Index) Contains(c types.Candidate) bool {
	if c.Bibcode != "" && ix.bibcodes[c.Bibcode] {
		return true
	}
	if c.DOI != "" && ix.dois[strings.ToLower(c.DOI)] {
		return true
	}
	t := NormalizeTitle(c.Title)
	return t != "" && ix.buckets[titleYear{title: t, year: c.Year}]
}

// Missing filters candidates down to those absent from the master catalog,
// preserving input order.
func (ix *Index) Missing(candidates []types.Candidate) []types.Candidate {
	var missing []types.Candidate
	for _, c := range candidates {
		if !ix.Contains(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// NormalizeTitle lowercases the title and strips everything but letters,
// digits, and single spaces, so near-identical titles compare equal.
func NormalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
