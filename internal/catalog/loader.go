// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package catalog reads bibliographic record files and reconciles candidate
// lists against the locally held master catalog.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"

	"github.com/pdiddy/primary-preserver/pkg/types"
)

// Row is one record of a biblio CSV. The url_hint column may carry several
// URLs separated by "|", highest preference first.
type Row struct {
	Title   string `csv:"title"`
	Year    string `csv:"year"`
	Bibcode string `csv:"bibcode,omitempty"`
	DOI     string `csv:"doi,omitempty"`
	URLHint string `csv:"url_hint,omitempty"`
}

// LoadResult holds the candidates plus per-record diagnostics for rows that
// were dropped. A dropped row is not fatal to the load.
type LoadResult struct {
	Candidates  []types.Candidate
	Diagnostics []string
}

// Load reads a biblio CSV into fetch candidates. Rows without a usable
// identifier (no bibcode and no DOI) are dropped with a diagnostic, and
// duplicate identifiers collapse to the first occurrence so each identifier
// is unique within a run. Re-reading the same file reproduces the same
// sequence and order.
func Load(path string) (LoadResult, error) {
	rows, diags, err := readRows(path)
	if err != nil {
		return LoadResult{}, err
	}

	out := LoadResult{Diagnostics: diags}
	seen := make(map[string]bool)
	for _, nr := range rows {
		c, reason := rowToCandidate(nr.Row)
		if reason != "" {
			out.Diagnostics = append(out.Diagnostics,
				fmt.Sprintf("line %d: dropped: %s", nr.Line, reason))
			continue
		}
		if seen[c.Identifier] {
			out.Diagnostics = append(out.Diagnostics,
				fmt.Sprintf("line %d: duplicate identifier %s, keeping first", nr.Line, c.Identifier))
			continue
		}
		seen[c.Identifier] = true
		out.Candidates = append(out.Candidates, c)
	}

	return out, nil
}

// numberedRow pairs a decoded row with its source line for diagnostics.
type numberedRow struct {
	Line int
	Row  Row
}

// readRows decodes every syntactically readable row of a biblio CSV,
// reporting unreadable rows as diagnostics.
func readRows(path string) ([]numberedRow, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening biblio %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	dec, err := csvutil.NewDecoder(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("reading biblio header %s: %w", path, err)
	}

	var rows []numberedRow
	var diags []string
	line := 1
	for {
		line++
		var row Row
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			diags = append(diags, fmt.Sprintf("line %d: unreadable row: %v", line, err))
			continue
		}
		rows = append(rows, numberedRow{Line: line, Row: row})
	}
	return rows, diags, nil
}

// rowToCandidate validates a row and normalizes it into a Candidate. The
// returned reason is non-empty when the row should be dropped.
func rowToCandidate(row Row) (types.Candidate, string) {
	bibcode := strings.TrimSpace(row.Bibcode)
	doi := strings.ToLower(strings.TrimSpace(row.DOI))
	title := strings.TrimSpace(row.Title)

	identifier := bibcode
	if identifier == "" {
		identifier = doi
	}
	if identifier == "" {
		return types.Candidate{}, "no bibcode or DOI"
	}
	if title == "" {
		return types.Candidate{}, fmt.Sprintf("%s: no title", identifier)
	}

	year, err := parseYear(row.Year)
	if err != nil {
		return types.Candidate{}, fmt.Sprintf("%s: %v", identifier, err)
	}

	var hints []string
	for _, h := range strings.Split(row.URLHint, "|") {
		if h = strings.TrimSpace(h); h != "" {
			hints = append(hints, h)
		}
	}

	return types.Candidate{
		Identifier: identifier,
		Title:      title,
		Year:       year,
		Bibcode:    bibcode,
		DOI:        doi,
		URLHints:   hints,
	}, ""
}

// parseYear accepts plain years and date-like strings, using the leading
// four digits ("1905", "1905-03-18").
func parseYear(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) > 4 {
		s = s[:4]
	}
	year, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unparseable year %q", s)
	}
	return year, nil
}
