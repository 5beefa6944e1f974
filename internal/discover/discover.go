// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package discover

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"

	"github.com/pdiddy/primary-preserver/internal/catalog"
	"github.com/pdiddy/primary-preserver/pkg/types"
)

const (
	unionFile   = "ads_all_candidates.csv"
	missingFile = "missing_only.csv"
	logFile     = "ads_queries.log"
)

// Result summarizes one discovery run.
type Result struct {
	Union       int
	Missing     int
	QueryErrors int

	UnionPath   string
	MissingPath string
	LogPath     string
}

// Run executes the queries, deduplicates the union, reconciles it against
// the master catalog, and writes the three output files under outDir. Query
// failures are logged and skipped; the run continues with the remaining
// queries.
func Run(ctx context.Context, client *Client, queries []Query, masterPath, outDir string, w io.Writer) (Result, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("creating output directory: %w", err)
	}

	var all []types.Candidate
	var logLines []string
	var queryErrors int
	for _, q := range queries {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		candidates, numFound, err := client.Search(ctx, q.Q, q.Rows)
		if err != nil {
			queryErrors++
			line := fmt.Sprintf("[%s] ERROR: %v", q.Name, err)
			logLines = append(logLines, line)
			fmt.Fprintf(w, "warning: query %s failed: %v\n", q.Name, err)
			continue
		}
		all = append(all, candidates...)
		logLines = append(logLines, fmt.Sprintf("[%s] numFound=%d rows_collected=%d", q.Name, numFound, len(candidates)))
	}

	union := dedupe(all)

	result := Result{
		Union:       len(union),
		QueryErrors: queryErrors,
		UnionPath:   filepath.Join(outDir, unionFile),
		MissingPath: filepath.Join(outDir, missingFile),
		LogPath:     filepath.Join(outDir, logFile),
	}

	if err := writeCandidates(result.UnionPath, union); err != nil {
		return result, err
	}

	master, err := catalog.LoadMaster(masterPath)
	if err != nil {
		return result, fmt.Errorf("loading master catalog: %w", err)
	}
	missing := master.Missing(union)
	result.Missing = len(missing)

	if err := writeCandidates(result.MissingPath, missing); err != nil {
		return result, err
	}

	if err := os.WriteFile(result.LogPath, []byte(strings.Join(logLines, "\n")+"\n"), 0o644); err != nil {
		return result, fmt.Errorf("writing query log: %w", err)
	}

	fmt.Fprintf(w, "union candidates: %d -> %s\n", result.Union, result.UnionPath)
	fmt.Fprintf(w, "missing vs master: %d -> %s\n", result.Missing, result.MissingPath)
	return result, nil
}

// dedupe collapses candidates that share a bibcode or a DOI, keeping the
// first occurrence. Candidates with neither identifier pass through.
func dedupe(candidates []types.Candidate) []types.Candidate {
	seenBib := make(map[string]bool)
	seenDOI := make(map[string]bool)
	var out []types.Candidate
	for _, c := range candidates {
		if c.Bibcode != "" && seenBib[c.Bibcode] {
			continue
		}
		doi := strings.ToLower(c.DOI)
		if doi != "" && seenDOI[doi] {
			continue
		}
		if c.Bibcode != "" {
			seenBib[c.Bibcode] = true
		}
		if doi != "" {
			seenDOI[doi] = true
		}
		out = append(out, c)
	}
	return out
}

// writeCandidates writes candidates as a biblio-schema CSV, so discovery
// output feeds straight into the preserve command.
func writeCandidates(path string, candidates []types.Candidate) error {
	rows := make([]catalog.Row, len(candidates))
	for i, c := range candidates {
		year := ""
		if c.Year > 0 {
			year = strconv.Itoa(c.Year)
		}
		rows[i] = catalog.Row{
			Title:   c.Title,
			Year:    year,
			Bibcode: c.Bibcode,
			DOI:     c.DOI,
			URLHint: strings.Join(c.URLHints, "|"),
		}
	}

	data, err := csvutil.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encoding candidates: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
