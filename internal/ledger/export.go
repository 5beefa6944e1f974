// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ledger

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jszwec/csvutil"

	"github.com/pdiddy/primary-preserver/pkg/types"
)

// ExportEntry is one attempt row flattened for export, with the archived
// record's checksum and path joined in on success.
type ExportEntry struct {
	RunID      string `csv:"run_id" json:"run_id"`
	Identifier string `csv:"identifier" json:"identifier"`
	URL        string `csv:"url" json:"url"`
	Host       string `csv:"host" json:"host"`
	Outcome    string `csv:"outcome" json:"outcome"`
	StatusCode int    `csv:"status_code" json:"status_code"`
	ErrorClass string `csv:"error_class" json:"error_class"`
	Note       string `csv:"note" json:"note"`
	Retries    int    `csv:"retries" json:"retries"`
	ElapsedMS  int64  `csv:"elapsed_ms" json:"elapsed_ms"`
	Timestamp  string `csv:"timestamp" json:"timestamp"`
	Checksum   string `csv:"checksum" json:"checksum,omitempty"`
	Path       string `csv:"path" json:"path,omitempty"`
	Bytes      int64  `csv:"bytes" json:"bytes,omitempty"`
}

// ExportCSV writes the full attempt trail to path as CSV.
func (s *Store) ExportCSV(ctx context.Context, path string) error {
	entries, err := s.exportEntries(ctx)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	enc := csvutil.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encoding export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing export: %w", err)
	}
	return f.Sync()
}

// ExportJSONL writes the full attempt trail to path as one JSON object per
// line.
func (s *Store) ExportJSONL(ctx context.Context, path string) error {
	entries, err := s.exportEntries(ctx)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encoding export line: %w", err)
		}
	}
	return f.Sync()
}

// exportEntries joins attempts with their archived records so successful
// rows carry checksum, path, and size.
func (s *Store) exportEntries(ctx context.Context) ([]ExportEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.run_id, a.identifier, a.url, a.host, a.outcome, a.status_code,
		        a.error_class, a.note, a.retries, a.elapsed_ms, a.timestamp,
		        coalesce(r.checksum, ''), coalesce(r.path, ''), coalesce(r.bytes, 0)
		 FROM attempts a
		 LEFT JOIN records r
		   ON a.outcome = ? AND r.run_id = a.run_id AND r.identifier = a.identifier
		 ORDER BY a.seq`,
		string(types.OutcomeArchived))
	if err != nil {
		return nil, fmt.Errorf("querying export rows: %w", err)
	}
	defer rows.Close()

	var out []ExportEntry
	for rows.Next() {
		var e ExportEntry
		if err := rows.Scan(&e.RunID, &e.Identifier, &e.URL, &e.Host, &e.Outcome,
			&e.StatusCode, &e.ErrorClass, &e.Note, &e.Retries, &e.ElapsedMS,
			&e.Timestamp, &e.Checksum, &e.Path, &e.Bytes); err != nil {
			return nil, fmt.Errorf("scanning export row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
