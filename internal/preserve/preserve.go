// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package preserve orchestrates a preservation run: filter candidates
// against the ledger, dispatch the fetch pool, and record every outcome in
// input order.
//
// See docs/ARCHITECTURE § Preservation Run.
package preserve

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/primary-preserver/internal/fetch"
	"github.com/pdiddy/primary-preserver/internal/ledger"
	"github.com/pdiddy/primary-preserver/internal/trust"
	"github.com/pdiddy/primary-preserver/internal/verify"
	"github.com/pdiddy/primary-preserver/pkg/types"
)

const (
	documentsDir = "documents"
	quarantine   = "quarantine"
	metadataDir  = "metadata"

	ledgerCSV   = "ledger.csv"
	ledgerJSONL = "ledger.jsonl"

	maxDiagnostics = 5
)

// Summary holds the outcome tallies of one preservation run.
type Summary struct {
	RunID       string
	Attempted   int
	Archived    int
	Skipped     int
	Rejected    int
	Failed      int
	Cancelled   int
	Quarantined int
}

// Total returns the number of candidates processed.
func (s Summary) Total() int {
	return s.Attempted + s.Skipped
}

// HasFailures reports whether any candidate ended in failure.
func (s Summary) HasFailures() bool {
	return s.Failed > 0 || s.Cancelled > 0
}

// Runner executes preservation runs against one ledger and one output tree.
type Runner struct {
	cfg    types.PreserveConfig
	policy *trust.Policy
	store  *ledger.Store
	client *http.Client
	logger *zap.Logger
}

// NewRunner builds a Runner. The store stays open across runs; the caller
// owns its lifetime.
func NewRunner(cfg types.PreserveConfig, policy *trust.Policy, store *ledger.Store, logger *zap.Logger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "primary-preserver/0.1"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		policy: policy,
		store:  store,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Run preserves the candidates: already-archived ones are skipped (unless
// Force), the rest go through the fetch pool, and every outcome lands in the
// ledger in input order. It prints per-item status and a run summary to w,
// and continues after individual failures; only ledger write errors abort.
func (r *Runner) Run(ctx context.Context, candidates []types.Candidate, w io.Writer) (Summary, error) {
	runID := uuid.NewString()
	summary := Summary{RunID: runID}
	now := func() time.Time { return time.Now().UTC() }

	// Ledger writes must survive cancellation so an interrupted run still
	// leaves a consistent trail.
	recCtx := context.WithoutCancel(ctx)

	var dispatch []types.Candidate
	for _, c := range candidates {
		if !r.cfg.Force {
			has, err := r.store.HasRecord(recCtx, c.Identifier)
			if err != nil {
				return summary, fmt.Errorf("checking ledger for %s: %w", c.Identifier, err)
			}
			if has {
				fmt.Fprintf(w, "skipped: %s (already archived)\n", c.Identifier)
				summary.Skipped++
				if err := r.store.RecordAttempt(recCtx, types.FetchAttempt{
					RunID:      runID,
					Identifier: c.Identifier,
					Outcome:    types.OutcomeSkipped,
					Note:       "active record exists",
					Timestamp:  now(),
				}); err != nil {
					return summary, fmt.Errorf("recording skip for %s: %w", c.Identifier, err)
				}
				continue
			}
		}
		dispatch = append(dispatch, c)
	}

	if r.cfg.MaxDownloads > 0 && len(dispatch) > r.cfg.MaxDownloads {
		fmt.Fprintf(w, "capping run at %d of %d candidates\n", r.cfg.MaxDownloads, len(dispatch))
		dispatch = dispatch[:r.cfg.MaxDownloads]
	}

	results := r.runPool(ctx, runID, dispatch)

	var diagnostics []string
	for _, res := range results {
		summary.Attempted++
		for _, a := range res.Attempts {
			if err := r.store.RecordAttempt(recCtx, a); err != nil {
				return summary, fmt.Errorf("recording attempt for %s: %w", a.Identifier, err)
			}
			if a.Outcome == types.OutcomeQuarantined {
				summary.Quarantined++
			}
		}

		switch res.Outcome {
		case types.OutcomeArchived:
			if err := r.store.RecordArchived(recCtx, *res.Record); err != nil {
				return summary, fmt.Errorf("recording archive for %s: %w", res.Candidate.Identifier, err)
			}
			if err := r.writeMetadata(res.Candidate, *res.Record); err != nil {
				r.logger.Warn("metadata sidecar write failed",
					zap.String("identifier", res.Candidate.Identifier), zap.Error(err))
			}
			fmt.Fprintf(w, "archived: %s -> %s\n", res.Candidate.Identifier, res.Record.Path)
			summary.Archived++
		case types.OutcomeRejected:
			fmt.Fprintf(w, "rejected: %s (%s)\n", res.Candidate.Identifier, res.Note)
			summary.Rejected++
		case types.OutcomeCancelled:
			fmt.Fprintf(w, "cancelled: %s\n", res.Candidate.Identifier)
			summary.Cancelled++
		default:
			fmt.Fprintf(w, "failed:  %s (%s)\n", res.Candidate.Identifier, res.Note)
			summary.Failed++
			if len(diagnostics) < maxDiagnostics {
				diagnostics = append(diagnostics, fmt.Sprintf("%s: %s", res.Candidate.Identifier, res.Note))
			}
		}
	}

	fmt.Fprintf(w, "\nRun summary: %d archived, %d skipped, %d rejected, %d failed, %d cancelled (total: %d)\n",
		summary.Archived, summary.Skipped, summary.Rejected, summary.Failed, summary.Cancelled, summary.Total())
	if len(diagnostics) > 0 {
		fmt.Fprintf(w, "failure examples:\n")
		for _, d := range diagnostics {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}

	if err := r.exportLedger(recCtx); err != nil {
		r.logger.Warn("ledger export failed", zap.Error(err))
	}

	return summary, nil
}

// runPool dispatches the candidates and collects results back into input
// order, so ledger writes are deterministic regardless of worker scheduling.
func (r *Runner) runPool(ctx context.Context, runID string, dispatch []types.Candidate) []fetch.Result {
	if len(dispatch) == 0 {
		return nil
	}

	gate := fetch.NewHostGate(r.cfg.HostRPS)
	backoff := fetch.Backoff{Base: r.cfg.BackoffBase, Cap: r.cfg.BackoffCap}
	fetcher := fetch.NewFetcher(r.client, gate, backoff, r.cfg.MaxRetries, r.cfg.UserAgent, r.logger)
	pool := fetch.NewPool(
		fetcher,
		r.policy,
		verify.New(r.cfg.MinBytes),
		runID,
		filepath.Join(r.cfg.OutputDir, documentsDir),
		filepath.Join(r.cfg.OutputDir, quarantine),
		r.cfg.Concurrency,
		r.logger,
	)

	var results []fetch.Result
	for res := range pool.Run(ctx, dispatch) {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results
}

// sidecar is the YAML metadata written next to each archived document.
type sidecar struct {
	Identifier string    `yaml:"identifier"`
	Title      string    `yaml:"title"`
	Year       int       `yaml:"year"`
	Bibcode    string    `yaml:"bibcode,omitempty"`
	DOI        string    `yaml:"doi,omitempty"`
	FinalURL   string    `yaml:"final_url"`
	Path       string    `yaml:"path"`
	Checksum   string    `yaml:"checksum"`
	Bytes      int64     `yaml:"bytes"`
	Pages      int       `yaml:"pages"`
	ScanOnly   bool      `yaml:"scan_only,omitempty"`
	RunID      string    `yaml:"run_id"`
	Timestamp  time.Time `yaml:"timestamp"`
}

// writeMetadata writes the archived document's YAML sidecar under
// OutputDir/metadata/.
func (r *Runner) writeMetadata(c types.Candidate, rec types.ArchivedRecord) error {
	dir := filepath.Join(r.cfg.OutputDir, metadataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating metadata directory: %w", err)
	}

	data, err := yaml.Marshal(sidecar{
		Identifier: c.Identifier,
		Title:      c.Title,
		Year:       c.Year,
		Bibcode:    c.Bibcode,
		DOI:        c.DOI,
		FinalURL:   rec.FinalURL,
		Path:       rec.Path,
		Checksum:   rec.Checksum,
		Bytes:      rec.Bytes,
		Pages:      rec.Pages,
		ScanOnly:   rec.ScanOnly,
		RunID:      rec.RunID,
		Timestamp:  rec.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	name := fetch.Filename(c) + ".yaml"
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}

// exportLedger refreshes the CSV and JSONL renditions of the full ledger
// after every run.
func (r *Runner) exportLedger(ctx context.Context) error {
	if err := r.store.ExportCSV(ctx, filepath.Join(r.cfg.OutputDir, ledgerCSV)); err != nil {
		return err
	}
	return r.store.ExportJSONL(ctx, filepath.Join(r.cfg.OutputDir, ledgerJSONL))
}
