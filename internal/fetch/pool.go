// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/primary-preserver/internal/trust"
	"github.com/pdiddy/primary-preserver/internal/verify"
	"github.com/pdiddy/primary-preserver/pkg/types"
)

// Result is the single terminal outcome the pool emits per candidate: the
// full attempt trail plus, on success, the archived record.
type Result struct {
	Candidate types.Candidate

	// Index is the candidate's position in the input, so the consumer can
	// restore input order before writing the ledger.
	Index int

	Attempts []types.FetchAttempt
	Record   *types.ArchivedRecord
	Outcome  types.Outcome

	// Note is the last diagnostic, used for run-summary examples.
	Note string
}

// Pool fans candidates out over a fixed number of workers. Every candidate
// produces exactly one Result; the consumer owns all ledger writes.
type Pool struct {
	fetcher       *Fetcher
	policy        *trust.Policy
	verifier      *verify.Verifier
	runID         string
	storeDir      string
	quarantineDir string
	concurrency   int
	logger        *zap.Logger
}

// NewPool builds a worker pool writing archived files to storeDir and
// rejected payloads to quarantineDir.
func NewPool(fetcher *Fetcher, policy *trust.Policy, verifier *verify.Verifier, runID, storeDir, quarantineDir string, concurrency int, logger *zap.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		fetcher:       fetcher,
		policy:        policy,
		verifier:      verifier,
		runID:         runID,
		storeDir:      storeDir,
		quarantineDir: quarantineDir,
		concurrency:   concurrency,
		logger:        logger,
	}
}

// Run dispatches the candidates and returns the result stream. The channel
// closes after every candidate has emitted its terminal result; completion
// order across workers is not guaranteed.
func (p *Pool) Run(ctx context.Context, candidates []types.Candidate) <-chan Result {
	results := make(chan Result, len(candidates))

	go func() {
		defer close(results)
		var g errgroup.Group
		g.SetLimit(p.concurrency)
		for i, c := range candidates {
			g.Go(func() error {
				results <- p.processCandidate(ctx, i, c)
				return nil
			})
		}
		g.Wait()
	}()

	return results
}

// processCandidate tries the candidate's URL hints in order until one
// verifies or all are exhausted.
func (p *Pool) processCandidate(ctx context.Context, index int, c types.Candidate) Result {
	res := Result{Candidate: c, Index: index}

	if len(c.URLHints) == 0 {
		res.Outcome = types.OutcomeFailed
		res.Note = "no url hints"
		res.Attempts = append(res.Attempts, types.FetchAttempt{
			RunID:      p.runID,
			Identifier: c.Identifier,
			Outcome:    types.OutcomeFailed,
			Note:       res.Note,
			Timestamp:  time.Now().UTC(),
		})
		return res
	}

	for _, rawURL := range c.URLHints {
		decision := p.policy.IsTrusted(rawURL)
		if !decision.Allowed {
			res.Attempts = append(res.Attempts, types.FetchAttempt{
				RunID:      p.runID,
				Identifier: c.Identifier,
				URL:        rawURL,
				Host:       decision.Host,
				Outcome:    types.OutcomeRejected,
				ErrorClass: ClassPolicy,
				Note:       decision.Reason,
				Timestamp:  time.Now().UTC(),
			})
			res.Note = decision.Reason
			continue
		}

		start := time.Now()
		resp, aerr := p.fetcher.FetchURL(ctx, rawURL, decision.Host)
		if aerr != nil {
			outcome := types.OutcomeFailed
			if aerr.Class == ClassCancelled {
				outcome = types.OutcomeCancelled
			}
			res.Attempts = append(res.Attempts, types.FetchAttempt{
				RunID:      p.runID,
				Identifier: c.Identifier,
				URL:        rawURL,
				Host:       decision.Host,
				Outcome:    outcome,
				StatusCode: aerr.StatusCode,
				ErrorClass: aerr.Class,
				Note:       aerr.Err.Error(),
				Retries:    aerr.Retries,
				Elapsed:    time.Since(start),
				Timestamp:  time.Now().UTC(),
			})
			res.Note = aerr.Err.Error()
			if outcome == types.OutcomeCancelled {
				res.Outcome = types.OutcomeCancelled
				return res
			}
			continue
		}

		report, verr := p.verifier.Verify(resp.Body, resp.ContentType, resp.FinalURL, decision.ScanOnly)
		if verr != nil {
			note := verr.Error()
			if qpath, werr := p.storePayload(p.quarantineDir, c, resp.Body); werr != nil {
				p.logger.Warn("quarantine write failed",
					zap.String("identifier", c.Identifier), zap.Error(werr))
			} else {
				note = fmt.Sprintf("%s (quarantined: %s)", note, qpath)
			}
			res.Attempts = append(res.Attempts, types.FetchAttempt{
				RunID:      p.runID,
				Identifier: c.Identifier,
				URL:        rawURL,
				Host:       decision.Host,
				Outcome:    types.OutcomeQuarantined,
				StatusCode: resp.StatusCode,
				ErrorClass: ClassVerification,
				Note:       note,
				Retries:    resp.Retries,
				Elapsed:    time.Since(start),
				Timestamp:  time.Now().UTC(),
			})
			res.Note = note
			continue
		}

		path, werr := p.storePayload(p.storeDir, c, resp.Body)
		if werr != nil {
			res.Attempts = append(res.Attempts, types.FetchAttempt{
				RunID:      p.runID,
				Identifier: c.Identifier,
				URL:        rawURL,
				Host:       decision.Host,
				Outcome:    types.OutcomeFailed,
				StatusCode: resp.StatusCode,
				ErrorClass: ClassStorage,
				Note:       werr.Error(),
				Retries:    resp.Retries,
				Elapsed:    time.Since(start),
				Timestamp:  time.Now().UTC(),
			})
			res.Note = werr.Error()
			continue
		}

		now := time.Now().UTC()
		res.Attempts = append(res.Attempts, types.FetchAttempt{
			RunID:      p.runID,
			Identifier: c.Identifier,
			URL:        rawURL,
			Host:       decision.Host,
			Outcome:    types.OutcomeArchived,
			StatusCode: resp.StatusCode,
			Retries:    resp.Retries,
			Elapsed:    time.Since(start),
			Timestamp:  now,
		})
		res.Record = &types.ArchivedRecord{
			RunID:      p.runID,
			Identifier: c.Identifier,
			FinalURL:   resp.FinalURL,
			Host:       hostname(resp.FinalURL, decision.Host),
			Path:       path,
			Checksum:   report.Checksum,
			Bytes:      report.Bytes,
			Pages:      report.Pages,
			TextBytes:  report.TextBytes,
			ScanOnly:   report.ScanOnly,
			Timestamp:  now,
		}
		res.Outcome = types.OutcomeArchived
		p.logger.Info("archived",
			zap.String("identifier", c.Identifier),
			zap.String("url", resp.FinalURL),
			zap.String("checksum", report.Checksum),
			zap.Int64("bytes", report.Bytes),
		)
		return res
	}

	res.Outcome = deriveExhaustedOutcome(res.Attempts)
	return res
}

// hostname returns the lowercased host of rawURL, falling back when it does
// not parse. Redirects can land on a different host than the one the policy
// admitted; the record carries where the bytes actually came from.
func hostname(rawURL, fallback string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		return strings.ToLower(u.Hostname())
	}
	return fallback
}

// deriveExhaustedOutcome classifies a candidate whose hints all failed:
// rejected when the trust policy refused every hint, failed otherwise.
func deriveExhaustedOutcome(attempts []types.FetchAttempt) types.Outcome {
	allRejected := len(attempts) > 0
	for _, a := range attempts {
		if a.Outcome != types.OutcomeRejected {
			allRejected = false
			break
		}
	}
	if allRejected {
		return types.OutcomeRejected
	}
	return types.OutcomeFailed
}

// storePayload writes the payload under dir via a temp file and rename, so
// a crash never leaves a partial document behind.
func (p *Pool) storePayload(dir string, c types.Candidate, payload []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", dir, err)
	}
	dest := filepath.Join(dir, Filename(c)+".pdf")

	tmp, err := os.CreateTemp(dir, ".preserve-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(payload)
	closeErr := tmp.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing payload: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing temp file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming temp file: %w", err)
	}
	return dest, nil
}
