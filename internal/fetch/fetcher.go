// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package fetch implements the archival worker pool: bounded concurrency,
// per-host politeness, and a per-attempt retry state machine that
// cancellation can interrupt at any point.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/primary-preserver/internal/httputil"
)

// Error classes recorded in the ledger. They mirror the failure taxonomy:
// transient failures consume the retry budget, everything else terminates
// the attempt immediately.
const (
	ClassTransient    = "transient"
	ClassClient       = "client"
	ClassVerification = "verification"
	ClassPolicy       = "policy"
	ClassStorage      = "storage"
	ClassCancelled    = "cancelled"
)

// maxPayloadBytes bounds a single download. Scanned monographs run large;
// anything past this is not a journal article.
const maxPayloadBytes = 256 << 20

// Response is a successful single-URL fetch.
type Response struct {
	Body        []byte
	FinalURL    string
	ContentType string
	StatusCode  int

	// Retries is the number of retries consumed beyond the first request.
	Retries int
}

// AttemptError is a terminal single-URL failure.
type AttemptError struct {
	Class      string
	StatusCode int
	Retries    int
	Err        error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// Fetcher retrieves one URL under the host gate and retry discipline.
type Fetcher struct {
	client     *http.Client
	gate       *HostGate
	backoff    Backoff
	maxRetries int
	userAgent  string
	logger     *zap.Logger
}

// NewFetcher builds a Fetcher. The client's Timeout is the per-request
// bound; exceeding it counts as a transient failure.
func NewFetcher(client *http.Client, gate *HostGate, backoff Backoff, maxRetries int, userAgent string, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Fetcher{
		client:     client,
		gate:       gate,
		backoff:    backoff,
		maxRetries: maxRetries,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// FetchURL runs the attempt state machine for one URL: acquire the host
// slot, request, classify, and either succeed, back off and retry (transient
// only, up to the retry budget), or fail terminally. Cancellation interrupts
// the slot wait, the request, and the backoff sleep alike.
func (f *Fetcher) FetchURL(ctx context.Context, rawURL, host string) (*Response, *AttemptError) {
	for retry := 0; ; retry++ {
		resp, err := f.request(ctx, rawURL, host)
		if err == nil {
			resp.Retries = retry
			return resp, nil
		}

		if err.Class != ClassTransient || retry >= f.maxRetries {
			err.Retries = retry
			return nil, err
		}

		delay := f.backoff.Delay(retry)
		f.logger.Debug("transient failure, backing off",
			zap.String("url", rawURL),
			zap.Int("status", err.StatusCode),
			zap.Int("retry", retry+1),
			zap.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil, &AttemptError{Class: ClassCancelled, Retries: retry, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
}

// request performs a single HTTP round trip under the host gate.
func (f *Fetcher) request(ctx context.Context, rawURL, host string) (*Response, *AttemptError) {
	release, err := f.gate.Acquire(ctx, host)
	if err != nil {
		return nil, &AttemptError{Class: ClassCancelled, Err: err}
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &AttemptError{Class: ClassClient, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/pdf,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &AttemptError{Class: ClassCancelled, Err: ctx.Err()}
		}
		// Timeouts, resets, DNS hiccups: all transient.
		return nil, &AttemptError{Class: ClassTransient, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case httputil.Retryable(resp.StatusCode):
		io.Copy(io.Discard, resp.Body)
		return nil, &AttemptError{
			Class:      ClassTransient,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL),
		}
	default:
		io.Copy(io.Discard, resp.Body)
		return nil, &AttemptError{
			Class:      ClassClient,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, &AttemptError{Class: ClassCancelled, Err: ctx.Err()}
		}
		return nil, &AttemptError{Class: ClassTransient, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return &Response{
		Body:        body,
		FinalURL:    finalURL,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}, nil
}

// IsCancelled reports whether err is a cancellation, as opposed to a real
// failure.
func IsCancelled(err error) bool {
	var ae *AttemptError
	if errors.As(err, &ae) {
		return ae.Class == ClassCancelled
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
