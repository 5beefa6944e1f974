// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/primary-preserver/internal/trust"
	"github.com/pdiddy/primary-preserver/internal/verify"
	"github.com/pdiddy/primary-preserver/pkg/types"
)

// articlePayload is large enough and text-rich enough to pass verification
// when the page count is unavailable.
func articlePayload() []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	for i := 0; i < 40; i++ {
		b.WriteString("Die vom Relativitaetsprinzip geforderte Traegheit der Energie.\n")
	}
	b.WriteString("%%EOF\n")
	return b.Bytes()
}

func localhostPolicy(t *testing.T, ts *httptest.Server) *trust.Policy {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	return trust.New(types.TrustConfig{
		Hosts: []types.TrustedHost{{Hostname: u.Hostname()}},
	})
}

func newTestPool(t *testing.T, ts *httptest.Server, maxRetries int) (*Pool, string) {
	t.Helper()
	dir := t.TempDir()
	fetcher := NewFetcher(ts.Client(), NewHostGate(0), testBackoff(), maxRetries, "primary-preserver/test", zap.NewNop())
	pool := NewPool(
		fetcher,
		localhostPolicy(t, ts),
		verify.New(0),
		"run-test",
		filepath.Join(dir, "documents"),
		filepath.Join(dir, "quarantine"),
		2,
		zap.NewNop(),
	)
	return pool, dir
}

func collect(results <-chan Result) []Result {
	var out []Result
	for r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func TestPoolMixedOutcomes(t *testing.T) {
	var failedCalls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/good"):
			w.Header().Set("Content-Type", "application/pdf")
			w.Write(articlePayload())
		case strings.HasPrefix(r.URL.Path, "/flaky"):
			failedCalls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	const maxRetries = 2
	pool, dir := newTestPool(t, ts, maxRetries)

	candidates := []types.Candidate{
		{Identifier: "1905AnP...322..891E", Title: "Zur Elektrodynamik bewegter Koerper", Year: 1905,
			URLHints: []string{ts.URL + "/good/a.pdf"}},
		{Identifier: "1905AnP...323..639E", Title: "Traegheit der Energie", Year: 1905,
			URLHints: []string{"https://untrusted.example.com/b.pdf"}},
		{Identifier: "1916AnP...354..769E", Title: "Grundlage der allgemeinen Relativitaetstheorie", Year: 1916,
			URLHints: []string{ts.URL + "/flaky/c.pdf"}},
	}

	results := collect(pool.Run(context.Background(), candidates))
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}

	archived := results[0]
	if archived.Outcome != types.OutcomeArchived {
		t.Fatalf("candidate 0 outcome = %q, want archived (note: %s)", archived.Outcome, archived.Note)
	}
	if archived.Record == nil {
		t.Fatal("archived candidate has no record")
	}
	if archived.Record.Checksum == "" || archived.Record.Bytes == 0 {
		t.Errorf("incomplete record: %+v", archived.Record)
	}
	wantPath := filepath.Join(dir, "documents", "1905_Zur_Elektrodynamik_bewegter_Koerper.pdf")
	if archived.Record.Path != wantPath {
		t.Errorf("Path = %q, want %q", archived.Record.Path, wantPath)
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Errorf("archived file missing: %v", err)
	}

	rejected := results[1]
	if rejected.Outcome != types.OutcomeRejected {
		t.Errorf("candidate 1 outcome = %q, want rejected", rejected.Outcome)
	}
	if len(rejected.Attempts) != 1 || rejected.Attempts[0].ErrorClass != ClassPolicy {
		t.Errorf("candidate 1 attempts = %+v", rejected.Attempts)
	}
	if rejected.Attempts[0].Note != trust.ReasonHostNotTrusted {
		t.Errorf("rejection note = %q", rejected.Attempts[0].Note)
	}

	failed := results[2]
	if failed.Outcome != types.OutcomeFailed {
		t.Errorf("candidate 2 outcome = %q, want failed", failed.Outcome)
	}
	if got := failedCalls.Load(); got != maxRetries+1 {
		t.Errorf("flaky URL requested %d times, want %d", got, maxRetries+1)
	}
	if len(failed.Attempts) != 1 || failed.Attempts[0].Retries != maxRetries {
		t.Errorf("candidate 2 attempts = %+v", failed.Attempts)
	}
}

func TestPoolFallsBackToNextHint(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dead.pdf" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(articlePayload())
	}))
	defer ts.Close()

	pool, _ := newTestPool(t, ts, 0)
	candidates := []types.Candidate{{
		Identifier: "1905AnP...322..132E",
		Title:      "Ueber einen die Erzeugung und Verwandlung des Lichtes betreffenden heuristischen Gesichtspunkt",
		Year:       1905,
		URLHints:   []string{ts.URL + "/dead.pdf", ts.URL + "/alive.pdf"},
	}}

	results := collect(pool.Run(context.Background(), candidates))
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	r := results[0]
	if r.Outcome != types.OutcomeArchived {
		t.Fatalf("outcome = %q, want archived (note: %s)", r.Outcome, r.Note)
	}
	if len(r.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(r.Attempts))
	}
	if r.Attempts[0].Outcome != types.OutcomeFailed || r.Attempts[1].Outcome != types.OutcomeArchived {
		t.Errorf("attempt outcomes = %q, %q", r.Attempts[0].Outcome, r.Attempts[1].Outcome)
	}
}

func TestPoolQuarantinesUnverifiablePayload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>" + strings.Repeat("Access denied. ", 64) + "</body></html>"))
	}))
	defer ts.Close()

	pool, dir := newTestPool(t, ts, 0)
	candidates := []types.Candidate{{
		Identifier: "1911AnP...340..898E",
		Title:      "Einfluss der Schwerkraft auf die Ausbreitung des Lichtes",
		Year:       1911,
		URLHints:   []string{ts.URL + "/landing"},
	}}

	results := collect(pool.Run(context.Background(), candidates))
	r := results[0]
	if r.Outcome != types.OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", r.Outcome)
	}
	if len(r.Attempts) != 1 || r.Attempts[0].Outcome != types.OutcomeQuarantined {
		t.Fatalf("attempts = %+v", r.Attempts)
	}
	if r.Attempts[0].ErrorClass != ClassVerification {
		t.Errorf("ErrorClass = %q", r.Attempts[0].ErrorClass)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "quarantine"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("quarantine dir: entries=%v err=%v", entries, err)
	}
}

func TestPoolNoHints(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	pool, _ := newTestPool(t, ts, 0)
	results := collect(pool.Run(context.Background(), []types.Candidate{
		{Identifier: "1902AnP...314..549E", Title: "Kinetische Theorie des Waermegleichgewichtes", Year: 1902},
	}))
	r := results[0]
	if r.Outcome != types.OutcomeFailed {
		t.Errorf("outcome = %q, want failed", r.Outcome)
	}
	if len(r.Attempts) != 1 || r.Attempts[0].Note != "no url hints" {
		t.Errorf("attempts = %+v", r.Attempts)
	}
}

func TestPoolCancellation(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	pool, _ := newTestPool(t, ts, 3)
	ctx, cancel := context.WithCancel(context.Background())

	candidates := []types.Candidate{{
		Identifier: "1917AnP...359..433E",
		Title:      "Kosmologische Betrachtungen",
		Year:       1917,
		URLHints:   []string{ts.URL + "/slow.pdf"},
	}}

	resultCh := pool.Run(ctx, candidates)
	time.Sleep(20 * time.Millisecond)
	cancel()

	results := collect(resultCh)
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	r := results[0]
	if r.Outcome != types.OutcomeCancelled {
		t.Errorf("outcome = %q, want cancelled", r.Outcome)
	}
	if len(r.Attempts) != 1 || r.Attempts[0].ErrorClass != ClassCancelled {
		t.Errorf("attempts = %+v", r.Attempts)
	}
}

func TestStorePayloadLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	p := &Pool{storeDir: dir, logger: zap.NewNop()}

	c := types.Candidate{Identifier: "x", Title: "Notiz", Year: 1901}
	path, err := p.storePayload(dir, c, []byte("%PDF-1.4 body"))
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "1901_Notiz.pdf" {
		t.Errorf("path = %q", path)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".preserve-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestPoolRecordsRedirectHost(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/doc.pdf" {
			w.Header().Set("Content-Type", "application/pdf")
			w.Write(articlePayload())
			return
		}
		u, _ := url.Parse(ts.URL)
		http.Redirect(w, r, "http://localhost:"+u.Port()+"/doc.pdf", http.StatusFound)
	}))
	defer ts.Close()

	pool, _ := newTestPool(t, ts, 0)

	results := collect(pool.Run(context.Background(), []types.Candidate{
		{Identifier: "1911AnP...340..898E", Title: "Einfluss der Schwerkraft", Year: 1911,
			URLHints: []string{ts.URL + "/redirect"}},
	}))
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	r := results[0]
	if r.Outcome != types.OutcomeArchived {
		t.Fatalf("outcome = %q, want archived (note: %s)", r.Outcome, r.Note)
	}
	if r.Record.Host != "localhost" {
		t.Errorf("Record.Host = %q, want localhost", r.Record.Host)
	}
	if !strings.Contains(r.Record.FinalURL, "localhost") {
		t.Errorf("FinalURL = %q, want the redirect target", r.Record.FinalURL)
	}
}
