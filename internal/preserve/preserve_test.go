package preserve

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/primary-preserver/internal/ledger"
	"github.com/pdiddy/primary-preserver/internal/trust"
	"github.com/pdiddy/primary-preserver/pkg/types"
)

// --- test helpers ---

func articlePayload() []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	for i := 0; i < 40; i++ {
		b.WriteString("Ist die Traegheit eines Koerpers von seinem Energieinhalt abhaengig?\n")
	}
	b.WriteString("%%EOF\n")
	return b.Bytes()
}

func testRunner(t *testing.T, ts *httptest.Server, maxRetries int) (*Runner, *ledger.Store, string) {
	t.Helper()
	outDir := t.TempDir()

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	policy := trust.New(types.TrustConfig{
		Hosts: []types.TrustedHost{{Hostname: u.Hostname()}},
	})

	store, err := ledger.NewStore(outDir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := types.PreserveConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   5 * time.Second,
			UserAgent: "primary-preserver/test",
		},
		OutputDir:   outDir,
		Concurrency: 2,
		MaxRetries:  maxRetries,
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
	}
	return NewRunner(cfg, policy, store, zap.NewNop()), store, outDir
}

func threeCandidates(ts *httptest.Server) []types.Candidate {
	return []types.Candidate{
		{Identifier: "1905AnP...323..639E", Title: "Traegheit und Energieinhalt", Year: 1905,
			URLHints: []string{ts.URL + "/good/a.pdf"}},
		{Identifier: "1905AnP...322..549E", Title: "Bewegung von in ruhenden Fluessigkeiten suspendierten Teilchen", Year: 1905,
			URLHints: []string{"https://untrusted.example.com/b.pdf"}},
		{Identifier: "1916AnP...354..769E", Title: "Grundlage der allgemeinen Relativitaetstheorie", Year: 1916,
			URLHints: []string{ts.URL + "/flaky/c.pdf"}},
	}
}

// --- tests ---

func TestRunMixedOutcomes(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if strings.HasPrefix(r.URL.Path, "/good") {
			w.Header().Set("Content-Type", "application/pdf")
			w.Write(articlePayload())
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	const maxRetries = 2
	runner, store, outDir := testRunner(t, ts, maxRetries)

	var out bytes.Buffer
	summary, err := runner.Run(context.Background(), threeCandidates(ts), &out)
	if err != nil {
		t.Fatalf("Run: %v\noutput:\n%s", err, out.String())
	}

	if summary.Archived != 1 || summary.Rejected != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.Total() != 3 {
		t.Errorf("Total = %d, want 3", summary.Total())
	}
	if !summary.HasFailures() {
		t.Error("HasFailures = false")
	}

	// 1 request for the good candidate, 1+maxRetries for the flaky one.
	if got := requests.Load(); got != 1+1+maxRetries {
		t.Errorf("requests = %d, want %d", got, 1+1+maxRetries)
	}

	// The archived file, its metadata sidecar, and the ledger exports exist.
	wantPDF := filepath.Join(outDir, "documents", "1905_Traegheit_und_Energieinhalt.pdf")
	if _, err := os.Stat(wantPDF); err != nil {
		t.Errorf("archived file: %v", err)
	}
	wantMeta := filepath.Join(outDir, "metadata", "1905_Traegheit_und_Energieinhalt.yaml")
	if _, err := os.Stat(wantMeta); err != nil {
		t.Errorf("metadata sidecar: %v", err)
	}
	for _, name := range []string{"ledger.csv", "ledger.jsonl"} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}

	// The ledger has the full attempt trail in input order.
	attempts, err := store.Attempts(context.Background(), summary.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 3 {
		t.Fatalf("got %d attempts, want 3: %+v", len(attempts), attempts)
	}
	if attempts[0].Outcome != types.OutcomeArchived ||
		attempts[1].Outcome != types.OutcomeRejected ||
		attempts[2].Outcome != types.OutcomeFailed {
		t.Errorf("attempt outcomes = %q, %q, %q",
			attempts[0].Outcome, attempts[1].Outcome, attempts[2].Outcome)
	}
	if attempts[2].Retries != maxRetries {
		t.Errorf("failed attempt retries = %d, want %d", attempts[2].Retries, maxRetries)
	}
}

func TestRunIdempotentSecondPass(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(articlePayload())
	}))
	defer ts.Close()

	runner, store, _ := testRunner(t, ts, 0)
	candidates := []types.Candidate{{
		Identifier: "1905AnP...322..891E",
		Title:      "Zur Elektrodynamik bewegter Koerper",
		Year:       1905,
		URLHints:   []string{ts.URL + "/a.pdf"},
	}}

	var out bytes.Buffer
	first, err := runner.Run(context.Background(), candidates, &out)
	if err != nil {
		t.Fatal(err)
	}
	if first.Archived != 1 {
		t.Fatalf("first run summary = %+v\noutput:\n%s", first, out.String())
	}
	if requests.Load() != 1 {
		t.Fatalf("first run made %d requests", requests.Load())
	}

	second, err := runner.Run(context.Background(), candidates, &out)
	if err != nil {
		t.Fatal(err)
	}
	if second.Skipped != 1 || second.Archived != 0 {
		t.Errorf("second run summary = %+v", second)
	}
	// No network traffic on the second pass.
	if requests.Load() != 1 {
		t.Errorf("second run made %d extra requests", requests.Load()-1)
	}

	// The skip itself is in the trail.
	attempts, err := store.Attempts(context.Background(), second.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 1 || attempts[0].Outcome != types.OutcomeSkipped {
		t.Errorf("second-run attempts = %+v", attempts)
	}

	// One archived record, not two.
	records, err := store.Records(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
}

func TestRunForceRefetches(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(articlePayload())
	}))
	defer ts.Close()

	runner, store, _ := testRunner(t, ts, 0)
	candidates := []types.Candidate{{
		Identifier: "1905AnP...322..891E",
		Title:      "Zur Elektrodynamik bewegter Koerper",
		Year:       1905,
		URLHints:   []string{ts.URL + "/a.pdf"},
	}}

	var out bytes.Buffer
	if _, err := runner.Run(context.Background(), candidates, &out); err != nil {
		t.Fatal(err)
	}

	runner.cfg.Force = true
	second, err := runner.Run(context.Background(), candidates, &out)
	if err != nil {
		t.Fatal(err)
	}
	if second.Archived != 1 || second.Skipped != 0 {
		t.Errorf("forced run summary = %+v", second)
	}
	if requests.Load() != 2 {
		t.Errorf("requests = %d, want 2", requests.Load())
	}

	// Force appends a second record; the newest is active.
	records, err := store.Records(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Errorf("got %d records, want 2 (append-only)", len(records))
	}
}

func TestRunMaxDownloadsCap(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(articlePayload())
	}))
	defer ts.Close()

	runner, _, _ := testRunner(t, ts, 0)
	runner.cfg.MaxDownloads = 1

	candidates := []types.Candidate{
		{Identifier: "a", Title: "Erster", Year: 1901, URLHints: []string{ts.URL + "/a.pdf"}},
		{Identifier: "b", Title: "Zweiter", Year: 1902, URLHints: []string{ts.URL + "/b.pdf"}},
	}

	var out bytes.Buffer
	summary, err := runner.Run(context.Background(), candidates, &out)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Archived != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if requests.Load() != 1 {
		t.Errorf("requests = %d, want 1", requests.Load())
	}
}

func TestRunCancellationLeavesConsistentLedger(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	runner, store, _ := testRunner(t, ts, 3)
	candidates := []types.Candidate{{
		Identifier: "1917AnP...359..433E",
		Title:      "Kosmologische Betrachtungen zur allgemeinen Relativitaetstheorie",
		Year:       1917,
		URLHints:   []string{ts.URL + "/slow.pdf"},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	var out bytes.Buffer
	summary, err := runner.Run(ctx, candidates, &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Cancelled != 1 {
		t.Errorf("summary = %+v", summary)
	}

	// The cancelled attempt is recorded despite the dead context.
	attempts, err := store.Attempts(context.Background(), summary.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(attempts) != 1 || attempts[0].Outcome != types.OutcomeCancelled {
		t.Errorf("attempts = %+v", attempts)
	}
}
