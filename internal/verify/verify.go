// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package verify validates fetched payloads and computes their content
// checksum. The checksum is the object identity used for integrity checks
// and dedup across runs; it is computed unconditionally, even for payloads
// that fail validation.
package verify

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// TextUnknown marks a report whose text statistics could not be extracted.
// Extraction failure is diagnostic, never an error.
const TextUnknown = -1

// Page-count sanity bounds for a journal article, and the relaxed window
// for image-only scans from scan-only hosts.
const (
	maxArticlePages  = 200
	scanOnlyMinPages = 2
	scanOnlyMaxPages = 80
	scanOnlyMaxText  = 100
)

// Report describes a verified (or rejected) payload.
type Report struct {
	// Checksum is the SHA-256 hex digest of the payload.
	Checksum string

	// Bytes is the payload size.
	Bytes int64

	// Pages is the detected page count, zero when extraction failed.
	Pages int

	// TextBytes approximates the extractable text volume, TextUnknown when
	// statistics could not be computed.
	TextBytes int

	// ScanOnly is set when the payload passed only via the scan-only
	// relaxation.
	ScanOnly bool
}

// Error is a verification failure. It is non-retryable for the URL that
// produced the payload; other URL hints for the same candidate may still be
// tried.
type Error struct {
	Reason string
	Report Report
}

func (e *Error) Error() string {
	return "verification failed: " + e.Reason
}

// Verifier checks that a payload is plausibly the intended document.
type Verifier struct {
	// MinBytes is the smallest acceptable payload (default 500).
	MinBytes int
}

// New returns a Verifier with the given minimum size; zero selects the
// default.
func New(minBytes int) *Verifier {
	if minBytes <= 0 {
		minBytes = 500
	}
	return &Verifier{MinBytes: minBytes}
}

// Verify checks the payload against the accepted content kinds and size and
// page sanity rules. contentType is the response Content-Type, finalURL the
// URL the bytes came from (used when the server omits the type), and
// scanOnlyOK enables the scan-only relaxation for hosts admitted under that
// assumption. The returned Report always carries the checksum and sizes,
// even when err is a *Error.
func (v *Verifier) Verify(payload []byte, contentType, finalURL string, scanOnlyOK bool) (Report, error) {
	report := Report{
		Checksum:  Checksum(payload),
		Bytes:     int64(len(payload)),
		TextBytes: TextUnknown,
	}

	if len(payload) == 0 {
		return report, &Error{Reason: "empty payload", Report: report}
	}
	if len(payload) < v.MinBytes {
		return report, &Error{
			Reason: fmt.Sprintf("payload too small: %d bytes < %d", len(payload), v.MinBytes),
			Report: report,
		}
	}
	if !isPDF(payload, contentType, finalURL) {
		return report, &Error{
			Reason: fmt.Sprintf("unsupported content type %q", contentType),
			Report: report,
		}
	}

	// Page count and text statistics are best-effort: a payload the PDF
	// parser cannot open still verifies on kind and size alone.
	pages, pagesKnown := pageCounter(payload)
	report.Pages = pages
	report.TextBytes = textStats(payload)

	if !pagesKnown {
		return report, nil
	}
	if pages < 1 || pages > maxArticlePages {
		return report, &Error{
			Reason: fmt.Sprintf("implausible page count %d", pages),
			Report: report,
		}
	}
	if report.TextBytes >= scanOnlyMaxText {
		return report, nil
	}

	// Effectively no extractable text. Accept only image-only scans from
	// hosts admitted under the scan-only assumption, within the tighter
	// page window.
	if scanOnlyOK && pages >= scanOnlyMinPages && pages <= scanOnlyMaxPages {
		report.ScanOnly = true
		return report, nil
	}
	return report, &Error{Reason: "no extractable text", Report: report}
}

// Checksum returns the SHA-256 hex digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// isPDF accepts application/pdf payloads, URLs that look like PDF downloads
// when the server omits the type, and anything carrying the PDF magic.
func isPDF(payload []byte, contentType, finalURL string) bool {
	if bytes.HasPrefix(payload, []byte("%PDF-")) {
		return true
	}
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "pdf") {
		return true
	}
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
		return LooksLikePDFURL(finalURL)
	}
	return false
}

// LooksLikePDFURL reports whether a URL plausibly points at a PDF.
func LooksLikePDFURL(rawURL string) bool {
	u := strings.ToLower(rawURL)
	return strings.HasSuffix(u, ".pdf") || strings.Contains(u, "format=pdf") || strings.Contains(u, "/pdf/")
}

// pageCounter extracts the page count; the second return value reports
// whether extraction succeeded. Declared as a var so tests can substitute
// fixed counts without crafting real PDFs.
var pageCounter = func(payload []byte) (int, bool) {
	n, err := api.PageCount(bytes.NewReader(payload), nil)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// textStats approximates the extractable text volume by counting printable
// runs of at least four bytes in the raw payload. Image-only scans score
// near zero; born-digital PDFs score in the thousands. This is a cheap
// proxy, not a text extraction.
func textStats(payload []byte) int {
	total := 0
	run := 0
	for _, b := range payload {
		if b >= 0x20 && b < 0x7f {
			run++
			continue
		}
		if run >= 4 {
			total += run
		}
		run = 0
	}
	if run >= 4 {
		total += run
	}
	// Subtract the structural overhead every PDF carries so an image-only
	// scan lands near zero.
	const structuralFloor = 2048
	if total < structuralFloor {
		return 0
	}
	return total - structuralFloor
}
