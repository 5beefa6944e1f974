// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the primary-preserver
// pipeline.
//
// See docs/ARCHITECTURE § Data Structures.
package types

import "time"

// Candidate is one bibliographic item targeted for archival. Candidates come
// from the discovery stage or from a biblio CSV; the identifier is unique
// within a run (the loader collapses duplicates to the first occurrence).
type Candidate struct {
	// Identifier is the opaque bibliographic key: the bibcode when present,
	// otherwise the DOI.
	Identifier string `json:"identifier" yaml:"identifier"`

	// Title is the document title as recorded by the index.
	Title string `json:"title" yaml:"title"`

	// Year is the publication year.
	Year int `json:"year" yaml:"year"`

	// Bibcode is the ADS bibcode, when known.
	Bibcode string `json:"bibcode,omitempty" yaml:"bibcode,omitempty"`

	// DOI is the document DOI, when known.
	DOI string `json:"doi,omitempty" yaml:"doi,omitempty"`

	// URLHints lists download URLs in preference order. The fetch pool tries
	// them in order until one verifies or all are exhausted.
	URLHints []string `json:"url_hints" yaml:"url_hints"`
}

// Outcome classifies the terminal state of a fetch attempt or a candidate.
type Outcome string

const (
	// OutcomeArchived means the payload downloaded, verified, and was stored.
	OutcomeArchived Outcome = "archived"

	// OutcomeQuarantined means the payload downloaded but failed
	// verification; the bytes are kept under quarantine/ for diagnosis.
	OutcomeQuarantined Outcome = "quarantined"

	// OutcomeSkipped means the candidate already had an active archived
	// record and no network request was made.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeRejected means the trust policy refused the URL's host.
	OutcomeRejected Outcome = "rejected"

	// OutcomeFailed means all retries or all URL hints were exhausted.
	OutcomeFailed Outcome = "failed"

	// OutcomeCancelled means the run was cancelled while the attempt was in
	// flight or waiting to retry.
	OutcomeCancelled Outcome = "cancelled"
)

// FetchAttempt records one try against one URL for one candidate. Attempts
// are immutable once finalized; the ledger appends them verbatim.
type FetchAttempt struct {
	// RunID ties the attempt to the preservation run that produced it.
	RunID string `json:"run_id" yaml:"run_id"`

	// Identifier is the candidate's bibliographic key.
	Identifier string `json:"identifier" yaml:"identifier"`

	// URL is the URL that was (or would have been) fetched.
	URL string `json:"url" yaml:"url"`

	// Host is the URL's hostname, empty when the URL did not parse.
	Host string `json:"host" yaml:"host"`

	// Outcome is the terminal state of this attempt.
	Outcome Outcome `json:"outcome" yaml:"outcome"`

	// StatusCode is the last HTTP status observed, zero when no response
	// was received.
	StatusCode int `json:"status_code,omitempty" yaml:"status_code,omitempty"`

	// ErrorClass names the error taxonomy bucket ("transient", "client",
	// "verification", "policy", "cancelled"), empty on success.
	ErrorClass string `json:"error_class,omitempty" yaml:"error_class,omitempty"`

	// Note carries a short diagnostic (policy reason, verification reason,
	// or the final error text).
	Note string `json:"note,omitempty" yaml:"note,omitempty"`

	// Retries is the number of retries consumed beyond the first request.
	Retries int `json:"retries" yaml:"retries"`

	// Elapsed is the wall time the attempt took, including backoff waits.
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`

	// Timestamp is when the attempt finalized.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// ArchivedRecord is the persisted outcome for a candidate that succeeded.
// Records are append-only: a forced re-fetch produces a new record, never an
// edit. The most recent record for an identifier is the active one.
type ArchivedRecord struct {
	// RunID ties the record to the preservation run that produced it.
	RunID string `json:"run_id" yaml:"run_id"`

	// Identifier is the candidate's bibliographic key.
	Identifier string `json:"identifier" yaml:"identifier"`

	// FinalURL is the URL the payload was actually read from, after
	// redirects.
	FinalURL string `json:"final_url" yaml:"final_url"`

	// Host is the final URL's hostname.
	Host string `json:"host" yaml:"host"`

	// Path is the local storage path of the archived file.
	Path string `json:"path" yaml:"path"`

	// Checksum is the SHA-256 hex digest of the stored bytes. Identical
	// checksum means identical content.
	Checksum string `json:"checksum" yaml:"checksum"`

	// Bytes is the payload size.
	Bytes int64 `json:"bytes" yaml:"bytes"`

	// Pages is the detected page count, zero when extraction failed.
	Pages int `json:"pages" yaml:"pages"`

	// TextBytes is the best-effort extracted-text volume, -1 when unknown.
	TextBytes int `json:"text_bytes" yaml:"text_bytes"`

	// ScanOnly marks records accepted under the scan-only relaxation
	// (sane page count, effectively no extractable text).
	ScanOnly bool `json:"scan_only,omitempty" yaml:"scan_only,omitempty"`

	// Timestamp is when the record was written.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}
