package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "primary-preserver/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// TrustedHost is one allow-list entry. Hostnames match exactly; there is no
// wildcard or subdomain inference.
type TrustedHost struct {
	// Hostname is the exact host a candidate URL must carry.
	Hostname string `json:"hostname" yaml:"hostname"`

	// Licensed marks hosts that serve licensed (non-public-domain) content.
	// Fetching from them requires the run to opt in with allow_licensed.
	Licensed bool `json:"licensed,omitempty" yaml:"licensed,omitempty"`

	// ScanOnly marks hosts that serve image-only scans without OCR text.
	// Fetching from them requires the run to opt in with accept_scan_only.
	ScanOnly bool `json:"scan_only,omitempty" yaml:"scan_only,omitempty"`
}

// TrustConfig holds the allow-list and the run's accepted assumptions.
type TrustConfig struct {
	// Hosts is the explicit trusted-host allow-list.
	Hosts []TrustedHost `json:"hosts" yaml:"hosts"`

	// AllowLicensed opts the run in to hosts flagged Licensed.
	AllowLicensed bool `json:"allow_licensed" yaml:"allow_licensed"`

	// AcceptScanOnly opts the run in to hosts flagged ScanOnly and enables
	// the verifier's scan-only relaxation for them.
	AcceptScanOnly bool `json:"accept_scan_only" yaml:"accept_scan_only"`
}

// PreserveConfig holds settings for the archival stage.
type PreserveConfig struct {
	HTTPConfig `yaml:",inline"`

	// OutputDir is where archived files, quarantine/, and the ledger live.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// Concurrency is the fetch worker pool size (default 3).
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// MaxRetries is the retry budget per URL beyond the first request
	// (default 3). Only transient failures consume it.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// BackoffBase is the first retry delay; it doubles per retry
	// (default 1s).
	BackoffBase time.Duration `json:"backoff_base" yaml:"backoff_base"`

	// BackoffCap bounds the retry delay (default 60s).
	BackoffCap time.Duration `json:"backoff_cap" yaml:"backoff_cap"`

	// HostRPS is the per-host request rate (default 1). The per-host
	// in-flight cap is always 1 regardless of this setting.
	HostRPS float64 `json:"host_rps" yaml:"host_rps"`

	// MinBytes is the smallest payload the verifier accepts (default 500).
	MinBytes int `json:"min_bytes" yaml:"min_bytes"`

	// Force re-fetches candidates that already have an active record. The
	// new outcome is a new ledger record, not an edit.
	Force bool `json:"force" yaml:"force"`

	// MaxDownloads limits the number of candidates dispatched (0 = no limit).
	MaxDownloads int `json:"max_downloads" yaml:"max_downloads"`
}

// DiscoveryConfig holds settings for the discovery stage.
type DiscoveryConfig struct {
	HTTPConfig `yaml:",inline"`

	// OutDir is where candidate CSVs and the query log are written.
	OutDir string `json:"out_dir" yaml:"out_dir"`

	// Rows is the per-query result cap requested from the index (default 1000).
	Rows int `json:"rows" yaml:"rows"`
}

// PipelineConfig groups all stage configurations.
type PipelineConfig struct {
	Trust     TrustConfig     `json:"trust" yaml:"trust"`
	Preserve  PreserveConfig  `json:"preserve" yaml:"preserve"`
	Discovery DiscoveryConfig `json:"discovery" yaml:"discovery"`
}
