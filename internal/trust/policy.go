// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package trust decides which hosts may be fetched and under what licensing
// assumption. The policy is a pure predicate: it never performs I/O and
// never raises; a malformed URL is simply rejected.
package trust

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/primary-preserver/pkg/types"
)

// Rejection reasons reported in Decision.Reason and recorded in the ledger.
const (
	ReasonUnparseableURL     = "unparseable-url"
	ReasonUnsupportedScheme  = "unsupported-scheme"
	ReasonHostNotTrusted     = "host-not-trusted"
	ReasonLicensedNotAllowed = "licensed-not-accepted"
	ReasonScanOnlyNotAllowed = "scan-only-not-accepted"
)

// Decision is the result of checking one URL against the policy.
type Decision struct {
	// Allowed reports whether the URL may be fetched.
	Allowed bool

	// Reason names the rejection cause when Allowed is false.
	Reason string

	// Host is the URL's hostname, empty when the URL did not parse.
	Host string

	// ScanOnly is true when the host was admitted under the scan-only
	// assumption; the verifier relaxes its text check for these.
	ScanOnly bool
}

// Policy holds the trusted-host set and the run's accepted assumptions.
type Policy struct {
	hosts          map[string]types.TrustedHost
	allowLicensed  bool
	acceptScanOnly bool
}

// New builds a Policy from configuration. Hostname matching is exact and
// case-insensitive.
func New(cfg types.TrustConfig) *Policy {
	hosts := make(map[string]types.TrustedHost, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		hosts[strings.ToLower(h.Hostname)] = h
	}
	return &Policy{
		hosts:          hosts,
		allowLicensed:  cfg.AllowLicensed,
		acceptScanOnly: cfg.AcceptScanOnly,
	}
}

// IsTrusted checks a candidate URL against the allow-list and the run's
// accepted assumptions.
func (p *Policy) IsTrusted(rawURL string) Decision {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return Decision{Reason: ReasonUnparseableURL}
	}
	host := strings.ToLower(u.Hostname())
	if u.Scheme != "http" && u.Scheme != "https" {
		return Decision{Reason: ReasonUnsupportedScheme, Host: host}
	}

	entry, ok := p.hosts[host]
	if !ok {
		return Decision{Reason: ReasonHostNotTrusted, Host: host}
	}
	if entry.Licensed && !p.allowLicensed {
		return Decision{Reason: ReasonLicensedNotAllowed, Host: host}
	}
	if entry.ScanOnly && !p.acceptScanOnly {
		return Decision{Reason: ReasonScanOnlyNotAllowed, Host: host}
	}
	return Decision{Allowed: true, Host: host, ScanOnly: entry.ScanOnly}
}

// DefaultHosts returns the built-in primary-source allow-list. Callers merge
// extra hosts from flags or a trust file on top of it.
func DefaultHosts() []types.TrustedHost {
	return []types.TrustedHost{
		{Hostname: "doi.org"},
		{Hostname: "ui.adsabs.harvard.edu"},
		{Hostname: "adsabs.harvard.edu"},
		{Hostname: "archive.org", ScanOnly: true},
		{Hostname: "echo.mpiwg-berlin.mpg.de", ScanOnly: true},
		{Hostname: "digi.ub.uni-heidelberg.de", ScanOnly: true},
		{Hostname: "retro.seals.ch"},
		{Hostname: "e-periodica.ch"},
		{Hostname: "e-rara.ch", ScanOnly: true},
		{Hostname: "journals.aps.org"},
		{Hostname: "projecteuclid.org"},
		{Hostname: "www.jstor.org", Licensed: true},
		{Hostname: "onlinelibrary.wiley.com", Licensed: true},
		{Hostname: "link.springer.com", Licensed: true},
		{Hostname: "gallica.bnf.fr", ScanOnly: true},
		{Hostname: "www.nobelprize.org"},
		{Hostname: "www.nature.com", Licensed: true},
		{Hostname: "www.gutenberg.org"},
	}
}

// LoadTrustFile reads extra TrustedHost entries from a YAML file.
func LoadTrustFile(path string) ([]types.TrustedHost, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trust file %s: %w", path, err)
	}
	var hosts []types.TrustedHost
	if err := yaml.Unmarshal(data, &hosts); err != nil {
		return nil, fmt.Errorf("parsing trust file %s: %w", path, err)
	}
	return hosts, nil
}
