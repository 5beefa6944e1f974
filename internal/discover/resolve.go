// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pdiddy/primary-preserver/pkg/types"
)

// Declared as vars so tests can substitute httptest servers.
var (
	// unpaywallAPIBase is the Unpaywall DOI lookup endpoint.
	unpaywallAPIBase = "https://api.unpaywall.org/v2/"

	// doiBase is the DOI resolver; fetching it follows redirects to the
	// publisher copy.
	doiBase = "https://doi.org/"
)

// HintResolver enriches candidates with additional download URLs before
// fetching. Resolved hints are suggestions only; the trust policy still
// decides whether each one may be fetched.
type HintResolver struct {
	httpClient *http.Client

	// email identifies the caller to the Unpaywall API. When empty the
	// open-access lookup is skipped entirely.
	email     string
	userAgent string
}

// NewHintResolver builds a resolver. A nil client disables HTTP lookups and
// leaves only the bibcode-derived hints.
func NewHintResolver(httpClient *http.Client, email, userAgent string) *HintResolver {
	return &HintResolver{httpClient: httpClient, email: email, userAgent: userAgent}
}

// Enrich returns the candidates with resolved hints prepended to their
// existing URL hints, preserving input order. Resolution failures degrade to
// the candidate's original hints.
func (r *HintResolver) Enrich(ctx context.Context, candidates []types.Candidate) []types.Candidate {
	out := make([]types.Candidate, len(candidates))
	for i, c := range candidates {
		out[i] = c
		out[i].URLHints = r.hints(ctx, c)
	}
	return out
}

// hints assembles the candidate's download URLs in preference order: the
// DOI resolver first, then the open-access PDF, then the existing hints,
// then the bibcode gateway as a last resort when nothing else is available.
func (r *HintResolver) hints(ctx context.Context, c types.Candidate) []string {
	var hints []string
	seen := make(map[string]bool)
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			hints = append(hints, u)
		}
	}

	if c.DOI != "" {
		add(doiBase + c.DOI)
	}
	if c.DOI != "" && r.email != "" && r.httpClient != nil {
		if oa, err := r.resolveUnpaywall(ctx, c.DOI); err == nil {
			add(oa)
		}
	}
	for _, h := range c.URLHints {
		add(h)
	}
	if len(hints) == 0 && c.Bibcode != "" {
		add(fmt.Sprintf("%s/%s/PUB_PDF", linkGatewayBase, c.Bibcode))
	}
	return hints
}

// Unpaywall API JSON structures.
type unpaywallResponse struct {
	BestOALocation *unpaywallLocation  `json:"best_oa_location"`
	OALocations    []unpaywallLocation `json:"oa_locations"`
}

type unpaywallLocation struct {
	URLForPDF string `json:"url_for_pdf"`
}

// resolveUnpaywall queries Unpaywall for a DOI and returns the best
// open-access PDF URL, or an empty string when none exists.
func (r *HintResolver) resolveUnpaywall(ctx context.Context, doi string) (string, error) {
	apiURL := unpaywallAPIBase + doi + "?email=" + url.QueryEscape(r.email)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating Unpaywall request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Unpaywall API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Unpaywall API returned HTTP %d", resp.StatusCode)
	}

	var ur unpaywallResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return "", fmt.Errorf("parsing Unpaywall response: %w", err)
	}

	if ur.BestOALocation != nil && ur.BestOALocation.URLForPDF != "" {
		return ur.BestOALocation.URLForPDF, nil
	}
	for _, loc := range ur.OALocations {
		if loc.URLForPDF != "" {
			return loc.URLForPDF, nil
		}
	}
	return "", nil
}
