// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package discover queries the ADS bibliographic index for candidate
// documents and reconciles them against the master catalog. The master file
// is read-only input; discovery never modifies it.
//
// See docs/ARCHITECTURE § Discovery.
package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pdiddy/primary-preserver/internal/httputil"
	"github.com/pdiddy/primary-preserver/pkg/types"
)

// adsAPIBase is the ADS search endpoint. Declared as a var so tests can
// substitute an httptest server.
var adsAPIBase = "https://api.adsabs.harvard.edu/v1/search/query"

const adsFields = "bibcode,title,year,doi"

// linkGatewayBase builds the publisher-PDF URL hint for a bibcode.
var linkGatewayBase = "https://ui.adsabs.harvard.edu/link_gateway"

// Client queries the ADS search API. The token is sent as a Bearer header
// on each request and is never logged or written to disk.
type Client struct {
	httpClient *http.Client
	token      string
	userAgent  string
}

// NewClient builds an ADS client.
func NewClient(httpClient *http.Client, token, userAgent string) *Client {
	return &Client{httpClient: httpClient, token: token, userAgent: userAgent}
}

// Search runs one ADS query and returns the candidates plus the index's
// total hit count (which may exceed the rows returned).
func (c *Client) Search(ctx context.Context, query string, rows int) ([]types.Candidate, int, error) {
	if rows <= 0 {
		rows = 1000
	}
	params := url.Values{
		"q":    {query},
		"rows": {strconv.Itoa(rows)},
		"fl":   {adsFields},
		"wt":   {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, adsAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := httputil.DoWithRetry(ctx, c.httpClient, req, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("ADS API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("ADS API returned HTTP %d", resp.StatusCode)
	}

	var ar adsResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, 0, fmt.Errorf("parsing ADS response: %w", err)
	}

	var out []types.Candidate
	for _, d := range ar.Response.Docs {
		out = append(out, docToCandidate(d))
	}
	return out, ar.Response.NumFound, nil
}

// ADS API JSON structures.
type adsResponse struct {
	Response adsResponseBody `json:"response"`
}

type adsResponseBody struct {
	NumFound int      `json:"numFound"`
	Docs     []adsDoc `json:"docs"`
}

type adsDoc struct {
	Bibcode string   `json:"bibcode"`
	Title   []string `json:"title"`
	Year    string   `json:"year"`
	DOI     []string `json:"doi"`
}

// docToCandidate normalizes one ADS document. Untitled documents keep a
// placeholder title; the bibcode-derived link gateway URL is the only hint
// discovery can offer.
func docToCandidate(d adsDoc) types.Candidate {
	title := "Untitled"
	if len(d.Title) > 0 && strings.TrimSpace(d.Title[0]) != "" {
		title = strings.TrimSpace(d.Title[0])
	}

	doi := ""
	if len(d.DOI) > 0 {
		doi = strings.ToLower(strings.TrimSpace(d.DOI[0]))
	}

	year := 0
	if y := strings.TrimSpace(d.Year); len(y) >= 4 {
		year, _ = strconv.Atoi(y[:4])
	} else if y != "" {
		year, _ = strconv.Atoi(y)
	}

	identifier := d.Bibcode
	if identifier == "" {
		identifier = doi
	}

	var hints []string
	if d.Bibcode != "" {
		hints = append(hints, fmt.Sprintf("%s/%s/PUB_PDF", linkGatewayBase, d.Bibcode))
	}

	return types.Candidate{
		Identifier: identifier,
		Title:      title,
		Year:       year,
		Bibcode:    d.Bibcode,
		DOI:        doi,
		URLHints:   hints,
	}
}
