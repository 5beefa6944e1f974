// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/primary-preserver/internal/discover"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find index records missing from the master catalog",
	Long: `Discover queries the ADS bibliographic index with the built-in query set,
deduplicates the union, and reconciles it against the master catalog CSV
(which is never modified). It writes ads_all_candidates.csv, missing_only.csv,
and a query log to the output directory; missing_only.csv feeds straight
into the preserve command.

The API token comes from --token, the ads-token secret file, or the
ADS_TOKEN environment variable. It is sent only to the index and never
logged or written to disk.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().String("master", "", "master catalog CSV, read-only (required)")
	discoverCmd.Flags().String("out", "discovery", "output directory for candidate lists")
	discoverCmd.Flags().String("token", "", "ADS API token (default: ads-token secret or ADS_TOKEN env)")
	discoverCmd.Flags().Duration("timeout", 0, "HTTP request timeout (default 60s)")

	discoverCmd.MarkFlagRequired("master")

	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	masterPath, _ := cmd.Flags().GetString("master")
	outDir, _ := cmd.Flags().GetString("out")
	tokenFlag, _ := cmd.Flags().GetString("token")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if timeout == 0 {
		timeout = defaultTimeout
	}

	token := secretDefault("ads-token", tokenFlag)
	if token == "" {
		token = os.Getenv("ADS_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("no ADS token: pass --token, create .secrets/ads-token, or set ADS_TOKEN")
	}

	client := discover.NewClient(&http.Client{Timeout: timeout}, token, defaultUserAgent)
	result, err := discover.Run(cmd.Context(), client, discover.DefaultQueries(), masterPath, outDir, os.Stdout)
	if err != nil {
		return err
	}
	if result.QueryErrors > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d queries failed; see %s\n",
			result.QueryErrors, len(discover.DefaultQueries()), result.LogPath)
	}
	return nil
}
