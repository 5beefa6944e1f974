// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/primary-preserver/internal/catalog"
	"github.com/pdiddy/primary-preserver/internal/discover"
	"github.com/pdiddy/primary-preserver/internal/ledger"
	"github.com/pdiddy/primary-preserver/internal/logging"
	"github.com/pdiddy/primary-preserver/internal/preserve"
	"github.com/pdiddy/primary-preserver/internal/trust"
	"github.com/pdiddy/primary-preserver/pkg/types"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "primary-preserver/0.1"
)

var preserveCmd = &cobra.Command{
	Use:   "preserve",
	Short: "Download and verify candidate documents from a biblio CSV",
	Long: `Preserve reads candidates from a biblio CSV, fetches each from its trusted
URL hints, verifies the payload, and archives it with a metadata sidecar.
Every attempt lands in the provenance ledger; candidates that already have
an archived record are skipped unless --force is given.

Partial failure is a normal outcome and exits zero; the summary and ledger
carry the details. Only configuration errors exit non-zero.`,
	RunE: runPreserve,
}

func init() {
	preserveCmd.Flags().String("biblio", "", "biblio CSV of candidates to preserve (required)")
	preserveCmd.Flags().String("out", "archive", "output directory for documents, quarantine, and ledger")
	preserveCmd.Flags().Int("concurrency", 3, "fetch worker count")
	preserveCmd.Flags().Duration("timeout", 0, "HTTP request timeout (default 60s)")
	preserveCmd.Flags().Int("retries", 3, "retry budget per URL for transient failures")
	preserveCmd.Flags().Duration("backoff-base", time.Second, "first retry delay, doubling per retry")
	preserveCmd.Flags().Duration("backoff-cap", 60*time.Second, "maximum retry delay")
	preserveCmd.Flags().Float64("host-rps", 1, "per-host request rate")
	preserveCmd.Flags().Int("min-bytes", 500, "smallest payload accepted by verification")
	preserveCmd.Flags().Bool("allow-licensed", false, "permit hosts serving licensed content")
	preserveCmd.Flags().Bool("accept-scan-only", false, "permit scan-only hosts and relax the text check for them")
	preserveCmd.Flags().StringArray("trust-host", nil, "additional trusted hostname (repeatable)")
	preserveCmd.Flags().String("trust-file", "", "YAML file of additional trusted hosts")
	preserveCmd.Flags().Bool("force", false, "re-fetch candidates that already have an archived record")
	preserveCmd.Flags().Int("max-downloads", 0, "cap on candidates dispatched this run (0 = no cap)")
	preserveCmd.Flags().Bool("resolve", true, "resolve extra open-access URL hints before fetching")

	preserveCmd.MarkFlagRequired("biblio")

	rootCmd.AddCommand(preserveCmd)
}

func runPreserve(cmd *cobra.Command, args []string) error {
	biblioPath, _ := cmd.Flags().GetString("biblio")
	outDir, _ := cmd.Flags().GetString("out")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	retries, _ := cmd.Flags().GetInt("retries")
	backoffBase, _ := cmd.Flags().GetDuration("backoff-base")
	backoffCap, _ := cmd.Flags().GetDuration("backoff-cap")
	hostRPS, _ := cmd.Flags().GetFloat64("host-rps")
	minBytes, _ := cmd.Flags().GetInt("min-bytes")
	force, _ := cmd.Flags().GetBool("force")
	maxDownloads, _ := cmd.Flags().GetInt("max-downloads")
	verbose, _ := cmd.Flags().GetBool("verbose")

	if timeout == 0 {
		timeout = defaultTimeout
	}

	policy, err := buildPolicy(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	loaded, err := catalog.Load(biblioPath)
	if err != nil {
		return err
	}
	for _, d := range loaded.Diagnostics {
		fmt.Fprintf(os.Stderr, "biblio: %s\n", d)
	}
	if len(loaded.Candidates) == 0 {
		return fmt.Errorf("no usable candidates in %s", biblioPath)
	}

	store, err := ledger.NewStore(outDir)
	if err != nil {
		return err
	}
	defer store.Close()

	cfg := types.PreserveConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   timeout,
			UserAgent: defaultUserAgent,
		},
		OutputDir:    outDir,
		Concurrency:  concurrency,
		MaxRetries:   retries,
		BackoffBase:  backoffBase,
		BackoffCap:   backoffCap,
		HostRPS:      hostRPS,
		MinBytes:     minBytes,
		Force:        force,
		MaxDownloads: maxDownloads,
	}

	// Ctrl-C cancels in-flight work; recorded outcomes stay consistent.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	candidates := loaded.Candidates
	if resolve, _ := cmd.Flags().GetBool("resolve"); resolve {
		email := secretDefault("unpaywall-email", os.Getenv("UNPAYWALL_EMAIL"))
		resolver := discover.NewHintResolver(&http.Client{Timeout: timeout}, email, defaultUserAgent)
		candidates = resolver.Enrich(ctx, candidates)
	}

	runner := preserve.NewRunner(cfg, policy, store, logger)
	if _, err := runner.Run(ctx, candidates, os.Stdout); err != nil {
		return err
	}
	return nil
}

// buildPolicy assembles the trust policy from the built-in allow-list plus
// any trust-file and trust-host additions.
func buildPolicy(cmd *cobra.Command) (*trust.Policy, error) {
	allowLicensed, _ := cmd.Flags().GetBool("allow-licensed")
	acceptScanOnly, _ := cmd.Flags().GetBool("accept-scan-only")
	extraHosts, _ := cmd.Flags().GetStringArray("trust-host")
	trustFile, _ := cmd.Flags().GetString("trust-file")

	hosts := trust.DefaultHosts()
	if trustFile != "" {
		fileHosts, err := trust.LoadTrustFile(trustFile)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, fileHosts...)
	}
	for _, h := range extraHosts {
		hosts = append(hosts, types.TrustedHost{Hostname: h})
	}

	return trust.New(types.TrustConfig{
		Hosts:          hosts,
		AllowLicensed:  allowLicensed,
		AcceptScanOnly: acceptScanOnly,
	}), nil
}
