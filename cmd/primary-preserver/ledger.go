// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pdiddy/primary-preserver/internal/ledger"
	"github.com/pdiddy/primary-preserver/pkg/types"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect or export the provenance ledger",
}

var ledgerExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the full attempt trail as CSV or JSONL",
	RunE:  runLedgerExport,
}

var ledgerSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Tally attempts by outcome",
	RunE:  runLedgerSummary,
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the attempt trail",
	RunE:  runLedgerShow,
}

func init() {
	ledgerCmd.PersistentFlags().String("dir", "archive", "archive directory holding the ledger")

	ledgerExportCmd.Flags().String("format", "csv", "export format: csv or jsonl")
	ledgerExportCmd.Flags().String("out", "", "output path (default: ledger.csv or ledger.jsonl in the archive directory)")

	ledgerSummaryCmd.Flags().String("run", "", "restrict to one run ID")

	ledgerShowCmd.Flags().String("run", "", "restrict to one run ID")

	ledgerCmd.AddCommand(ledgerExportCmd)
	ledgerCmd.AddCommand(ledgerSummaryCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func runLedgerExport(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	format, _ := cmd.Flags().GetString("format")
	out, _ := cmd.Flags().GetString("out")

	store, err := ledger.NewStore(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	switch format {
	case "csv":
		if out == "" {
			out = filepath.Join(dir, "ledger.csv")
		}
		if err := store.ExportCSV(cmd.Context(), out); err != nil {
			return err
		}
	case "jsonl":
		if out == "" {
			out = filepath.Join(dir, "ledger.jsonl")
		}
		if err := store.ExportJSONL(cmd.Context(), out); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q: use csv or jsonl", format)
	}

	fmt.Fprintf(os.Stdout, "exported ledger -> %s\n", out)
	return nil
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	runID, _ := cmd.Flags().GetString("run")

	store, err := ledger.NewStore(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	attempts, err := store.Attempts(cmd.Context(), runID)
	if err != nil {
		return err
	}
	for _, a := range attempts {
		line := fmt.Sprintf("%s  %-11s %s  %s", a.Timestamp.Format("2006-01-02T15:04:05"), a.Outcome, a.Identifier, a.URL)
		if a.Note != "" {
			line += "  (" + a.Note + ")"
		}
		fmt.Fprintln(os.Stdout, line)
	}
	fmt.Fprintf(os.Stdout, "%d attempts\n", len(attempts))
	return nil
}

func runLedgerSummary(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	runID, _ := cmd.Flags().GetString("run")

	store, err := ledger.NewStore(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	tally, err := store.Summary(cmd.Context(), runID)
	if err != nil {
		return err
	}

	order := []types.Outcome{
		types.OutcomeArchived,
		types.OutcomeSkipped,
		types.OutcomeRejected,
		types.OutcomeQuarantined,
		types.OutcomeFailed,
		types.OutcomeCancelled,
	}
	total := 0
	for _, o := range order {
		fmt.Fprintf(os.Stdout, "%-12s %d\n", o, tally[o])
		total += tally[o]
	}
	fmt.Fprintf(os.Stdout, "%-12s %d\n", "total", total)
	return nil
}
