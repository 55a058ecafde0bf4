package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"folderwatch/internal/storage"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the ingestion ledger",
	}

	ledgerCmd.AddCommand(newLedgerListCommand(ctx))
	ledgerCmd.AddCommand(newLedgerSummaryCommand(ctx))
	ledgerCmd.AddCommand(newLedgerClearCommand(ctx))
	return ledgerCmd
}

func newLedgerListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatusFlags(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withGateway(cmd.Context(), func(gw *storage.Gateway) error {
				entries, err := gw.ListLedger(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, ledgerEntryViews(entries))
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "Ledger is empty")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"File", "Status", "Records", "Attempts", "Updated", "Fingerprint", "Reason"},
					buildLedgerRows(entries, shouldColorize(out)),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (pending, processed, failed); repeatable")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output entries as JSON")
	return cmd
}

func newLedgerSummaryCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show ledger counts by status and the number of stored records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withGateway(cmd.Context(), func(gw *storage.Gateway) error {
				summary, err := gw.LedgerSummary(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, ledgerSummaryView{
						Pending:   summary.Pending,
						Processed: summary.Processed,
						Failed:    summary.Failed,
						Total:     summary.Total(),
						Records:   summary.Records,
					})
				}
				rows := [][]string{
					{"Pending", strconv.FormatInt(summary.Pending, 10)},
					{"Processed", strconv.FormatInt(summary.Processed, 10)},
					{"Failed", strconv.FormatInt(summary.Failed, 10)},
					{"Total files", strconv.FormatInt(summary.Total(), 10)},
					{"Stored records", strconv.FormatInt(summary.Records, 10)},
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Metric", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output summary as JSON")
	return cmd
}

func newLedgerClearCommand(ctx *commandContext) *cobra.Command {
	var clearFailed bool
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove ledger entries so matching files are ingested again",
		Long: "Removes failed entries (--failed) or every entry (--all). Stored records are\n" +
			"kept; re-ingesting a file upserts its rows by employee_id.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearFailed == clearAll {
				return errors.New("specify exactly one of --failed or --all")
			}
			var statuses []storage.LedgerStatus
			label := "ledger"
			if clearFailed {
				statuses = []storage.LedgerStatus{storage.LedgerFailed}
				label = "failed"
			}
			return ctx.withGateway(cmd.Context(), func(gw *storage.Gateway) error {
				removed, err := gw.DeleteLedger(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d %s entries\n", removed, label)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Remove only failed entries")
	cmd.Flags().BoolVar(&clearAll, "all", false, "Remove every entry")
	return cmd
}

func parseStatusFlags(values []string) ([]storage.LedgerStatus, error) {
	statuses := make([]storage.LedgerStatus, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			status, err := storage.ParseLedgerStatus(part)
			if err != nil {
				return nil, err
			}
			statuses = append(statuses, status)
		}
	}
	return statuses, nil
}

type ledgerSummaryView struct {
	Pending   int64 `json:"pending"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
	Records   int64 `json:"records"`
}

type ledgerEntryView struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	Records     int    `json:"records"`
	Attempts    int    `json:"attempts"`
	SizeBytes   int64  `json:"size_bytes"`
	FirstSeenAt string `json:"first_seen_at"`
	UpdatedAt   string `json:"updated_at"`
}

func ledgerEntryViews(entries []storage.LedgerEntry) []ledgerEntryView {
	views := make([]ledgerEntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, ledgerEntryView{
			Path:        entry.Path,
			Fingerprint: entry.Fingerprint,
			Status:      string(entry.Status),
			Reason:      entry.Reason,
			Records:     entry.Records,
			Attempts:    entry.Attempts,
			SizeBytes:   entry.SizeBytes,
			FirstSeenAt: formatTimestamp(entry.FirstSeenAt),
			UpdatedAt:   formatTimestamp(entry.UpdatedAt),
		})
	}
	return views
}

func buildLedgerRows(entries []storage.LedgerEntry, colorize bool) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{
			entry.Path,
			colorizeStatus(string(entry.Status), colorize),
			strconv.Itoa(entry.Records),
			strconv.Itoa(entry.Attempts),
			formatDisplayTime(entry.UpdatedAt),
			formatFingerprint(entry.Fingerprint),
			truncate(entry.Reason, 60),
		})
	}
	return rows
}
