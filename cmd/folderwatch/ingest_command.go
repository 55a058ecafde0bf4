package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"folderwatch/internal/daemon"
	"folderwatch/internal/ingest"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest specific files once, outside the watcher",
		Long: "Runs each file through the same parse, persist and ledger steps as the daemon.\n" +
			"Fails if a daemon already holds the lock for this base directory.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			d, err := daemon.New(cfg, ctx.cliLogger(), "")
			if err != nil {
				return err
			}
			results, err := d.IngestFiles(cmd.Context(), args)
			if jsonOutput {
				if jsonErr := writeJSON(cmd, ingestResultViews(results)); jsonErr != nil {
					return jsonErr
				}
			} else if len(results) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"File", "Outcome", "Records", "Detail"},
					buildIngestRows(results, shouldColorize(cmd.OutOrStdout())),
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				))
			}
			if err != nil {
				return err
			}
			for _, res := range results {
				if res.Outcome == ingest.OutcomeFailed || res.Outcome == ingest.OutcomeDeferred {
					return errors.New("one or more files were not ingested")
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	return cmd
}

type ingestResultView struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Outcome     string `json:"outcome"`
	Records     int    `json:"records"`
	Reason      string `json:"reason,omitempty"`
	Destination string `json:"destination,omitempty"`
}

func ingestResultViews(results []ingest.Result) []ingestResultView {
	views := make([]ingestResultView, 0, len(results))
	for _, res := range results {
		views = append(views, ingestResultView{
			Path:        res.Path,
			Fingerprint: res.Fingerprint,
			Outcome:     string(res.Outcome),
			Records:     res.Records,
			Reason:      res.Reason,
			Destination: res.Destination,
		})
	}
	return views
}

func buildIngestRows(results []ingest.Result, colorize bool) [][]string {
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		detail := res.Reason
		if detail == "" && res.Destination != "" {
			detail = "moved to " + res.Destination
		}
		rows = append(rows, []string{
			res.Path,
			colorizeStatus(string(res.Outcome), colorize),
			strconv.Itoa(res.Records),
			detail,
		})
	}
	return rows
}
