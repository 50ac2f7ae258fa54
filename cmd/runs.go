package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/towerline/rfrecon-cli/internal/model"
	"github.com/towerline/rfrecon-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List persisted reconciliation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		st, err := openRequiredStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		runs, err := st.ListRuns(ctx, store.RunFilter{Limit: limit, Offset: offset})
		if err != nil {
			return eris.Wrap(err, "runs: list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs recorded.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		st, err := openRequiredStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs: show")
		}

		decision, _ := cmd.Flags().GetString("decision")
		actions, err := st.ListActions(ctx, args[0], store.ActionFilter{
			Decision: model.Decision(decision),
		})
		if err != nil {
			return eris.Wrap(err, "runs: list actions")
		}

		out := struct {
			Run     *store.Run               `json:"run"`
			Actions []model.CorrectionAction `json:"actions"`
		}{Run: run, Actions: actions}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsCmd.Flags().Int("offset", 0, "rows to skip, newest first")
	runsShowCmd.Flags().String("decision", "", "only actions with this decision (auto_corrected, flagged_for_review, unresolved_conflict)")

	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []store.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSNAPSHOT\tSTARTED\tDURATION\tPROCESSED\tCORRECTED\tREVIEW\tSTATUS")
	_, _ = fmt.Fprintln(w, "--\t--------\t-------\t--------\t---------\t---------\t------\t------")

	for _, r := range runs {
		snapshot := ""
		if r.SnapshotDate != nil {
			snapshot = r.SnapshotDate.Format("2006-01-02")
		}

		dur := ""
		status := "unfinished"
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
			status = "finished"
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			truncateID(r.ID),
			snapshot,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			r.Stats.Processed,
			r.Stats.AutoCorrected,
			r.Stats.Flagged+r.Stats.Conflicts,
			status,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
