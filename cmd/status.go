package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/observability"
	"github.com/xkilldash9x/droidpilot/internal/orchestrator"
	"github.com/xkilldash9x/droidpilot/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// statusReport is what `status --json` prints.
type statusReport struct {
	Ledger       string                  `json:"ledger"`
	Running      bool                    `json:"running"`
	PID          int                     `json:"pid,omitempty"`
	Stats        schemas.Stats           `json:"stats"`
	RecentOutput []schemas.OutcomeRecord `json:"recent_outcomes,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var (
		asJSON bool
		recent int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show job counts by status and whether the pool is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			o, err := newOrchestrator(cfg, nil, logger)
			if err != nil {
				return err
			}
			stats, err := o.Status()
			if err != nil {
				return err
			}
			pid, alive, err := orchestrator.NewPIDFile(cfg.Orchestrator().StateDir).Owner()
			if err != nil {
				return err
			}
			report := statusReport{Ledger: cfg.Ledger().Path, Running: alive, Stats: stats}
			if alive {
				report.PID = pid
			}

			if recent > 0 {
				st, closeDB, err := store.Connect(ctx, cfg.Database(), logger)
				if err != nil {
					return err
				}
				defer closeDB()
				if st != nil {
					if report.RecentOutput, err = st.RecentOutcomes(ctx, recent); err != nil {
						return err
					}
				}
			}

			if asJSON {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			return printStatus(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().IntVar(&recent, "recent", 0, "also list this many archived outcomes (requires database.url)")
	return cmd
}

func printStatus(out io.Writer, r statusReport) error {
	state := "stopped"
	if r.Running {
		state = fmt.Sprintf("running (pid %d)", r.PID)
	}
	fmt.Fprintf(out, "Ledger:       %s\n", r.Ledger)
	fmt.Fprintf(out, "Orchestrator: %s\n\n", state)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tJOBS")
	for _, st := range schemas.AllStatuses {
		fmt.Fprintf(tw, "%s\t%d\n", st, r.Stats.Count(st))
	}
	fmt.Fprintf(tw, "total\t%d\n", r.Stats.Total)
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.RecentOutput) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINISHED\tJOB\tACCOUNT\tSTATUS\tERROR\tSTEPS")
	for _, rec := range r.RecentOutput {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			rec.FinishedAt.Local().Format(time.DateTime), rec.JobID, rec.Account, rec.Status, rec.ErrorType, rec.Steps)
	}
	return tw.Flush()
}
