package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/device"
	"github.com/xkilldash9x/droidpilot/internal/ledger"
	"github.com/xkilldash9x/droidpilot/internal/observability"
	"github.com/xkilldash9x/droidpilot/internal/orchestrator"
)

// spawnerFactory is swapped in tests so run never forks.
var spawnerFactory = func() orchestrator.Spawner {
	return &orchestrator.ExecSpawner{ConfigFile: cfgFile}
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the worker pool and process the ledger until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			var opts []orchestrator.Option
			if cfg.Device().BaseURL != "" {
				opts = append(opts, orchestrator.WithDevices(device.New(cfg.Device(), logger)))
			}
			o, err := newOrchestrator(cfg, spawnerFactory(), logger, opts...)
			if err != nil {
				return err
			}
			err = o.Run(ctx, orchestrator.RunOptions{})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().Int("workers", 0, "number of worker processes (overrides orchestrator.workers)")
	cmd.Flags().String("seed", "", "campaign file to seed before starting")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <campaign.yaml>",
		Short: "Add the jobs of a campaign file to the ledger without starting workers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			o, err := newOrchestrator(cfg, nil, observability.GetLogger())
			if err != nil {
				return err
			}
			res, err := o.Seed(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s: %d added, %d skipped, %d already present.\n",
				cfg.Ledger().Path, res.Added, res.Skipped, res.Existing)
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask the running orchestrator to shut down gracefully",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			pid, err := orchestrator.NewPIDFile(cfg.Orchestrator().StateDir).Signal()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent shutdown signal to orchestrator (pid %d).\n", pid)
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Return stale claimed jobs to pending",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			l, err := ledger.New(cfg.Ledger(), observability.GetLogger())
			if err != nil {
				return err
			}
			staleAfter := cfg.Orchestrator().StaleClaimAfter
			swept, err := l.Sweep(cmd.Context(), staleAfter)
			if err != nil {
				return err
			}
			if len(swept) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No claims older than %s.\n", staleAfter)
				return nil
			}
			for _, j := range swept {
				fmt.Fprintf(cmd.OutOrStdout(), "Released %s (account %s).\n", j.ID, j.Account)
			}
			return nil
		},
	}
	cmd.Flags().Duration("stale-after", 0, "age past which a claim is stale (overrides orchestrator.stale_claim_after)")
	return cmd
}

func newOrchestrator(cfg *config.Config, sp orchestrator.Spawner, logger *zap.Logger, opts ...orchestrator.Option) (*orchestrator.Orchestrator, error) {
	l, err := ledger.New(cfg.Ledger(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return orchestrator.New(cfg, l, sp, logger, opts...)
}
