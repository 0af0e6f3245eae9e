package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/automation"
	"github.com/xkilldash9x/droidpilot/internal/device"
	"github.com/xkilldash9x/droidpilot/internal/ledger"
	"github.com/xkilldash9x/droidpilot/internal/observability"
	"github.com/xkilldash9x/droidpilot/internal/oracle"
	"github.com/xkilldash9x/droidpilot/internal/store"
	"github.com/xkilldash9x/droidpilot/internal/worker"
)

const workerCmdName = "worker"

type workerFlags struct {
	id              string
	automationPort  int
	devicePortStart int
	devicePortEnd   int
}

func newWorkerCmd() *cobra.Command {
	var f workerFlags
	cmd := &cobra.Command{
		Use:    workerCmdName,
		Short:  "Run a single worker (started by `run`)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := runWorker(cmd.Context(), f)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&f.id, "id", "", "worker identity recorded in the ledger")
	cmd.Flags().IntVar(&f.automationPort, "automation-port", 0, "port of this worker's automation agent")
	cmd.Flags().IntVar(&f.devicePortStart, "device-port-start", 0, "first device-control port reserved for this worker")
	cmd.Flags().IntVar(&f.devicePortEnd, "device-port-end", 0, "last device-control port reserved for this worker")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func runWorker(ctx context.Context, f workerFlags) error {
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return err
	}
	if f.automationPort <= 0 {
		f.automationPort = cfg.Orchestrator().AutomationBasePort
	}
	if f.devicePortEnd < f.devicePortStart {
		return fmt.Errorf("device port range %d-%d is empty", f.devicePortStart, f.devicePortEnd)
	}
	logger := observability.GetLogger().With(zap.String("worker_id", f.id))

	l, err := ledger.New(cfg.Ledger(), logger)
	if err != nil {
		return err
	}
	orc, err := oracle.NewFromConfig(ctx, cfg.Oracle(), logger)
	if err != nil {
		return err
	}
	runner := worker.NewDeviceRunner(
		device.New(cfg.Device(), logger),
		automation.New(cfg.Automation(), f.automationPort, logger),
		orc,
		worker.PortRange{Start: f.devicePortStart, End: f.devicePortEnd},
		cfg,
		logger,
	)

	var opts []worker.Option
	st, closeDB, err := store.Connect(ctx, cfg.Database(), logger)
	if err != nil {
		return err
	}
	defer closeDB()
	if st != nil {
		opts = append(opts, worker.WithSink(st))
	}

	return worker.New(f.id, l, runner, cfg, logger, opts...).Run(ctx)
}
