package cmd

import (
	"fmt"
	"io"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/droidpilot/internal/observability"
)

func newLogsCmd() *cobra.Command {
	var (
		workerID string
		follow   bool
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print a worker's log, or the orchestrator's without --worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			path := cfg.Logger().LogFile
			if workerID != "" {
				path = observability.WorkerLogPath(cfg.Orchestrator().StateDir, workerID)
			}
			if path == "" {
				return fmt.Errorf("no log file configured")
			}
			return tailLog(cmd, path, follow, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&workerID, "worker", "w", "", "worker id, e.g. w01")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing as the log grows")
	return cmd
}

func tailLog(cmd *cobra.Command, path string, follow bool, out io.Writer) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("opening log %s: %w", path, err)
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Wait()
			}
			if line.Err != nil {
				return line.Err
			}
			fmt.Fprintln(out, line.Text)
		}
	}
}
