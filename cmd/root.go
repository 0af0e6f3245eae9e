package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

var cfgFile string

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "droidpilot",
		Short:         "droidpilot drives social apps on remote Android devices from a job ledger.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			if err := initializeConfig(cmd, v); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg, err := config.Load(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "droidpilot"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(loggerConfigFor(cmd, cfg))
			observability.GetLogger().Debug("Configuration loaded.",
				zap.String("version", Version),
				zap.String("command", cmd.Name()),
				zap.String("config_file", v.ConfigFileUsed()))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./droidpilot.yaml)")

	rootCmd.AddCommand(
		newRunCmd(),
		newWorkerCmd(),
		newSeedCmd(),
		newStatusCmd(),
		newStopCmd(),
		newSweepCmd(),
		newLogsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
	}
	observability.Sync()
	return err
}

// initializeConfig reads the config file and DROIDPILOT_ environment
// variables into v, then lets explicitly set flags override both.
func initializeConfig(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("droidpilot")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DROIDPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return bindFlags(cmd, v)
}

// flagKeys maps command flags onto configuration keys.
var flagKeys = map[string]string{
	"workers":      "orchestrator.workers",
	"seed":         "orchestrator.seed_file",
	"metrics-addr": "orchestrator.metrics_addr",
	"stale-after":  "orchestrator.stale_claim_after",
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	for flag, key := range flagKeys {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding --%s: %w", flag, err)
		}
	}
	return nil
}

// loggerConfigFor sends a worker's log to its own file.
func loggerConfigFor(cmd *cobra.Command, cfg *config.Config) config.LoggerConfig {
	if cmd.Name() != workerCmdName {
		return cfg.Logger()
	}
	id, _ := cmd.Flags().GetString("id")
	if id == "" {
		return cfg.Logger()
	}
	return observability.WorkerLogConfig(cfg.Logger(), cfg.Orchestrator().StateDir, id)
}

// getConfigFromContext returns the configuration loaded by the root command.
func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
