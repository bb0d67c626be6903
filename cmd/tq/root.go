package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/msageha/tq/internal/logging"
	"github.com/msageha/tq/internal/model"
	"github.com/msageha/tq/internal/setup"
)

const version = "1.0.0"

// errSilentFailure exits non-zero without printing anything.
var errSilentFailure = errors.New("silent failure")

var (
	flagHome      string
	flagLogLevel  string
	flagLogFormat string

	layout model.Layout
	config model.Config
	logger *slog.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tq",
		Short: "Priority task queue with preemption for shared compute devices",
		Long: `tq runs one task per queue at a time. A higher-priority submission preempts
the running task, which gets a grace period before it is killed and then goes
back on the queue, resuming the same log file on its next launch.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			layout = model.Layout{BaseDir: flagHome}
			cfg, err := setup.LoadConfig(layout.ConfigFile())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Logging.Level = flagLogLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.Logging.Format = flagLogFormat
			}
			config = cfg
			logger = logging.Stderr(cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagHome, "home", model.DefaultBaseDir(), "Base directory (or TQ_HOME env)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newInitCmd(),
		newDaemonCmd(),
		newQueueCmd(),
		newSubmitCmd(),
		newStatusCmd(),
		newListCmd(),
		newRmCmd(),
		newKillCmd(),
		newHistCmd(),
		newSegmentsCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tq %s\n", version)
		},
	}
}
