package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/msageha/tq/internal/daemon"
	"github.com/msageha/tq/internal/history"
)

func newDaemonCmd() *cobra.Command {
	var (
		pollMs      int
		gracePollMs int
		noHistory   bool
	)
	cmd := &cobra.Command{
		Use:   "daemon <queue>",
		Short: "Run the scheduler for a queue in the foreground",
		Long: `Run the scheduler for one queue until SIGTERM or SIGINT. On shutdown the
running task is preempted with its grace period and requeued.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config
			if cmd.Flags().Changed("poll-ms") {
				cfg.Daemon.PollIntervalMs = pollMs
			}
			if cmd.Flags().Changed("grace-poll-ms") {
				cfg.Daemon.GracePollIntervalMs = gracePollMs
			}
			if noHistory {
				cfg.History.Enabled = false
			}

			if err := layout.EnsureDirs(); err != nil {
				return err
			}

			opts := daemon.Options{Queue: args[0], Layout: layout, Config: cfg}
			if cfg.History.Enabled {
				hist, err := history.Open(context.Background(), layout.HistoryDB(), logger)
				if err != nil {
					logger.Warn("run history disabled", "error", err)
				} else {
					opts.History = hist
				}
			}

			d, err := daemon.New(opts)
			if err != nil {
				if opts.History != nil {
					opts.History.Close()
				}
				return err
			}
			logger.Info("scheduler running", "queue", args[0], "log", layout.SchedulerLog(args[0]))
			return d.RunWithSignals()
		},
	}
	cmd.Flags().IntVar(&pollMs, "poll-ms", 0, "Override daemon.poll_interval_ms")
	cmd.Flags().IntVar(&gracePollMs, "grace-poll-ms", 0, "Override daemon.grace_poll_interval_ms")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record runs in history.db")
	return cmd
}
