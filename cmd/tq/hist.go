package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/msageha/tq/internal/history"
	"github.com/msageha/tq/internal/tasklog"
)

func newHistCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "hist [queue]",
		Short: "Show recent task runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(layout.HistoryDB()); os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "No history yet.")
				return nil
			}

			hist, err := history.Open(context.Background(), layout.HistoryDB(), logger)
			if err != nil {
				return err
			}
			defer hist.Close()

			queueName := ""
			if len(args) == 1 {
				queueName = args[0]
			}
			runs, err := hist.List(context.Background(), queueName, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No history yet.")
				return nil
			}
			fmt.Fprintf(out, "%-5s  %-16s  %-20s  %-18s  %-10s  %-9s  %s\n",
				"QUEUE", "STARTED", "TAG", "OUTCOME", "DURATION", "LOG SIZE", "LOG")
			for _, r := range runs {
				tag := r.Tag
				if r.Resumed {
					tag += " (resumed)"
				}
				outcome := r.Outcome
				duration := "-"
				if r.EndedAt == nil {
					outcome = "running"
				} else {
					duration = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				size := "-"
				if st, err := os.Stat(r.LogPath); err == nil {
					size = humanize.Bytes(uint64(st.Size()))
				}
				fmt.Fprintf(out, "%-5s  %-16s  %-20s  %-18s  %-10s  %-9s  %s\n",
					r.Queue, humanize.Time(r.StartedAt), tag, outcome, duration, size, r.LogPath)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs (0 for all)")
	return cmd
}

func newSegmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "segments <log-file>",
		Short: "List the launches recorded in a task log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			segs, err := tasklog.Segments(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(segs) == 0 {
				fmt.Fprintln(out, "No segments found.")
				return nil
			}
			for i, s := range segs {
				kind := "start"
				if s.Resumed {
					kind = "resume"
				}
				outcome := s.Outcome
				if outcome == "" {
					outcome = "running or interrupted"
				}
				fmt.Fprintf(out, "#%d  %-6s  %s  %-24s  run %s\n",
					i+1, kind, s.Start.Format(tasklog.TimeLayout), outcome, s.RunID)
			}
			return nil
		},
	}
}
