package main

import (
	"fmt"
	"os"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/msageha/tq/internal/model"
	"github.com/msageha/tq/internal/proc"
	"github.com/msageha/tq/internal/queue"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <queue>",
		Short: "List waiting tasks in the order they will run",
		Long: `List waiting tasks in the order they will run. The ID column is the
task's position in the queue file, as accepted by "tq rm".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := queue.List(layout.QueueFile(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No waiting tasks.")
				return nil
			}

			fmt.Fprintf(out, "%-4s  %-5s  %-5s  %-20s  %s\n", "ID", "PRIO", "GRACE", "TAG", "COMMAND")
			for _, i := range queue.Order(tasks) {
				t := tasks[i]
				resume := ""
				if t.LogPath != nil {
					resume = " (resumes)"
				}
				fmt.Fprintf(out, "%-4d  %-5d  %-5d  %-20s  %s%s\n", i+1, t.Priority, t.Grace, t.Tag, t.Command, resume)
			}
			return nil
		},
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <queue> <id>",
		Short: "Remove a waiting task by ID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid id %q", args[1])
			}
			removed, err := queue.Remove(layout.QueueFile(args[0]), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed #%d [%s] %s\n", id, removed.Tag, removed.Command)
			return nil
		},
	}
}

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <queue>",
		Short: "Terminate the running task of a queue without requeueing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(layout.RunningFile(args[0]))
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("queue %s has no running task", args[0])
				}
				return err
			}
			rs, err := model.ParseRunningState(data)
			if err != nil {
				return err
			}

			sup := proc.NewSupervisor(config.Daemon.ShellOrDefault())
			if !sup.GroupAlive(rs.PID) {
				return fmt.Errorf("task pid %d is not running; the running state is stale", rs.PID)
			}
			if err := sup.SignalGroup(rs.PID, syscall.SIGTERM); err != nil {
				return err
			}
			logger.Info("sent SIGTERM", "queue", args[0], "pid", rs.PID, "tag", rs.Task.Tag)
			fmt.Fprintf(cmd.OutOrStdout(), "Terminated [%s] pid %d\n", rs.Task.Tag, rs.PID)
			return nil
		},
	}
}
