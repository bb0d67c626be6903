package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/cobra"

	"github.com/msageha/tq/internal/model"
	"github.com/msageha/tq/internal/queue"
	"github.com/msageha/tq/internal/vcs"
)

func newSubmitCmd() *cobra.Command {
	var (
		priority int
		grace    int
		tag      string
		queueArg string
		workDir  string
		noGit    bool
	)
	cmd := &cobra.Command{
		Use:   "submit [flags] -- <command> [args...]",
		Short: "Append a task to a queue",
		Long: `Append a task to a queue. A single argument is taken as a complete shell
command line; several arguments are quoted and joined. The working directory
and a git snapshot of it are recorded with the task.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := args[0]
			if len(args) > 1 {
				command = shellquote.Join(args...)
			}
			if strings.TrimSpace(command) == "" {
				return fmt.Errorf("empty command")
			}

			dir := workDir
			if dir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
				dir = wd
			}
			dir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}

			task := model.Task{
				Priority: priority,
				Grace:    grace,
				Tag:      tag,
				Command:  command,
				WorkDir:  model.StringPtr(dir),
			}
			if !noGit {
				task.VCSSnapshot = vcs.Snapshot(context.Background(), dir)
			}

			if err := os.MkdirAll(layout.BaseDir, 0755); err != nil {
				return fmt.Errorf("create base directory: %w", err)
			}
			if err := queue.Append(layout.QueueFile(queueArg), task); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Submitted [%s] to queue %s (priority %d, grace %ds)\n",
				task.Tag, queueArg, task.Priority, task.Grace)
			if task.VCSSnapshot != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "  git: %s\n", *task.VCSSnapshot)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&priority, "priority", "p", model.DefaultPriority, "Priority (lower runs first)")
	cmd.Flags().IntVarP(&grace, "grace", "g", model.DefaultGrace, "Seconds between SIGTERM and SIGKILL on preemption")
	cmd.Flags().StringVarP(&tag, "tag", "t", model.DefaultTag, "Label used in log file names")
	cmd.Flags().StringVarP(&queueArg, "queue", "q", "0", "Queue name")
	cmd.Flags().StringVarP(&workDir, "workdir", "C", "", "Working directory (default: current)")
	cmd.Flags().BoolVar(&noGit, "no-git", false, "Do not record a git snapshot")
	return cmd
}
