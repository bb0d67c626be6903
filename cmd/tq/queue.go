package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/msageha/tq/internal/queue"
)

// newQueueCmd exposes the queue file protocol to shell consumers. Only the
// result goes to stdout.
func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Low-level queue file operations for scripts",
	}
	cmd.AddCommand(newQueuePopCmd(), newQueuePeekCmd())
	return cmd
}

func newQueuePopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pop <queue-file>",
		Short: "Remove the best record and print it as shell assignments",
		Long: `Remove the record with the lowest priority (earliest first among equals)
and print TQ_* shell assignments for it. Exits 1 with no output when the
queue holds no parseable record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := queue.PopBest(args[0])
			if err != nil {
				return err
			}
			if task == nil {
				return errSilentFailure
			}
			out, err := queue.FormatAssignments(*task)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write([]byte(out))
			return err
		},
	}
}

func newQueuePeekCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peek-priority <queue-file>",
		Short: "Print the lowest waiting priority (99999 when none)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(strconv.Itoa(queue.PeekMinPriority(args[0])) + "\n"))
			return err
		},
	}
}
