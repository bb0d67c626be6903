package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/msageha/tq/internal/status"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status [queue...]",
		Short: "Show daemons, running tasks and waiting counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := status.Collect(context.Background(), layout, args)
			if err != nil {
				return err
			}
			return status.Write(cmd.OutOrStdout(), report, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
