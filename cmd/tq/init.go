package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/tq/internal/setup"
)

func newInitCmd() *cobra.Command {
	var opts setup.Options
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the base directory and a default config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setup.Init(layout, opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", layout.BaseDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Shell, "shell", "", "Shell used to run task commands")
	cmd.Flags().StringVar(&opts.DeviceID, "device", "", "Device queried for occupancy (default: queue name)")
	cmd.Flags().StringVar(&opts.QueryCommand, "query-command", "", "Occupancy query command; {device} is substituted")
	cmd.Flags().BoolVar(&opts.DisableOccupancy, "no-occupancy", false, "Disable device occupancy checks")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Overwrite an existing config.yaml")
	return cmd
}
