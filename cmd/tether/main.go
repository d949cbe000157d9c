package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "tether",
		Short: "tether — file sync and terminal relay for remote workstations",
		Long:  "Keeps a local editing environment and a remote development workstation consistent, and relays interactive shell sessions over one connection.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(
		relayCmd(),
		connectCmd(),
		syncCmd(),
		statusCmd(),
		tokenCmd(),
		workstationCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
