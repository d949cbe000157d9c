package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tetherdev/tether/internal/config"
	"github.com/tetherdev/tether/internal/remote"
)

func workstationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workstation",
		Short: "Manage the remote workstation through its lifecycle API",
	}
	cmd.AddCommand(
		workstationActionCmd("start", "Start the workstation"),
		workstationActionCmd("stop", "Stop the workstation"),
		workstationShowCmd(),
	)
	return cmd
}

func lifecycleClient() (remote.Lifecycle, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", err
	}
	if cfg.LifecycleURL == "" {
		return nil, "", fmt.Errorf("lifecycle_url is not configured")
	}
	if cfg.WorkstationID == "" {
		return nil, "", fmt.Errorf("workstation_id is not configured")
	}
	token, err := cfg.Token()
	if err != nil {
		token = "" // lifecycle API may not require one
	}
	return &remote.HTTPLifecycle{BaseURL: cfg.LifecycleURL, Token: token}, cfg.WorkstationID, nil
}

func workstationActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			lc, id, err := lifecycleClient()
			if err != nil {
				return err
			}
			switch action {
			case "start":
				err = lc.Start(cmd.Context(), id)
			case "stop":
				err = lc.Stop(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			fmt.Printf("workstation %s: %s requested\n", id, action)
			return nil
		},
	}
}

func workstationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show workstation state",
		RunE: func(cmd *cobra.Command, args []string) error {
			lc, id, err := lifecycleClient()
			if err != nil {
				return err
			}
			state, err := lc.Describe(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("workstation %s: %s", state.ID, state.Status)
			if state.Addr != "" {
				fmt.Printf(" (%s)", state.Addr)
			}
			fmt.Println()
			return nil
		},
	}
}
