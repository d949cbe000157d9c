package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tetherdev/tether/internal/client"
	"github.com/tetherdev/tether/internal/config"
	"github.com/tetherdev/tether/internal/logger"
)

func syncCmd() *cobra.Command {
	var deleteExtras bool
	var destFlag string

	cmd := &cobra.Command{
		Use:   "sync [source-dir]",
		Short: "Mirror a whole local tree to the workstation once",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.LogLevel, ""); err != nil {
				return err
			}

			token, err := cfg.Token()
			if err != nil {
				return err
			}

			source := cfg.WatchDir
			if len(args) > 0 {
				source = args[0]
			}
			if source == "" {
				return fmt.Errorf("no source directory: pass one or set watch_dir")
			}

			dest := destFlag
			if dest == "" {
				dest = cfg.RemoteRoot
			}

			applier := &client.RelayApplier{RelayURL: cfg.RelayURL, Token: token}
			if err := applier.InitialSync(cmd.Context(), source, dest, deleteExtras); err != nil {
				return err
			}
			fmt.Printf("mirrored %s to %s\n", source, dest)
			return nil
		},
	}

	cmd.Flags().BoolVar(&deleteExtras, "delete", false, "remove remote files absent from source (requires relay opt-in)")
	cmd.Flags().StringVar(&destFlag, "dest", "", "destination root (defaults to remote_root)")
	return cmd
}
