package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tetherdev/tether/internal/client"
	"github.com/tetherdev/tether/internal/config"
	"github.com/tetherdev/tether/internal/journal"
	"github.com/tetherdev/tether/internal/logger"
	"github.com/tetherdev/tether/internal/syncq"
	"github.com/tetherdev/tether/internal/watcher"
)

func connectCmd() *cobra.Command {
	var noTerminal bool
	var watchFlag string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to the workstation: watch files, sync, attach a shell",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logFile := ""
			if !noTerminal {
				// Raw-mode terminal owns stderr; keep logs out of the way.
				dir, _ := config.Dir()
				logFile = dir + "/connect.log"
			}
			if err := logger.Init(cfg.LogLevel, logFile); err != nil {
				return err
			}

			token, err := cfg.Token()
			if err != nil {
				return err
			}

			watchDir := cfg.WatchDir
			if watchFlag != "" {
				watchDir = watchFlag
			}

			ctrl := &client.Controller{
				ChannelURL:    cfg.ChannelURL,
				Token:         token,
				RemoteRoot:    cfg.RemoteRoot,
				ReconnectBase: config.Duration(cfg.ReconnectBase, time.Second),
				ReconnectMax:  config.Duration(cfg.ReconnectMax, 30*time.Second),
				MaxAttempts:   cfg.MaxReconnects,
				DrainInterval: config.Duration(cfg.AutoSync, 0),
				Terminal:      !noTerminal,
				Stdin:         os.Stdin,
				Stdout:        os.Stdout,
			}

			if watchDir != "" {
				j, err := journal.Open(cfg.JournalPath)
				if err != nil {
					return err
				}
				defer j.Close()

				ctrl.WatchDir = watchDir
				ctrl.Journal = j
				ctrl.Queue = syncq.New(&client.RelayApplier{
					RelayURL: cfg.RelayURL,
					Token:    token,
				}, syncq.Options{})
				ctrl.Watcher = watcher.New(watchDir, cfg.Ignore, 0)
				if ctrl.DrainInterval == 0 {
					ctrl.DrainInterval = 2 * time.Second
				}
			}

			if !noTerminal && term.IsTerminal(int(os.Stdin.Fd())) {
				fd := int(os.Stdin.Fd())
				if cols, rows, err := term.GetSize(fd); err == nil {
					ctrl.Cols, ctrl.Rows = cols, rows
				}

				oldState, err := term.MakeRaw(fd)
				if err != nil {
					return fmt.Errorf("raw mode: %w", err)
				}
				defer term.Restore(fd, oldState)

				winCh := make(chan [2]int, 1)
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGWINCH)
				go func() {
					for range sigCh {
						if cols, rows, err := term.GetSize(fd); err == nil {
							select {
							case winCh <- [2]int{cols, rows}:
							default:
							}
						}
					}
				}()
				defer signal.Stop(sigCh)
				ctrl.WinCh = winCh
			}

			return ctrl.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&noTerminal, "no-terminal", false, "sync only, no shell session")
	cmd.Flags().StringVar(&watchFlag, "watch", "", "local directory to mirror (overrides config)")
	return cmd
}
