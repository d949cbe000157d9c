package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tetherdev/tether/internal/auth"
	"github.com/tetherdev/tether/internal/config"
	"github.com/tetherdev/tether/internal/logger"
	"github.com/tetherdev/tether/internal/relay"
	"github.com/tetherdev/tether/internal/remote"
)

func relayCmd() *cobra.Command {
	var addrFlag string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the relay server on the remote workstation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := logger.Init(cfg.LogLevel, ""); err != nil {
				return err
			}

			secret, err := loadOrCreateSecret(cfg)
			if err != nil {
				return err
			}

			guard := auth.NewGuard(&auth.JWTProvider{Secret: secret}, 5*time.Second)

			var runner remote.Runner
			if cfg.ExecEndpoint != "" {
				token, _ := cfg.Token()
				runner = &remote.HTTPRunner{
					Endpoint: cfg.ExecEndpoint,
					Token:    token,
					Client:   &http.Client{Timeout: 30 * time.Second},
				}
			} else {
				runner = &remote.LocalRunner{}
			}

			srv := relay.NewServer(relay.Config{
				RemoteRoot:   cfg.RemoteRoot,
				Audience:     cfg.Audience,
				Shell:        cfg.Shell,
				MirrorDelete: cfg.MirrorDelete,
			}, guard, &remote.Executor{Runner: runner})

			addr := cfg.ListenAddr
			if addrFlag != "" {
				addr = addrFlag
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			httpSrv := &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("relay listening", "addr", addr, "root", cfg.RemoteRoot)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpSrv.Shutdown(shutCtx)
				return nil
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (overrides config)")
	return cmd
}

// loadOrCreateSecret returns the JWT signing secret, generating and
// persisting one on first run.
func loadOrCreateSecret(cfg *config.Config) ([]byte, error) {
	if cfg.JWTSecret != "" {
		secret, err := base64.StdEncoding.DecodeString(cfg.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("decode jwt secret: %w", err)
		}
		return secret, nil
	}

	encoded, err := auth.GenerateSecret()
	if err != nil {
		return nil, err
	}
	cfg.JWTSecret = encoded
	if err := cfg.Save(); err != nil {
		return nil, fmt.Errorf("persist jwt secret: %w", err)
	}
	logger.Info("generated new jwt secret")
	return base64.StdEncoding.DecodeString(encoded)
}
