package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/helpthread/helpthread/internal/helpthread"
	"github.com/helpthread/helpthread/internal/httpapi"
)

func newServeCmd() *cobra.Command {
	var addr string
	var stateDSN string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST server other devices sync against",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if stateDSN == "" {
				stateDSN = cfg.Server.StateDSN
			}

			backend, err := helpthread.BuildStateBackendFromDSN(stateDSN)
			if err != nil {
				return err
			}
			store := helpthread.NewStoreWithOptions(helpthread.StoreOptions{
				StateBackend:  backend,
				SweepInterval: cfg.Server.SweepInterval,
				MaxRecordAge:  cfg.Server.MaxRecordAge,
			})
			defer store.Close()

			server := httpapi.NewServerWithConfig(store, logger, httpapi.ServerConfig{
				RateLimitMax:    cfg.Server.RateLimitMax,
				RateLimitWindow: cfg.Server.RateLimitWindow,
				MaxBodyBytes:    cfg.Server.MaxBodyBytes,
			})
			httpServer := &http.Server{Addr: addr, Handler: server}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- httpServer.ListenAndServe()
			}()
			logger.Info("server listening",
				zap.String("addr", addr),
				zap.String("stateDsn", stateDSN))

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :3001)")
	cmd.Flags().StringVar(&stateDSN, "state-dsn", "", "state backend DSN (file://, memory://, postgres://)")
	return cmd
}
