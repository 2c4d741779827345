package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/nextrequest-crawler/internal/api"
)

// newServeCmd creates the 'serve' subcommand, which runs the read-only
// operator API until the process is signalled.
func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves health, metrics and crawl progress over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if addr == "" {
				addr = appInstance.Config().Metrics.Addr
			}
			if addr == "" {
				addr = ":8080"
			}
			logger := appInstance.Logger()
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewServer(appInstance.Repository(), appInstance.Ready, logger).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server started", zap.String("addr", addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-cmd.Context().Done():
			}

			logger.Info("shutdown initiated")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default metrics.addr or :8080)")
	return cmd
}
