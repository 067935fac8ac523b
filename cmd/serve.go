package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newServeCmd creates the 'serve' subcommand, which exposes run progress
// over HTTP until interrupted.
func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run progress as JSON over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if port == 0 {
				port = appInstance.Config().Server.Port
			}
			ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
			if err != nil {
				return fmt.Errorf("listen on :%d: %w", port, err)
			}
			return serve(cmd.Context(), appInstance, ln)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (defaults to server.port)")
	return cmd
}

// serve runs the API on ln until ctx ends, then shuts down gracefully.
func serve(ctx context.Context, appInstance App, ln net.Listener) error {
	logger := appInstance.Logger()
	srv := &http.Server{
		Handler:           appInstance.APIServer().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
