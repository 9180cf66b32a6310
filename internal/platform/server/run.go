package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// ShutdownTimeout bounds how long Run waits for in-flight requests and shutdown hooks.
const ShutdownTimeout = 10 * time.Second

// Run starts the HTTP server and shuts it down gracefully on interrupt or context cancellation.
// Each hook runs after the listener stops, with the shutdown deadline.
func Run(ctx context.Context, srv *http.Server, logger *slog.Logger, hooks ...func(context.Context) error) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	for _, hook := range hooks {
		if hookErr := hook(shutdownCtx); hookErr != nil {
			logger.Error("shutdown hook failed", "error", hookErr)
			err = errors.Join(err, hookErr)
		}
	}
	return err
}
