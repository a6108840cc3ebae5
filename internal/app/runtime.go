package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownGrace     = 10 * time.Second
)

// Runtime runs the HTTP server for a fully initialized App.
type Runtime struct {
	App *App
	srv *http.Server
}

// NewRuntime wraps an initialized App with an HTTP server bound to the
// configured listen address.
func NewRuntime(a *App) *Runtime {
	return &Runtime{
		App: a,
		srv: &http.Server{
			Addr:              a.Config.ListenAddr,
			Handler:           a.Server.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
// In-flight requests get shutdownGrace to complete; SSE streams are cut
// when the grace period expires.
func (r *Runtime) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		r.App.Logger.Info("server listening", "addr", r.srv.Addr)
		if err := r.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	r.App.Logger.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := r.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return <-errCh
}
