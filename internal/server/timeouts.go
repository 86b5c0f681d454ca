// internal/server/timeouts.go
//
// HTTP server helper with robust timeouts and graceful shutdown.
//
// Production hardening recommends:
//
//   • ReadHeaderTimeout – abort slow-loris headers (5 s)
//   • ReadTimeout       – cap request body reads (10 s)
//   • WriteTimeout      – cap total response time (15 s)
//   • IdleTimeout       – close keep-alives on idle clients (60 s)
//
// `Run` serves until the context is cancelled, then drains in-flight
// requests for at most ShutdownGrace before returning.  cmd/whiteboard
// stops the whiteboard only after Run returns, so no request outlives the
// contexts it was bound to.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ShutdownGrace bounds how long Run waits for in-flight requests.
const ShutdownGrace = 10 * time.Second

// New constructs an *http.Server with sensible defaults.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Run listens on srv.Addr and serves until ctx is done.
func Run(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	return Serve(ctx, srv, ln, log)
}

// Serve is Run over an existing listener.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, log *zap.Logger) error {
	if log == nil {
		log = zap.L()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("http server draining", zap.Duration("grace", ShutdownGrace))
	sctx, cancel := context.WithTimeout(context.Background(), ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
