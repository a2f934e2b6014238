// Shiptrace - Shipment Tracking Timeline and Automation Engine
// Copyright 2026 M. Vianna (mfvianna)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfvianna/shiptrace

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mfvianna/shiptrace/internal/logging"
)

// HTTPService runs an http.Server under supervision. Listen errors crash the
// service so suture restarts it with backoff; a clean shutdown on context
// cancellation is not a failure.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
	boundAddr       atomic.Value
}

// NewHTTPService wraps the handler in a supervised HTTP server.
func NewHTTPService(addr string, handler http.Handler, timeout time.Duration) *HTTPService {
	return &HTTPService{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       timeout,
			WriteTimeout:      timeout,
			IdleTimeout:       120 * time.Second,
		},
		shutdownTimeout: 10 * time.Second,
	}
}

// Serve implements suture.Service.
func (s *HTTPService) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	s.boundAddr.Store(listener.Addr().String())
	logging.Info().Str("addr", listener.Addr().String()).Msg("HTTP server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("HTTP server shutdown incomplete")
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	}
}

// Addr reports the listener address once Serve has bound it, or the
// configured address before that. Useful when listening on port 0.
func (s *HTTPService) Addr() string {
	if addr, ok := s.boundAddr.Load().(string); ok {
		return addr
	}
	return s.server.Addr
}

// String names the service in supervision logs.
func (s *HTTPService) String() string { return "http-server" }
