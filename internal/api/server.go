// SPDX-License-Identifier: MIT

// Package api serves the attendance HTTP API: health and readiness probes,
// refresh control and the absence report endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sirius-college/attendance-monitoring/internal/jobs"
	"github.com/sirius-college/attendance-monitoring/internal/store"
)

// Options carries the server's own configuration slice.
type Options struct {
	ListenAddr     string
	APIToken       string // empty disables auth (bind to localhost in that case)
	TrustedProxies string // CSV of CIDRs allowed to set X-Forwarded-For
	ReadyStrict    bool   // readiness also probes the upstream feed
	Version        string
}

// Deps are the collaborators the handlers need.
type Deps struct {
	Store     *store.Store
	Refresher *jobs.Refresher
	// FeedPing probes the upstream feed; used only when ReadyStrict is set.
	FeedPing func(ctx context.Context) error
}

// Server is the attendance API server.
type Server struct {
	opts      Options
	deps      Deps
	logger    zerolog.Logger
	startedAt time.Time
	handler   http.Handler
}

// New builds the server and its route tree.
func New(opts Options, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		opts:      opts,
		deps:      deps,
		logger:    logger,
		startedAt: time.Now(),
	}
	s.handler = s.routes()
	return s
}

// Handler exposes the route tree, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str("event", "api.listen").
			Str("addr", s.opts.ListenAddr).
			Msg("api server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info().Str("event", "api.stopped").Msg("api server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
