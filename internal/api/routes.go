// SPDX-License-Identifier: MIT
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestID)
	r.Use(s.realIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// Probes stay cheap: no rate limit, no tracing.
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api", func(r chi.Router) {
		r.Use(otelMiddleware)
		r.Use(httprate.LimitByIP(60, time.Minute))
		r.Use(s.requireToken)

		r.Get("/status", s.handleStatus)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/absences", s.handleAbsences)
		r.Get("/students", s.handleStudentSearch)
		r.Get("/students/{code}/summary", s.handleStudentSummary)
	})

	return r
}

// otelMiddleware traces API requests, naming spans by route pattern.
func otelMiddleware(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "attendance-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				return r.Method + " " + rctx.RoutePattern()
			}
			return r.Method + " " + r.URL.Path
		}),
	)
}
