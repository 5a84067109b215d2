// SPDX-License-Identifier: MIT
package api

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sirius-college/attendance-monitoring/internal/log"
)

// requestID assigns every request a correlation ID, honouring an inbound
// X-Request-ID when present.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		ctx := log.ContextWithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// realIP rewrites RemoteAddr from X-Forwarded-For, but only when the direct
// peer is inside a trusted proxy CIDR. Untrusted peers cannot spoof their IP
// past the rate limiter.
func (s *Server) realIP(next http.Handler) http.Handler {
	trusted := parseCIDRs(s.opts.TrustedProxies)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(trusted) > 0 {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err == nil {
				ip := net.ParseIP(host)
				if ip != nil && ipInAny(ip, trusted) {
					if fwd := firstForwardedIP(r.Header.Get("X-Forwarded-For")); fwd != "" {
						r.RemoteAddr = net.JoinHostPort(fwd, "0")
					}
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func parseCIDRs(csv string) []*net.IPNet {
	var out []*net.IPNet
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ipnet, err := net.ParseCIDR(part); err == nil {
			out = append(out, ipnet)
		}
	}
	return out
}

func ipInAny(ip net.IP, nets []*net.IPNet) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func firstForwardedIP(header string) string {
	if header == "" {
		return ""
	}
	first := strings.TrimSpace(strings.Split(header, ",")[0])
	if net.ParseIP(first) == nil {
		return ""
	}
	return first
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		// Probes are scraped constantly; keep them out of the info logs.
		ev := s.logger.Info()
		if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
			ev = s.logger.Debug()
		}
		ev.Str("event", "api.request").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Str("request_id", w.Header().Get("X-Request-ID")).
			Msg("request handled")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// requireToken enforces the X-API-Token header when a token is configured.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.APIToken != "" {
			got := r.Header.Get("X-API-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.APIToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing API token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
