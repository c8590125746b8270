// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"time"

	"github.com/aechclawbot/voicepipe/internal/log"
	"github.com/aechclawbot/voicepipe/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// routePattern returns the chi route pattern for the request, falling back
// to the raw path before routing has happened. Patterns keep metric and log
// cardinality bounded; raw paths would explode it.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// requestLogger emits one structured line per request. Probe and scrape
// endpoints log at debug so a 5s poll interval does not drown the log.
func requestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger := log.WithComponent("api")
			level := zerolog.InfoLevel
			switch r.URL.Path {
			case "/healthz", "/readyz", "/metrics":
				level = zerolog.DebugLevel
			}
			logger.WithLevel(level).
				Str("event", "http.request").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", routePattern(r)).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Int64("durMs", time.Since(start).Milliseconds()).
				Str("requestId", chimw.GetReqID(r.Context())).
				Str("remote", r.RemoteAddr).
				Msg("request served")
		})
	}
}

// requestMetrics records per-route request duration.
func requestMetrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			metrics.ObserveHTTPRequest(routePattern(r), r.Method, ww.Status(), time.Since(start).Seconds())
		})
	}
}
