// Package admin serves the HTTP API used to inspect and drive the virtual
// backend: workspaces, entities, snapshots, simulated time and a live feed
// of committed changes.
package admin

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	"github.com/getmockd/vbackend/pkg/logging"
	"github.com/getmockd/vbackend/pkg/metrics"
	"github.com/getmockd/vbackend/pkg/workspace"
)

// ProtocolHeader names the protocol an entity request is made on behalf of.
const ProtocolHeader = "X-Protocol"

// API is the admin HTTP API.
type API struct {
	registry *workspace.Registry
	metrics  *metrics.Metrics
	log      *slog.Logger

	version        string
	startedAt      time.Time
	requestTimeout time.Duration
	corsOrigins    []string
	rateLimit      float64
	rateBurst      int

	handler http.Handler
}

// New returns an API serving reg.
func New(reg *workspace.Registry, opts ...Option) *API {
	a := &API{
		registry:    reg,
		log:         logging.Nop(),
		version:     "dev",
		startedAt:   time.Now(),
		corsOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		rateBurst:   DefaultBurstSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.handler = a.buildHandler()
	return a
}

// Handler returns the fully wrapped HTTP handler.
func (a *API) Handler() http.Handler { return a.handler }

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) { a.handler.ServeHTTP(w, r) }

// buildHandler assembles the middleware chain, outermost first: CORS,
// security headers, access log, rate limit, request timeout, metrics,
// routes. Metrics sits directly on the mux so that it sees the
// request the mux records the matched pattern on.
func (a *API) buildHandler() http.Handler {
	mux := http.NewServeMux()
	a.registerRoutes(mux)

	var h http.Handler = mux
	if a.metrics != nil {
		h = a.metrics.Middleware(h)
	}
	if a.requestTimeout > 0 {
		h = timeoutMiddleware(a.requestTimeout, h)
	}
	if a.rateLimit > 0 {
		h = newRateLimiter(a.rateLimit, a.rateBurst).middleware(h)
	}
	h = accessLog(a.log, h)
	h = securityHeaders(h)
	return a.cors().Handler(h)
}

func (a *API) cors() *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins: a.corsOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Content-Type", ProtocolHeader},
		MaxAge:         86400,
	})
}

// timeoutMiddleware bounds each request's context. Websocket upgrades are
// long-lived and pass through untouched.
func timeoutMiddleware(d time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), d)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// securityHeaders adds the standard hardening headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController and the websocket upgrade reach the
// underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func accessLog(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		level := slog.LevelDebug
		if sw.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		log.Log(r.Context(), level, "admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}
