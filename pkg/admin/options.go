package admin

import (
	"log/slog"
	"time"

	"github.com/getmockd/vbackend/pkg/metrics"
)

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger for request and error logging.
func WithLogger(log *slog.Logger) Option {
	return func(a *API) {
		if log != nil {
			a.log = log
		}
	}
}

// WithMetrics records request metrics and serves GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *API) { a.metrics = m }
}

// WithVersion sets the version reported by GET /health.
func WithVersion(v string) Option {
	return func(a *API) {
		if v != "" {
			a.version = v
		}
	}
}

// WithRequestTimeout bounds every non-streaming request.
func WithRequestTimeout(d time.Duration) Option {
	return func(a *API) { a.requestTimeout = d }
}

// WithCORSOrigins sets the allowed browser origins. Patterns may contain
// one '*' wildcard, for example "http://localhost:*".
func WithCORSOrigins(origins ...string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithRateLimit limits each client to rps requests per second with the
// given burst. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *API) {
		a.rateLimit = rps
		if burst > 0 {
			a.rateBurst = burst
		}
	}
}

// WithStartTime sets the instant uptime is measured from.
func WithStartTime(t time.Time) Option {
	return func(a *API) { a.startedAt = t }
}
