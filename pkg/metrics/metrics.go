package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/getmockd/vbackend/pkg/consistency"
	"github.com/getmockd/vbackend/pkg/entity"
	"github.com/getmockd/vbackend/pkg/store"
)

const namespace = "vbackend"

// Operation label values.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpRead   = "read"
	OpList   = "list"
	OpDelete = "delete"
)

// DefaultBuckets are tuned for in-memory operations that occasionally wait
// on a lock or a database.
var DefaultBuckets = []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5}

// Metrics holds every collector of one server.
type Metrics struct {
	registry *prometheus.Registry

	EntityOperations *prometheus.CounterVec
	EntityErrors     *prometheus.CounterVec
	EntityDuration   *prometheus.HistogramVec
	LockWait         *prometheus.HistogramVec
	Restores         *prometheus.CounterVec
	RestoredRecords  *prometheus.GaugeVec

	AdminRequests        *prometheus.CounterVec
	AdminRequestDuration *prometheus.HistogramVec
}

var _ consistency.Observer = (*Metrics)(nil)

// New creates the collectors and registers them, with the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EntityOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_operations_total",
			Help:      "Successful entity operations by workspace, operation and protocol.",
		}, []string{"workspace", "operation", "protocol"}),
		EntityErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entity_errors_total",
			Help:      "Failed entity operations by workspace, operation and error kind.",
		}, []string{"workspace", "operation", "kind"}),
		EntityDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "entity_operation_duration_seconds",
			Help:      "Duration of entity operations including lock waits.",
			Buckets:   DefaultBuckets,
		}, []string{"operation"}),
		LockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for key locks and workspace exclusivity.",
			Buckets:   DefaultBuckets,
		}, []string{"scope", "granted"}),
		Restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_restores_total",
			Help:      "Snapshot restores by workspace.",
		}, []string{"workspace"}),
		RestoredRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_restored_records",
			Help:      "Number of records installed by the last restore of a workspace.",
		}, []string{"workspace"}),
		AdminRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_requests_total",
			Help:      "Admin API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		AdminRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admin_request_duration_seconds",
			Help:      "Duration of admin API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		m.EntityOperations, m.EntityErrors, m.EntityDuration, m.LockWait,
		m.Restores, m.RestoredRecords,
		m.AdminRequests, m.AdminRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) OnUpsert(workspace string, protocol entity.Protocol, created bool, d time.Duration) {
	op := OpUpdate
	if created {
		op = OpCreate
	}
	m.record(workspace, op, protocol, d)
}

func (m *Metrics) OnRead(workspace string, protocol entity.Protocol, d time.Duration) {
	m.record(workspace, OpRead, protocol, d)
}

func (m *Metrics) OnList(workspace string, protocol entity.Protocol, _ int, d time.Duration) {
	m.record(workspace, OpList, protocol, d)
}

func (m *Metrics) OnDelete(workspace string, protocol entity.Protocol, d time.Duration) {
	m.record(workspace, OpDelete, protocol, d)
}

func (m *Metrics) OnLockWait(_, scope string, waited time.Duration, granted bool) {
	m.LockWait.WithLabelValues(scope, strconv.FormatBool(granted)).Observe(waited.Seconds())
}

func (m *Metrics) OnError(workspace, operation string, err error) {
	m.EntityErrors.WithLabelValues(workspace, operation, ErrorKind(err)).Inc()
}

func (m *Metrics) OnRestore(workspace string, records int, _ time.Duration) {
	m.Restores.WithLabelValues(workspace).Inc()
	m.RestoredRecords.WithLabelValues(workspace).Set(float64(records))
}

func (m *Metrics) record(workspace, op string, protocol entity.Protocol, d time.Duration) {
	m.EntityOperations.WithLabelValues(workspace, op, string(protocol)).Inc()
	m.EntityDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ErrorKind returns the label value for err.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, store.ErrStorageIO):
		return "storage_io"
	case errors.Is(err, store.ErrInvalid):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
