package consistency

import (
	"sync/atomic"
	"time"

	"github.com/getmockd/vbackend/pkg/entity"
)

// Observer defines hooks for observability and metrics collection.
// Implementations can use these hooks to collect metrics, log operations,
// or export to Prometheus.
type Observer interface {
	// OnUpsert is called after a successful upsert. created reports whether
	// the record did not exist before.
	OnUpsert(workspace string, protocol entity.Protocol, created bool, duration time.Duration)

	// OnRead is called after a successful single-record read.
	OnRead(workspace string, protocol entity.Protocol, duration time.Duration)

	// OnList is called after a successful list.
	OnList(workspace string, protocol entity.Protocol, count int, duration time.Duration)

	// OnDelete is called after a successful delete.
	OnDelete(workspace string, protocol entity.Protocol, duration time.Duration)

	// OnLockWait is called with the time spent waiting for a lock, whether
	// or not it was granted.
	OnLockWait(workspace, scope string, waited time.Duration, granted bool)

	// OnError is called when an operation fails.
	OnError(workspace string, operation string, err error)

	// OnRestore is called after the whole store was replaced.
	OnRestore(workspace string, records int, duration time.Duration)
}

// NoopObserver is a no-op implementation of Observer for when metrics are disabled.
type NoopObserver struct{}

func (NoopObserver) OnUpsert(string, entity.Protocol, bool, time.Duration) {}
func (NoopObserver) OnRead(string, entity.Protocol, time.Duration)         {}
func (NoopObserver) OnList(string, entity.Protocol, int, time.Duration)    {}
func (NoopObserver) OnDelete(string, entity.Protocol, time.Duration)       {}
func (NoopObserver) OnLockWait(string, string, time.Duration, bool)        {}
func (NoopObserver) OnError(string, string, error)                         {}
func (NoopObserver) OnRestore(string, int, time.Duration)                  {}

// MetricsObserver keeps in-memory counters of tracker operations. All
// counters are atomic.
type MetricsObserver struct {
	createCount    atomic.Int64
	updateCount    atomic.Int64
	readCount      atomic.Int64
	listCount      atomic.Int64
	deleteCount    atomic.Int64
	errorCount     atomic.Int64
	lockTimeouts   atomic.Int64
	restoreCount   atomic.Int64
	totalLatencyNs atomic.Int64
}

// NewMetricsObserver creates a new metrics observer.
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

func (m *MetricsObserver) OnUpsert(_ string, _ entity.Protocol, created bool, d time.Duration) {
	if created {
		m.createCount.Add(1)
	} else {
		m.updateCount.Add(1)
	}
	m.totalLatencyNs.Add(int64(d))
}

func (m *MetricsObserver) OnRead(_ string, _ entity.Protocol, d time.Duration) {
	m.readCount.Add(1)
	m.totalLatencyNs.Add(int64(d))
}

func (m *MetricsObserver) OnList(_ string, _ entity.Protocol, _ int, d time.Duration) {
	m.listCount.Add(1)
	m.totalLatencyNs.Add(int64(d))
}

func (m *MetricsObserver) OnDelete(_ string, _ entity.Protocol, d time.Duration) {
	m.deleteCount.Add(1)
	m.totalLatencyNs.Add(int64(d))
}

func (m *MetricsObserver) OnLockWait(_, _ string, _ time.Duration, granted bool) {
	if !granted {
		m.lockTimeouts.Add(1)
	}
}

func (m *MetricsObserver) OnError(string, string, error) {
	m.errorCount.Add(1)
}

func (m *MetricsObserver) OnRestore(_ string, _ int, d time.Duration) {
	m.restoreCount.Add(1)
	m.totalLatencyNs.Add(int64(d))
}

// Snapshot returns a copy of the current counters.
func (m *MetricsObserver) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		CreateCount:  m.createCount.Load(),
		UpdateCount:  m.updateCount.Load(),
		ReadCount:    m.readCount.Load(),
		ListCount:    m.listCount.Load(),
		DeleteCount:  m.deleteCount.Load(),
		ErrorCount:   m.errorCount.Load(),
		LockTimeouts: m.lockTimeouts.Load(),
		RestoreCount: m.restoreCount.Load(),
		TotalLatency: time.Duration(m.totalLatencyNs.Load()),
	}
}

// Reset clears all counters.
func (m *MetricsObserver) Reset() {
	m.createCount.Store(0)
	m.updateCount.Store(0)
	m.readCount.Store(0)
	m.listCount.Store(0)
	m.deleteCount.Store(0)
	m.errorCount.Store(0)
	m.lockTimeouts.Store(0)
	m.restoreCount.Store(0)
	m.totalLatencyNs.Store(0)
}

// MetricsSnapshot is a point-in-time copy of MetricsObserver counters.
type MetricsSnapshot struct {
	CreateCount  int64         `json:"createCount"`
	UpdateCount  int64         `json:"updateCount"`
	ReadCount    int64         `json:"readCount"`
	ListCount    int64         `json:"listCount"`
	DeleteCount  int64         `json:"deleteCount"`
	ErrorCount   int64         `json:"errorCount"`
	LockTimeouts int64         `json:"lockTimeouts"`
	RestoreCount int64         `json:"restoreCount"`
	TotalLatency time.Duration `json:"totalLatencyNs"`
}

// TotalOperations returns the number of successful entity operations.
func (s MetricsSnapshot) TotalOperations() int64 {
	return s.CreateCount + s.UpdateCount + s.ReadCount + s.ListCount + s.DeleteCount
}

// Observers fans every hook out to each observer in order.
type Observers []Observer

func (o Observers) OnUpsert(ws string, p entity.Protocol, created bool, d time.Duration) {
	for _, ob := range o {
		ob.OnUpsert(ws, p, created, d)
	}
}

func (o Observers) OnRead(ws string, p entity.Protocol, d time.Duration) {
	for _, ob := range o {
		ob.OnRead(ws, p, d)
	}
}

func (o Observers) OnList(ws string, p entity.Protocol, n int, d time.Duration) {
	for _, ob := range o {
		ob.OnList(ws, p, n, d)
	}
}

func (o Observers) OnDelete(ws string, p entity.Protocol, d time.Duration) {
	for _, ob := range o {
		ob.OnDelete(ws, p, d)
	}
}

func (o Observers) OnLockWait(ws, scope string, waited time.Duration, granted bool) {
	for _, ob := range o {
		ob.OnLockWait(ws, scope, waited, granted)
	}
}

func (o Observers) OnError(ws, op string, err error) {
	for _, ob := range o {
		ob.OnError(ws, op, err)
	}
}

func (o Observers) OnRestore(ws string, n int, d time.Duration) {
	for _, ob := range o {
		ob.OnRestore(ws, n, d)
	}
}
