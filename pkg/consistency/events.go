package consistency

import (
	"sync/atomic"
	"time"

	"github.com/getmockd/vbackend/pkg/entity"
)

// Operation names a committed change.
type Operation string

// Change operations.
const (
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpRestore Operation = "restore"
)

// ChangeEvent describes one committed mutation of a workspace.
type ChangeEvent struct {
	Workspace string          `json:"workspace"`
	Operation Operation       `json:"operation"`
	Key       entity.Key      `json:"key,omitzero"`
	Protocol  entity.Protocol `json:"protocol,omitempty"`
	Version   uint64          `json:"version,omitempty"`
	Timestamp time.Time       `json:"timestamp"`

	// Count is the number of records installed by a restore.
	Count int `json:"count,omitempty"`
}

// Listener receives change events. It is called synchronously while the
// changed key is still locked, so events for one key arrive in commit
// order. Listeners must not block and must not call back into the tracker.
type Listener func(ChangeEvent)

// Subscribe registers l and returns a function that removes it.
func (t *Tracker) Subscribe(l Listener) (unsubscribe func()) {
	t.listenersMu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = l
	t.listenersMu.Unlock()

	return func() {
		t.listenersMu.Lock()
		delete(t.listeners, id)
		t.listenersMu.Unlock()
	}
}

func (t *Tracker) emit(ev ChangeEvent) {
	ev.Workspace = t.Workspace()

	t.listenersMu.RLock()
	listeners := make([]Listener, 0, len(t.listeners))
	for _, l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.listenersMu.RUnlock()

	for _, l := range listeners {
		t.deliver(l, ev)
	}
}

func (t *Tracker) deliver(l Listener, ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("change listener panicked", "workspace", ev.Workspace, "operation", ev.Operation, "panic", r)
		}
	}()
	l(ev)
}

// ProtocolStats counts successful operations issued by one protocol.
type ProtocolStats struct {
	Reads  int64 `json:"reads"`
	Writes int64 `json:"writes"`
}

type protocolCounter struct {
	reads  atomic.Int64
	writes atomic.Int64
}

// ProtocolStats returns per-protocol operation counts for protocols that
// issued at least one operation.
func (t *Tracker) ProtocolStats() map[entity.Protocol]ProtocolStats {
	out := make(map[entity.Protocol]ProtocolStats)
	for p, c := range t.stats {
		s := ProtocolStats{Reads: c.reads.Load(), Writes: c.writes.Load()}
		if s.Reads+s.Writes > 0 {
			out[p] = s
		}
	}
	return out
}

func (t *Tracker) count(p entity.Protocol, read bool) {
	c, ok := t.stats[p]
	if !ok {
		return
	}
	if read {
		c.reads.Add(1)
	} else {
		c.writes.Add(1)
	}
}
