// Package consistency serializes access to a workspace's entity store.
//
// Every protocol adapter reaches entities through a Tracker. Operations on
// one key run one at a time; operations on different keys never wait for
// each other. A workspace gate sits above the key locks: per-key operations
// hold it shared, Exclusive holds all of it. The gate is FIFO, so a waiting
// snapshot restore is not starved by a stream of writers and writers that
// arrive after it wait for it to finish.
//
// Lock waits honour the caller's context. When the context carries no
// deadline the tracker's default lock timeout applies. A caller that gives
// up waiting gets a *store.LockTimeoutError and the operation has no effect.
// Failed operations are never retried.
package consistency

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/getmockd/vbackend/pkg/clock"
	"github.com/getmockd/vbackend/pkg/document"
	"github.com/getmockd/vbackend/pkg/entity"
	"github.com/getmockd/vbackend/pkg/logging"
	"github.com/getmockd/vbackend/pkg/store"
)

// DefaultLockTimeout bounds lock waits when the caller's context has no
// deadline.
const DefaultLockTimeout = 5 * time.Second

// gateWeight is the weight Exclusive acquires. Shared holders take 1.
const gateWeight = 1 << 30

// Tracker guards one workspace's entity store.
type Tracker struct {
	store       *entity.Store
	gate        *semaphore.Weighted
	clock       clock.Source
	lockTimeout time.Duration
	trackReads  bool
	observer    Observer
	log         *slog.Logger

	mu   sync.Mutex
	keys map[entity.Key]*keyLock

	stats map[entity.Protocol]*protocolCounter

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextID      int
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLockTimeout sets the default lock timeout. Non-positive values keep
// the default.
func WithLockTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.lockTimeout = d
		}
	}
}

// WithTrackReads controls whether reads add the reading protocol to a
// record's provenance. Enabled by default.
func WithTrackReads(on bool) Option {
	return func(t *Tracker) { t.trackReads = on }
}

// WithObserver sets the operation observer.
func WithObserver(o Observer) Option {
	return func(t *Tracker) {
		if o != nil {
			t.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// WithClock sets the source of change event timestamps. It should be the
// workspace's virtual clock.
func WithClock(src clock.Source) Option {
	return func(t *Tracker) { t.clock = src }
}

// New returns a tracker guarding s.
func New(s *entity.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:       s,
		gate:        semaphore.NewWeighted(gateWeight),
		clock:       clock.Real(),
		lockTimeout: DefaultLockTimeout,
		trackReads:  true,
		observer:    NoopObserver{},
		log:         logging.Nop(),
		keys:        make(map[entity.Key]*keyLock),
		stats:       make(map[entity.Protocol]*protocolCounter, len(entity.Protocols)),
		listeners:   make(map[int]Listener),
	}
	for _, p := range entity.Protocols {
		t.stats[p] = &protocolCounter{}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Workspace returns the guarded workspace ID.
func (t *Tracker) Workspace() string { return t.store.Workspace() }

// BackendKind names the entity backend behind the tracker.
func (t *Tracker) BackendKind() store.Backend { return t.store.BackendKind() }

// LockTimeout returns the default lock timeout.
func (t *Tracker) LockTimeout() time.Duration { return t.lockTimeout }

// Upsert writes data at (entityType, id) on behalf of protocol.
func (t *Tracker) Upsert(ctx context.Context, protocol entity.Protocol, entityType, id string, data document.Value) (*entity.Record, error) {
	key := entity.NewKey(entityType, id)
	if err := key.Validate(); err != nil {
		return nil, t.fail("upsert", err)
	}
	release, err := t.lockKey(ctx, key)
	if err != nil {
		return nil, t.fail("upsert", err)
	}
	defer release()

	start := time.Now()
	rec, err := t.store.Upsert(ctx, entityType, id, data, protocol)
	if err != nil {
		return nil, t.fail("upsert", err)
	}
	created := rec.Version == 1
	t.observer.OnUpsert(t.Workspace(), protocol, created, time.Since(start))
	t.count(protocol, false)

	op := OpUpdate
	if created {
		op = OpCreate
	}
	t.emit(ChangeEvent{Operation: op, Key: key, Protocol: protocol, Version: rec.Version, Timestamp: rec.UpdatedAt})
	return rec, nil
}

// Get returns the record at (entityType, id) as read by protocol.
func (t *Tracker) Get(ctx context.Context, protocol entity.Protocol, entityType, id string) (*entity.Record, error) {
	key := entity.NewKey(entityType, id)
	if !protocol.Valid() {
		return nil, t.fail("get", invalidProtocol(protocol))
	}
	release, err := t.lockKey(ctx, key)
	if err != nil {
		return nil, t.fail("get", err)
	}
	defer release()

	start := time.Now()
	var rec *entity.Record
	if t.trackReads {
		rec, err = t.store.Touch(ctx, entityType, id, protocol)
	} else {
		rec, err = t.store.Get(ctx, entityType, id)
	}
	if err != nil {
		return nil, t.fail("get", err)
	}
	t.observer.OnRead(t.Workspace(), protocol, time.Since(start))
	t.count(protocol, true)
	return rec, nil
}

// List returns the records of entityType (all types when empty) as read by
// protocol. The state is taken once at call time; the sequence can be
// ranged over repeatedly and yields fresh copies each time.
//
// When reads are tracked, every record that lacks protocol is locked before
// any of them is tagged. If a lock wait fails nothing is tagged.
func (t *Tracker) List(ctx context.Context, protocol entity.Protocol, entityType string) (iter.Seq[*entity.Record], error) {
	if !protocol.Valid() {
		return nil, t.fail("list", invalidProtocol(protocol))
	}
	release, err := t.lockGate(ctx, 1, store.ScopeWorkspace, "")
	if err != nil {
		return nil, t.fail("list", err)
	}
	defer release()

	start := time.Now()
	recs, err := t.scan(ctx, entityType)
	if err != nil {
		return nil, t.fail("list", err)
	}
	if t.trackReads {
		if recs, err = t.tagAll(ctx, recs, protocol); err != nil {
			return nil, t.fail("list", err)
		}
	}

	t.observer.OnList(t.Workspace(), protocol, len(recs), time.Since(start))
	t.count(protocol, true)
	return records(recs), nil
}

// Browse lists records like List without reading on behalf of a protocol.
// Provenance, observers and protocol stats are left alone.
func (t *Tracker) Browse(ctx context.Context, entityType string) (iter.Seq[*entity.Record], error) {
	release, err := t.lockGate(ctx, 1, store.ScopeWorkspace, "")
	if err != nil {
		return nil, err
	}
	defer release()

	recs, err := t.scan(ctx, entityType)
	if err != nil {
		return nil, err
	}
	return records(recs), nil
}

// Peek returns the record at (entityType, id) without tagging it.
func (t *Tracker) Peek(ctx context.Context, entityType, id string) (*entity.Record, error) {
	release, err := t.lockKey(ctx, entity.NewKey(entityType, id))
	if err != nil {
		return nil, err
	}
	defer release()
	return t.store.Get(ctx, entityType, id)
}

func (t *Tracker) scan(ctx context.Context, entityType string) ([]*entity.Record, error) {
	seq, err := t.store.List(ctx, entityType)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

func records(recs []*entity.Record) iter.Seq[*entity.Record] {
	return func(yield func(*entity.Record) bool) {
		for _, rec := range recs {
			if !yield(rec.Clone()) {
				return
			}
		}
	}
}

// tagAll adds protocol to the provenance of every record in recs. The key
// locks of all untagged records are taken in key order first, so a failed
// wait leaves every record as it was. Records deleted since the scan are
// dropped. The caller holds the gate.
func (t *Tracker) tagAll(ctx context.Context, recs []*entity.Record, protocol entity.Protocol) ([]*entity.Record, error) {
	var keys []entity.Key
	for _, rec := range recs {
		if !rec.SeenIn.Has(protocol) {
			keys = append(keys, rec.Key())
		}
	}
	if len(keys) == 0 {
		return recs, nil
	}
	slices.SortFunc(keys, entity.Key.Compare)

	release, err := t.lockKeys(ctx, keys)
	if err != nil {
		return nil, err
	}
	defer release()

	out := make([]*entity.Record, 0, len(recs))
	for _, rec := range recs {
		if rec.SeenIn.Has(protocol) {
			out = append(out, rec)
			continue
		}
		touched, err := t.store.Touch(ctx, rec.Type, rec.ID, protocol)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// deleted since the scan
			continue
		case err != nil:
			return nil, err
		}
		out = append(out, touched)
	}
	return out, nil
}

// lockKeys takes the key locks of keys, which must be sorted, under one
// deadline. On failure every lock taken so far is released.
func (t *Tracker) lockKeys(ctx context.Context, keys []entity.Key) (func(), error) {
	lctx, cancel := t.lockContext(ctx)
	defer cancel()

	held := make([]*keyLock, 0, len(keys))
	release := func() {
		for i, kl := range held {
			kl.sem.Release(1)
			t.unref(keys[i])
		}
	}
	start := time.Now()
	for _, key := range keys {
		kl := t.ref(key)
		if err := kl.sem.Acquire(lctx, 1); err != nil {
			t.unref(key)
			release()
			waited := time.Since(start)
			t.observer.OnLockWait(t.Workspace(), store.ScopeKey, waited, false)
			return nil, t.lockErr(ctx, store.ScopeKey, key.String(), waited, err)
		}
		held = append(held, kl)
	}
	t.observer.OnLockWait(t.Workspace(), store.ScopeKey, time.Since(start), true)
	return release, nil
}

// Delete removes the record at (entityType, id) on behalf of protocol.
func (t *Tracker) Delete(ctx context.Context, protocol entity.Protocol, entityType, id string) error {
	key := entity.NewKey(entityType, id)
	if !protocol.Valid() {
		return t.fail("delete", invalidProtocol(protocol))
	}
	release, err := t.lockKey(ctx, key)
	if err != nil {
		return t.fail("delete", err)
	}
	defer release()

	start := time.Now()
	if err := t.store.Delete(ctx, entityType, id); err != nil {
		return t.fail("delete", err)
	}
	t.observer.OnDelete(t.Workspace(), protocol, time.Since(start))
	t.count(protocol, false)
	t.emit(ChangeEvent{Operation: OpDelete, Key: key, Protocol: protocol, Timestamp: t.clock.Now()})
	return nil
}

// Exclusive runs fn with the whole workspace to itself. No per-key
// operation is in flight while fn runs, and none starts until it returns.
// fn must not call back into the tracker.
func (t *Tracker) Exclusive(ctx context.Context, fn func(ctx context.Context, s *entity.Store) error) error {
	if err := t.exclusive(ctx, fn); err != nil {
		return t.fail("exclusive", err)
	}
	return nil
}

func (t *Tracker) exclusive(ctx context.Context, fn func(ctx context.Context, s *entity.Store) error) error {
	release, err := t.lockGate(ctx, gateWeight, store.ScopeWorkspace, "")
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, t.store)
}

// Capture returns a consistent copy of every record. within, if set, runs
// inside the same exclusive section after the copy is taken.
func (t *Tracker) Capture(ctx context.Context, within func()) ([]*entity.Record, error) {
	var recs []*entity.Record
	err := t.exclusive(ctx, func(ctx context.Context, s *entity.Store) error {
		var err error
		recs, err = s.Capture(ctx)
		if err != nil {
			return err
		}
		if within != nil {
			within()
		}
		return nil
	})
	if err != nil {
		return nil, t.fail("capture", err)
	}
	return recs, nil
}

// Restore replaces the whole store with records. within, if set, runs
// inside the same exclusive section after the records are installed.
// Observers never see a mix of old and new records.
func (t *Tracker) Restore(ctx context.Context, records []*entity.Record, within func()) error {
	start := time.Now()
	err := t.exclusive(ctx, func(ctx context.Context, s *entity.Store) error {
		if err := s.ReplaceAll(ctx, records); err != nil {
			return err
		}
		if within != nil {
			within()
		}
		return nil
	})
	if err != nil {
		return t.fail("restore", err)
	}
	t.observer.OnRestore(t.Workspace(), len(records), time.Since(start))
	t.emit(ChangeEvent{Operation: OpRestore, Count: len(records), Timestamp: t.clock.Now()})
	return nil
}

func (t *Tracker) lockContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.lockTimeout)
}

func (t *Tracker) lockGate(ctx context.Context, weight int64, scope, key string) (func(), error) {
	lctx, cancel := t.lockContext(ctx)
	defer cancel()

	start := time.Now()
	if err := t.gate.Acquire(lctx, weight); err != nil {
		waited := time.Since(start)
		t.observer.OnLockWait(t.Workspace(), scope, waited, false)
		return nil, t.lockErr(ctx, scope, key, waited, err)
	}
	t.observer.OnLockWait(t.Workspace(), scope, time.Since(start), true)
	return func() { t.gate.Release(weight) }, nil
}

// lockKey takes the gate shared and then the key lock. Both are released
// by the returned function.
func (t *Tracker) lockKey(ctx context.Context, key entity.Key) (func(), error) {
	lctx, cancel := t.lockContext(ctx)
	defer cancel()

	start := time.Now()
	if err := t.gate.Acquire(lctx, 1); err != nil {
		waited := time.Since(start)
		t.observer.OnLockWait(t.Workspace(), store.ScopeWorkspace, waited, false)
		return nil, t.lockErr(ctx, store.ScopeWorkspace, key.String(), waited, err)
	}
	kl := t.ref(key)
	if err := kl.sem.Acquire(lctx, 1); err != nil {
		t.unref(key)
		t.gate.Release(1)
		waited := time.Since(start)
		t.observer.OnLockWait(t.Workspace(), store.ScopeKey, waited, false)
		return nil, t.lockErr(ctx, store.ScopeKey, key.String(), waited, err)
	}
	t.observer.OnLockWait(t.Workspace(), store.ScopeKey, time.Since(start), true)
	return func() {
		kl.sem.Release(1)
		t.unref(key)
		t.gate.Release(1)
	}, nil
}

func (t *Tracker) ref(key entity.Key) *keyLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	kl, ok := t.keys[key]
	if !ok {
		kl = &keyLock{sem: semaphore.NewWeighted(1)}
		t.keys[key] = kl
	}
	kl.refs++
	return kl
}

func (t *Tracker) unref(key entity.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kl := t.keys[key]
	kl.refs--
	if kl.refs == 0 {
		delete(t.keys, key)
	}
}

// lockedKeys returns the number of keys with a holder or waiter.
func (t *Tracker) lockedKeys() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}

// lockErr maps a failed acquire. A cancelled caller gets its own error
// back; anything else is a lock timeout.
func (t *Tracker) lockErr(ctx context.Context, scope, key string, waited time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if scope == store.ScopeWorkspace && key == "" {
		t.log.Warn("timed out waiting for workspace", "workspace", t.Workspace(), "waited", waited)
	}
	return &store.LockTimeoutError{
		Scope:     scope,
		Workspace: t.Workspace(),
		Key:       key,
		Waited:    waited,
	}
}

func (t *Tracker) fail(op string, err error) error {
	t.observer.OnError(t.Workspace(), op, err)
	return err
}

func invalidProtocol(p entity.Protocol) error {
	return &store.ValidationError{Field: "protocol", Message: "unknown protocol " + string(p)}
}
