package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/getmockd/vbackend/pkg/clock"
	"github.com/getmockd/vbackend/pkg/consistency"
	"github.com/getmockd/vbackend/pkg/entity"
	"github.com/getmockd/vbackend/pkg/logging"
	"github.com/getmockd/vbackend/pkg/store"
)

// Resolver finds the tracker of a workspace. It returns a
// *store.NotFoundError for an unknown workspace.
type Resolver interface {
	Tracker(workspace string) (*consistency.Tracker, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(workspace string) (*consistency.Tracker, error)

// Tracker calls f.
func (f ResolverFunc) Tracker(workspace string) (*consistency.Tracker, error) { return f(workspace) }

// Manager saves, restores, lists and deletes snapshots.
type Manager struct {
	storage  Storage
	resolver Resolver
	sim      *clock.Simulator
	now      clock.Source
	log      *slog.Logger

	// mu orders mutations of the snapshot namespace. Reads do not take it.
	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithSimulator sets the time simulator whose offsets snapshots may carry.
func WithSimulator(sim *clock.Simulator) Option {
	return func(m *Manager) { m.sim = sim }
}

// WithCreatedAt sets the source of snapshot creation times. Defaults to the
// wall clock.
func WithCreatedAt(src clock.Source) Option {
	return func(m *Manager) { m.now = src }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager returns a manager that owns storage.
func NewManager(storage Storage, resolver Resolver, opts ...Option) *Manager {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	m := &Manager{
		storage:  storage,
		resolver: resolver,
		now:      clock.Real(),
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Storage returns the kind of the underlying storage.
func (m *Manager) Storage() store.Backend { return m.storage.Kind() }

type saveOptions struct {
	withClock bool
}

// SaveOption configures a single Save.
type SaveOption func(*saveOptions)

// WithClock records the workspace's clock offset in the snapshot.
func WithClock() SaveOption {
	return func(o *saveOptions) { o.withClock = true }
}

type loadOptions struct {
	restoreClock bool
}

// LoadOption configures a single Load.
type LoadOption func(*loadOptions)

// RestoreClock re-applies the clock offset recorded in the snapshot as
// part of the restore. Snapshots saved without WithClock leave the clock
// alone.
func RestoreClock() LoadOption {
	return func(o *loadOptions) { o.restoreClock = true }
}

// Save captures the current state of workspace under name. It fails with a
// *store.ConflictError if the name is taken; existing snapshots are never
// overwritten.
func (m *Manager) Save(ctx context.Context, workspace, name, description string, opts ...SaveOption) (*Descriptor, error) {
	var o saveOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	tr, err := m.resolver.Tracker(workspace)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Fail fast before stopping the workspace.
	if _, err := m.storage.Descriptor(ctx, workspace, name); err == nil {
		return nil, &store.ConflictError{Kind: store.KindSnapshot, Workspace: workspace, Name: name}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, m.storageErr(workspace, name, "read descriptor", err)
	}

	var cs *ClockState
	records, err := tr.Capture(ctx, func() {
		if o.withClock && m.sim != nil {
			st := m.sim.Status(workspace)
			cs = &ClockState{State: st.State, Offset: st.Offset}
			if st.Scale != 1 {
				cs.Scale = st.Scale
			}
		}
	})
	if err != nil {
		return nil, err
	}

	state, err := encodeState(records)
	if err != nil {
		return nil, store.IOError(m.storage.Kind(), "encode state", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, store.IOError(m.storage.Kind(), "generate id", err)
	}
	d := &Descriptor{
		ID:            id.String(),
		Name:          name,
		Workspace:     workspace,
		Description:   description,
		CreatedAt:     m.now.Now().UTC().Round(0),
		EntityCounts:  entity.CountByType(records),
		TotalEntities: len(records),
		SizeBytes:     int64(len(state)),
		Checksum:      checksum(state),
		Format:        FormatVersion,
		Backend:       tr.BackendKind(),
		Clock:         cs,
	}
	if err := m.storage.Create(ctx, d, state); err != nil {
		return nil, m.storageErr(workspace, name, "create", err)
	}

	m.log.Info("snapshot saved",
		"workspace", workspace,
		"name", name,
		"id", d.ID,
		"entities", d.TotalEntities,
		"bytes", d.SizeBytes,
	)
	return d.Clone(), nil
}

// Open returns a snapshot together with its verified state.
func (m *Manager) Open(ctx context.Context, workspace, name string) (*Snapshot, error) {
	d, err := m.Get(ctx, workspace, name)
	if err != nil {
		return nil, err
	}
	data, err := m.storage.State(ctx, d)
	if err != nil {
		return nil, m.storageErr(workspace, name, "read state", err)
	}
	if err := d.verify(data); err != nil {
		return nil, store.IOError(m.storage.Kind(), "verify", err)
	}
	records, err := decodeState(data)
	if err != nil {
		return nil, store.IOError(m.storage.Kind(), "decode state", err)
	}
	return &Snapshot{Descriptor: d, State: records}, nil
}

// Validation is the outcome of checking a stored snapshot.
type Validation struct {
	Workspace string `json:"workspace"`
	Name      string `json:"name"`
	ID        string `json:"id"`
	Valid     bool   `json:"valid"`
	Checksum  string `json:"checksum"`
	// Actual is the checksum of the stored state when it differs.
	Actual string `json:"actual,omitempty"`
	// Problem says why an invalid snapshot cannot be loaded.
	Problem string `json:"problem,omitempty"`
}

// Validate checks that a snapshot's stored state matches its checksum and
// decodes into valid records. A corrupt snapshot is reported in the
// result; the error is reserved for snapshots that are missing or cannot
// be read at all.
func (m *Manager) Validate(ctx context.Context, workspace, name string) (*Validation, error) {
	d, err := m.Get(ctx, workspace, name)
	if err != nil {
		return nil, err
	}
	data, err := m.storage.State(ctx, d)
	if err != nil {
		return nil, m.storageErr(workspace, name, "read state", err)
	}
	v := &Validation{Workspace: workspace, Name: name, ID: d.ID, Checksum: d.Checksum}
	if got := checksum(data); got != d.Checksum {
		v.Actual = got
		v.Problem = ErrChecksumMismatch.Error()
		return v, nil
	}
	if _, err := decodeState(data); err != nil {
		v.Problem = "undecodable state: " + err.Error()
		return v, nil
	}
	v.Valid = true
	return v, nil
}

// Load replaces the entire live state of workspace with the snapshot's.
// Concurrent protocol operations see either the old state or the new one.
// If the snapshot is missing or unreadable the live state is untouched. It
// returns the descriptor of the snapshot that was restored.
func (m *Manager) Load(ctx context.Context, workspace, name string, opts ...LoadOption) (*Descriptor, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	tr, err := m.resolver.Tracker(workspace)
	if err != nil {
		return nil, err
	}
	snap, err := m.Open(ctx, workspace, name)
	if err != nil {
		return nil, err
	}

	err = tr.Restore(ctx, snap.State, func() {
		if o.restoreClock && m.sim != nil && snap.Clock != nil {
			m.restoreClock(workspace, snap.Clock)
		}
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("snapshot loaded",
		"workspace", workspace,
		"name", name,
		"id", snap.ID,
		"entities", len(snap.State),
	)
	return snap.Descriptor.Clone(), nil
}

func (m *Manager) restoreClock(workspace string, cs *ClockState) {
	m.sim.Reset(workspace)
	if cs.Scale > 0 && cs.Scale != 1 {
		// a recorded scale is always valid
		_ = m.sim.SetScale(workspace, cs.Scale)
	}
	m.sim.SetOffset(workspace, cs.Offset)
}

// Delete removes a snapshot. The live state is not affected.
func (m *Manager) Delete(ctx context.Context, workspace, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.storage.Delete(ctx, workspace, name); err != nil {
		return m.storageErr(workspace, name, "delete", err)
	}
	m.log.Info("snapshot deleted", "workspace", workspace, "name", name)
	return nil
}

// Get returns the metadata of one snapshot.
func (m *Manager) Get(ctx context.Context, workspace, name string) (*Descriptor, error) {
	d, err := m.storage.Descriptor(ctx, workspace, name)
	if err != nil {
		return nil, m.storageErr(workspace, name, "read descriptor", err)
	}
	return d, nil
}

// List returns the metadata of every snapshot in workspace, oldest first.
func (m *Manager) List(ctx context.Context, workspace string) ([]*Descriptor, error) {
	ds, err := m.storage.List(ctx, workspace)
	if err != nil {
		return nil, m.storageErr(workspace, "", "list", err)
	}
	sortDescriptors(ds)
	return ds, nil
}

// DeleteWorkspace removes every snapshot of workspace.
func (m *Manager) DeleteWorkspace(ctx context.Context, workspace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.storage.DeleteWorkspace(ctx, workspace); err != nil {
		return m.storageErr(workspace, "", "delete workspace", err)
	}
	return nil
}

// Close closes the storage.
func (m *Manager) Close() error {
	return m.storage.Close()
}

func (m *Manager) storageErr(workspace, name, op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &store.NotFoundError{Kind: store.KindSnapshot, Workspace: workspace, Name: name}
	case errors.Is(err, store.ErrConflict):
		return &store.ConflictError{Kind: store.KindSnapshot, Workspace: workspace, Name: name}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return store.IOError(m.storage.Kind(), op, err)
}
