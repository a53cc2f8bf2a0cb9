// Package workspace manages the isolation boundaries of the virtual
// backend.
//
// A workspace owns one entity store, the consistency tracker in front of
// it, a snapshot namespace and a clock offset. Nothing is shared between
// workspaces except the registry itself and the storage they are kept in.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/getmockd/vbackend/pkg/clock"
	"github.com/getmockd/vbackend/pkg/consistency"
	"github.com/getmockd/vbackend/pkg/entity"
	"github.com/getmockd/vbackend/pkg/logging"
	"github.com/getmockd/vbackend/pkg/snapshot"
	"github.com/getmockd/vbackend/pkg/store"
)

// DefaultID is the workspace used when a caller does not name one.
const DefaultID = "default"

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,63}$`)

// ValidateID checks a workspace ID.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return &store.ValidationError{
			Field:   "workspace",
			Message: fmt.Sprintf("invalid workspace ID %q: use 1-64 letters, digits, '_', '.' or '-', starting with a letter or digit", id),
		}
	}
	return nil
}

// Workspace is a live workspace.
type Workspace struct {
	ID        string
	CreatedAt time.Time

	store   *entity.Store
	tracker *consistency.Tracker
}

// Tracker returns the tracker every protocol adapter must go through.
func (w *Workspace) Tracker() *consistency.Tracker { return w.tracker }

// Info summarises a workspace.
type Info struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	Backend   store.Backend  `json:"backend"`
	Entities  int            `json:"entities"`
	Types     map[string]int `json:"types,omitempty"`
	Clock     clock.Status   `json:"clock"`
}

// Registry creates, finds and deletes workspaces.
type Registry struct {
	mu         sync.RWMutex
	workspaces map[string]*Workspace
	// deleting holds the IDs whose teardown is in flight. The channel is
	// closed when it ends.
	deleting map[string]chan struct{}

	backends    Backends
	sim         *clock.Simulator
	snapshots   *snapshot.Manager
	observer    consistency.Observer
	lockTimeout time.Duration
	trackReads  bool
	autoCreate  bool
	log         *slog.Logger
}

// Option configures a Registry.
type Option func(*registryConfig)

type registryConfig struct {
	backends    Backends
	snapshots   snapshot.Storage
	sim         *clock.Simulator
	observer    consistency.Observer
	lockTimeout time.Duration
	trackReads  bool
	autoCreate  bool
	log         *slog.Logger
}

// WithBackends sets where entity records are kept. Defaults to memory.
func WithBackends(b Backends) Option {
	return func(c *registryConfig) { c.backends = b }
}

// WithSnapshotStorage sets where snapshots are kept. Defaults to memory.
func WithSnapshotStorage(s snapshot.Storage) Option {
	return func(c *registryConfig) { c.snapshots = s }
}

// WithSimulator shares a clock simulator with the registry.
func WithSimulator(sim *clock.Simulator) Option {
	return func(c *registryConfig) { c.sim = sim }
}

// WithObserver attaches o to every tracker.
func WithObserver(o consistency.Observer) Option {
	return func(c *registryConfig) { c.observer = o }
}

// WithLockTimeout sets the default lock timeout of every tracker.
func WithLockTimeout(d time.Duration) Option {
	return func(c *registryConfig) { c.lockTimeout = d }
}

// WithTrackReads controls whether reads add the reading protocol to a
// record's provenance.
func WithTrackReads(on bool) Option {
	return func(c *registryConfig) { c.trackReads = on }
}

// WithAutoCreate makes Resolve and Tracker create unknown workspaces.
func WithAutoCreate(on bool) Option {
	return func(c *registryConfig) { c.autoCreate = on }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *registryConfig) { c.log = log }
}

// NewRegistry creates a registry and reopens the workspaces that already
// hold records in persistent storage.
func NewRegistry(ctx context.Context, opts ...Option) (*Registry, error) {
	cfg := registryConfig{
		backends:    MemoryBackends{},
		lockTimeout: consistency.DefaultLockTimeout,
		trackReads:  true,
		autoCreate:  true,
		log:         logging.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sim == nil {
		cfg.sim = clock.NewSimulator()
	}

	r := &Registry{
		workspaces:  make(map[string]*Workspace),
		deleting:    make(map[string]chan struct{}),
		backends:    cfg.backends,
		sim:         cfg.sim,
		observer:    cfg.observer,
		lockTimeout: cfg.lockTimeout,
		trackReads:  cfg.trackReads,
		autoCreate:  cfg.autoCreate,
		log:         cfg.log,
	}
	r.snapshots = snapshot.NewManager(cfg.snapshots, r,
		snapshot.WithSimulator(cfg.sim),
		snapshot.WithLogger(logging.ForComponent(cfg.log, "snapshot")),
	)

	existing, err := r.backends.Existing(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range existing {
		if _, err := r.create(ctx, id); err != nil {
			return nil, fmt.Errorf("reopen workspace %s: %w", id, err)
		}
	}
	if len(existing) > 0 {
		r.log.Info("reopened workspaces", "count", len(existing), "backend", r.backends.Kind())
	}
	return r, nil
}

// Snapshots returns the snapshot manager of the registry.
func (r *Registry) Snapshots() *snapshot.Manager { return r.snapshots }

// Clock returns the simulator holding every workspace's offset.
func (r *Registry) Clock() *clock.Simulator { return r.sim }

// Backend returns the kind of entity storage in use.
func (r *Registry) Backend() store.Backend { return r.backends.Kind() }

// Create creates workspace id. It fails with a *store.ConflictError if the
// workspace exists.
func (r *Registry) Create(ctx context.Context, id string) (*Workspace, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := r.lockSettled(ctx, id); err != nil {
		return nil, err
	}
	defer r.mu.Unlock()
	if _, ok := r.workspaces[id]; ok {
		return nil, &store.ConflictError{Kind: store.KindWorkspace, Name: id}
	}
	return r.create(ctx, id)
}

// Ensure returns workspace id, creating it on first use.
func (r *Registry) Ensure(ctx context.Context, id string) (*Workspace, error) {
	r.mu.RLock()
	ws, ok := r.workspaces[id]
	r.mu.RUnlock()
	if ok {
		return ws, nil
	}
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	if err := r.lockSettled(ctx, id); err != nil {
		return nil, err
	}
	defer r.mu.Unlock()
	if ws, ok := r.workspaces[id]; ok {
		return ws, nil
	}
	return r.create(ctx, id)
}

// lockSettled takes mu once no teardown of id is in flight, so a workspace
// is never recreated underneath the delete of its predecessor.
func (r *Registry) lockSettled(ctx context.Context, id string) error {
	for {
		r.mu.Lock()
		done, busy := r.deleting[id]
		if !busy {
			return nil
		}
		r.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// create must be called with mu held, or before the registry is shared.
func (r *Registry) create(ctx context.Context, id string) (*Workspace, error) {
	backend, err := r.backends.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	log := logging.ForWorkspace(r.log, id)
	src := r.sim.For(id)
	s := entity.NewStore(id, backend, src, entity.WithLogger(log))

	opts := []consistency.Option{
		consistency.WithClock(src),
		consistency.WithLockTimeout(r.lockTimeout),
		consistency.WithTrackReads(r.trackReads),
		consistency.WithLogger(log),
	}
	if r.observer != nil {
		opts = append(opts, consistency.WithObserver(r.observer))
	}
	ws := &Workspace{
		ID:        id,
		CreatedAt: r.sim.Now(id).UTC(),
		store:     s,
		tracker:   consistency.New(s, opts...),
	}
	r.workspaces[id] = ws
	log.Debug("workspace created", "backend", backend.Kind())
	return ws, nil
}

// Get returns workspace id or a *store.NotFoundError.
func (r *Registry) Get(id string) (*Workspace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws, ok := r.workspaces[id]
	if !ok {
		return nil, &store.NotFoundError{Kind: store.KindWorkspace, Name: id}
	}
	return ws, nil
}

// Resolve returns workspace id, creating it first when the registry
// auto-creates workspaces.
func (r *Registry) Resolve(ctx context.Context, id string) (*Workspace, error) {
	if r.autoCreate {
		return r.Ensure(ctx, id)
	}
	return r.Get(id)
}

// Tracker implements snapshot.Resolver.
func (r *Registry) Tracker(id string) (*consistency.Tracker, error) {
	ws, err := r.Resolve(context.Background(), id)
	if err != nil {
		return nil, err
	}
	return ws.tracker, nil
}

// List returns every workspace ordered by ID.
func (r *Registry) List() []*Workspace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := slices.Sorted(maps.Keys(r.workspaces))
	out := make([]*Workspace, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.workspaces[id])
	}
	return out
}

// Info describes workspace id.
func (r *Registry) Info(ctx context.Context, id string) (*Info, error) {
	ws, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	types, err := ws.store.Types(ctx)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range types {
		total += n
	}
	return &Info{
		ID:        ws.ID,
		CreatedAt: ws.CreatedAt,
		Backend:   ws.store.BackendKind(),
		Entities:  total,
		Types:     types,
		Clock:     r.sim.Status(id),
	}, nil
}

// Delete discards workspace id: its records, its clock offset and its
// snapshots. In-flight operations on the workspace finish first. The ID
// cannot be created again until the teardown has ended.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	ws, ok := r.workspaces[id]
	if !ok {
		r.mu.Unlock()
		return &store.NotFoundError{Kind: store.KindWorkspace, Name: id}
	}
	delete(r.workspaces, id)
	done := make(chan struct{})
	r.deleting[id] = done
	r.mu.Unlock()

	dropped, err := r.teardown(ctx, ws)

	r.mu.Lock()
	if !dropped {
		// put it back so the caller can retry
		r.workspaces[id] = ws
	}
	delete(r.deleting, id)
	close(done)
	r.mu.Unlock()

	if err != nil {
		return err
	}
	r.log.Info("workspace deleted", "workspace", id)
	return nil
}

// teardown reports whether the records were dropped. When they were not,
// the workspace is intact.
func (r *Registry) teardown(ctx context.Context, ws *Workspace) (bool, error) {
	err := ws.tracker.Exclusive(ctx, func(ctx context.Context, s *entity.Store) error {
		if err := r.backends.Drop(ctx, ws.ID); err != nil {
			return err
		}
		return s.Close()
	})
	if err != nil {
		return false, err
	}
	r.sim.Reset(ws.ID)
	if err := r.snapshots.DeleteWorkspace(ctx, ws.ID); err != nil {
		return true, fmt.Errorf("delete snapshots of workspace %s: %w", ws.ID, err)
	}
	return true, nil
}

// Close releases the snapshot storage and every workspace store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, ws := range r.workspaces {
		errs = append(errs, ws.store.Close())
	}
	errs = append(errs, r.snapshots.Close())
	return errors.Join(errs...)
}
