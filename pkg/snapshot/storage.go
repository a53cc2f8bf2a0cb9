package snapshot

import (
	"context"
	"slices"
	"sync"

	"github.com/getmockd/vbackend/pkg/store"
)

// Storage persists snapshots. A Storage is owned by exactly one Manager.
//
// Implementations return store.ErrNotFound for a missing snapshot and
// store.ErrConflict when Create finds the name taken. Any other error is
// reported to callers as a storage failure.
type Storage interface {
	// Kind names the storage backend.
	Kind() store.Backend

	// Create stores a new snapshot. It must not overwrite an existing
	// snapshot of the same workspace and name.
	Create(ctx context.Context, d *Descriptor, state []byte) error

	// Descriptor returns the metadata of one snapshot.
	Descriptor(ctx context.Context, workspace, name string) (*Descriptor, error)

	// State returns the encoded records of one snapshot.
	State(ctx context.Context, d *Descriptor) ([]byte, error)

	// List returns the metadata of every snapshot in workspace, in any
	// order. It must not read captured state.
	List(ctx context.Context, workspace string) ([]*Descriptor, error)

	// Delete removes one snapshot.
	Delete(ctx context.Context, workspace, name string) error

	// DeleteWorkspace removes every snapshot of workspace.
	DeleteWorkspace(ctx context.Context, workspace string) error

	Close() error
}

// MemoryStorage keeps snapshots in process memory.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]map[string]*memoryItem
}

type memoryItem struct {
	desc  *Descriptor
	state []byte
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage returns an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]map[string]*memoryItem)}
}

func (m *MemoryStorage) Kind() store.Backend { return store.BackendMemory }

func (m *MemoryStorage) Create(_ context.Context, d *Descriptor, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.items[d.Workspace]
	if ws == nil {
		ws = make(map[string]*memoryItem)
		m.items[d.Workspace] = ws
	}
	if _, ok := ws[d.Name]; ok {
		return store.ErrConflict
	}
	ws[d.Name] = &memoryItem{desc: d.Clone(), state: slices.Clone(state)}
	return nil
}

func (m *MemoryStorage) Descriptor(_ context.Context, workspace, name string) (*Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[workspace][name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return item.desc.Clone(), nil
}

func (m *MemoryStorage) State(_ context.Context, d *Descriptor) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[d.Workspace][d.Name]
	if !ok || item.desc.ID != d.ID {
		return nil, store.ErrNotFound
	}
	return slices.Clone(item.state), nil
}

func (m *MemoryStorage) List(_ context.Context, workspace string) ([]*Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Descriptor, 0, len(m.items[workspace]))
	for _, item := range m.items[workspace] {
		out = append(out, item.desc.Clone())
	}
	return out, nil
}

func (m *MemoryStorage) Delete(_ context.Context, workspace, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[workspace][name]; !ok {
		return store.ErrNotFound
	}
	delete(m.items[workspace], name)
	if len(m.items[workspace]) == 0 {
		delete(m.items, workspace)
	}
	return nil
}

func (m *MemoryStorage) DeleteWorkspace(_ context.Context, workspace string) error {
	m.mu.Lock()
	delete(m.items, workspace)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Close() error { return nil }
