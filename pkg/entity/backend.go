package entity

import (
	"context"
	"slices"
	"sync"

	"github.com/getmockd/vbackend/pkg/store"
)

// UpdateFunc computes the next version of a record from the current one.
// cur is nil when the key is absent. Returning cur itself leaves the stored
// record untouched; returning an error aborts the update with no effect.
type UpdateFunc func(cur *Record) (*Record, error)

// Backend is the storage primitive behind a Store. Implementations must make
// Update, Delete and Replace atomic: a failed call leaves the previous state
// intact. Missing keys are reported as store.ErrNotFound.
type Backend interface {
	// Kind names the backend in errors and metrics.
	Kind() store.Backend
	Get(ctx context.Context, key Key) (*Record, error)
	Update(ctx context.Context, key Key, fn UpdateFunc) (*Record, error)
	Delete(ctx context.Context, key Key) error
	// Scan returns the records of entityType, or all records when it is
	// empty, sorted by key.
	Scan(ctx context.Context, entityType string) ([]*Record, error)
	// Replace discards every record and installs records.
	Replace(ctx context.Context, records []*Record) error
	Close() error
}

// MemoryBackend keeps records in a map. Records are stored by pointer and
// never mutated after installation, so readers can share them.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[Key]*Record
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[Key]*Record)}
}

// Kind returns store.BackendMemory.
func (b *MemoryBackend) Kind() store.Backend { return store.BackendMemory }

func (b *MemoryBackend) Get(_ context.Context, key Key) (*Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.records[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

func (b *MemoryBackend) Update(_ context.Context, key Key, fn UpdateFunc) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.records[key]
	next, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if next != cur {
		b.records[key] = next
	}
	return next, nil
}

func (b *MemoryBackend) Delete(_ context.Context, key Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.records[key]; !ok {
		return store.ErrNotFound
	}
	delete(b.records, key)
	return nil
}

func (b *MemoryBackend) Scan(_ context.Context, entityType string) ([]*Record, error) {
	b.mu.RLock()
	out := make([]*Record, 0, len(b.records))
	for k, rec := range b.records {
		if entityType == "" || k.Type == entityType {
			out = append(out, rec)
		}
	}
	b.mu.RUnlock()
	sortRecords(out)
	return out, nil
}

func (b *MemoryBackend) Replace(_ context.Context, records []*Record) error {
	next := make(map[Key]*Record, len(records))
	for _, rec := range records {
		next[rec.Key()] = rec
	}
	b.mu.Lock()
	b.records = next
	b.mu.Unlock()
	return nil
}

// Close is a no-op.
func (b *MemoryBackend) Close() error { return nil }

func sortRecords(recs []*Record) {
	slices.SortFunc(recs, func(a, b *Record) int { return a.Key().Compare(b.Key()) })
}
