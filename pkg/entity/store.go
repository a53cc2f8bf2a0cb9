// Package entity implements the per-workspace entity store.
//
// A Store holds at most one Record per (type, id) key. Writes replace the
// whole document (last writer wins) and grow the set of protocols that have
// touched the record. Every record returned to a caller is a private deep
// copy. Timestamps come from the workspace's virtual clock.
//
// The Store is storage only. Protocol adapters reach it through the
// consistency tracker, which adds per-key locking and the workspace barrier
// used by snapshots.
package entity

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/getmockd/vbackend/pkg/clock"
	"github.com/getmockd/vbackend/pkg/document"
	"github.com/getmockd/vbackend/pkg/logging"
	"github.com/getmockd/vbackend/pkg/store"
)

// Store is the authoritative record store of one workspace.
type Store struct {
	workspace string
	backend   Backend
	clock     clock.Source
	log       *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(log *slog.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

// NewStore creates a store for workspace on top of backend, stamping
// records with src.
func NewStore(workspace string, backend Backend, src clock.Source, opts ...StoreOption) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	if src == nil {
		src = clock.Real()
	}
	s := &Store{
		workspace: workspace,
		backend:   backend,
		clock:     src,
		log:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Workspace returns the owning workspace ID.
func (s *Store) Workspace() string { return s.workspace }

// BackendKind names the storage backend.
func (s *Store) BackendKind() store.Backend { return s.backend.Kind() }

// Upsert creates the record if absent or replaces its data, and adds
// protocol to its provenance. UpdatedAt is always set to the current
// virtual time.
func (s *Store) Upsert(ctx context.Context, entityType, id string, data document.Value, protocol Protocol) (*Record, error) {
	key := NewKey(entityType, id)
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := validateData(data); err != nil {
		return nil, err
	}
	if !protocol.Valid() {
		return nil, &store.ValidationError{Field: "protocol", Message: fmt.Sprintf("unknown protocol %q", protocol)}
	}

	payload := data.Clone()
	rec, err := s.backend.Update(ctx, key, func(cur *Record) (*Record, error) {
		now := stamp(s.clock.Now())
		if cur == nil {
			return &Record{
				Type:      key.Type,
				ID:        key.ID,
				Data:      payload,
				SeenIn:    NewProtocolSet(protocol),
				Version:   1,
				CreatedAt: now,
				UpdatedAt: now,
			}, nil
		}
		return &Record{
			Type:      key.Type,
			ID:        key.ID,
			Data:      payload,
			SeenIn:    cur.SeenIn.With(protocol),
			Version:   cur.Version + 1,
			CreatedAt: cur.CreatedAt,
			UpdatedAt: now,
		}, nil
	})
	if err != nil {
		return nil, s.wrap(key, "upsert", err)
	}

	s.log.Debug("entity upserted", "key", key.String(), "protocol", protocol, "version", rec.Version)
	return rec.Clone(), nil
}

// Touch records that protocol has read the record without changing its
// data, timestamps or version.
func (s *Store) Touch(ctx context.Context, entityType, id string, protocol Protocol) (*Record, error) {
	key := NewKey(entityType, id)
	if !protocol.Valid() {
		return nil, &store.ValidationError{Field: "protocol", Message: fmt.Sprintf("unknown protocol %q", protocol)}
	}
	rec, err := s.backend.Update(ctx, key, func(cur *Record) (*Record, error) {
		if cur == nil {
			return nil, store.ErrNotFound
		}
		if cur.SeenIn.Has(protocol) {
			return cur, nil
		}
		next := *cur
		next.SeenIn = cur.SeenIn.With(protocol)
		return &next, nil
	})
	if err != nil {
		return nil, s.wrap(key, "touch", err)
	}
	return rec.Clone(), nil
}

// Get returns a copy of the record at (entityType, id).
func (s *Store) Get(ctx context.Context, entityType, id string) (*Record, error) {
	key := NewKey(entityType, id)
	rec, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, s.wrap(key, "get", err)
	}
	return rec.Clone(), nil
}

// List returns the records of entityType, or every record when entityType
// is empty. The sequence is finite and can be ranged over repeatedly; it
// yields fresh copies in key order from the state at the time of the call.
func (s *Store) List(ctx context.Context, entityType string) (iter.Seq[*Record], error) {
	recs, err := s.backend.Scan(ctx, entityType)
	if err != nil {
		return nil, store.IOError(s.backend.Kind(), "list", err)
	}
	return func(yield func(*Record) bool) {
		for _, rec := range recs {
			if !yield(rec.Clone()) {
				return
			}
		}
	}, nil
}

// Delete removes the record at (entityType, id).
func (s *Store) Delete(ctx context.Context, entityType, id string) error {
	key := NewKey(entityType, id)
	if err := s.backend.Delete(ctx, key); err != nil {
		return s.wrap(key, "delete", err)
	}
	s.log.Debug("entity deleted", "key", key.String())
	return nil
}

// ReplaceAll discards every record and installs copies of records. Either
// the whole set is installed or nothing changes.
func (s *Store) ReplaceAll(ctx context.Context, records []*Record) error {
	next := make([]*Record, 0, len(records))
	seen := make(map[Key]struct{}, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		if _, dup := seen[rec.Key()]; dup {
			return &store.ValidationError{Field: "records", Message: fmt.Sprintf("duplicate key %s", rec.Key())}
		}
		seen[rec.Key()] = struct{}{}
		next = append(next, rec.Clone())
	}
	if err := s.backend.Replace(ctx, next); err != nil {
		return store.IOError(s.backend.Kind(), "replace", err)
	}
	s.log.Info("entity store replaced", "workspace", s.workspace, "records", len(next))
	return nil
}

// Capture returns deep copies of every record in key order.
func (s *Store) Capture(ctx context.Context) ([]*Record, error) {
	recs, err := s.backend.Scan(ctx, "")
	if err != nil {
		return nil, store.IOError(s.backend.Kind(), "capture", err)
	}
	out := make([]*Record, len(recs))
	for i, rec := range recs {
		out[i] = rec.Clone()
	}
	return out, nil
}

// Count returns the number of records.
func (s *Store) Count(ctx context.Context) (int, error) {
	recs, err := s.backend.Scan(ctx, "")
	if err != nil {
		return 0, store.IOError(s.backend.Kind(), "count", err)
	}
	return len(recs), nil
}

// Types returns the number of records per entity type.
func (s *Store) Types(ctx context.Context) (map[string]int, error) {
	recs, err := s.backend.Scan(ctx, "")
	if err != nil {
		return nil, store.IOError(s.backend.Kind(), "types", err)
	}
	return CountByType(recs), nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// CountByType returns the number of records per entity type.
func CountByType(recs []*Record) map[string]int {
	counts := make(map[string]int)
	for _, rec := range recs {
		counts[rec.Type]++
	}
	return counts
}

func (s *Store) wrap(key Key, op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return &store.NotFoundError{Kind: store.KindEntity, Workspace: s.workspace, Name: key.String()}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return store.IOError(s.backend.Kind(), op, err)
}
