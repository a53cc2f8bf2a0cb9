// Package sqlstore stores snapshots in SQLite or PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getmockd/vbackend/internal/sqldb"
	"github.com/getmockd/vbackend/pkg/snapshot"
	"github.com/getmockd/vbackend/pkg/store"
)

// Storage implements snapshot.Storage on a snapshots table. Listing reads
// the manifest column only.
type Storage struct {
	db *sqldb.DB
}

var _ snapshot.Storage = (*Storage)(nil)

// New prepares the snapshots table on db.
func New(ctx context.Context, db *sqldb.DB) (*Storage, error) {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS snapshots (
		workspace  TEXT NOT NULL,
		name       TEXT NOT NULL,
		id         TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		manifest   TEXT NOT NULL,
		state      %s NOT NULL,
		PRIMARY KEY (workspace, name)
	)`, db.BlobType())
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, store.IOError(db.Kind(), "create snapshots table", err)
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Kind() store.Backend { return s.db.Kind() }

func (s *Storage) Create(ctx context.Context, d *snapshot.Descriptor, state []byte) error {
	manifest, err := json.Marshal(d)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO snapshots (workspace, name, id, created_at, manifest, state)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace, name) DO NOTHING`),
		d.Workspace, d.Name, d.ID, d.CreatedAt.UnixNano(), string(manifest), state)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Storage) Descriptor(ctx context.Context, workspace, name string) (*snapshot.Descriptor, error) {
	var manifest string
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind(`SELECT manifest FROM snapshots WHERE workspace = ? AND name = ?`),
		workspace, name,
	).Scan(&manifest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeManifest(manifest)
}

func (s *Storage) State(ctx context.Context, d *snapshot.Descriptor) ([]byte, error) {
	var state []byte
	err := s.db.QueryRowContext(ctx,
		s.db.Rebind(`SELECT state FROM snapshots WHERE workspace = ? AND name = ? AND id = ?`),
		d.Workspace, d.Name, d.ID,
	).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return state, err
}

func (s *Storage) List(ctx context.Context, workspace string) ([]*snapshot.Descriptor, error) {
	rows, err := s.db.QueryContext(ctx,
		s.db.Rebind(`SELECT manifest FROM snapshots WHERE workspace = ? ORDER BY created_at, id`),
		workspace)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*snapshot.Descriptor
	for rows.Next() {
		var manifest string
		if err := rows.Scan(&manifest); err != nil {
			return nil, err
		}
		d, err := decodeManifest(manifest)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Storage) Delete(ctx context.Context, workspace, name string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM snapshots WHERE workspace = ? AND name = ?`),
		workspace, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Storage) DeleteWorkspace(ctx context.Context, workspace string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM snapshots WHERE workspace = ?`), workspace)
	return err
}

// Close is a no-op; the DB is closed by its owner.
func (s *Storage) Close() error { return nil }

func decodeManifest(manifest string) (*snapshot.Descriptor, error) {
	var d snapshot.Descriptor
	if err := json.Unmarshal([]byte(manifest), &d); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &d, nil
}
