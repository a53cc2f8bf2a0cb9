// Package sqlstore persists entity records in SQLite or PostgreSQL.
//
// All workspaces share one table; a Backend is a view of that table scoped
// to a single workspace. Each record is stored as one JSON row, and every
// mutation runs in its own transaction so a failed write leaves the previous
// row intact.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getmockd/vbackend/internal/sqldb"
	"github.com/getmockd/vbackend/pkg/entity"
	"github.com/getmockd/vbackend/pkg/store"
)

// DB owns the entities table.
type DB struct {
	db *sqldb.DB
}

// Open prepares the entities table on db.
func Open(ctx context.Context, db *sqldb.DB) (*DB, error) {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS entities (
		workspace   TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		payload     %s NOT NULL,
		PRIMARY KEY (workspace, entity_type, entity_id)
	)`, db.BlobType())
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, store.IOError(db.Kind(), "create entities table", err)
	}
	return &DB{db: db}, nil
}

// Kind returns the SQL dialect in use.
func (d *DB) Kind() store.Backend { return d.db.Kind() }

// Backend returns the view of workspace.
func (d *DB) Backend(workspace string) *Backend {
	return &Backend{db: d.db, workspace: workspace}
}

// Workspaces returns the workspaces that hold at least one record.
func (d *DB) Workspaces(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT DISTINCT workspace FROM entities ORDER BY workspace`)
	if err != nil {
		return nil, store.IOError(d.db.Kind(), "list workspaces", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var ws string
		if err := rows.Scan(&ws); err != nil {
			return nil, store.IOError(d.db.Kind(), "scan workspace", err)
		}
		out = append(out, ws)
	}
	return out, store.IOError(d.db.Kind(), "list workspaces", rows.Err())
}

// DropWorkspace removes every record of workspace.
func (d *DB) DropWorkspace(ctx context.Context, workspace string) error {
	_, err := d.db.ExecContext(ctx, d.db.Rebind(`DELETE FROM entities WHERE workspace = ?`), workspace)
	return store.IOError(d.db.Kind(), "drop workspace", err)
}

// Backend implements entity.Backend for one workspace.
type Backend struct {
	db        *sqldb.DB
	workspace string
}

var _ entity.Backend = (*Backend)(nil)

// Kind returns the SQL dialect in use.
func (b *Backend) Kind() store.Backend { return b.db.Kind() }

func (b *Backend) Get(ctx context.Context, key entity.Key) (*entity.Record, error) {
	return b.load(ctx, b.db.DB, key, "")
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (b *Backend) load(ctx context.Context, q queryer, key entity.Key, suffix string) (*entity.Record, error) {
	var payload []byte
	err := q.QueryRowContext(ctx,
		b.db.Rebind(`SELECT payload FROM entities WHERE workspace = ? AND entity_type = ? AND entity_id = ?`+suffix),
		b.workspace, key.Type, key.ID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, store.IOError(b.Kind(), "select entity", err)
	}
	return decode(b.Kind(), payload)
}

func (b *Backend) Update(ctx context.Context, key entity.Key, fn entity.UpdateFunc) (*entity.Record, error) {
	var out *entity.Record
	err := b.db.InTx(ctx, func(tx *sql.Tx) error {
		cur, err := b.load(ctx, tx, key, b.db.ForUpdate())
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		out = next
		if next == cur {
			return nil
		}
		return b.save(ctx, tx, next)
	})
	if err != nil {
		return nil, store.IOError(b.Kind(), "update entity", err)
	}
	return out, nil
}

func (b *Backend) save(ctx context.Context, tx *sql.Tx, rec *entity.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode entity: %w", err)
	}
	_, err = tx.ExecContext(ctx, b.db.Rebind(`INSERT INTO entities (workspace, entity_type, entity_id, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (workspace, entity_type, entity_id) DO UPDATE SET payload = excluded.payload`),
		b.workspace, rec.Type, rec.ID, payload)
	return err
}

func (b *Backend) Delete(ctx context.Context, key entity.Key) error {
	res, err := b.db.ExecContext(ctx,
		b.db.Rebind(`DELETE FROM entities WHERE workspace = ? AND entity_type = ? AND entity_id = ?`),
		b.workspace, key.Type, key.ID)
	if err != nil {
		return store.IOError(b.Kind(), "delete entity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.IOError(b.Kind(), "delete entity", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (b *Backend) Scan(ctx context.Context, entityType string) ([]*entity.Record, error) {
	query := `SELECT payload FROM entities WHERE workspace = ?`
	args := []any{b.workspace}
	if entityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY entity_type, entity_id`

	rows, err := b.db.QueryContext(ctx, b.db.Rebind(query), args...)
	if err != nil {
		return nil, store.IOError(b.Kind(), "scan entities", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*entity.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, store.IOError(b.Kind(), "scan entities", err)
		}
		rec, err := decode(b.Kind(), payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, store.IOError(b.Kind(), "scan entities", err)
	}
	return out, nil
}

func (b *Backend) Replace(ctx context.Context, records []*entity.Record) error {
	err := b.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, b.db.Rebind(`DELETE FROM entities WHERE workspace = ?`), b.workspace); err != nil {
			return err
		}
		for _, rec := range records {
			if err := b.save(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	return store.IOError(b.Kind(), "replace entities", err)
}

// Close is a no-op; the shared DB is closed by its owner.
func (b *Backend) Close() error { return nil }

func decode(kind store.Backend, payload []byte) (*entity.Record, error) {
	var rec entity.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, store.IOError(kind, "decode entity", err)
	}
	return &rec, nil
}
