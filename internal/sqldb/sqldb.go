// Package sqldb opens the SQL databases used by the persistent entity and
// snapshot backends and papers over the few dialect differences between
// SQLite and PostgreSQL.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the pure go "sqlite" driver

	"github.com/getmockd/vbackend/pkg/store"
)

// DB is an open database together with its dialect.
type DB struct {
	*sql.DB
	kind store.Backend
}

// Open opens and pings a database. kind must be store.BackendSQLite or
// store.BackendPostgres. For SQLite, dsn is a file path (created if
// needed) or ":memory:".
func Open(ctx context.Context, kind store.Backend, dsn string) (*DB, error) {
	var driver string
	switch kind {
	case store.BackendSQLite:
		driver = "sqlite"
		if dsn == "" {
			dsn = store.DefaultDatabasePath()
		}
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
				return nil, store.IOError(kind, "create dirs", err)
			}
		}
	case store.BackendPostgres:
		driver = "pgx"
		if dsn == "" {
			return nil, &store.ValidationError{Field: "dsn", Message: "postgres DSN required"}
		}
	default:
		return nil, &store.ValidationError{Field: "backend", Message: fmt.Sprintf("%q is not a SQL backend", kind)}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, store.IOError(kind, "open", err)
	}
	if kind == store.BackendSQLite {
		// One connection serializes writers and keeps ":memory:" a single database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, store.IOError(kind, "ping", err)
	}
	return &DB{DB: db, kind: kind}, nil
}

// Kind returns the backend kind.
func (d *DB) Kind() store.Backend { return d.kind }

// Rebind rewrites '?' placeholders into the dialect's form.
func (d *DB) Rebind(query string) string {
	if d.kind != store.BackendPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// BlobType is the column type for binary payloads.
func (d *DB) BlobType() string {
	if d.kind == store.BackendPostgres {
		return "BYTEA"
	}
	return "BLOB"
}

// ForUpdate is the row-locking suffix for SELECT inside a transaction.
func (d *DB) ForUpdate() string {
	if d.kind == store.BackendPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (d *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) (retErr error) {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
