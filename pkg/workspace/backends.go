package workspace

import (
	"context"

	"github.com/getmockd/vbackend/pkg/entity"
	"github.com/getmockd/vbackend/pkg/entity/sqlstore"
	"github.com/getmockd/vbackend/pkg/store"
)

// Backends opens the entity backend of each workspace.
type Backends interface {
	Kind() store.Backend
	// Open returns the backend for workspace. Persistent implementations
	// return a backend that sees the workspace's existing records.
	Open(ctx context.Context, workspace string) (entity.Backend, error)
	// Drop discards every record of workspace.
	Drop(ctx context.Context, workspace string) error
	// Existing lists workspaces that already hold records.
	Existing(ctx context.Context) ([]string, error)
}

// MemoryBackends gives every workspace a fresh in-memory backend.
type MemoryBackends struct{}

func (MemoryBackends) Kind() store.Backend { return store.BackendMemory }

func (MemoryBackends) Open(context.Context, string) (entity.Backend, error) {
	return entity.NewMemoryBackend(), nil
}

func (MemoryBackends) Drop(context.Context, string) error { return nil }

func (MemoryBackends) Existing(context.Context) ([]string, error) { return nil, nil }

// SQLBackends keeps every workspace in one entities table.
type SQLBackends struct {
	DB *sqlstore.DB
}

func (b SQLBackends) Kind() store.Backend { return b.DB.Kind() }

func (b SQLBackends) Open(_ context.Context, workspace string) (entity.Backend, error) {
	return b.DB.Backend(workspace), nil
}

func (b SQLBackends) Drop(ctx context.Context, workspace string) error {
	return b.DB.DropWorkspace(ctx, workspace)
}

func (b SQLBackends) Existing(ctx context.Context) ([]string, error) {
	return b.DB.Workspaces(ctx)
}
