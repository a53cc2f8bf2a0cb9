package store

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrors_MatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		status   int
	}{
		{"not found", &NotFoundError{Kind: KindEntity, Workspace: "ws", Name: "user/1"}, ErrNotFound, http.StatusNotFound},
		{"conflict", &ConflictError{Kind: KindSnapshot, Workspace: "ws", Name: "clean"}, ErrConflict, http.StatusConflict},
		{"lock timeout", &LockTimeoutError{Scope: ScopeKey, Workspace: "ws", Key: "user/1", Waited: time.Second}, ErrLockTimeout, http.StatusLocked},
		{"storage", &StorageIOError{Op: "write", Backend: BackendFile, Err: io.ErrShortWrite}, ErrStorageIO, http.StatusServiceUnavailable},
		{"invalid", &ValidationError{Field: "name", Message: "required"}, ErrInvalid, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)

			var sc StatusCodeError
			require.True(t, errors.As(tt.err, &sc))
			assert.Equal(t, tt.status, sc.StatusCode())

			var he HintError
			require.True(t, errors.As(tt.err, &he))
			assert.NotEmpty(t, he.Hint())
		})
	}
}

func TestTypedErrors_DoNotCrossMatch(t *testing.T) {
	err := &NotFoundError{Kind: KindSnapshot, Workspace: "ws", Name: "gone"}
	assert.NotErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrStorageIO)
}

func TestStorageIOError_Unwrap(t *testing.T) {
	err := &StorageIOError{Op: "rename", Backend: BackendFile, Err: io.ErrUnexpectedEOF}
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "file backend")
}

func TestIOError(t *testing.T) {
	assert.NoError(t, IOError(BackendSQLite, "exec", nil))

	nf := &NotFoundError{Kind: KindEntity, Name: "x"}
	assert.Same(t, nf, IOError(BackendSQLite, "exec", nf))

	err := IOError(BackendSQLite, "exec", io.EOF)
	var sio *StorageIOError
	require.ErrorAs(t, err, &sio)
	assert.Equal(t, BackendSQLite, sio.Backend)
	assert.Equal(t, "exec", sio.Op)
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(fmt.Errorf("load: %w", &NotFoundError{Kind: KindSnapshot, Workspace: "ws1", Name: "clean"}))
	assert.Equal(t, CodeNotFound, resp.Error)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "ws1", resp.Workspace)
	assert.Equal(t, "clean", resp.Name)
	assert.Contains(t, resp.Hint, "List snapshots")

	resp = ToErrorResponse(&LockTimeoutError{Scope: ScopeWorkspace, Workspace: "ws1", Waited: time.Second})
	assert.Equal(t, CodeLockTimeout, resp.Error)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)

	resp = ToErrorResponse(errors.New("boom"))
	assert.Equal(t, CodeInternal, resp.Error)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "boom", resp.Message)
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("")
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, b)

	b, err = ParseBackend(" SQLite ")
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, b)
	assert.True(t, b.Persistent())
	assert.False(t, BackendMemory.Persistent())

	_, err = ParseBackend("redis")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDefaultDirs_HonourXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-config")

	assert.Equal(t, "/tmp/xdg-data/vbackend", DefaultDataDir())
	assert.Equal(t, "/tmp/xdg-config/vbackend", DefaultConfigDir())
	assert.Equal(t, "/tmp/xdg-data/vbackend/snapshots", DefaultSnapshotDir())
	assert.Equal(t, "/tmp/xdg-data/vbackend/vbackend.db", DefaultDatabasePath())
}
