// Package storagetest checks snapshot.Storage implementations against the
// behaviour the snapshot manager relies on.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/vbackend/pkg/snapshot"
	"github.com/getmockd/vbackend/pkg/store"
)

// Descriptor returns a descriptor for tests. The checksum is not computed.
func Descriptor(workspace, name string, created time.Time) *snapshot.Descriptor {
	return &snapshot.Descriptor{
		ID:            fmt.Sprintf("%s-%s-%d", workspace, name, created.UnixNano()),
		Name:          name,
		Workspace:     workspace,
		Description:   "test snapshot " + name,
		CreatedAt:     created.UTC().Round(0),
		EntityCounts:  map[string]int{"user": 2},
		TotalEntities: 2,
		SizeBytes:     2,
		Checksum:      "00",
		Format:        snapshot.FormatVersion,
		Backend:       store.BackendMemory,
		Clock:         &snapshot.ClockState{State: "simulated", Offset: time.Hour},
	}
}

// Run exercises a fresh storage returned by open.
func Run(t *testing.T, open func(t *testing.T) snapshot.Storage) {
	t.Helper()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("CreateAndRead", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		d := Descriptor("ws1", "before", base)

		require.NoError(t, s.Create(ctx, d, []byte(`[]`)))

		got, err := s.Descriptor(ctx, "ws1", "before")
		require.NoError(t, err)
		assert.Equal(t, d, got)

		state, err := s.State(ctx, got)
		require.NoError(t, err)
		assert.Equal(t, `[]`, string(state))
	})

	t.Run("CreateConflict", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, Descriptor("ws1", "dup", base), []byte(`["first"]`)))

		err := s.Create(ctx, Descriptor("ws1", "dup", base.Add(time.Second)), []byte(`["second"]`))
		require.ErrorIs(t, err, store.ErrConflict)

		got, err := s.Descriptor(ctx, "ws1", "dup")
		require.NoError(t, err)
		state, err := s.State(ctx, got)
		require.NoError(t, err)
		assert.Equal(t, `["first"]`, string(state), "the original is not overwritten")
	})

	t.Run("NotFound", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		_, err := s.Descriptor(ctx, "ws1", "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "ws1", "missing"), store.ErrNotFound)
		_, err = s.State(ctx, Descriptor("ws1", "missing", base))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ListIsScopedToWorkspace", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for i, name := range []string{"c", "a", "b"} {
			require.NoError(t, s.Create(ctx, Descriptor("ws1", name, base.Add(time.Duration(i)*time.Minute)), []byte(`[]`)))
		}
		require.NoError(t, s.Create(ctx, Descriptor("ws2", "other", base), []byte(`[]`)))

		list, err := s.List(ctx, "ws1")
		require.NoError(t, err)
		names := make([]string, 0, len(list))
		for _, d := range list {
			names = append(names, d.Name)
			assert.Equal(t, "ws1", d.Workspace)
		}
		assert.ElementsMatch(t, []string{"a", "b", "c"}, names)

		empty, err := s.List(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("Delete", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, Descriptor("ws1", "gone", base), []byte(`[]`)))
		require.NoError(t, s.Create(ctx, Descriptor("ws1", "kept", base), []byte(`[]`)))

		require.NoError(t, s.Delete(ctx, "ws1", "gone"))
		_, err := s.Descriptor(ctx, "ws1", "gone")
		assert.ErrorIs(t, err, store.ErrNotFound)

		list, err := s.List(ctx, "ws1")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "kept", list[0].Name)

		// the name can be reused after a delete
		require.NoError(t, s.Create(ctx, Descriptor("ws1", "gone", base.Add(time.Hour)), []byte(`[1]`)))
	})

	t.Run("DeleteWorkspace", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, Descriptor("ws1", "a", base), []byte(`[]`)))
		require.NoError(t, s.Create(ctx, Descriptor("ws2", "a", base), []byte(`[]`)))

		require.NoError(t, s.DeleteWorkspace(ctx, "ws1"))
		require.NoError(t, s.DeleteWorkspace(ctx, "never-existed"))

		list, err := s.List(ctx, "ws1")
		require.NoError(t, err)
		assert.Empty(t, list)
		_, err = s.Descriptor(ctx, "ws2", "a")
		assert.NoError(t, err)
	})
}
