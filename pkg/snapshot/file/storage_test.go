package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/vbackend/pkg/clock"
	"github.com/getmockd/vbackend/pkg/consistency"
	"github.com/getmockd/vbackend/pkg/document"
	"github.com/getmockd/vbackend/pkg/entity"
	"github.com/getmockd/vbackend/pkg/snapshot"
	"github.com/getmockd/vbackend/pkg/snapshot/storagetest"
	"github.com/getmockd/vbackend/pkg/store"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "snapshots"))
	require.NoError(t, err)
	return s
}

func TestStorage_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) snapshot.Storage { return newTestStorage(t) })
}

func TestStorage_Layout(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	d := storagetest.Descriptor("ws1", "before", time.Now())
	require.NoError(t, s.Create(ctx, d, []byte(`[]`)))

	dir := filepath.Join(s.Dir(), "ws1", "before")
	for _, name := range []string{manifestFile, stateFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), name)
	}
	_, err := os.Stat(filepath.Join(dir, stateFile+".tmp"))
	assert.True(t, os.IsNotExist(err), "no temp files left behind")
}

func TestStorage_IncompleteSnapshotIsIgnoredAndReplaced(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	// an interrupted create: state written, manifest missing
	dir := filepath.Join(s.Dir(), "ws1", "half")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFile), []byte(`garbage`), 0o600))

	list, err := s.List(ctx, "ws1")
	require.NoError(t, err)
	assert.Empty(t, list)
	_, err = s.Descriptor(ctx, "ws1", "half")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Create(ctx, storagetest.Descriptor("ws1", "half", time.Now()), []byte(`[]`)))
	d, err := s.Descriptor(ctx, "ws1", "half")
	require.NoError(t, err)
	state, err := s.State(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(state))
}

func TestStorage_RejectsPathEscape(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, ws := range []string{"..", "a/b", `a\b`, ""} {
		_, err := s.List(ctx, ws)
		assert.ErrorIs(t, err, store.ErrInvalid, "workspace %q", ws)
	}
	_, err := s.Descriptor(ctx, "ws1", "../../etc")
	assert.ErrorIs(t, err, store.ErrInvalid)
}

func TestStorage_CorruptManifest(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	dir := filepath.Join(s.Dir(), "ws1", "bad")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestFile), []byte(`{`), 0o600))

	_, err := s.Descriptor(ctx, "ws1", "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestStorage_WithManager(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	src := clock.NewManual(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	es := entity.NewStore("ws1", nil, src)
	tr := consistency.New(es)
	m := snapshot.NewManager(s, snapshot.ResolverFunc(func(string) (*consistency.Tracker, error) { return tr, nil }))

	_, err := tr.Upsert(ctx, entity.ProtocolREST, "user", "1", document.MustFromAny(map[string]any{"n": 1}))
	require.NoError(t, err)
	want, err := tr.Capture(ctx, nil)
	require.NoError(t, err)

	d, err := m.Save(ctx, "ws1", "before", "")
	require.NoError(t, err)
	assert.Equal(t, store.BackendFile, m.Storage())

	_, err = tr.Upsert(ctx, entity.ProtocolREST, "user", "2", document.Map(nil))
	require.NoError(t, err)

	// a second storage on the same directory sees the snapshot
	s2, err := New(s.Dir())
	require.NoError(t, err)
	m2 := snapshot.NewManager(s2, snapshot.ResolverFunc(func(string) (*consistency.Tracker, error) { return tr, nil }))
	got, err := m2.Get(ctx, "ws1", "before")
	require.NoError(t, err)
	assert.Equal(t, d, got)

	_, err = m2.Load(ctx, "ws1", "before")
	require.NoError(t, err)
	after, err := tr.Capture(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, want, after)

	// tampering with the state is detected
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "ws1", "before", stateFile), []byte(`[]`), 0o600))
	_, err = m2.Load(ctx, "ws1", "before")
	assert.ErrorIs(t, err, store.ErrStorageIO)
}
