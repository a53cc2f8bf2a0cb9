package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/vbackend/pkg/admin"
	"github.com/getmockd/vbackend/pkg/clock"
	"github.com/getmockd/vbackend/pkg/document"
	"github.com/getmockd/vbackend/pkg/entity"
	"github.com/getmockd/vbackend/pkg/store"
	"github.com/getmockd/vbackend/pkg/workspace"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// newTestServer runs the admin API over a fresh in-memory registry.
func newTestServer(t *testing.T, opts ...admin.Option) (*httptest.Server, *workspace.Registry) {
	t.Helper()
	sim := clock.NewSimulator(clock.WithWallClock(clock.NewManual(t0)))
	reg, err := workspace.NewRegistry(context.Background(), workspace.WithSimulator(sim))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	srv := httptest.NewServer(admin.New(reg, opts...))
	t.Cleanup(srv.Close)
	return srv, reg
}

func TestAdminClient_Entities(t *testing.T) {
	srv, _ := newTestServer(t)
	c := NewAdminClient(srv.URL + "/")
	ctx := context.Background()

	rec, err := c.PutEntity(ctx, "ws1", entity.ProtocolGRPC, "user", "1", json.RawMessage(`{"name":"Ada"}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Version)
	assert.True(t, rec.SeenIn.Has(entity.ProtocolGRPC))
	assert.Equal(t, t0, rec.CreatedAt.UTC())

	rec, err = c.PutEntity(ctx, "ws1", "", "user", "1", json.RawMessage(`{"name":"Grace"}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Version)
	assert.True(t, rec.SeenIn.Has(entity.ProtocolREST))

	_, err = c.PutEntity(ctx, "ws1", "", "order", "a/b", json.RawMessage(`{}`))
	require.NoError(t, err)

	got, err := c.GetEntity(ctx, "ws1", entity.ProtocolMQTT, "order", "a/b")
	require.NoError(t, err)
	assert.Equal(t, "a/b", got.ID, "ids are path-escaped")

	list, err := c.ListEntities(ctx, "ws1", ListOptions{Type: "user"})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
	name, _ := list.Entities[0].Data.Field("name")
	assert.Equal(t, document.String("Grace"), name)

	list, err = c.ListEntities(ctx, "ws1", ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)
	assert.Len(t, list.Entities, 1)

	require.NoError(t, c.DeleteEntity(ctx, "ws1", "", "user", "1"))
	_, err = c.GetEntity(ctx, "ws1", "", "user", "1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	stats, err := c.Stats(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Protocols[entity.ProtocolGRPC].Writes)
	assert.Equal(t, int64(1), stats.Protocols[entity.ProtocolMQTT].Reads)
}

func TestAdminClient_WorkspacesSnapshotsTime(t *testing.T) {
	srv, _ := newTestServer(t)
	c := NewAdminClient(srv.URL)
	ctx := context.Background()

	info, err := c.CreateWorkspace(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, "ws1", info.ID)
	_, err = c.CreateWorkspace(ctx, "ws1")
	assert.ErrorIs(t, err, store.ErrConflict)

	list, err := c.ListWorkspaces(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = c.PutEntity(ctx, "ws1", "", "user", "1", json.RawMessage(`{"n":1}`))
	require.NoError(t, err)

	st, err := c.SetOffset(ctx, "ws1", -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, clock.StateSimulated, st.State)
	assert.Equal(t, t0.Add(-time.Hour), st.Now.UTC())

	d, err := c.SaveSnapshot(ctx, "ws1", admin.SaveSnapshotRequest{Name: "base", IncludeClock: true})
	require.NoError(t, err)
	assert.Equal(t, 1, d.TotalEntities)
	require.NotNil(t, d.Clock)
	assert.Equal(t, -time.Hour, d.Clock.Offset)

	_, err = c.SaveSnapshot(ctx, "ws1", admin.SaveSnapshotRequest{Name: "base"})
	assert.ErrorIs(t, err, store.ErrConflict)

	st, err = c.Advance(ctx, "ws1", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, -30*time.Minute, st.Offset)

	_, err = c.PutEntity(ctx, "ws1", "", "user", "2", json.RawMessage(`{}`))
	require.NoError(t, err)

	res, err := c.LoadSnapshot(ctx, "ws1", "base", true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Restored)
	assert.Equal(t, -time.Hour, res.Clock.Offset)

	_, err = c.GetEntity(ctx, "ws1", "", "user", "2")
	assert.ErrorIs(t, err, store.ErrNotFound)

	snaps, err := c.ListSnapshots(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	got, err := c.GetSnapshot(ctx, "ws1", "base")
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)

	require.NoError(t, c.DeleteSnapshot(ctx, "ws1", "base"))
	_, err = c.LoadSnapshot(ctx, "ws1", "base", false)
	assert.ErrorIs(t, err, store.ErrNotFound)

	st, err = c.SetTime(ctx, "ws1", t0.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, st.Offset)
	st, err = c.ResetTime(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, clock.StateRealtime, st.State)
	st, err = c.Time(ctx, "ws1")
	require.NoError(t, err)
	assert.Equal(t, t0, st.Now.UTC())

	require.NoError(t, c.DeleteWorkspace(ctx, "ws1"))
	_, err = c.GetWorkspace(ctx, "ws1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAdminClient_ValidateDiffScale(t *testing.T) {
	srv, _ := newTestServer(t)
	c := NewAdminClient(srv.URL)
	ctx := context.Background()

	_, err := c.PutEntity(ctx, "ws1", "", "user", "1", json.RawMessage(`{"name":"Ada"}`))
	require.NoError(t, err)
	_, err = c.SaveSnapshot(ctx, "ws1", admin.SaveSnapshotRequest{Name: "base"})
	require.NoError(t, err)

	v, err := c.ValidateSnapshot(ctx, "ws1", "base")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	_, err = c.ValidateSnapshot(ctx, "ws1", "ghost")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = c.PutEntity(ctx, "ws1", "", "user", "2", json.RawMessage(`{}`))
	require.NoError(t, err)
	d, err := c.DiffSnapshot(ctx, "ws1", "base", "")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Added)
	assert.Equal(t, 1, d.Unchanged)
	require.Len(t, d.Changes, 1)
	assert.Equal(t, entity.Key{Type: "user", ID: "2"}, d.Changes[0].Key)

	d, err = c.DiffSnapshot(ctx, "ws1", "base", "base")
	require.NoError(t, err)
	assert.Empty(t, d.Changes)

	st, err := c.SetScale(ctx, "ws1", 10)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, st.Scale, 0)
	_, err = c.SetScale(ctx, "ws1", -1)
	assert.ErrorIs(t, err, store.ErrInvalid)
}

func TestAdminClient_Errors(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()
	c := NewAdminClient(srv.URL, WithTimeout(5*time.Second))

	_, err := c.PutEntity(ctx, "ws1", "", "user", "1", json.RawMessage(`[1,2]`))
	assert.ErrorIs(t, err, store.ErrInvalid)

	var apiErr *APIError
	_, err = c.PutEntity(ctx, "ws1", "carrier-pigeon", "user", "1", json.RawMessage(`{}`))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	_, err = c.GetSnapshot(ctx, "ws1", "missing")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Hint)
	assert.Contains(t, FormatError(err), apiErr.Hint)

	dead := NewAdminClient("http://127.0.0.1:1")
	_, err = dead.Health(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeConnection, apiErr.Code)
	assert.Contains(t, FormatError(err), "vbackend serve")

	assert.Equal(t, "Error: boom", FormatError(errors.New("boom")))
}

func TestAdminClient_RateLimited(t *testing.T) {
	srv, _ := newTestServer(t, admin.WithRateLimit(0.001, 1))
	c := NewAdminClient(srv.URL)

	_, err := c.Health(context.Background())
	require.NoError(t, err)
	_, err = c.Health(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, admin.CodeRateLimited, apiErr.Code)
}

func TestAdminClient_EventsURL(t *testing.T) {
	c := NewAdminClient("https://vb.example.com")
	assert.Equal(t, "wss://vb.example.com/workspaces/ws%201/events?type=user", c.EventsURL("ws 1", "user"))
	c = NewAdminClient("http://localhost:4290")
	assert.Equal(t, "ws://localhost:4290/workspaces/default/events", c.EventsURL("default", ""))
}
