package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/vbackend/pkg/clock"
	"github.com/getmockd/vbackend/pkg/entity"
	"github.com/getmockd/vbackend/pkg/logging"
	"github.com/getmockd/vbackend/pkg/metrics"
	"github.com/getmockd/vbackend/pkg/store"
	"github.com/getmockd/vbackend/pkg/workspace"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	api *API
	reg *workspace.Registry
}

func newFixture(t *testing.T, regOpts []workspace.Option, opts ...Option) *fixture {
	t.Helper()
	sim := clock.NewSimulator(clock.WithWallClock(clock.NewManual(t0)))
	reg, err := workspace.NewRegistry(context.Background(), append([]workspace.Option{workspace.WithSimulator(sim)}, regOpts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return &fixture{api: New(reg, opts...), reg: reg}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.api.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, WithVersion("1.2.3"))
	_, err := f.reg.Create(context.Background(), "default")
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	h := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "1.2.3", h.Version)
	assert.Equal(t, 1, h.Workspaces)
	assert.Equal(t, "memory", h.EntityBackend)
	assert.Equal(t, "memory", h.SnapshotBackend)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestWorkspaces(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/workspaces", CreateWorkspaceRequest{ID: "team-a"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	info := decode[workspace.Info](t, rec)
	assert.Equal(t, "team-a", info.ID)
	assert.Equal(t, t0, info.CreatedAt)

	rec = f.do(t, http.MethodPost, "/workspaces", CreateWorkspaceRequest{ID: "team-a"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, store.CodeConflict, decode[store.ErrorResponse](t, rec).Error)

	rec = f.do(t, http.MethodPost, "/workspaces", CreateWorkspaceRequest{ID: "bad id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/workspaces/team-a/entities/user/1", map[string]any{"name": "Ada"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/workspaces", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[WorkspaceList](t, rec)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, 1, list.Workspaces[0].Entities)
	assert.Equal(t, map[string]int{"user": 1}, list.Workspaces[0].Types)

	rec = f.do(t, http.MethodDelete, "/workspaces/team-a", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/workspaces/team-a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[store.ErrorResponse](t, rec)
	assert.Equal(t, store.CodeNotFound, resp.Error)
	assert.Equal(t, store.KindWorkspace, resp.Kind)
}

func TestEntities_CRUD(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPut, "/workspaces/ws1/entities/order/42", map[string]any{"total": 10})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[entity.Record](t, rec)
	assert.Equal(t, uint64(1), created.Version)
	assert.Equal(t, []entity.Protocol{entity.ProtocolREST}, created.SeenIn.Protocols())

	rec = f.do(t, http.MethodPut, "/workspaces/ws1/entities/order/42", map[string]any{"total": 12}, ProtocolHeader, "grpc")
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[entity.Record](t, rec)
	assert.Equal(t, uint64(2), updated.Version)
	assert.True(t, updated.SeenIn.Has(entity.ProtocolGRPC))
	assert.True(t, updated.SeenIn.Has(entity.ProtocolREST))
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	rec = f.do(t, http.MethodGet, "/workspaces/ws1/entities/order/42?protocol=mqtt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[entity.Record](t, rec)
	assert.True(t, got.SeenIn.Has(entity.ProtocolMQTT), "reads are tracked by default")
	total, ok := got.Data.Field("total")
	require.True(t, ok)
	assert.Equal(t, `12`, total.String())

	rec = f.do(t, http.MethodDelete, "/workspaces/ws1/entities/order/42", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/workspaces/ws1/entities/order/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/workspaces/ws1/entities/order/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntities_List(t *testing.T) {
	f := newFixture(t, nil)
	for _, id := range []string{"a", "b", "c", "d"} {
		rec := f.do(t, http.MethodPut, "/workspaces/ws1/entities/user/"+id, map[string]any{"id": id})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := f.do(t, http.MethodPut, "/workspaces/ws1/entities/order/1", map[string]any{})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/workspaces/ws1/entities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decode[EntityList](t, rec).Total)

	rec = f.do(t, http.MethodGet, "/workspaces/ws1/entities/user?offset=1&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[EntityList](t, rec)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Entities, 2)
	assert.Equal(t, "b", page.Entities[0].ID)
	assert.Equal(t, "c", page.Entities[1].ID)

	rec = f.do(t, http.MethodGet, "/workspaces/ws1/entities?type=order", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[EntityList](t, rec).Total)

	rec = f.do(t, http.MethodGet, "/workspaces/ws1/entities?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEntities_ReadsWithoutProtocolAreUntagged(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPut, "/workspaces/ws1/entities/user/1", map[string]any{}, ProtocolHeader, "grpc")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/workspaces/ws1/entities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[EntityList](t, rec)
	require.Len(t, list.Entities, 1)
	assert.Equal(t, []entity.Protocol{entity.ProtocolGRPC}, list.Entities[0].SeenIn.Protocols())

	rec = f.do(t, http.MethodGet, "/workspaces/ws1/entities/user/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []entity.Protocol{entity.ProtocolGRPC}, decode[entity.Record](t, rec).SeenIn.Protocols())

	ws, err := f.reg.Get("ws1")
	require.NoError(t, err)
	assert.NotContains(t, ws.Tracker().ProtocolStats(), entity.ProtocolREST)

	rec = f.do(t, http.MethodGet, "/workspaces/ws1/entities?protocol=rest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[EntityList](t, rec).Entities[0].SeenIn.Has(entity.ProtocolREST), "a named protocol is tracked")
}

func TestEntities_Invalid(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPut, "/workspaces/ws1/entities/user/1", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "data", decode[store.ErrorResponse](t, rec).Field)

	rec = f.do(t, http.MethodPut, "/workspaces/ws1/entities/user/1", `{"unterminated":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/workspaces/ws1/entities/user/1", map[string]any{}, ProtocolHeader, "carrier-pigeon")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "protocol", decode[store.ErrorResponse](t, rec).Field)
}

func TestStats(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPut, "/workspaces/ws1/entities/user/1", map[string]any{}, ProtocolHeader, "graphql")
	f.do(t, http.MethodGet, "/workspaces/ws1/entities/user/1", nil, ProtocolHeader, "ws")

	rec := f.do(t, http.MethodGet, "/workspaces/ws1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	assert.Equal(t, int64(1), stats.Protocols[entity.ProtocolGraphQL].Writes)
	assert.Equal(t, int64(1), stats.Protocols[entity.ProtocolWebSocket].Reads)
	assert.NotContains(t, stats.Protocols, entity.ProtocolSMTP)
}

func TestStrictWorkspaces(t *testing.T) {
	f := newFixture(t, []workspace.Option{workspace.WithAutoCreate(false)})

	rec := f.do(t, http.MethodPut, "/workspaces/nope/entities/user/1", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, store.KindWorkspace, decode[store.ErrorResponse](t, rec).Kind)
	assert.Empty(t, f.reg.List())
}

func TestWriteError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&store.LockTimeoutError{Scope: store.ScopeKey, Workspace: "ws1", Key: "user/1", Waited: time.Second}, http.StatusLocked, store.CodeLockTimeout},
		{store.IOError(store.BackendS3, "put", io.ErrUnexpectedEOF), http.StatusServiceUnavailable, store.CodeStorageIO},
		{errors.New("secret detail"), http.StatusInternalServerError, store.CodeInternal},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, logging.Nop(), tc.err)
		assert.Equal(t, tc.status, rec.Code)
		resp := decode[store.ErrorResponse](t, rec)
		assert.Equal(t, tc.code, resp.Error)
		assert.NotContains(t, resp.Message, "secret")
	}

	rec := httptest.NewRecorder()
	writeError(rec, logging.Nop(), &store.LockTimeoutError{Scope: store.ScopeWorkspace})
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, []workspace.Option{workspace.WithObserver(m)}, WithMetrics(m))

	f.do(t, http.MethodPut, "/workspaces/ws1/entities/user/1", map[string]any{})
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `vbackend_entity_operations_total{operation="create",protocol="REST",workspace="ws1"} 1`)
	assert.Contains(t, body, `route="PUT /workspaces/{ws}/entities/{type}/{id}"`)
}
