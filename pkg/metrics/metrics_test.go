package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/vbackend/pkg/consistency"
	"github.com/getmockd/vbackend/pkg/document"
	"github.com/getmockd/vbackend/pkg/entity"
	"github.com/getmockd/vbackend/pkg/store"
)

func TestMetrics_Observer(t *testing.T) {
	m := New()
	ctx := context.Background()
	tr := consistency.New(entity.NewStore("ws1", nil, nil), consistency.WithObserver(m))

	_, err := tr.Upsert(ctx, entity.ProtocolREST, "user", "1", document.Map(nil))
	require.NoError(t, err)
	_, err = tr.Upsert(ctx, entity.ProtocolGRPC, "user", "1", document.Map(nil))
	require.NoError(t, err)
	_, err = tr.Get(ctx, entity.ProtocolMQTT, "user", "1")
	require.NoError(t, err)
	_, err = tr.Get(ctx, entity.ProtocolMQTT, "user", "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, tr.Delete(ctx, entity.ProtocolREST, "user", "1"))
	require.NoError(t, tr.Restore(ctx, []*entity.Record{{Type: "user", ID: "9", Data: document.Map(nil)}}, nil))

	assert.InDelta(t, 1, testutil.ToFloat64(m.EntityOperations.WithLabelValues("ws1", OpCreate, "REST")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EntityOperations.WithLabelValues("ws1", OpUpdate, "gRPC")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EntityOperations.WithLabelValues("ws1", OpRead, "MQTT")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EntityOperations.WithLabelValues("ws1", OpDelete, "REST")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.EntityErrors.WithLabelValues("ws1", "get", "not_found")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Restores.WithLabelValues("ws1")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RestoredRecords.WithLabelValues("ws1")), 0)
	assert.Equal(t, 4, testutil.CollectAndCount(m.EntityDuration))
}

func TestErrorKind(t *testing.T) {
	cases := map[string]error{
		"not_found":    &store.NotFoundError{Kind: store.KindEntity, Name: "user/1"},
		"conflict":     &store.ConflictError{Kind: store.KindSnapshot, Name: "s"},
		"lock_timeout": &store.LockTimeoutError{Scope: store.ScopeKey},
		"storage_io":   store.IOError(store.BackendSQLite, "scan", io.ErrUnexpectedEOF),
		"invalid":      &store.ValidationError{Field: "id"},
		"canceled":     fmt.Errorf("wait: %w", context.Canceled),
		"internal":     io.EOF,
	}
	for want, err := range cases {
		assert.Equal(t, want, ErrorKind(err), want)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.OnLockWait("ws1", store.ScopeWorkspace, 3*time.Millisecond, false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `vbackend_lock_wait_seconds_count{granted="false",scope="workspace"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetrics_Middleware(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /workspaces/{ws}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := m.Middleware(mux)

	for _, path := range []string{"/workspaces/a", "/workspaces/b", "/nowhere"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.InDelta(t, 2, testutil.ToFloat64(m.AdminRequests.WithLabelValues("GET", "GET /workspaces/{ws}", "418")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.AdminRequests.WithLabelValues("GET", "unmatched", "404")), 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.False(t, strings.Contains(rec.Body.String(), "/workspaces/a"), "raw paths never become labels")
}
