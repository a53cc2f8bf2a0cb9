package entity

import (
	"context"
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/vbackend/pkg/clock"
	"github.com/getmockd/vbackend/pkg/document"
	"github.com/getmockd/vbackend/pkg/store"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) (*Store, *clock.Manual) {
	t.Helper()
	wall := clock.NewManual(t0)
	return NewStore("ws1", NewMemoryBackend(), wall), wall
}

func doc(t *testing.T, fields map[string]any) document.Value {
	t.Helper()
	v, err := document.FromAny(fields)
	require.NoError(t, err)
	return v
}

func collect(t *testing.T, s *Store, entityType string) []*Record {
	t.Helper()
	seq, err := s.List(context.Background(), entityType)
	require.NoError(t, err)
	return slices.Collect(seq)
}

func TestStore_Upsert_Create(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	rec, err := s.Upsert(ctx, "user", "1", doc(t, map[string]any{"name": "Ann"}), ProtocolREST)
	require.NoError(t, err)

	assert.Equal(t, "user", rec.Type)
	assert.Equal(t, "1", rec.ID)
	assert.Equal(t, `{"name":"Ann"}`, rec.Data.String())
	assert.Equal(t, []Protocol{ProtocolREST}, rec.SeenIn.Protocols())
	assert.Equal(t, uint64(1), rec.Version)
	assert.Equal(t, t0, rec.CreatedAt)
	assert.Equal(t, t0, rec.UpdatedAt)
}

func TestStore_Upsert_CrossProtocolScenario(t *testing.T) {
	s, wall := setupStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "user", "1", doc(t, map[string]any{"name": "Ann"}), ProtocolREST)
	require.NoError(t, err)
	wall.Advance(time.Second)
	_, err = s.Upsert(ctx, "user", "1", doc(t, map[string]any{"name": "Ann", "age": 30}), ProtocolGRPC)
	require.NoError(t, err)

	got, err := s.Get(ctx, "user", "1")
	require.NoError(t, err)
	assert.Equal(t, `{"age":30,"name":"Ann"}`, got.Data.String())
	assert.Equal(t, NewProtocolSet(ProtocolREST, ProtocolGRPC), got.SeenIn)
	assert.Equal(t, uint64(2), got.Version)
	assert.Equal(t, t0, got.CreatedAt, "created_at is kept on replace")
	assert.Equal(t, t0.Add(time.Second), got.UpdatedAt)
}

func TestStore_Upsert_ReplacesWholeDocument(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "user", "1", doc(t, map[string]any{"name": "Ann", "email": "ann@example.com"}), ProtocolREST)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "user", "1", doc(t, map[string]any{"name": "Bob"}), ProtocolMQTT)
	require.NoError(t, err)

	got, err := s.Get(ctx, "user", "1")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Bob"}`, got.Data.String(), "fields absent from the new write are dropped")
}

func TestStore_Upsert_UsesVirtualClock(t *testing.T) {
	wall := clock.NewManual(t0)
	sim := clock.NewSimulator(clock.WithWallClock(wall))
	s := NewStore("ws1", NewMemoryBackend(), sim.For("ws1"))
	ctx := context.Background()

	before, err := s.Upsert(ctx, "order", "a", doc(t, map[string]any{}), ProtocolAMQP)
	require.NoError(t, err)

	sim.SetOffset("ws1", 3600*time.Second)
	after, err := s.Upsert(ctx, "order", "b", doc(t, map[string]any{}), ProtocolAMQP)
	require.NoError(t, err)

	assert.Equal(t, t0.Add(time.Hour), after.UpdatedAt)
	again, err := s.Get(ctx, "order", "a")
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, again.UpdatedAt, "offset changes never rewrite stored timestamps")
}

func TestStore_Upsert_Validation(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	data := doc(t, map[string]any{"k": "v"})

	tests := []struct {
		name     string
		typ, id  string
		data     document.Value
		protocol Protocol
	}{
		{"empty type", "", "1", data, ProtocolREST},
		{"bad type", "user/admin", "1", data, ProtocolREST},
		{"empty id", "user", "", data, ProtocolREST},
		{"non-map data", "user", "1", document.String("x"), ProtocolREST},
		{"null data", "user", "1", document.Null(), ProtocolREST},
		{"unknown protocol", "user", "1", data, Protocol("FTP")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Upsert(ctx, tt.typ, tt.id, tt.data, tt.protocol)
			assert.ErrorIs(t, err, store.ErrInvalid)
		})
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_Get_NotFound(t *testing.T) {
	s, _ := setupStore(t)

	_, err := s.Get(context.Background(), "user", "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	var nf *store.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "ws1", nf.Workspace)
	assert.Equal(t, "user/missing", nf.Name)
}

func TestStore_Get_ReturnsPrivateCopies(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	input := doc(t, map[string]any{"tags": []any{"a"}})

	_, err := s.Upsert(ctx, "user", "1", input, ProtocolREST)
	require.NoError(t, err)

	fields, _ := input.AsMap()
	fields["tags"] = document.String("mutated input")

	first, err := s.Get(ctx, "user", "1")
	require.NoError(t, err)
	tags, _ := first.Data.Field("tags")
	items, _ := tags.AsList()
	items[0] = document.String("mutated output")
	first.SeenIn = first.SeenIn.With(ProtocolSMTP)

	second, err := s.Get(ctx, "user", "1")
	require.NoError(t, err)
	assert.Equal(t, `{"tags":["a"]}`, second.Data.String())
	assert.False(t, second.SeenIn.Has(ProtocolSMTP))
}

func TestStore_Get_Idempotent(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	_, err := s.Upsert(ctx, "user", "1", doc(t, map[string]any{"n": 1}), ProtocolREST)
	require.NoError(t, err)

	first, err := s.Get(ctx, "user", "1")
	require.NoError(t, err)
	for range 5 {
		again, err := s.Get(ctx, "user", "1")
		require.NoError(t, err)
		assert.True(t, first.Equal(again))
	}
}

func TestStore_Touch(t *testing.T) {
	s, wall := setupStore(t)
	ctx := context.Background()
	_, err := s.Upsert(ctx, "user", "1", doc(t, map[string]any{"n": 1}), ProtocolREST)
	require.NoError(t, err)
	wall.Advance(time.Minute)

	rec, err := s.Touch(ctx, "user", "1", ProtocolGraphQL)
	require.NoError(t, err)
	assert.Equal(t, NewProtocolSet(ProtocolREST, ProtocolGraphQL), rec.SeenIn)
	assert.Equal(t, uint64(1), rec.Version, "a read tag is not a data write")
	assert.Equal(t, t0, rec.UpdatedAt)

	_, err = s.Touch(ctx, "user", "nope", ProtocolGraphQL)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_List(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	for _, k := range []Key{{"user", "2"}, {"order", "9"}, {"user", "1"}, {"order", "10"}} {
		_, err := s.Upsert(ctx, k.Type, k.ID, doc(t, map[string]any{}), ProtocolREST)
		require.NoError(t, err)
	}

	keys := func(recs []*Record) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.Key().String()
		}
		return out
	}

	assert.Equal(t, []string{"order/10", "order/9", "user/1", "user/2"}, keys(collect(t, s, "")))
	assert.Equal(t, []string{"user/1", "user/2"}, keys(collect(t, s, "user")))
	assert.Empty(t, collect(t, s, "invoice"))
}

func TestStore_List_RestartableAndStable(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	_, err := s.Upsert(ctx, "user", "1", doc(t, map[string]any{}), ProtocolREST)
	require.NoError(t, err)

	seq, err := s.List(ctx, "")
	require.NoError(t, err)

	_, err = s.Upsert(ctx, "user", "2", doc(t, map[string]any{}), ProtocolREST)
	require.NoError(t, err)

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Len(t, first, 1, "a sequence reflects the store at the time List was called")
	assert.Len(t, second, 1)

	for range seq {
		break
	}
}

func TestStore_Delete(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	_, err := s.Upsert(ctx, "user", "1", doc(t, map[string]any{}), ProtocolREST)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "user", "1"))
	_, err = s.Get(ctx, "user", "1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "user", "1"), store.ErrNotFound)
}

func TestStore_ReplaceAll(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	_, err := s.Upsert(ctx, "user", "old", doc(t, map[string]any{}), ProtocolREST)
	require.NoError(t, err)

	replacement := []*Record{
		{Type: "user", ID: "a", Data: doc(t, map[string]any{"x": 1}), SeenIn: NewProtocolSet(ProtocolMQTT), Version: 3, CreatedAt: t0, UpdatedAt: t0},
		{Type: "order", ID: "b", Data: doc(t, map[string]any{}), SeenIn: NewProtocolSet(ProtocolSMTP), Version: 1, CreatedAt: t0, UpdatedAt: t0},
	}
	require.NoError(t, s.ReplaceAll(ctx, replacement))

	got := collect(t, s, "")
	require.Len(t, got, 2)
	assert.True(t, replacement[1].Equal(got[0]))
	assert.True(t, replacement[0].Equal(got[1]))

	replacement[0].Data = document.Map(nil)
	again, err := s.Get(ctx, "user", "a")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, again.Data.String(), "installed records are copies")
}

func TestStore_ReplaceAll_RejectsInvalidSetAtomically(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	_, err := s.Upsert(ctx, "user", "keep", doc(t, map[string]any{}), ProtocolREST)
	require.NoError(t, err)

	dup := []*Record{
		{Type: "user", ID: "a", Data: doc(t, map[string]any{})},
		{Type: "user", ID: "a", Data: doc(t, map[string]any{})},
	}
	assert.ErrorIs(t, s.ReplaceAll(ctx, dup), store.ErrInvalid)

	bad := []*Record{{Type: "user", ID: "b", Data: document.String("x")}}
	assert.ErrorIs(t, s.ReplaceAll(ctx, bad), store.ErrInvalid)

	got := collect(t, s, "")
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].ID)
}

func TestStore_CaptureAndTypes(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	for _, k := range []Key{{"user", "1"}, {"user", "2"}, {"order", "1"}} {
		_, err := s.Upsert(ctx, k.Type, k.ID, doc(t, map[string]any{}), ProtocolREST)
		require.NoError(t, err)
	}

	state, err := s.Capture(ctx)
	require.NoError(t, err)
	assert.Len(t, state, 3)

	types, err := s.Types(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"user": 2, "order": 1}, types)
	assert.Equal(t, "ws1", s.Workspace())
	assert.Equal(t, store.BackendMemory, s.BackendKind())
}

func TestRecord_JSON(t *testing.T) {
	rec := &Record{
		Type: "user", ID: "1",
		Data:      doc(t, map[string]any{"name": "Ann"}),
		SeenIn:    NewProtocolSet(ProtocolGRPC, ProtocolREST),
		Version:   2,
		CreatedAt: t0, UpdatedAt: t0.Add(time.Second),
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"entityType":"user","entityId":"1","data":{"name":"Ann"},
		"seenInProtocols":["REST","gRPC"],"version":2,
		"createdAt":"2026-05-01T12:00:00Z","updatedAt":"2026-05-01T12:00:01Z"
	}`, string(data))

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, rec.Equal(&back))
	assert.Equal(t, *rec, back)
}
