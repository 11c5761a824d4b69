// Package storagetest holds the black-box contract every storage.Storage
// backend must pass.
package storagetest

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/statebot/internal/storage"
)

// Factory returns a fresh backend for one subtest.
type Factory func(t *testing.T) storage.Storage

// RunContract runs the shared storage contract against the backend built by newStorage.
// Every subtest uses its own collection name so backends may share a database.
func RunContract(t *testing.T, newStorage Factory) {
	t.Helper()

	t.Run("insert then get round trips", func(t *testing.T) {
		s, col := newStorage(t), collection()
		ctx := context.Background()
		doc := storage.Document{
			"name":   "alice",
			"age":    31,
			"score":  2.5,
			"admin":  false,
			"tags":   []any{"a", "b"},
			"nested": map[string]any{"k": "v", "n": 1},
			"empty":  nil,
		}
		require.NoError(t, s.InsertOne(ctx, col, doc))

		got, err := s.Get(ctx, col, storage.Query{})
		require.NoError(t, err)
		requireDocs(t, []storage.Document{doc}, got)
	})

	t.Run("missing collection is an error", func(t *testing.T) {
		s, col := newStorage(t), collection()
		ctx := context.Background()
		_, err := s.Get(ctx, col, storage.Query{})
		require.ErrorIs(t, err, storage.ErrStorage)
		require.ErrorIs(t, err, storage.ErrNoCollection)
		require.ErrorIs(t, s.RemoveOne(ctx, col, storage.Document{"a": 1}), storage.ErrNoCollection)
		require.ErrorIs(t, s.RemoveMany(ctx, col, storage.Document{"a": 1}), storage.ErrNoCollection)

		require.NoError(t, s.InsertOne(ctx, col, storage.Document{"a": 1}))
		require.NoError(t, s.RemoveMany(ctx, col, nil))
		got, err := s.Get(ctx, col, storage.Query{})
		require.NoError(t, err)
		require.Empty(t, got)
	})

	t.Run("filter is a superset match", func(t *testing.T) {
		s, col := newStorage(t), collection()
		ctx := context.Background()
		docs := []storage.Document{
			{"id": 1, "role": "admin", "lang": "en"},
			{"id": 2, "role": "user", "lang": "en"},
			{"id": 3, "role": "admin", "lang": "de"},
			{"id": 4, "tags": []any{"admin"}},
		}
		require.NoError(t, s.InsertMany(ctx, col, docs))

		cases := []struct {
			name   string
			filter storage.Document
			want   []int64
		}{
			{name: "empty filter", filter: nil, want: []int64{1, 2, 3, 4}},
			{name: "one key", filter: storage.Document{"role": "admin"}, want: []int64{1, 3}},
			{name: "two keys", filter: storage.Document{"role": "admin", "lang": "de"}, want: []int64{3}},
			{name: "absent key", filter: storage.Document{"missing": "x"}, want: nil},
			{name: "value mismatch", filter: storage.Document{"role": "owner"}, want: nil},
			{name: "scalar never matches list", filter: storage.Document{"tags": "admin"}, want: nil},
			{name: "list matches equal list", filter: storage.Document{"tags": []string{"admin"}}, want: []int64{4}},
			{name: "numeric types compare by value", filter: storage.Document{"id": float64(2)}, want: []int64{2}},
		}
		for _, tc := range cases {
			got, err := s.Get(ctx, col, storage.Query{Filter: tc.filter})
			require.NoError(t, err, tc.name)
			assert.Equal(t, tc.want, ids(t, got), tc.name)
		}
	})

	t.Run("get by column", func(t *testing.T) {
		s, col := newStorage(t), collection()
		ctx := context.Background()
		require.NoError(t, s.InsertMany(ctx, col, []storage.Document{
			{"id": 1, "state": "free"},
			{"id": 2, "state": "busy"},
			{"id": 3, "state": "free"},
		}))
		got, err := s.GetByColumn(ctx, col, "state", "free", nil, 0)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, ids(t, got))

		got, err = s.GetByColumn(ctx, col, "state", "free", []string{"id"}, 1)
		require.NoError(t, err)
		requireDocs(t, []storage.Document{{"id": 1}}, got)
	})

	t.Run("columns project and limit keeps earliest", func(t *testing.T) {
		s, col := newStorage(t), collection()
		ctx := context.Background()
		require.NoError(t, s.InsertMany(ctx, col, []storage.Document{
			{"id": 1, "name": "a", "extra": true},
			{"id": 2, "name": "b"},
			{"id": 3, "extra": false},
		}))

		got, err := s.Get(ctx, col, storage.Query{Columns: []string{"id", "extra"}})
		require.NoError(t, err)
		requireDocs(t, []storage.Document{
			{"id": 1, "extra": true},
			{"id": 2},
			{"id": 3, "extra": false},
		}, got)

		got, err = s.Get(ctx, col, storage.Query{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, ids(t, got))
	})

	t.Run("remove one keeps order of the rest", func(t *testing.T) {
		s, col := newStorage(t), collection()
		ctx := context.Background()
		require.NoError(t, s.InsertMany(ctx, col, []storage.Document{
			{"id": 1, "kind": "x"},
			{"id": 2, "kind": "y"},
			{"id": 3, "kind": "y"},
			{"id": 4, "kind": "z"},
		}))

		require.NoError(t, s.RemoveOne(ctx, col, storage.Document{"kind": "y"}))
		got, err := s.Get(ctx, col, storage.Query{})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3, 4}, ids(t, got))

		require.NoError(t, s.RemoveOne(ctx, col, storage.Document{"kind": "none"}))
		got, err = s.Get(ctx, col, storage.Query{})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3, 4}, ids(t, got))
	})

	t.Run("remove many drops every match", func(t *testing.T) {
		s, col := newStorage(t), collection()
		ctx := context.Background()
		require.NoError(t, s.InsertMany(ctx, col, []storage.Document{
			{"id": 1, "kind": "y"},
			{"id": 2, "kind": "x"},
			{"id": 3, "kind": "y"},
		}))

		require.NoError(t, s.RemoveMany(ctx, col, storage.Document{"kind": "y"}))
		got, err := s.Get(ctx, col, storage.Query{})
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, ids(t, got))
	})

	t.Run("update touches only patch keys", func(t *testing.T) {
		s, col := newStorage(t), collection()
		ctx := context.Background()
		require.NoError(t, s.InsertMany(ctx, col, []storage.Document{
			{"uid": "u1", "state": "free", "roles": []any{"user"}},
			{"uid": "u1", "state": "free", "roles": []any{"user"}},
			{"uid": "u2", "state": "free"},
		}))

		require.NoError(t, s.UpdateOneByID(ctx, col, "uid", "u1", storage.Document{"state": "busy", "step": 1}))
		got, err := s.Get(ctx, col, storage.Query{})
		require.NoError(t, err)
		requireDocs(t, []storage.Document{
			{"uid": "u1", "state": "busy", "step": 1, "roles": []any{"user"}},
			{"uid": "u1", "state": "free", "roles": []any{"user"}},
			{"uid": "u2", "state": "free"},
		}, got)

		require.NoError(t, s.UpdateManyByID(ctx, col, "uid", "u1", storage.Document{"state": "done"}))
		got, err = s.Get(ctx, col, storage.Query{})
		require.NoError(t, err)
		requireDocs(t, []storage.Document{
			{"uid": "u1", "state": "done", "step": 1, "roles": []any{"user"}},
			{"uid": "u1", "state": "done", "roles": []any{"user"}},
			{"uid": "u2", "state": "free"},
		}, got)
	})

	t.Run("update upserts when nothing matches", func(t *testing.T) {
		s, col := newStorage(t), collection()
		ctx := context.Background()

		require.NoError(t, s.UpdateOneByID(ctx, col, "uid", "u9", storage.Document{"state": "free"}))
		require.NoError(t, s.UpdateManyByID(ctx, col, "uid", "u8", storage.Document{"roles": []any{"user"}}))
		require.NoError(t, s.UpdateOneByID(ctx, col, "uid", "u7", nil))

		got, err := s.Get(ctx, col, storage.Query{})
		require.NoError(t, err)
		requireDocs(t, []storage.Document{
			{"uid": "u9", "state": "free"},
			{"uid": "u8", "roles": []any{"user"}},
			{"uid": "u7"},
		}, got)
	})
}

func collection() string {
	return "contract_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func requireDocs(t *testing.T, want, got []storage.Document) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.Truef(t, storage.Equal(want[i], got[i]), "document %d: want %v, got %v", i, want[i], got[i])
	}
}

func ids(t *testing.T, docs []storage.Document) []int64 {
	t.Helper()
	var out []int64
	for _, doc := range docs {
		id, ok := storage.Normalize(doc["id"]).(int64)
		require.Truef(t, ok, "document without integer id: %v", doc)
		out = append(out, id)
	}
	return out
}
