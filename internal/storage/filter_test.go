package storage_test

import (
	"encoding/json"
	"testing"

	"github.com/memohai/statebot/internal/storage"
)

func TestMatches(t *testing.T) {
	t.Parallel()

	doc := storage.Document{
		"id":    json.Number("7"),
		"state": "free",
		"roles": []any{"user", "admin"},
		"meta":  map[string]any{"lang": "en"},
	}
	cases := []struct {
		name   string
		filter storage.Document
		want   bool
	}{
		{name: "nil filter", filter: nil, want: true},
		{name: "subset", filter: storage.Document{"state": "free"}, want: true},
		{name: "number kinds", filter: storage.Document{"id": 7}, want: true},
		{name: "float number", filter: storage.Document{"id": 7.0}, want: true},
		{name: "fractional number", filter: storage.Document{"id": 7.5}, want: false},
		{name: "missing key", filter: storage.Document{"locale": "en"}, want: false},
		{name: "list equality", filter: storage.Document{"roles": []string{"user", "admin"}}, want: true},
		{name: "list order matters", filter: storage.Document{"roles": []string{"admin", "user"}}, want: false},
		{name: "scalar against list", filter: storage.Document{"roles": "user"}, want: false},
		{name: "nested map", filter: storage.Document{"meta": storage.Document{"lang": "en"}}, want: true},
		{name: "nil against missing", filter: storage.Document{"gone": nil}, want: false},
	}
	for _, tc := range cases {
		if got := storage.Matches(doc, tc.filter); got != tc.want {
			t.Fatalf("%s: Matches = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSelectProjectsAndLimits(t *testing.T) {
	t.Parallel()

	docs := []storage.Document{
		{"id": 1, "kind": "a", "x": true},
		{"id": 2, "kind": "b"},
		{"id": 3, "kind": "a"},
		{"id": 4, "kind": "a"},
	}
	got := storage.Select(docs, storage.Query{
		Columns: []string{"id", "x"},
		Filter:  storage.Document{"kind": "a"},
		Limit:   2,
	})
	want := []storage.Document{{"id": 1, "x": true}, {"id": 3}}
	if len(got) != len(want) {
		t.Fatalf("Select returned %d documents: %v", len(got), got)
	}
	for i := range want {
		if !storage.Equal(got[i], want[i]) {
			t.Fatalf("document %d: want %v, got %v", i, want[i], got[i])
		}
	}
	if _, ok := docs[0]["kind"]; !ok {
		t.Fatalf("Select modified its input")
	}
}

func TestMergeIsShallow(t *testing.T) {
	t.Parallel()

	doc := storage.Document{"a": 1, "nested": map[string]any{"k": 1, "j": 2}}
	storage.Merge(doc, storage.Document{"nested": map[string]any{"k": 3}, "b": 2})
	want := storage.Document{"a": 1, "b": 2, "nested": map[string]any{"k": 3}}
	if !storage.Equal(doc, want) {
		t.Fatalf("Merge = %v, want %v", doc, want)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   any
		want any
	}{
		{in: int32(5), want: int64(5)},
		{in: uint8(5), want: int64(5)},
		{in: 5.0, want: int64(5)},
		{in: 5.25, want: 5.25},
		{in: json.Number("12"), want: int64(12)},
		{in: json.Number("1.5"), want: 1.5},
		{in: []string(nil), want: []any{}},
		{in: "s", want: "s"},
		{in: nil, want: nil},
	}
	for _, tc := range cases {
		if got := storage.Normalize(tc.in); !storage.Equal(got, tc.want) {
			t.Fatalf("Normalize(%#v) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}
