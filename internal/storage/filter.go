package storage

import (
	"encoding/json"
	"math"
	"reflect"
)

// Matches reports whether doc contains every key of filter with an equal value.
// An empty filter matches every document.
func Matches(doc, filter Document) bool {
	for key, want := range filter {
		got, ok := doc[key]
		if !ok {
			return false
		}
		if !Equal(got, want) {
			return false
		}
	}
	return true
}

// Project returns a copy of doc reduced to columns. Columns missing from doc
// are omitted. An empty column list returns doc unchanged.
func Project(doc Document, columns []string) Document {
	if len(columns) == 0 {
		return doc
	}
	out := make(Document, len(columns))
	for _, column := range columns {
		if value, ok := doc[column]; ok {
			out[column] = value
		}
	}
	return out
}

// Select applies q to an in-memory, insertion-ordered slice of documents.
// The input slice is not modified.
func Select(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		if !Matches(doc, q.Filter) {
			continue
		}
		out = append(out, Project(doc, q.Columns))
	}
	return out
}

// Merge overwrites the keys of patch into doc (shallow).
func Merge(doc, patch Document) {
	for key, value := range patch {
		doc[key] = value
	}
}

// Clone returns a shallow copy of doc.
func Clone(doc Document) Document {
	out := make(Document, len(doc))
	for key, value := range doc {
		out[key] = value
	}
	return out
}

// Equal compares two document values. Numbers compare by value regardless of
// their Go type, so an int64 filter matches a float64 decoded from JSON.
// Maps and slices are compared element-wise.
func Equal(a, b any) bool {
	return reflect.DeepEqual(Normalize(a), Normalize(b))
}

// Normalize converts a document value into a canonical form: integral numbers
// become int64, other numbers float64, nested maps map[string]any and nested
// slices []any.
func Normalize(value any) any {
	switch v := value.(type) {
	case nil, string, bool:
		return v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return v.String()
	case Document:
		return normalizeMap(v)
	case map[string]any:
		return normalizeMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Normalize(item)
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out
	case []Document:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeMap(item)
		}
		return out
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= math.MaxInt64 {
			return int64(u)
		}
		return float64(u)
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return value
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return value
}

// NormalizeDocument applies Normalize to every value of doc.
func NormalizeDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for key, value := range doc {
		out[key] = Normalize(value)
	}
	return out
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		out[key] = Normalize(value)
	}
	return out
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}
	return f
}
