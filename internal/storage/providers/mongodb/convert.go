package mongodb

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/memohai/statebot/internal/storage"
)

// toBSON converts a document into a driver value, recursing through nested
// documents and lists.
func toBSON(doc storage.Document) bson.M {
	out := bson.M{}
	for key, value := range doc {
		out[key] = toBSONValue(value)
	}
	return out
}

func toBSONValue(value any) any {
	switch v := storage.Normalize(value).(type) {
	case map[string]any:
		out := bson.M{}
		for key, item := range v {
			out[key] = toBSONValue(item)
		}
		return out
	case []any:
		out := make(bson.A, 0, len(v))
		for _, item := range v {
			out = append(out, toBSONValue(item))
		}
		return out
	default:
		return v
	}
}

// nativeFilter keeps the scalar part of filter. Embedded documents compare
// key-order sensitively on the server, so they are only checked client side.
func nativeFilter(filter storage.Document) bson.M {
	out := bson.M{}
	for key, value := range filter {
		switch v := storage.Normalize(value).(type) {
		case map[string]any, []any:
			continue
		default:
			out[key] = v
		}
	}
	return out
}

// fromBSON converts a decoded record into a document, dropping a
// driver-generated ObjectID so records read back as they were written.
func fromBSON(raw bson.M) storage.Document {
	out := make(storage.Document, len(raw))
	for key, value := range raw {
		if key == idField {
			if _, generated := value.(bson.ObjectID); generated {
				continue
			}
		}
		out[key] = fromBSONValue(value)
	}
	return out
}

func fromBSONValue(value any) any {
	switch v := value.(type) {
	case bson.D:
		out := make(map[string]any, len(v))
		for _, elem := range v {
			out[elem.Key] = fromBSONValue(elem.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = fromBSONValue(item)
		}
		return out
	case bson.A:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, fromBSONValue(item))
		}
		return out
	case bson.DateTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	default:
		return storage.Normalize(v)
	}
}
