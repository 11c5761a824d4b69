// Package storage defines the document storage contract shared by every
// persistence backend. State, role membership, user profiles and the activity
// journal are all kept as schema-less documents grouped into named collections.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrStorage is returned (wrapped) for any I/O, codec or connectivity failure
// in a backend.
var ErrStorage = errors.New("storage error")

// ErrNoCollection is returned by Get and Remove* when the collection has never
// been written. It wraps ErrStorage.
var ErrNoCollection = fmt.Errorf("%w: collection does not exist", ErrStorage)

// Document is one record of a collection: a string-keyed map of
// JSON-compatible values.
type Document map[string]any

// Query narrows a Get call. The zero value returns every document unchanged.
type Query struct {
	// Columns projects each returned document down to these keys.
	Columns []string
	// Filter keeps documents that contain every key/value of the filter.
	Filter Document
	// Limit caps the result size when greater than zero, earliest-inserted first.
	Limit int
}

// Storage is the CRUD-over-collections contract. Implementations must be safe
// for concurrent use and must behave identically for the same sequence of calls.
type Storage interface {
	// Get returns the documents of collection that match q.
	Get(ctx context.Context, collection string, q Query) ([]Document, error)
	// GetByColumn is Get with Filter{column: value}.
	GetByColumn(ctx context.Context, collection, column string, value any, columns []string, limit int) ([]Document, error)

	// InsertOne appends doc to collection without duplicate checks.
	InsertOne(ctx context.Context, collection string, doc Document) error
	// InsertMany appends docs to collection in order.
	InsertMany(ctx context.Context, collection string, docs []Document) error

	// RemoveOne removes the first document matching filter. No match is not an error.
	RemoveOne(ctx context.Context, collection string, filter Document) error
	// RemoveMany removes every document matching filter.
	RemoveMany(ctx context.Context, collection string, filter Document) error

	// UpdateOneByID merges patch into the first document whose idColumn equals id,
	// creating {idColumn: id} ∪ patch when none does.
	UpdateOneByID(ctx context.Context, collection, idColumn string, id any, patch Document) error
	// UpdateManyByID merges patch into every document whose idColumn equals id,
	// creating {idColumn: id} ∪ patch when none does.
	UpdateManyByID(ctx context.Context, collection, idColumn string, id any, patch Document) error
}

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Closer is implemented by backends holding connections.
type Closer interface {
	Close(ctx context.Context) error
}
