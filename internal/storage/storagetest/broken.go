package storagetest

import (
	"context"

	"github.com/memohai/statebot/internal/storage"
)

// Broken is a storage.Storage whose every call fails with Err.
type Broken struct {
	Err error
}

var _ storage.Storage = Broken{}

func (b Broken) Get(context.Context, string, storage.Query) ([]storage.Document, error) {
	return nil, b.Err
}

func (b Broken) GetByColumn(context.Context, string, string, any, []string, int) ([]storage.Document, error) {
	return nil, b.Err
}

func (b Broken) InsertOne(context.Context, string, storage.Document) error { return b.Err }

func (b Broken) InsertMany(context.Context, string, []storage.Document) error { return b.Err }

func (b Broken) RemoveOne(context.Context, string, storage.Document) error { return b.Err }

func (b Broken) RemoveMany(context.Context, string, storage.Document) error { return b.Err }

func (b Broken) UpdateOneByID(context.Context, string, string, any, storage.Document) error {
	return b.Err
}

func (b Broken) UpdateManyByID(context.Context, string, string, any, storage.Document) error {
	return b.Err
}
