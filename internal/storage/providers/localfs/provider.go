// Package localfs implements storage.Storage on top of a local folder. Every
// collection lives in <folder>/<collection>.json as a JSON array of objects.
//
// Each mutation reads the whole collection, applies the change in memory and
// rewrites the whole file. There is no locking and no atomic replace: two
// concurrent mutations of the same collection can lose one of the writes, and
// a crash during a write can leave a truncated file behind.
package localfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/memohai/statebot/internal/storage"
)

const fileExt = ".json"

// Provider is a folder of JSON collection files.
type Provider struct {
	folder string
	logger *slog.Logger
}

// beforeWriteForTest runs between the read and the write of a mutation.
var beforeWriteForTest func(collection string)

// New creates the folder when missing and returns a Provider rooted at it.
func New(log *slog.Logger, folder string) (*Provider, error) {
	if log == nil {
		log = slog.Default()
	}
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return nil, fmt.Errorf("%w: storage folder is required", storage.ErrStorage)
	}
	abs, err := filepath.Abs(folder)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve storage folder: %w", storage.ErrStorage, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create storage folder: %w", storage.ErrStorage, err)
	}
	return &Provider{
		folder: abs,
		logger: log.With(slog.String("storage", "localfs")),
	}, nil
}

// Folder returns the absolute folder holding the collection files.
func (p *Provider) Folder() string {
	return p.folder
}

// Get reads the collection file and applies q. A missing collection file is
// an error, not an empty result.
func (p *Provider) Get(_ context.Context, collection string, q storage.Query) ([]storage.Document, error) {
	docs, err := p.read(collection)
	if err != nil {
		return nil, err
	}
	return storage.Select(docs, q), nil
}

// GetByColumn is Get filtered on a single column.
func (p *Provider) GetByColumn(ctx context.Context, collection, column string, value any, columns []string, limit int) ([]storage.Document, error) {
	return p.Get(ctx, collection, storage.Query{
		Columns: columns,
		Filter:  storage.Document{column: value},
		Limit:   limit,
	})
}

// InsertOne appends doc, creating the collection file when missing.
func (p *Provider) InsertOne(ctx context.Context, collection string, doc storage.Document) error {
	return p.InsertMany(ctx, collection, []storage.Document{doc})
}

// InsertMany appends docs, creating the collection file when missing.
func (p *Provider) InsertMany(_ context.Context, collection string, docs []storage.Document) error {
	data, err := p.readOrEmpty(collection)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		data = append(data, storage.Clone(doc))
	}
	return p.write(collection, data)
}

// RemoveOne drops the first document matching filter.
func (p *Provider) RemoveOne(_ context.Context, collection string, filter storage.Document) error {
	data, err := p.read(collection)
	if err != nil {
		return err
	}
	for i, doc := range data {
		if storage.Matches(doc, filter) {
			data = append(data[:i], data[i+1:]...)
			return p.write(collection, data)
		}
	}
	return nil
}

// RemoveMany drops every document matching filter.
func (p *Provider) RemoveMany(_ context.Context, collection string, filter storage.Document) error {
	data, err := p.read(collection)
	if err != nil {
		return err
	}
	kept := data[:0]
	removed := 0
	for _, doc := range data {
		if storage.Matches(doc, filter) {
			removed++
			continue
		}
		kept = append(kept, doc)
	}
	if removed == 0 {
		return nil
	}
	return p.write(collection, kept)
}

// UpdateOneByID merges patch into the first document whose idColumn equals id,
// appending a new document when none does.
func (p *Provider) UpdateOneByID(_ context.Context, collection, idColumn string, id any, patch storage.Document) error {
	return p.update(collection, idColumn, id, patch, false)
}

// UpdateManyByID merges patch into every document whose idColumn equals id,
// appending a new document when none does.
func (p *Provider) UpdateManyByID(_ context.Context, collection, idColumn string, id any, patch storage.Document) error {
	return p.update(collection, idColumn, id, patch, true)
}

func (p *Provider) update(collection, idColumn string, id any, patch storage.Document, many bool) error {
	data, err := p.readOrEmpty(collection)
	if err != nil {
		return err
	}
	matched := 0
	for _, doc := range data {
		value, ok := doc[idColumn]
		if !ok || !storage.Equal(value, id) {
			continue
		}
		storage.Merge(doc, patch)
		matched++
		if !many {
			break
		}
	}
	if matched == 0 {
		doc := storage.Document{idColumn: id}
		storage.Merge(doc, patch)
		data = append(data, doc)
		p.logger.Debug("upsert created document", slog.String("collection", collection))
	}
	return p.write(collection, data)
}

func (p *Provider) path(collection string) (string, error) {
	name := strings.TrimSpace(collection)
	if name == "" {
		return "", fmt.Errorf("%w: collection name is required", storage.ErrStorage)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: invalid collection name: %s", storage.ErrStorage, collection)
	}
	return filepath.Join(p.folder, name+fileExt), nil
}

func (p *Provider) read(collection string) ([]storage.Document, error) {
	path, err := p.path(collection)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNoCollection, collection)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read collection %s: %w", storage.ErrStorage, collection, err)
	}
	docs, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode collection %s: %w", storage.ErrStorage, collection, err)
	}
	return docs, nil
}

func (p *Provider) readOrEmpty(collection string) ([]storage.Document, error) {
	path, err := p.path(collection)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return []storage.Document{}, nil
		}
		return nil, fmt.Errorf("%w: stat collection %s: %w", storage.ErrStorage, collection, err)
	}
	return p.read(collection)
}

func (p *Provider) write(collection string, docs []storage.Document) error {
	path, err := p.path(collection)
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []storage.Document{}
	}
	payload, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("%w: encode collection %s: %w", storage.ErrStorage, collection, err)
	}
	if beforeWriteForTest != nil {
		beforeWriteForTest(collection)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("%w: write collection %s: %w", storage.ErrStorage, collection, err)
	}
	return nil
}

func decode(raw []byte) ([]storage.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var items []map[string]any
	if err := dec.Decode(&items); err != nil {
		return nil, err
	}
	docs := make([]storage.Document, 0, len(items))
	for _, item := range items {
		if item == nil {
			return nil, fmt.Errorf("collection contains a non-object entry")
		}
		docs = append(docs, storage.NormalizeDocument(item))
	}
	return docs, nil
}
