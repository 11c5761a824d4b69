// Package mongodb implements storage.Storage on a MongoDB database.
//
// Filters are sent to the server as native equality queries and every returned
// document is re-checked with storage.Matches, because MongoDB also matches a
// scalar filter value against the elements of an array field. Driver-generated
// ObjectIDs are stripped from results so documents read back exactly as they
// were written.
package mongodb

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/memohai/statebot/internal/storage"
)

const (
	DefaultAddress  = "localhost"
	DefaultPort     = 27017
	DefaultDatabase = "config"

	idField        = "_id"
	connectTimeout = 10 * time.Second
)

// Options are the remote connection parameters.
type Options struct {
	// URI overrides Address/Port when set (mongodb:// or mongodb+srv://).
	URI      string
	Address  string
	Port     int
	Username string
	Password string
	Database string
}

// Provider is a storage.Storage backed by one MongoDB database.
type Provider struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// New connects to MongoDB and verifies the connection with a ping.
func New(ctx context.Context, log *slog.Logger, opts Options) (*Provider, error) {
	if log == nil {
		log = slog.Default()
	}
	clientOpts := options.Client().ApplyURI(opts.uri())
	if strings.TrimSpace(opts.Username) != "" {
		clientOpts.SetAuth(options.Credential{
			Username: opts.Username,
			Password: opts.Password,
		})
	}
	clientOpts.SetConnectTimeout(connectTimeout)
	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to mongo: %w", storage.ErrStorage, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping mongo: %w", storage.ErrStorage, err)
	}
	database := strings.TrimSpace(opts.Database)
	if database == "" {
		database = DefaultDatabase
	}
	logger := log.With(slog.String("storage", "mongodb"), slog.String("database", database))
	logger.Info("connected")
	return &Provider{
		client: client,
		db:     client.Database(database),
		logger: logger,
	}, nil
}

func (o Options) uri() string {
	if strings.TrimSpace(o.URI) != "" {
		return strings.TrimSpace(o.URI)
	}
	address := strings.TrimSpace(o.Address)
	if address == "" {
		address = DefaultAddress
	}
	port := o.Port
	if port == 0 {
		port = DefaultPort
	}
	return "mongodb://" + net.JoinHostPort(address, strconv.Itoa(port))
}

// Ping checks connectivity to the server.
func (p *Provider) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: ping mongo: %w", storage.ErrStorage, err)
	}
	return nil
}

// Close disconnects the client.
func (p *Provider) Close(ctx context.Context) error {
	if err := p.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("%w: disconnect mongo: %w", storage.ErrStorage, err)
	}
	return nil
}

// Drop removes a whole collection. Used by tests to reset state.
func (p *Provider) Drop(ctx context.Context, collection string) error {
	if err := p.db.Collection(collection).Drop(ctx); err != nil {
		return fmt.Errorf("%w: drop %s: %w", storage.ErrStorage, collection, err)
	}
	return nil
}

// Get streams matching documents in natural (insertion) order and stops at q.Limit.
// A collection that was never written is an error, as with the local backend.
func (p *Provider) Get(ctx context.Context, collection string, q storage.Query) ([]storage.Document, error) {
	if err := p.requireCollection(ctx, collection); err != nil {
		return nil, err
	}
	out := []storage.Document{}
	err := p.scan(ctx, collection, q.Filter, func(doc storage.Document, _ any) bool {
		out = append(out, storage.Project(doc, q.Columns))
		return q.Limit <= 0 || len(out) < q.Limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetByColumn is Get filtered on a single column.
func (p *Provider) GetByColumn(ctx context.Context, collection, column string, value any, columns []string, limit int) ([]storage.Document, error) {
	return p.Get(ctx, collection, storage.Query{
		Columns: columns,
		Filter:  storage.Document{column: value},
		Limit:   limit,
	})
}

// InsertOne appends doc.
func (p *Provider) InsertOne(ctx context.Context, collection string, doc storage.Document) error {
	if _, err := p.db.Collection(collection).InsertOne(ctx, toBSON(doc)); err != nil {
		return fmt.Errorf("%w: insert into %s: %w", storage.ErrStorage, collection, err)
	}
	return nil
}

// InsertMany appends docs in order.
func (p *Provider) InsertMany(ctx context.Context, collection string, docs []storage.Document) error {
	if len(docs) == 0 {
		return nil
	}
	payload := make([]any, 0, len(docs))
	for _, doc := range docs {
		payload = append(payload, toBSON(doc))
	}
	if _, err := p.db.Collection(collection).InsertMany(ctx, payload); err != nil {
		return fmt.Errorf("%w: insert into %s: %w", storage.ErrStorage, collection, err)
	}
	return nil
}

// RemoveOne deletes the first exact match of filter.
func (p *Provider) RemoveOne(ctx context.Context, collection string, filter storage.Document) error {
	if err := p.requireCollection(ctx, collection); err != nil {
		return err
	}
	var target any
	found := false
	err := p.scan(ctx, collection, filter, func(_ storage.Document, id any) bool {
		target = id
		found = true
		return false
	})
	if err != nil || !found {
		return err
	}
	if _, err := p.db.Collection(collection).DeleteOne(ctx, bson.M{idField: target}); err != nil {
		return fmt.Errorf("%w: delete from %s: %w", storage.ErrStorage, collection, err)
	}
	return nil
}

// RemoveMany deletes every exact match of filter.
func (p *Provider) RemoveMany(ctx context.Context, collection string, filter storage.Document) error {
	if err := p.requireCollection(ctx, collection); err != nil {
		return err
	}
	ids := bson.A{}
	err := p.scan(ctx, collection, filter, func(_ storage.Document, id any) bool {
		ids = append(ids, id)
		return true
	})
	if err != nil || len(ids) == 0 {
		return err
	}
	if _, err := p.db.Collection(collection).DeleteMany(ctx, bson.M{idField: bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("%w: delete from %s: %w", storage.ErrStorage, collection, err)
	}
	return nil
}

// UpdateOneByID applies patch with $set, upserting when nothing matches.
func (p *Provider) UpdateOneByID(ctx context.Context, collection, idColumn string, id any, patch storage.Document) error {
	_, err := p.db.Collection(collection).UpdateOne(ctx,
		bson.M{idColumn: toBSONValue(id)},
		updateDocument(idColumn, id, patch),
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("%w: update %s: %w", storage.ErrStorage, collection, err)
	}
	return nil
}

// UpdateManyByID applies patch with $set to every match, upserting when nothing matches.
func (p *Provider) UpdateManyByID(ctx context.Context, collection, idColumn string, id any, patch storage.Document) error {
	_, err := p.db.Collection(collection).UpdateMany(ctx,
		bson.M{idColumn: toBSONValue(id)},
		updateDocument(idColumn, id, patch),
		options.UpdateMany().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("%w: update %s: %w", storage.ErrStorage, collection, err)
	}
	return nil
}

// updateDocument builds the $set for patch. The id column is left to the
// upsert filter because MongoDB refuses to $set an immutable _id, and an empty
// $set is rejected by the server.
func updateDocument(idColumn string, id any, patch storage.Document) bson.M {
	set := bson.M{}
	for key, value := range patch {
		if key == idColumn && storage.Equal(value, id) {
			continue
		}
		set[key] = toBSONValue(value)
	}
	if len(set) == 0 {
		return bson.M{"$setOnInsert": bson.M{idColumn: toBSONValue(id)}}
	}
	return bson.M{"$set": set}
}

func (p *Provider) requireCollection(ctx context.Context, collection string) error {
	names, err := p.db.ListCollectionNames(ctx, bson.M{"name": collection})
	if err != nil {
		return fmt.Errorf("%w: list collections: %w", storage.ErrStorage, err)
	}
	if len(names) == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNoCollection, collection)
	}
	return nil
}

// scan runs a native find for filter and calls fn for every document that is
// an exact superset match, until fn returns false.
func (p *Provider) scan(ctx context.Context, collection string, filter storage.Document, fn func(doc storage.Document, id any) bool) error {
	cursor, err := p.db.Collection(collection).Find(ctx, nativeFilter(filter))
	if err != nil {
		return fmt.Errorf("%w: find in %s: %w", storage.ErrStorage, collection, err)
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return fmt.Errorf("%w: decode from %s: %w", storage.ErrStorage, collection, err)
		}
		id := raw[idField]
		doc := fromBSON(raw)
		if !storage.Matches(doc, filter) {
			continue
		}
		if !fn(doc, id) {
			return nil
		}
	}
	if err := cursor.Err(); err != nil {
		return fmt.Errorf("%w: iterate %s: %w", storage.ErrStorage, collection, err)
	}
	return nil
}
