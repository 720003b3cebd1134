package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/interfaces"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// DefaultMongoCollection is the collection used when none is configured
const DefaultMongoCollection = "protected_kv"

// mongoDocument is the persisted shape of a key-value pair
type mongoDocument struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// MongoAdapter implements Storage on top of a MongoDB collection.
// Each key is a document whose _id is the key.
type MongoAdapter struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger zerolog.Logger
}

var _ interfaces.Storage = (*MongoAdapter)(nil)

// NewMongoAdapter creates a storage adapter over an existing collection
func NewMongoAdapter(coll *mongo.Collection) *MongoAdapter {
	return &MongoAdapter{
		coll:   coll,
		logger: log.With().Str("component", "mongo_storage").Logger(),
	}
}

// ConnectMongo connects to uri, verifies the connection and returns an adapter
// over dbName.collName. Close releases the client.
func ConnectMongo(ctx context.Context, uri, dbName, collName string) (*MongoAdapter, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: mongo uri is empty", types.ErrValidation)
	}
	if collName == "" {
		collName = DefaultMongoCollection
	}

	cli, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: connect mongo: %v", types.ErrStorage, err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, fmt.Errorf("%w: ping mongo: %v", types.ErrStorage, err)
	}

	adapter := NewMongoAdapter(cli.Database(dbName).Collection(collName))
	adapter.client = cli

	adapter.logger.Info().
		Str("database", dbName).
		Str("collection", collName).
		Msg("Mongo storage adapter connected")
	return adapter, nil
}

// Get retrieves the value stored under key
func (m *MongoAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	var doc mongoDocument
	err := m.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("%w: get %s: %v", types.ErrStorage, key, err)
	}
	return doc.Value, nil
}

// Set upserts the value stored under key
func (m *MongoAdapter) Set(ctx context.Context, key string, value []byte) error {
	_, err := m.coll.UpdateOne(
		ctx,
		bson.M{"_id": key},
		bson.M{
			"$set": bson.M{
				"value":     value,
				"updatedAt": time.Now().UTC(),
			},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", types.ErrStorage, key, err)
	}

	m.logger.Trace().
		Str("key", key).
		Int("bytes", len(value)).
		Msg("Storage entry stored")
	return nil
}

// Delete removes key
func (m *MongoAdapter) Delete(ctx context.Context, key string) error {
	if _, err := m.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("%w: delete %s: %v", types.ErrStorage, key, err)
	}
	return nil
}

// Keys lists keys with the given prefix, sorted ascending
func (m *MongoAdapter) Keys(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{}
	if prefix != "" {
		filter = bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	}

	cursor, err := m.coll.Find(ctx, filter,
		options.Find().
			SetProjection(bson.M{"_id": 1}).
			SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: list keys: %v", types.ErrStorage, err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Key string `bson:"_id"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("%w: decode keys: %v", types.ErrStorage, err)
	}

	keys := make([]string, 0, len(results))
	for _, r := range results {
		keys = append(keys, r.Key)
	}
	return keys, nil
}

// Close disconnects the client when the adapter owns it
func (m *MongoAdapter) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}
