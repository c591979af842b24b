package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists records in a MongoDB collection. Updates rewrite only
// the fields this package owns, so documents may carry application data
// alongside the crypto state without being clobbered.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore creates a store over the given collection.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

// ConnectMongo dials MongoDB and returns a store over database/collection.
// The returned close function releases the client.
func ConnectMongo(ctx context.Context, uri, database, collection string) (*MongoStore, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return NewMongoStore(client.Database(database).Collection(collection)), client.Disconnect, nil
}

// Put implements RecordStore.
func (s *MongoStore) Put(ctx context.Context, rec *Record) error {
	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Get implements RecordStore.
func (s *MongoStore) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}
	return &rec, nil
}

// ListByVersion implements RecordStore. Records are returned in _id order so
// repeated scans traverse them deterministically.
func (s *MongoStore) ListByVersion(ctx context.Context, version string) ([]*Record, error) {
	filter := bson.M{}
	if version != "" {
		filter["crypto_version"] = version
	}

	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer cur.Close(ctx)

	var out []*Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return out, nil
}

// Update implements RecordStore.
func (s *MongoStore) Update(ctx context.Context, rec *Record) error {
	update := bson.M{"$set": bson.M{
		"fields":                rec.Fields,
		"prior_fields":          rec.PriorFields,
		"envelopes":             rec.Envelopes,
		"key_ref":               rec.KeyRef,
		"crypto_version":        rec.CryptoVersion,
		"backup_crypto_version": rec.BackupCryptoVersion,
		"migration_date":        rec.MigrationDate,
		"crypto_algorithm":      rec.CryptoAlgorithm,
	}}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": rec.ID}, update)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
