package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/calcstore/pkg/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

// fallbackDatabase is used when the connection string names no database.
const fallbackDatabase = "calculations"

// calculationDocument is the persisted layout of a calculation.
type calculationDocument struct {
	ID        primitive.ObjectID `bson:"_id"`
	Number1   float64            `bson:"number1"`
	Number2   float64            `bson:"number2"`
	Sum       float64            `bson:"sum"`
	CreatedAt time.Time          `bson:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

func (d calculationDocument) toCalculation() Calculation {
	return Calculation{
		ID:        d.ID.Hex(),
		Number1:   d.Number1,
		Number2:   d.Number2,
		Sum:       d.Sum,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

// MongoStore is a Store backed by a MongoDB collection.
type MongoStore struct {
	coll     *mongo.Collection
	settings settings
}

// NewMongoStore returns a store over db. The caller owns the client.
func NewMongoStore(db *mongo.Database, opts ...Option) *MongoStore {
	s := newSettings(opts)
	return &MongoStore{
		coll:     db.Collection(s.collection),
		settings: s,
	}
}

// Connect opens a client for uri and pings the primary before returning.
// The database is taken from the URI path unless database is non-empty.
func Connect(ctx context.Context, uri, database string, timeout time.Duration) (*mongo.Client, *mongo.Database, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, nil, fmt.Errorf("parse mongodb uri: %w", err)
	}
	if database == "" {
		database = cs.Database
	}
	if database == "" {
		database = fallbackDatabase
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	return client, client.Database(database), nil
}

// Create implements Store.
func (s *MongoStore) Create(ctx context.Context, number1, number2, sum float64) (Calculation, error) {
	const op = "insert"
	ctx, cancel := context.WithTimeout(ctx, s.settings.timeout)
	defer cancel()
	defer observe(op, time.Now())

	now := s.settings.timestamp()
	doc := calculationDocument{
		ID:        primitive.NewObjectID(),
		Number1:   number1,
		Number2:   number2,
		Sum:       sum,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		metrics.RecordStorageError(op)
		return Calculation{}, storageError(op, err)
	}
	return doc.toCalculation(), nil
}

// ListRecent implements Store. Ties on createdAt are ordered by id, which
// grows with insertion order.
func (s *MongoStore) ListRecent(ctx context.Context, limit int) ([]Calculation, error) {
	const op = "find"
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	ctx, cancel := context.WithTimeout(ctx, s.settings.timeout)
	defer cancel()
	defer observe(op, time.Now())

	findOpts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, bson.D{}, findOpts)
	if err != nil {
		metrics.RecordStorageError(op)
		return nil, storageError(op, err)
	}
	var docs []calculationDocument
	if err := cur.All(ctx, &docs); err != nil {
		metrics.RecordStorageError(op)
		return nil, storageError(op, err)
	}

	out := make([]Calculation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toCalculation())
	}
	return out, nil
}

// GetByID implements Store.
func (s *MongoStore) GetByID(ctx context.Context, id string) (Calculation, error) {
	const op = "find_one"
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Calculation{}, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.settings.timeout)
	defer cancel()
	defer observe(op, time.Now())

	var doc calculationDocument
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc); err != nil {
		return Calculation{}, s.singleResultError(op, err)
	}
	return doc.toCalculation(), nil
}

// DeleteByID implements Store.
func (s *MongoStore) DeleteByID(ctx context.Context, id string) (Calculation, error) {
	const op = "find_one_and_delete"
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Calculation{}, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, s.settings.timeout)
	defer cancel()
	defer observe(op, time.Now())

	var doc calculationDocument
	if err := s.coll.FindOneAndDelete(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc); err != nil {
		return Calculation{}, s.singleResultError(op, err)
	}
	return doc.toCalculation(), nil
}

// Count implements Store using the collection metadata estimate.
func (s *MongoStore) Count(ctx context.Context) (int64, error) {
	const op = "count"
	ctx, cancel := context.WithTimeout(ctx, s.settings.timeout)
	defer cancel()
	defer observe(op, time.Now())

	n, err := s.coll.EstimatedDocumentCount(ctx)
	if err != nil {
		metrics.RecordStorageError(op)
		return 0, storageError(op, err)
	}
	return n, nil
}

// Ping implements Store.
func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.settings.timeout)
	defer cancel()

	err := s.coll.Database().Client().Ping(ctx, readpref.Primary())
	metrics.UpdateStorageUp(err == nil)
	if err != nil {
		return storageError("ping", err)
	}
	return nil
}

func (s *MongoStore) singleResultError(op string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	metrics.RecordStorageError(op)
	return storageError(op, err)
}

func observe(op string, start time.Time) {
	metrics.RecordStorageLatency(op, float64(time.Since(start).Microseconds())/1000)
}
