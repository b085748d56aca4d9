package domain

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Client is the database client port. Adapters translate their errors to the
// sentinels in this package, wrapping the original error.
type Client interface {
	Database(name string) Database
	StartSession(ctx context.Context, options SessionOptions) (Session, error)
	Disconnect(ctx context.Context) error
}

// Database is a database of a [Client].
type Database interface {
	Name() string
	Collection(name string, options CollectionOptions) Collection
	RunCommand(ctx context.Context, cmd any) (bson.Raw, error)
	CreateCollection(ctx context.Context, name string, options CreateCollectionOptions) error
	ListCollectionNames(ctx context.Context, filter any) ([]string, error)
}

// Collection is a collection of a [Database].
type Collection interface {
	Name() string
	// InsertOne returns the id of the inserted document.
	InsertOne(ctx context.Context, doc any) (any, error)
	InsertMany(ctx context.Context, docs []any, options InsertManyOptions) ([]any, error)
	ReplaceOne(ctx context.Context, filter, replacement any, options ReplaceOptions) (UpdateResult, error)
	UpdateOne(ctx context.Context, filter, update any, options UpdateOptions) (UpdateResult, error)
	UpdateMany(ctx context.Context, filter, update any, options UpdateOptions) (UpdateResult, error)
	// DeleteOne and DeleteMany return the number of removed documents.
	DeleteOne(ctx context.Context, filter any, options DeleteOptions) (int64, error)
	DeleteMany(ctx context.Context, filter any, options DeleteOptions) (int64, error)
	Find(ctx context.Context, filter any, options FindOptions) (Cursor, error)
	Aggregate(ctx context.Context, pipeline any, options AggregateOptions) (Cursor, error)
	CountDocuments(ctx context.Context, filter any, options CountOptions) (int64, error)
	EstimatedDocumentCount(ctx context.Context) (int64, error)
	// FindOneAndUpdate and FindOneAndDelete return [ErrNotFound] when
	// nothing matches.
	FindOneAndUpdate(ctx context.Context, filter, update any, options FindOneAndUpdateOptions) (bson.Raw, error)
	FindOneAndDelete(ctx context.Context, filter any, options FindOneAndDeleteOptions) (bson.Raw, error)
	// CreateIndexes returns the names of the created indexes.
	CreateIndexes(ctx context.Context, indexes []IndexSpec) ([]string, error)
	Drop(ctx context.Context) error
}

// Cursor iterates over raw documents returned by a [Collection].
type Cursor interface {
	Next(ctx context.Context) bool
	Current() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

// Session is a client session. It must not be used concurrently.
type Session interface {
	StartTransaction(options TransactionOptions) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	EndSession(ctx context.Context)
	// Bind returns a context that makes driver calls run in the session.
	Bind(ctx context.Context) context.Context
}

// UpdateResult is the result of a replace or update.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedCount int64
	UpsertedID    any
}

// Collation sets language rules for string comparison.
type Collation struct {
	Locale          string
	CaseLevel       bool
	CaseFirst       string
	Strength        int
	NumericOrdering bool
}

// FindOptions are the driver options of a find.
type FindOptions struct {
	Sort       bson.D
	Projection bson.D
	Skip       int64
	Limit      int64
	BatchSize  int32
	Collation  *Collation
	Hint       any
	Comment    string
	MaxTime    time.Duration
}

// AggregateOptions are the driver options of an aggregate.
type AggregateOptions struct {
	AllowDiskUse bool
	BatchSize    int32
	Collation    *Collation
	Hint         any
	Comment      string
	MaxTime      time.Duration
	Let          bson.D
}

// CountOptions are the driver options of a count.
type CountOptions struct {
	Skip      int64
	Limit     int64
	Collation *Collation
	Hint      any
	MaxTime   time.Duration
}

// UpdateOptions are the options of an update. Drivers ignore Multi, which only
// selects between [Collection.UpdateOne] and [Collection.UpdateMany].
type UpdateOptions struct {
	Multi        bool
	Upsert       bool
	ArrayFilters []any
	Collation    *Collation
	Hint         any
}

// ReplaceOptions are the driver options of a replace.
type ReplaceOptions struct {
	Upsert bool
}

// DeleteOptions are the driver options of a delete.
type DeleteOptions struct {
	Collation *Collation
	Hint      any
}

// InsertManyOptions are the driver options of a multi document insert.
type InsertManyOptions struct {
	Unordered bool
}

// FindOneAndUpdateOptions are the driver options of a find-and-modify.
type FindOneAndUpdateOptions struct {
	Sort         bson.D
	Projection   bson.D
	Upsert       bool
	ReturnNew    bool
	ArrayFilters []any
	MaxTime      time.Duration
}

// FindOneAndDeleteOptions are the driver options of a find-and-delete.
type FindOneAndDeleteOptions struct {
	Sort       bson.D
	Projection bson.D
	MaxTime    time.Duration
}

// CollectionOptions are applied when getting a collection handle.
type CollectionOptions struct {
	WriteConcern *WriteConcern
}

// CreateCollectionOptions are the options of an explicit collection creation.
type CreateCollectionOptions struct {
	Capped           bool
	SizeInBytes      int64
	MaxDocuments     int64
	Validator        any
	ValidationLevel  string
	ValidationAction string
}

// IndexSpec is an index ready to be created by a driver, with resolved keys.
type IndexSpec struct {
	Keys                    bson.D
	Name                    string
	Unique                  bool
	Sparse                  bool
	ExpireAfterSeconds      *int32
	PartialFilterExpression any
}

// SessionOptions are the options of a new session.
type SessionOptions struct {
	CausalConsistency *bool
}

// TransactionOptions are the options of a new transaction.
type TransactionOptions struct {
	ReadConcern  string
	WriteConcern *WriteConcern
}
