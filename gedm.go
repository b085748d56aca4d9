// Package gedm maps Go structs to MongoDB documents.
//
// The basic usage starts with a [Client], either connected to a server with
// [Connect] or kept in memory with [NewMemoryClient], and a [Datastore]
// created by calling [New]. Entities are written through the datastore and
// read back with [Find] and [Aggregate].
//
// Structs are mapped on first use. Fields are named by the "gedm" struct
// tag, whose options mark the roles of a field:
//
//	type Planet struct {
//	    ID      bson.ObjectID
//	    Version int64     `gedm:"v,version"`
//	    Name    string    `gedm:"name"`
//	    Created time.Time `gedm:"created,createdAt"`
//	}
package gedm

import (
	"context"
	"reflect"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/aggregation"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/datastore"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/memclient"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/mongoclient"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/query"
)

var (
	// ErrNotFound is returned by [Query.First] and find-and-modify calls
	// matching no document.
	ErrNotFound = domain.ErrNotFound
	// ErrConflict is matched by every optimistic write failure, be it a
	// version or a shard key mismatch.
	ErrConflict = domain.ErrConflict
	// ErrVersionMismatch is matched by [VersionMismatchError].
	ErrVersionMismatch = domain.ErrVersionMismatch
	// ErrShardKeyMismatch is matched by [ShardKeyMismatchError].
	ErrShardKeyMismatch = domain.ErrShardKeyMismatch
	// ErrDuplicateKey is returned when a write violates a unique index.
	ErrDuplicateKey = domain.ErrDuplicateKey
	// ErrNamespaceNotFound is returned when a command targets a missing
	// collection.
	ErrNamespaceNotFound = domain.ErrNamespaceNotFound
	// ErrMapperSealed is returned when a type is mapped after
	// [Mapper.Seal].
	ErrMapperSealed = domain.ErrMapperSealed
	// ErrSessionEnded is returned when a session is used after
	// [SessionDatastore.EndSession].
	ErrSessionEnded = domain.ErrSessionEnded
)

// MappingError is returned when a struct or a path cannot be mapped.
type MappingError = domain.MappingError

// NotMappedError is returned when a value that is not a pointer to a mapped
// struct is given as an entity.
type NotMappedError = domain.NotMappedError

// ValidationError is returned when a filter, update or stage is built with
// invalid arguments.
type ValidationError = domain.ValidationError

// UnsupportedOperationError is returned by a client that cannot run the
// requested operation.
type UnsupportedOperationError = domain.UnsupportedOperationError

// VersionMismatchError is returned when a versioned write finds a different
// version stored.
type VersionMismatchError = domain.VersionMismatchError

// ShardKeyMismatchError is returned when a write finds the document under
// different shard keys.
type ShardKeyMismatchError = domain.ShardKeyMismatchError

// CommandError is a server error carrying its numeric code.
type CommandError = domain.CommandError

// Client is the driver port every datastore writes through.
type Client = domain.Client

// Datastore maps entities to collections.
type Datastore = domain.Datastore

// SessionDatastore is a [Datastore] bound to a session.
type SessionDatastore = domain.SessionDatastore

// Mapper builds entity models.
type Mapper = domain.Mapper

// EntityModel describes how a struct is stored.
type EntityModel = domain.EntityModel

// Query reads the collection of entity type T.
type Query[T any] = domain.Query[T]

// Iterator decodes query or aggregation results into T.
type Iterator[T any] = domain.Iterator[T]

// Aggregation is a pipeline over the collection of an entity type.
type Aggregation = domain.Aggregation

// New creates a datastore storing entities in the named database of client.
// Options replace the default collaborators:
//
// - [domain.WithMapper] or [domain.WithMapperOptions]: the entity mapper.
//
// - [domain.WithCodec]: the entity codec.
//
// - [domain.WithResolver]: the path resolver used by filters and updates.
//
// - [domain.WithLogger]: a zap logger. Defaults to a no-op logger.
//
// - [domain.WithMetrics]: operation metrics. Defaults to no-op metrics.
//
// - [domain.WithIDGenerator]: generation of missing ids.
//
// - [domain.WithTimeGetter]: the clock of createdAt and updatedAt fields.
func New(client Client, database string, options ...domain.DatastoreOption) (Datastore, error) {
	return datastore.NewDatastore(client, database, options...)
}

// Connect connects to the MongoDB server at uri.
func Connect(ctx context.Context, uri string, options ...mongoclient.Option) (Client, error) {
	return mongoclient.Connect(ctx, uri, options...)
}

// NewMemoryClient creates a client keeping every database in memory. With
// [domain.WithMemoryDirectory], databases are loaded from and saved to that
// directory.
func NewMemoryClient(ctx context.Context, options ...domain.MemoryOption) (Client, error) {
	return memclient.NewClient(ctx, options...)
}

// Map registers T with options, such as a collection name, indexes or
// capped settings. Mapping is only needed when defaults do not fit; any
// mapped struct is otherwise registered on first use.
func Map[T any](ds Datastore, options ...domain.EntityOption) (*EntityModel, error) {
	return ds.Mapper().Map(reflect.TypeFor[T](), options...)
}

// Find starts a query over the collection of T.
func Find[T any](ds Datastore) (Query[T], error) {
	return query.NewQuery[T](ds)
}

// Aggregate starts a pipeline over the collection of T.
func Aggregate[T any](ds Datastore) (Aggregation, error) {
	model, err := ds.Mapper().Model(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return aggregation.NewAggregation(ds, model), nil
}

// Decode iterates over cur, decoding each document into R. It is used to
// read aggregation results whose shape differs from the source entity.
func Decode[R any](ds Datastore, cur domain.Cursor) Iterator[R] {
	return query.NewIterator[R](cur, ds.Codec())
}
