// Package domain contains the interfaces, models, options and errors shared by
// every GEDM package.
//
// Adapters under internal/adapter implement the interfaces declared here, and
// the builder packages under pkg produce the values consumed by them. The
// driver port ([Client], [Database], [Collection], [Cursor] and [Session]) is
// the only way the mapper talks to a database.
package domain

import (
	"context"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Mapper is the directory of entity models. Models are built once per type
// and shared by every reader.
type Mapper interface {
	// Map builds and registers the model of t, applying options. Mapping an
	// already mapped type with no options returns the cached model.
	Map(t reflect.Type, options ...EntityOption) (*EntityModel, error)
	// Model returns the model of t, mapping it on first use.
	Model(t reflect.Type) (*EntityModel, error)
	// ModelOf returns the model of the dynamic type of v.
	ModelOf(v any) (*EntityModel, error)
	// Subtypes returns every mapped type having m as an ancestor.
	Subtypes(m *EntityModel) []*EntityModel
	// Models returns every registered entity model.
	Models() []*EntityModel
	// Seal closes the registry. Mapping a new type afterwards returns
	// [ErrMapperSealed].
	Seal()
	// Options returns the options the mapper was created with.
	Options() MapperOptions
}

// PathResolver translates dotted field paths into stored paths.
type PathResolver interface {
	// Resolve walks path starting at model. When validate is true, every
	// segment must name a mapped property; otherwise unknown segments are
	// kept as given.
	Resolve(model *EntityModel, path string, validate bool) (PathTarget, error)
}

// ValueCodec converts a single property value to and from its stored form.
type ValueCodec interface {
	Encode(v any) (any, error)
	Decode(stored any, target reflect.Type) (any, error)
}

// Codec converts entities to documents and documents to entities.
type Codec interface {
	// Encode renders entity into a document using its model.
	Encode(entity any) (bson.D, error)
	// Decode fills target, a non nil pointer, with doc.
	Decode(doc bson.Raw, target any) error
	// EncodeValue encodes a value destined to prop, which may be nil.
	EncodeValue(prop *PropertyModel, v any) (any, error)
}

// Filter is a node of a query filter tree.
type Filter interface {
	// Render writes the filter as a document.
	Render(ctx *RenderContext) (bson.D, error)
	// Not returns a copy of the filter with negation toggled.
	Not() Filter
	// Err returns the error recorded while the filter was built.
	Err() error
}

// Expression is a node of an aggregation expression tree.
type Expression interface {
	// Render returns the expression as a value ready to be marshaled.
	Render(ctx *RenderContext) (any, error)
}

// Stage is one step of an aggregation pipeline.
type Stage interface {
	// StageName returns the stage operator, such as "$match".
	StageName() string
	// Err returns the error recorded while the stage was built.
	Err() error
}

// Iterator iterates over decoded query results.
type Iterator[T any] interface {
	// Next advances to the next result, returning false when done or on
	// error.
	Next(ctx context.Context) bool
	// Value returns the current result.
	Value() (T, error)
	// Err returns the error that stopped iteration, if any.
	Err() error
	// Close releases the iterator.
	Close(ctx context.Context) error
}

// Query binds filters, sort, projection and read options to the collection of
// entity type T.
type Query[T any] interface {
	Filter(filters ...Filter) Query[T]
	Sort(fields ...SortField) Query[T]
	Project(p Projection) Query[T]
	Skip(n int64) Query[T]
	Limit(n int64) Query[T]
	BatchSize(n int32) Query[T]
	Collation(c Collation) Query[T]
	Hint(h any) Query[T]
	Comment(c string) Query[T]
	MaxTime(d time.Duration) Query[T]
	// DisableValidation lets unknown path segments through.
	DisableValidation() Query[T]
	EnableValidation() Query[T]

	// Document returns the filter document sent to the driver.
	Document() (bson.D, error)
	Count(ctx context.Context) (int64, error)
	// First returns the first match or [ErrNotFound].
	First(ctx context.Context) (T, error)
	Execute(ctx context.Context) (Iterator[T], error)
	All(ctx context.Context) ([]T, error)
	Delete(ctx context.Context, options ...RemoveOption) (int64, error)
	Update(operators ...UpdateOperator) Update
	Modify(operators ...UpdateOperator) Modify[T]
	FindAndDelete(ctx context.Context) (T, error)
	Explain(ctx context.Context) (bson.M, error)
}

// Update is an update bound to the filter of a [Query].
type Update interface {
	// Document returns the update document sent to the driver.
	Document() (bson.D, error)
	Execute(ctx context.Context, options ...UpdateOption) (UpdateResult, error)
}

// Modify is a find-and-modify bound to the filter of a [Query].
type Modify[T any] interface {
	Execute(ctx context.Context, options ...ModifyOption) (T, error)
}

// Aggregation is an ordered pipeline bound to the collection of an entity
// type.
type Aggregation interface {
	// Pipeline appends stages in order.
	Pipeline(stages ...Stage) Aggregation
	// Document returns the rendered pipeline.
	Document() ([]bson.D, error)
	// Execute runs the pipeline returning a raw cursor.
	Execute(ctx context.Context, options ...AggregateOption) (Cursor, error)
	// Err returns the first stage build error.
	Err() error
}

// Backend is the part of a [Datastore] queries and aggregations run on.
type Backend interface {
	Mapper() Mapper
	Codec() Codec
	Resolver() PathResolver
	Logger() *zap.Logger
	Database() Database
	// Collection returns the collection of an entity model.
	Collection(model *EntityModel) Collection
	// Do runs one driver call. The context given to fn is bound to the
	// session of the datastore, if any, and the call is recorded in
	// [Metrics].
	Do(ctx context.Context, operation, collection string, fn func(context.Context) error) error
}

// Datastore maps entities to collections and implements every write and
// read operation on top of a [Client].
type Datastore interface {
	Backend
	Metrics() Metrics

	Insert(ctx context.Context, entity any, options ...InsertOption) error
	InsertMany(ctx context.Context, entities []any, options ...InsertOption) error
	// Save inserts or replaces entity following its versioning rules.
	Save(ctx context.Context, entity any, options ...SaveOption) error
	// SaveMany saves entities, bulk inserting those with no id and no
	// version.
	SaveMany(ctx context.Context, entities []any, options ...SaveOption) error
	// Replace replaces an existing entity, never inserting.
	Replace(ctx context.Context, entity any, options ...SaveOption) error
	// Merge updates the stored fields of an existing entity.
	Merge(ctx context.Context, entity any, options ...MergeOption) error
	Delete(ctx context.Context, entity any) (int64, error)
	// Refresh reloads entity from the database.
	Refresh(ctx context.Context, entity any) error

	EnsureIndexes(ctx context.Context) error
	EnsureCaps(ctx context.Context) error
	ApplyDocumentValidations(ctx context.Context) error

	StartSession(ctx context.Context, options ...SessionOption) (SessionDatastore, error)
	// WithTransaction runs fn in a transaction, committing when it returns
	// nil and aborting otherwise.
	WithTransaction(ctx context.Context, fn func(context.Context, Datastore) error, options ...TransactionOption) error
}

// SessionDatastore is a [Datastore] whose operations all run in one session.
// It must not be shared by concurrent callers.
type SessionDatastore interface {
	Datastore
	StartTransaction(options ...TransactionOption) error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	EndSession(ctx context.Context)
}

// PrePersister is implemented by entities that must run code before they
// are encoded for a write.
type PrePersister interface {
	PrePersist(ctx context.Context) error
}

// PostPersister is implemented by entities that must run code after a
// successful write.
type PostPersister interface {
	PostPersist(ctx context.Context) error
}

// PostLoader is implemented by entities that must run code after being
// decoded.
type PostLoader interface {
	PostLoad(ctx context.Context) error
}

// Metrics records datastore activity.
type Metrics interface {
	// ObserveOperation records one driver call.
	ObserveOperation(operation, collection string, d time.Duration, err error)
	// Conflict records an optimistic write failure with its cause.
	Conflict(collection, cause string)
}

// IDGenerator creates ids for entities inserted with a zero id.
type IDGenerator interface {
	// GenerateID returns a new id assignable to t, or false if t is not a
	// supported id type.
	GenerateID(t reflect.Type) (any, bool, error)
}

// TimeGetter provides current time for timestamping operations.
type TimeGetter interface {
	GetTime() time.Time
}
