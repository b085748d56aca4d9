package domain

import (
	"context"
	"io"
	"iter"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Document is a mutable ordered document evaluated by the in-memory engine.
// Embedded documents are Documents and arrays are []any. Leaf values keep the
// types the bson package decodes them into.
type Document interface {
	// ID returns the value of _id, or nil.
	ID() any
	Get(key string) any
	Has(key string) bool
	// Set replaces the value of key, keeping its position, or appends it.
	Set(key string, value any)
	Unset(key string)
	Keys() iter.Seq[string]
	Iter() iter.Seq2[string, any]
	Len() int
	// D converts the document back into its wire form.
	D() bson.D
}

// Getter reads a value that may be undefined.
type Getter interface {
	Get() (any, bool)
}

// GetSetter reads and writes a value addressed inside a document.
type GetSetter interface {
	Getter
	Set(value any)
	Unset()
}

// ArrayFilter tells whether an array element is selected by the identifier
// of a $[identifier] path segment.
type ArrayFilter func(identifier string, element any) (bool, error)

// FieldNavigator addresses values inside documents by dotted path.
type FieldNavigator interface {
	// GetAddress splits a dotted path into segments.
	GetAddress(field string) []string
	// GetField returns every value addressed by parts. A segment that is
	// not an index applied to an array is applied to each of its
	// elements, in which case expanded is true.
	GetField(obj any, parts ...string) (values []GetSetter, expanded bool)
	// EnsureField returns the values addressed by parts, creating the
	// missing documents on the way. $[] addresses every element of an
	// array and $[identifier] the elements selected by filter.
	EnsureField(obj any, filter ArrayFilter, parts ...string) ([]GetSetter, error)
	// Locate is EnsureField without creating anything. Paths crossing
	// missing values address nothing.
	Locate(obj any, filter ArrayFilter, parts ...string) ([]GetSetter, error)
}

// Comparer orders values following the BSON comparison order.
type Comparer interface {
	// Compare returns a negative number when a sorts before b, zero when
	// they are equal and a positive number otherwise.
	Compare(a, b any) int
	// Comparable tells whether range operators may compare a and b, which
	// happens only for values of the same type bracket.
	Comparable(a, b any) bool
}

// Matcher evaluates query filters.
type Matcher interface {
	// Match returns true if val matches qry. A val that is not a document
	// is matched as the value of an unnamed field.
	Match(val any, qry any) (bool, error)
}

// ModifyContext carries what an update needs besides the document.
type ModifyContext struct {
	// Insert is set when the update creates the document, enabling
	// $setOnInsert.
	Insert bool
	// ArrayFilters select the elements of $[identifier] segments.
	ArrayFilters []Document
}

// Modifier applies update documents.
type Modifier interface {
	// Modify returns a modified copy of doc. A replacement document keeps
	// the _id of doc.
	Modify(doc Document, update Document, mc ModifyContext) (Document, error)
}

// Projector applies projections.
type Projector interface {
	Project(docs []Document, projection Document) ([]Document, error)
}

// QueryOption configures a [Querier] call through the functional options
// pattern.
type QueryOption func(*QueryOptions)

// QueryOptions selects, orders and shapes the documents of a [Querier] call.
type QueryOptions struct {
	Query      Document
	Sort       Document
	Projection Document
	Skip       int64
	// Limit bounds the result when positive.
	Limit int64
}

// WithQuery sets the filter of the query.
func WithQuery(q Document) QueryOption {
	return func(qo *QueryOptions) {
		qo.Query = q
	}
}

// WithQuerySort sets the sort specification of the query.
func WithQuerySort(s Document) QueryOption {
	return func(qo *QueryOptions) {
		qo.Sort = s
	}
}

// WithQueryProjection sets the projection of the query.
func WithQueryProjection(p Document) QueryOption {
	return func(qo *QueryOptions) {
		qo.Projection = p
	}
}

// WithQuerySkip sets how many matches are skipped.
func WithQuerySkip(n int64) QueryOption {
	return func(qo *QueryOptions) {
		qo.Skip = n
	}
}

// WithQueryLimit sets the maximum number of results.
func WithQueryLimit(n int64) QueryOption {
	return func(qo *QueryOptions) {
		qo.Limit = n
	}
}

// Querier filters, sorts, pages and projects documents.
type Querier interface {
	Query(docs []Document, options ...QueryOption) ([]Document, error)
	// Sort returns a sorted copy of docs.
	Sort(docs []Document, spec Document) ([]Document, error)
}

// Index keeps the documents of a collection keyed by some of their fields.
type Index interface {
	// Fields returns the indexed paths.
	Fields() []string
	Unique() bool
	// Insert indexes docs, failing and indexing none of them when a unique
	// key would repeat.
	Insert(ctx context.Context, docs ...Document) error
	Remove(ctx context.Context, docs ...Document) error
	// Update replaces the entry of oldDoc with one of newDoc, restoring
	// oldDoc on failure.
	Update(ctx context.Context, oldDoc, newDoc Document) error
	// GetMatching returns the documents indexed under key.
	GetMatching(key any) []Document
	// Reset clears the index and indexes docs.
	Reset(ctx context.Context, docs ...Document) error
	GetNumberOfKeys() int
}

// Snapshot is the content of one database at a point in time.
type Snapshot struct {
	Database    string
	Collections []CollectionSnapshot
}

// CollectionSnapshot is the content of one collection at a point in time.
type CollectionSnapshot struct {
	Name      string
	Options   CreateCollectionOptions
	Indexes   []IndexSpec
	Documents []Document
}

// Storage is the file system used by [Persistence].
type Storage interface {
	Exists(filename string) (bool, error)
	// EnsureParentDirectoryExists creates the directory of filename.
	EnsureParentDirectoryExists(filename string, mode os.FileMode) error
	// EnsureDatafileIntegrity recovers filename from an interrupted
	// crash safe write, creating it empty when nothing is found.
	EnsureDatafileIntegrity(filename string, mode os.FileMode) error
	// CrashSafeWriteFile replaces the content of filename with data.
	CrashSafeWriteFile(filename string, data []byte, dirMode, fileMode os.FileMode) error
	ReadFileStream(filename string) (io.ReadCloser, error)
	Remove(filename string) error
}

// Persistence writes and reads database snapshots.
type Persistence interface {
	// Save writes snapshot, replacing the previous one atomically.
	Save(ctx context.Context, snapshot Snapshot) error
	// Load reads the last saved snapshot. A database never saved loads
	// empty.
	Load(ctx context.Context) (Snapshot, error)
	// Write encodes snapshot into w.
	Write(ctx context.Context, w io.Writer, snapshot Snapshot) error
	// Read decodes a snapshot from r.
	Read(ctx context.Context, r io.Reader) (Snapshot, error)
}

// MemoryOption configures the in-memory client through the functional
// options pattern.
type MemoryOption func(*MemoryOptions)

// MemoryOptions contains the parameters of the in-memory client.
type MemoryOptions struct {
	// Directory holds one snapshot file per database. Empty keeps
	// everything in memory.
	Directory string
	// FlushInterval saves snapshots periodically when positive.
	FlushInterval time.Duration
	TimeGetter    TimeGetter
	Logger        *zap.Logger
	Comparer      Comparer
	Matcher       Matcher
	Modifier      Modifier
	Querier       Querier
}

// WithMemoryDirectory persists the databases of the in-memory client under
// dir.
func WithMemoryDirectory(dir string) MemoryOption {
	return func(mo *MemoryOptions) {
		mo.Directory = dir
	}
}

// WithMemoryFlushInterval saves snapshots every d.
func WithMemoryFlushInterval(d time.Duration) MemoryOption {
	return func(mo *MemoryOptions) {
		mo.FlushInterval = d
	}
}

// WithMemoryLogger sets the logger of the in-memory client.
func WithMemoryLogger(l *zap.Logger) MemoryOption {
	return func(mo *MemoryOptions) {
		mo.Logger = l
	}
}

// WithMemoryTimeGetter sets the clock used by $currentDate.
func WithMemoryTimeGetter(tg TimeGetter) MemoryOption {
	return func(mo *MemoryOptions) {
		mo.TimeGetter = tg
	}
}

// ProjectorOption configures a [Projector] through the functional options
// pattern.
type ProjectorOption func(*ProjectorOptions)

// ProjectorOptions contains the dependencies of a [Projector].
type ProjectorOptions struct {
	FieldNavigator FieldNavigator
}

// WithProjectorFieldNavigator sets the field navigator of a projector.
func WithProjectorFieldNavigator(fn FieldNavigator) ProjectorOption {
	return func(po *ProjectorOptions) {
		po.FieldNavigator = fn
	}
}

// MatcherOption configures a [Matcher] through the functional options
// pattern.
type MatcherOption func(*MatcherOptions)

// MatcherOptions contains the dependencies of a [Matcher].
type MatcherOptions struct {
	Comparer       Comparer
	FieldNavigator FieldNavigator
}

// WithMatcherComparer sets the comparer of a matcher.
func WithMatcherComparer(c Comparer) MatcherOption {
	return func(mo *MatcherOptions) {
		mo.Comparer = c
	}
}

// WithMatcherFieldNavigator sets the field navigator of a matcher.
func WithMatcherFieldNavigator(fn FieldNavigator) MatcherOption {
	return func(mo *MatcherOptions) {
		mo.FieldNavigator = fn
	}
}

// IndexOption configures an [Index] through the functional options pattern.
type IndexOption func(*IndexOptions)

// IndexOptions contains the parameters of an [Index].
type IndexOptions struct {
	Fields         []string
	Unique         bool
	Sparse         bool
	Comparer       Comparer
	FieldNavigator FieldNavigator
}

// WithIndexFields sets the indexed paths.
func WithIndexFields(fields ...string) IndexOption {
	return func(io *IndexOptions) {
		io.Fields = fields
	}
}

// WithIndexUnique rejects repeated keys.
func WithIndexUnique(u bool) IndexOption {
	return func(io *IndexOptions) {
		io.Unique = u
	}
}

// WithIndexSparse skips documents missing every indexed path.
func WithIndexSparse(s bool) IndexOption {
	return func(io *IndexOptions) {
		io.Sparse = s
	}
}

// WithIndexComparer sets the comparer ordering the keys.
func WithIndexComparer(c Comparer) IndexOption {
	return func(io *IndexOptions) {
		io.Comparer = c
	}
}

// WithIndexFieldNavigator sets the field navigator reading the keys.
func WithIndexFieldNavigator(fn FieldNavigator) IndexOption {
	return func(io *IndexOptions) {
		io.FieldNavigator = fn
	}
}

// PersistenceOption configures a [Persistence] through the functional options
// pattern.
type PersistenceOption func(*PersistenceOptions)

// PersistenceOptions contains the parameters of a [Persistence].
type PersistenceOptions struct {
	// Filename is the snapshot file. Empty disables Save and Load.
	Filename string
	// FileMode is the mode of created files.
	FileMode os.FileMode
	// CorruptAlertThreshold is the fraction of unreadable lines tolerated
	// when loading.
	CorruptAlertThreshold float64
	Storage               Storage
}

// WithPersistenceFilename sets the snapshot file.
func WithPersistenceFilename(f string) PersistenceOption {
	return func(po *PersistenceOptions) {
		po.Filename = f
	}
}

// WithPersistenceStorage sets the file system used to save snapshots.
func WithPersistenceStorage(st Storage) PersistenceOption {
	return func(po *PersistenceOptions) {
		po.Storage = st
	}
}

// WithPersistenceCorruptAlertThreshold sets the fraction of unreadable lines
// tolerated when loading.
func WithPersistenceCorruptAlertThreshold(t float64) PersistenceOption {
	return func(po *PersistenceOptions) {
		po.CorruptAlertThreshold = t
	}
}
