package domain

import (
	"io"
	"time"

	"go.uber.org/zap"
)

// MapperOption configures a [Mapper] through the functional options pattern.
type MapperOption func(*MapperOptions)

// MapperOptions contains the mapping conventions of a [Mapper].
type MapperOptions struct {
	// TagName is the struct tag read for names and roles.
	TagName string
	// DiscriminatorKey is the default field storing discriminators.
	DiscriminatorKey string
	// ValidatePaths is the default path validation of queries.
	ValidatePaths bool
	// StoreNulls keeps nil pointers, maps and slices as null values.
	StoreNulls bool
	// StoreEmpties keeps empty maps and slices.
	StoreEmpties bool
	// CollectionNaming converts a type name into a collection name.
	CollectionNaming func(string) string
	// Codecs are attached to every property of the given Go type unless the
	// property declares its own.
	Codecs map[string]ValueCodec
}

// WithTagName sets the struct tag read by the mapper.
func WithTagName(n string) MapperOption {
	return func(mo *MapperOptions) {
		mo.TagName = n
	}
}

// WithDiscriminatorKey sets the default discriminator field.
func WithDiscriminatorKey(k string) MapperOption {
	return func(mo *MapperOptions) {
		mo.DiscriminatorKey = k
	}
}

// WithPathValidation sets the default path validation of queries.
func WithPathValidation(v bool) MapperOption {
	return func(mo *MapperOptions) {
		mo.ValidatePaths = v
	}
}

// WithStoreNulls keeps nil values in stored documents.
func WithStoreNulls(s bool) MapperOption {
	return func(mo *MapperOptions) {
		mo.StoreNulls = s
	}
}

// WithStoreEmpties keeps empty maps and slices in stored documents.
func WithStoreEmpties(s bool) MapperOption {
	return func(mo *MapperOptions) {
		mo.StoreEmpties = s
	}
}

// WithCollectionNaming sets the function deriving collection names from type
// names.
func WithCollectionNaming(f func(string) string) MapperOption {
	return func(mo *MapperOptions) {
		mo.CollectionNaming = f
	}
}

// WithTypeCodec attaches c to every property whose Go type has the given
// string representation, such as "time.Duration".
func WithTypeCodec(typeName string, c ValueCodec) MapperOption {
	return func(mo *MapperOptions) {
		if mo.Codecs == nil {
			mo.Codecs = make(map[string]ValueCodec)
		}
		mo.Codecs[typeName] = c
	}
}

// EntityOption configures the model of one type through the functional options
// pattern.
type EntityOption func(*EntityOptions)

// EntityOptions contains the declarations of one mapped type.
type EntityOptions struct {
	Collection       string
	Discriminator    string
	DiscriminatorKey string
	// Embedded marks a type that is never stored on its own.
	Embedded     bool
	ShardKeys    []string
	Indexes      []IndexModel
	Capped       *CappedOptions
	Validation   *ValidationOptions
	WriteConcern *WriteConcern
	// Codecs maps Go field names to the codecs of their properties.
	Codecs map[string]ValueCodec
}

// WithCollection sets the collection name of an entity.
func WithCollection(c string) EntityOption {
	return func(eo *EntityOptions) {
		eo.Collection = c
	}
}

// WithDiscriminator sets the discriminator value of an entity.
func WithDiscriminator(d string) EntityOption {
	return func(eo *EntityOptions) {
		eo.Discriminator = d
	}
}

// WithEntityDiscriminatorKey sets the discriminator field of an entity.
func WithEntityDiscriminatorKey(k string) EntityOption {
	return func(eo *EntityOptions) {
		eo.DiscriminatorKey = k
	}
}

// WithEmbedded marks a type as embedded only.
func WithEmbedded() EntityOption {
	return func(eo *EntityOptions) {
		eo.Embedded = true
	}
}

// WithShardKeys declares the shard key fields of an entity, by Go or stored
// name.
func WithShardKeys(fields ...string) EntityOption {
	return func(eo *EntityOptions) {
		eo.ShardKeys = append(eo.ShardKeys, fields...)
	}
}

// WithIndex declares an index of an entity.
func WithIndex(idx IndexModel) EntityOption {
	return func(eo *EntityOptions) {
		eo.Indexes = append(eo.Indexes, idx)
	}
}

// WithCapped makes the entity collection capped.
func WithCapped(size, count int64) EntityOption {
	return func(eo *EntityOptions) {
		eo.Capped = &CappedOptions{Size: size, Count: count}
	}
}

// WithValidation sets the document validation of an entity collection.
func WithValidation(v ValidationOptions) EntityOption {
	return func(eo *EntityOptions) {
		eo.Validation = &v
	}
}

// WithWriteConcern overrides the write concern of an entity collection.
func WithWriteConcern(wc WriteConcern) EntityOption {
	return func(eo *EntityOptions) {
		eo.WriteConcern = &wc
	}
}

// WithFieldCodec attaches a codec to the property of the given Go field.
func WithFieldCodec(field string, c ValueCodec) EntityOption {
	return func(eo *EntityOptions) {
		if eo.Codecs == nil {
			eo.Codecs = make(map[string]ValueCodec)
		}
		eo.Codecs[field] = c
	}
}

// DatastoreOption configures a [Datastore] through the functional options
// pattern.
type DatastoreOption func(*DatastoreOptions)

// DatastoreOptions contains the collaborators of a [Datastore]. Nil values
// are replaced by defaults.
type DatastoreOptions struct {
	Mapper        Mapper
	MapperOptions []MapperOption
	Codec         Codec
	Resolver      PathResolver
	Logger        *zap.Logger
	Metrics       Metrics
	IDGenerator   IDGenerator
	TimeGetter    TimeGetter
}

// WithMapper sets the entity registry used by the datastore.
func WithMapper(m Mapper) DatastoreOption {
	return func(do *DatastoreOptions) {
		do.Mapper = m
	}
}

// WithMapperOptions sets the options of the default mapper.
func WithMapperOptions(options ...MapperOption) DatastoreOption {
	return func(do *DatastoreOptions) {
		do.MapperOptions = append(do.MapperOptions, options...)
	}
}

// WithCodec sets the entity codec.
func WithCodec(c Codec) DatastoreOption {
	return func(do *DatastoreOptions) {
		do.Codec = c
	}
}

// WithResolver sets the path resolver.
func WithResolver(r PathResolver) DatastoreOption {
	return func(do *DatastoreOptions) {
		do.Resolver = r
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) DatastoreOption {
	return func(do *DatastoreOptions) {
		do.Logger = l
	}
}

// WithMetrics sets the metrics recorder. Defaults to a no-op recorder.
func WithMetrics(m Metrics) DatastoreOption {
	return func(do *DatastoreOptions) {
		do.Metrics = m
	}
}

// WithIDGenerator sets the generator of missing ids.
func WithIDGenerator(g IDGenerator) DatastoreOption {
	return func(do *DatastoreOptions) {
		do.IDGenerator = g
	}
}

// WithTimeGetter sets the clock used for timestamps.
func WithTimeGetter(t TimeGetter) DatastoreOption {
	return func(do *DatastoreOptions) {
		do.TimeGetter = t
	}
}

// InsertOption configures inserts through the functional options pattern.
type InsertOption func(*InsertOptions)

// InsertOptions contains parameters for customizing inserts.
type InsertOptions struct {
	// Collection overrides the entity collection.
	Collection string
	// Unordered lets a multi document insert continue after a failure.
	Unordered bool
}

// WithInsertCollection overrides the collection of an insert.
func WithInsertCollection(c string) InsertOption {
	return func(io *InsertOptions) {
		io.Collection = c
	}
}

// WithUnordered lets a multi document insert continue after a failure.
func WithUnordered(u bool) InsertOption {
	return func(io *InsertOptions) {
		io.Unordered = u
	}
}

// SaveOption configures saves and replaces through the functional options
// pattern.
type SaveOption func(*SaveOptions)

// SaveOptions contains parameters for customizing saves and replaces.
type SaveOptions struct {
	// Collection overrides the entity collection.
	Collection string
}

// WithSaveCollection overrides the collection of a save.
func WithSaveCollection(c string) SaveOption {
	return func(so *SaveOptions) {
		so.Collection = c
	}
}

// MergeOption configures merges through the functional options pattern.
type MergeOption func(*MergeOptions)

// MergeOptions contains parameters for customizing merges.
type MergeOptions struct {
	Collection string
	// UnsetMissing removes stored fields whose property is missing from the
	// encoded entity.
	UnsetMissing bool
}

// WithMergeCollection overrides the collection of a merge.
func WithMergeCollection(c string) MergeOption {
	return func(mo *MergeOptions) {
		mo.Collection = c
	}
}

// WithUnsetMissing makes a merge unset fields missing from the entity.
func WithUnsetMissing(u bool) MergeOption {
	return func(mo *MergeOptions) {
		mo.UnsetMissing = u
	}
}

// UpdateOption configures query updates through the functional options
// pattern.
type UpdateOption func(*UpdateOptions)

// WithUpdateMulti enables updating every document that matches the query.
func WithUpdateMulti(m bool) UpdateOption {
	return func(uo *UpdateOptions) {
		uo.Multi = m
	}
}

// WithUpsert enables inserting a document if no matches are found.
func WithUpsert(u bool) UpdateOption {
	return func(uo *UpdateOptions) {
		uo.Upsert = u
	}
}

// WithArrayFilters sets the filters selecting array elements updated through
// $[name] paths.
func WithArrayFilters(f ...any) UpdateOption {
	return func(uo *UpdateOptions) {
		uo.ArrayFilters = append(uo.ArrayFilters, f...)
	}
}

// RemoveOption configures query deletes through the functional options
// pattern.
type RemoveOption func(*RemoveOptions)

// RemoveOptions contains parameters for customizing query deletes.
type RemoveOptions struct {
	// Multi enables removing every document that matches the query.
	Multi bool
}

// WithRemoveMulti enables removing every document that matches the query.
func WithRemoveMulti(m bool) RemoveOption {
	return func(ro *RemoveOptions) {
		ro.Multi = m
	}
}

// ModifyOption configures find-and-modify calls through the functional
// options pattern.
type ModifyOption func(*ModifyOptions)

// ModifyOptions contains parameters for customizing find-and-modify calls.
type ModifyOptions struct {
	Upsert bool
	// ReturnNew returns the document after the update instead of before.
	ReturnNew    bool
	ArrayFilters []any
}

// WithModifyUpsert enables inserting a document if no matches are found.
func WithModifyUpsert(u bool) ModifyOption {
	return func(mo *ModifyOptions) {
		mo.Upsert = u
	}
}

// WithReturnNew returns the updated document instead of the original one.
func WithReturnNew(r bool) ModifyOption {
	return func(mo *ModifyOptions) {
		mo.ReturnNew = r
	}
}

// WithModifyArrayFilters sets the filters selecting array elements updated
// through $[name] paths.
func WithModifyArrayFilters(f ...any) ModifyOption {
	return func(mo *ModifyOptions) {
		mo.ArrayFilters = append(mo.ArrayFilters, f...)
	}
}

// AggregateOption configures aggregations through the functional options
// pattern.
type AggregateOption func(*AggregateOptions)

// WithAllowDiskUse lets the server use temporary files.
func WithAllowDiskUse(a bool) AggregateOption {
	return func(ao *AggregateOptions) {
		ao.AllowDiskUse = a
	}
}

// WithAggregateBatchSize sets the cursor batch size.
func WithAggregateBatchSize(b int32) AggregateOption {
	return func(ao *AggregateOptions) {
		ao.BatchSize = b
	}
}

// WithAggregateMaxTime limits the execution time of the aggregation.
func WithAggregateMaxTime(d time.Duration) AggregateOption {
	return func(ao *AggregateOptions) {
		ao.MaxTime = d
	}
}

// WithAggregateComment attaches a comment to the aggregation.
func WithAggregateComment(c string) AggregateOption {
	return func(ao *AggregateOptions) {
		ao.Comment = c
	}
}

// SessionOption configures sessions through the functional options pattern.
type SessionOption func(*SessionOptions)

// WithCausalConsistency sets the causal consistency of a session.
func WithCausalConsistency(c bool) SessionOption {
	return func(so *SessionOptions) {
		so.CausalConsistency = &c
	}
}

// TransactionOption configures transactions through the functional options
// pattern.
type TransactionOption func(*TransactionOptions)

// WithReadConcern sets the read concern level of a transaction.
func WithReadConcern(level string) TransactionOption {
	return func(to *TransactionOptions) {
		to.ReadConcern = level
	}
}

// WithTransactionWriteConcern sets the write concern of a transaction.
func WithTransactionWriteConcern(wc WriteConcern) TransactionOption {
	return func(to *TransactionOptions) {
		to.WriteConcern = &wc
	}
}

// IDGeneratorOption configures an [IDGenerator] through the functional
// options pattern.
type IDGeneratorOption func(*IDGeneratorOptions)

// IDGeneratorOptions contains the sources of generated ids.
type IDGeneratorOptions struct {
	// Reader is the source of random bytes.
	Reader io.Reader
	// StringLength is the length of generated string ids.
	StringLength int
}

// WithIDGeneratorReader sets the source of random bytes of generated ids.
func WithIDGeneratorReader(r io.Reader) IDGeneratorOption {
	return func(o *IDGeneratorOptions) {
		o.Reader = r
	}
}

// WithStringIDLength sets the length of generated string ids.
func WithStringIDLength(l int) IDGeneratorOption {
	return func(o *IDGeneratorOptions) {
		o.StringLength = l
	}
}
