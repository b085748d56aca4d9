// Package stages contains the aggregation pipeline stages.
//
// Stages only hold their parameters. They are turned into documents by the
// aggregation of the datastore, in the order they were given. Builder methods
// return modified copies; a stage built with invalid arguments records an
// error returned by Err and rejected when the stage is added to a pipeline.
package stages

import (
	"reflect"
	"slices"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Target is the collection a stage reads from or writes to, given either by
// name or by mapped entity type.
type Target struct {
	// Collection is set for name targets.
	Collection string
	// Type is set for entity type targets.
	Type reflect.Type
	// Database is optional.
	Database string
}

// IsType reports whether the target is an entity type.
func (t Target) IsType() bool { return t.Type != nil }

func nameTarget(stage, name string) (Target, error) {
	if name == "" {
		return Target{}, &domain.ValidationError{Operation: stage, Reason: "collection name cannot be empty"}
	}
	return Target{Collection: name}, nil
}

func typeTarget(stage string, t reflect.Type) (Target, error) {
	if t == nil {
		return Target{}, &domain.ValidationError{Operation: stage, Reason: "target type cannot be nil"}
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return Target{Type: t}, nil
}

// MatchStage is $match.
type MatchStage struct {
	filters []domain.Filter
}

// Match filters documents. Several filters are joined with $and.
func Match(filters ...domain.Filter) MatchStage {
	return MatchStage{filters: filters}
}

// StageName implements [domain.Stage].
func (MatchStage) StageName() string { return "$match" }

// Filters returns the filters combined with $and.
func (s MatchStage) Filters() []domain.Filter { return s.filters }

// Err implements [domain.Stage].
func (s MatchStage) Err() error {
	for _, f := range s.filters {
		if f == nil {
			return &domain.ValidationError{Operation: "$match", Reason: "nil filter"}
		}
		if err := f.Err(); err != nil {
			return err
		}
	}
	return nil
}

// LimitStage is $limit.
type LimitStage struct {
	n int64
}

// Limit passes the first n documents.
func Limit(n int64) LimitStage { return LimitStage{n: n} }

// StageName implements [domain.Stage].
func (LimitStage) StageName() string { return "$limit" }

// N returns the maximum number of documents.
func (s LimitStage) N() int64 { return s.n }

// Err implements [domain.Stage].
func (s LimitStage) Err() error {
	if s.n <= 0 {
		return &domain.ValidationError{Operation: "$limit", Reason: "limit must be positive"}
	}
	return nil
}

// SkipStage is $skip.
type SkipStage struct {
	n int64
}

// Skip drops the first n documents.
func Skip(n int64) SkipStage { return SkipStage{n: n} }

// StageName implements [domain.Stage].
func (SkipStage) StageName() string { return "$skip" }

// N returns the number of skipped documents.
func (s SkipStage) N() int64 { return s.n }

// Err implements [domain.Stage].
func (s SkipStage) Err() error {
	if s.n < 0 {
		return &domain.ValidationError{Operation: "$skip", Reason: "skip cannot be negative"}
	}
	return nil
}

// SampleStage is $sample.
type SampleStage struct {
	size int64
}

// Sample picks size random documents.
func Sample(size int64) SampleStage { return SampleStage{size: size} }

// StageName implements [domain.Stage].
func (SampleStage) StageName() string { return "$sample" }

// Size returns the number of sampled documents.
func (s SampleStage) Size() int64 { return s.size }

// Err implements [domain.Stage].
func (s SampleStage) Err() error {
	if s.size <= 0 {
		return &domain.ValidationError{Operation: "$sample", Reason: "size must be positive"}
	}
	return nil
}

// SortStage is $sort.
type SortStage struct {
	fields []domain.SortField
}

// Sort orders documents by fields.
func Sort(fields ...domain.SortField) SortStage { return SortStage{fields: fields} }

// StageName implements [domain.Stage].
func (SortStage) StageName() string { return "$sort" }

// Fields returns the sort fields.
func (s SortStage) Fields() []domain.SortField { return s.fields }

// Err implements [domain.Stage].
func (s SortStage) Err() error {
	if len(s.fields) == 0 {
		return &domain.ValidationError{Operation: "$sort", Reason: "at least one field is required"}
	}
	return nil
}

// CountStage is $count.
type CountStage struct {
	field string
}

// Count replaces the documents with one holding their count in field.
func Count(field string) CountStage { return CountStage{field: field} }

// StageName implements [domain.Stage].
func (CountStage) StageName() string { return "$count" }

// Field returns the output field holding the count.
func (s CountStage) Field() string { return s.field }

// Err implements [domain.Stage].
func (s CountStage) Err() error {
	if s.field == "" {
		return &domain.ValidationError{Operation: "$count", Reason: "field cannot be empty"}
	}
	return nil
}

// UnwindStage is $unwind.
type UnwindStage struct {
	path              string
	includeArrayIndex string
	preserveNull      bool
}

// Unwind outputs one document per element of the array at path.
func Unwind(path string) UnwindStage { return UnwindStage{path: path} }

// IncludeArrayIndex returns a copy of s storing the element index in field.
func (s UnwindStage) IncludeArrayIndex(field string) UnwindStage {
	s.includeArrayIndex = field
	return s
}

// PreserveNullAndEmptyArrays returns a copy of s also passing documents with a
// missing, null or empty array.
func (s UnwindStage) PreserveNullAndEmptyArrays(p bool) UnwindStage {
	s.preserveNull = p
	return s
}

// StageName implements [domain.Stage].
func (UnwindStage) StageName() string { return "$unwind" }

// Path returns the unwound array path.
func (s UnwindStage) Path() string { return s.path }

// ArrayIndexField returns the output field holding the array index, if any.
func (s UnwindStage) ArrayIndexField() string { return s.includeArrayIndex }

// PreservesNull returns whether documents without elements are kept.
func (s UnwindStage) PreservesNull() bool { return s.preserveNull }

// Err implements [domain.Stage].
func (s UnwindStage) Err() error {
	if s.path == "" {
		return &domain.ValidationError{Operation: "$unwind", Reason: "path cannot be empty"}
	}
	return nil
}

// UnsetStage is $unset.
type UnsetStage struct {
	fields []string
}

// Unset removes fields.
func Unset(fields ...string) UnsetStage { return UnsetStage{fields: fields} }

// StageName implements [domain.Stage].
func (UnsetStage) StageName() string { return "$unset" }

// Fields returns the removed fields.
func (s UnsetStage) Fields() []string { return s.fields }

// Err implements [domain.Stage].
func (s UnsetStage) Err() error {
	if len(s.fields) == 0 {
		return &domain.ValidationError{Operation: "$unset", Reason: "at least one field is required"}
	}
	return nil
}

// DocumentsStage is $documents.
type DocumentsStage struct {
	docs []domain.Expression
}

// Documents starts a pipeline from literal documents.
func Documents(docs ...domain.Expression) DocumentsStage {
	return DocumentsStage{docs: docs}
}

// StageName implements [domain.Stage].
func (DocumentsStage) StageName() string { return "$documents" }

// Documents returns the literal documents.
func (s DocumentsStage) Documents() []domain.Expression { return s.docs }

// Err implements [domain.Stage].
func (DocumentsStage) Err() error { return nil }

// IndexStatsStage is $indexStats.
type IndexStatsStage struct{}

// IndexStats returns usage statistics of the collection indexes.
func IndexStats() IndexStatsStage { return IndexStatsStage{} }

// StageName implements [domain.Stage].
func (IndexStatsStage) StageName() string { return "$indexStats" }

// Err implements [domain.Stage].
func (IndexStatsStage) Err() error { return nil }

// PlanCacheStatsStage is $planCacheStats.
type PlanCacheStatsStage struct{}

// PlanCacheStats returns the plan cache entries of the collection.
func PlanCacheStats() PlanCacheStatsStage { return PlanCacheStatsStage{} }

// StageName implements [domain.Stage].
func (PlanCacheStatsStage) StageName() string { return "$planCacheStats" }

// Err implements [domain.Stage].
func (PlanCacheStatsStage) Err() error { return nil }

// CollStatsStage is $collStats.
type CollStatsStage struct {
	latency           bool
	latencyHistograms bool
	storageScale      *int
	count             bool
	queryExecStats    bool
}

// CollStats returns collection statistics. With no option set it renders an
// empty document.
func CollStats() CollStatsStage { return CollStatsStage{} }

// LatencyStats returns a copy of s reporting latencies, with histograms when
// h is true.
func (s CollStatsStage) LatencyStats(h bool) CollStatsStage {
	s.latency = true
	s.latencyHistograms = h
	return s
}

// StorageStats returns a copy of s reporting storage with the given scale.
func (s CollStatsStage) StorageStats(scale int) CollStatsStage {
	s.storageScale = &scale
	return s
}

// WithCount returns a copy of s reporting the document count.
func (s CollStatsStage) WithCount() CollStatsStage {
	s.count = true
	return s
}

// QueryExecStats returns a copy of s reporting query statistics.
func (s CollStatsStage) QueryExecStats() CollStatsStage {
	s.queryExecStats = true
	return s
}

// StageName implements [domain.Stage].
func (CollStatsStage) StageName() string { return "$collStats" }

// Latency returns whether latency statistics are requested.
func (s CollStatsStage) Latency() bool { return s.latency }

// Histograms returns whether latency histograms are requested.
func (s CollStatsStage) Histograms() bool { return s.latencyHistograms }

// StorageScale returns the scale of storage statistics, if requested.
func (s CollStatsStage) StorageScale() *int { return s.storageScale }

// Counts returns whether the document count is requested.
func (s CollStatsStage) Counts() bool { return s.count }

// QueryExecutionStats returns whether query execution statistics are requested.
func (s CollStatsStage) QueryExecutionStats() bool { return s.queryExecStats }

// Err implements [domain.Stage].
func (CollStatsStage) Err() error { return nil }

// RawStage is a pre-built stage document.
type RawStage struct {
	doc bson.D
}

// Raw returns a stage rendering doc unchanged. doc must hold exactly one
// key, the stage name.
func Raw(doc bson.D) RawStage { return RawStage{doc: doc} }

// StageName returns the only key of the document.
func (s RawStage) StageName() string {
	if len(s.doc) == 0 {
		return ""
	}
	return s.doc[0].Key
}

// Document returns the raw stage document.
func (s RawStage) Document() bson.D { return s.doc }

// Err implements [domain.Stage].
func (s RawStage) Err() error {
	if len(s.doc) != 1 {
		return &domain.ValidationError{Operation: "raw stage", Reason: "document must have exactly one key"}
	}
	return nil
}

func appendClip[T any](s []T, v ...T) []T {
	return append(slices.Clip(s), v...)
}

func firstErr(stages []domain.Stage) error {
	for _, s := range stages {
		if s == nil {
			return &domain.ValidationError{Operation: "pipeline", Reason: "nil stage"}
		}
		if err := s.Err(); err != nil {
			return err
		}
	}
	return nil
}
