package stages

import (
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/expr"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/geo"
)

// GroupStage is $group. Its _id is either one expression or a document of
// named fields, never both.
type GroupStage struct {
	id           domain.Expression
	idFields     []expr.Named
	accumulators []expr.Named
	err          error
}

// Group groups documents by id, which may be nil to group everything.
func Group(id domain.Expression) GroupStage {
	return GroupStage{id: id}
}

// GroupByFields groups documents by a document of named expressions.
func GroupByFields(fields ...expr.Named) GroupStage {
	return GroupStage{}.IDField(fields...)
}

// ID returns a copy of s grouping by one expression.
func (s GroupStage) ID(id domain.Expression) GroupStage {
	if len(s.idFields) > 0 {
		s.err = &domain.MixedModesError{Stage: "$group"}
	}
	s.id = id
	return s
}

// IDField returns a copy of s adding named fields to the group _id.
func (s GroupStage) IDField(fields ...expr.Named) GroupStage {
	if s.id != nil {
		s.err = &domain.MixedModesError{Stage: "$group"}
	}
	s.idFields = appendClip(s.idFields, fields...)
	return s
}

// Field returns a copy of s computing the accumulator acc into name.
func (s GroupStage) Field(name string, acc domain.Expression) GroupStage {
	s.accumulators = appendClip(s.accumulators, expr.As(name, acc))
	return s
}

// StageName implements [domain.Stage].
func (GroupStage) StageName() string { return "$group" }

// IDExpression returns the group key expression, if any.
func (s GroupStage) IDExpression() domain.Expression { return s.id }

// IDFields returns the named fields of a compound group key.
func (s GroupStage) IDFields() []expr.Named { return s.idFields }

// Accumulators returns the computed output fields.
func (s GroupStage) Accumulators() []expr.Named { return s.accumulators }

// Err implements [domain.Stage].
func (s GroupStage) Err() error { return s.err }

// BucketStage is $bucket.
type BucketStage struct {
	groupBy    domain.Expression
	boundaries []any
	def        any
	output     []expr.Named
}

// Bucket groups documents into ranges of groupBy delimited by boundaries.
func Bucket(groupBy domain.Expression, boundaries ...any) BucketStage {
	return BucketStage{groupBy: groupBy, boundaries: boundaries}
}

// Default returns a copy of s collecting documents outside the boundaries in
// the bucket with id def.
func (s BucketStage) Default(def any) BucketStage {
	s.def = def
	return s
}

// Output returns a copy of s computing acc into name for each bucket.
func (s BucketStage) Output(name string, acc domain.Expression) BucketStage {
	s.output = appendClip(s.output, expr.As(name, acc))
	return s
}

// StageName implements [domain.Stage].
func (BucketStage) StageName() string { return "$bucket" }

// GroupBy returns the expression documents are bucketed by.
func (s BucketStage) GroupBy() domain.Expression { return s.groupBy }

// Boundaries returns the bucket boundaries.
func (s BucketStage) Boundaries() []any { return s.boundaries }

// DefaultBucket returns the bucket of values outside the boundaries.
func (s BucketStage) DefaultBucket() any { return s.def }

// Outputs returns the output fields of each bucket.
func (s BucketStage) Outputs() []expr.Named { return s.output }

// Err implements [domain.Stage].
func (s BucketStage) Err() error {
	if s.groupBy == nil {
		return &domain.ValidationError{Operation: "$bucket", Reason: "groupBy is required"}
	}
	if len(s.boundaries) < 2 {
		return &domain.ValidationError{Operation: "$bucket", Reason: "at least two boundaries are required"}
	}
	return nil
}

// BucketAutoStage is $bucketAuto.
type BucketAutoStage struct {
	groupBy     domain.Expression
	buckets     int
	output      []expr.Named
	granularity string
}

// BucketAuto groups documents into n evenly distributed buckets.
func BucketAuto(groupBy domain.Expression, n int) BucketAutoStage {
	return BucketAutoStage{groupBy: groupBy, buckets: n}
}

// Output returns a copy of s computing acc into name for each bucket.
func (s BucketAutoStage) Output(name string, acc domain.Expression) BucketAutoStage {
	s.output = appendClip(s.output, expr.As(name, acc))
	return s
}

// Granularity returns a copy of s rounding boundaries to a number series
// such as "R5" or "POWERSOF2".
func (s BucketAutoStage) Granularity(g string) BucketAutoStage {
	s.granularity = g
	return s
}

// StageName implements [domain.Stage].
func (BucketAutoStage) StageName() string { return "$bucketAuto" }

// GroupBy returns the expression documents are bucketed by.
func (s BucketAutoStage) GroupBy() domain.Expression { return s.groupBy }

// Buckets returns the number of buckets.
func (s BucketAutoStage) Buckets() int { return s.buckets }

// Outputs returns the output fields of each bucket.
func (s BucketAutoStage) Outputs() []expr.Named { return s.output }

// GranularityName returns the preferred number series, if any.
func (s BucketAutoStage) GranularityName() string { return s.granularity }

// Err implements [domain.Stage].
func (s BucketAutoStage) Err() error {
	if s.groupBy == nil || s.buckets <= 0 {
		return &domain.ValidationError{Operation: "$bucketAuto", Reason: "groupBy and a positive bucket count are required"}
	}
	return nil
}

// SortByCountStage is $sortByCount.
type SortByCountStage struct {
	e domain.Expression
}

// SortByCount groups documents by e and sorts the groups by size.
func SortByCount(e domain.Expression) SortByCountStage { return SortByCountStage{e: e} }

// StageName implements [domain.Stage].
func (SortByCountStage) StageName() string { return "$sortByCount" }

// Expression returns the grouped expression.
func (s SortByCountStage) Expression() domain.Expression { return s.e }

// Err implements [domain.Stage].
func (s SortByCountStage) Err() error {
	if s.e == nil {
		return &domain.ValidationError{Operation: "$sortByCount", Reason: "expression is required"}
	}
	return nil
}

// SetWindowFieldsStage is $setWindowFields.
type SetWindowFieldsStage struct {
	partitionBy domain.Expression
	sortBy      []domain.SortField
	output      []expr.Named
}

// SetWindowFields computes window functions over partitions.
func SetWindowFields() SetWindowFieldsStage { return SetWindowFieldsStage{} }

// PartitionBy returns a copy of s partitioning documents by e.
func (s SetWindowFieldsStage) PartitionBy(e domain.Expression) SetWindowFieldsStage {
	s.partitionBy = e
	return s
}

// SortBy returns a copy of s ordering each partition.
func (s SetWindowFieldsStage) SortBy(fields ...domain.SortField) SetWindowFieldsStage {
	s.sortBy = appendClip(s.sortBy, fields...)
	return s
}

// Output returns a copy of s computing fn, usually an [expr.WindowExpr],
// into name.
func (s SetWindowFieldsStage) Output(name string, fn domain.Expression) SetWindowFieldsStage {
	s.output = appendClip(s.output, expr.As(name, fn))
	return s
}

// StageName implements [domain.Stage].
func (SetWindowFieldsStage) StageName() string { return "$setWindowFields" }

// Partition returns the partition expression, if any.
func (s SetWindowFieldsStage) Partition() domain.Expression { return s.partitionBy }

// Sorting returns the sort order within a partition.
func (s SetWindowFieldsStage) Sorting() []domain.SortField { return s.sortBy }

// Outputs returns the window output fields.
func (s SetWindowFieldsStage) Outputs() []expr.Named { return s.output }

// Err implements [domain.Stage].
func (s SetWindowFieldsStage) Err() error {
	if len(s.output) == 0 {
		return &domain.ValidationError{Operation: "$setWindowFields", Reason: "at least one output is required"}
	}
	return nil
}

// FillOutput is the fill rule of one field of a $fill stage. Either Value or
// Method is set.
type FillOutput struct {
	Field  string
	Value  domain.Expression
	Method string
}

// FillStage is $fill.
type FillStage struct {
	partitionBy       domain.Expression
	partitionByFields []string
	sortBy            []domain.SortField
	output            []FillOutput
	err               error
}

// Fill fills null and missing fields.
func Fill() FillStage { return FillStage{} }

// PartitionBy returns a copy of s filling within partitions of e.
func (s FillStage) PartitionBy(e domain.Expression) FillStage {
	if len(s.partitionByFields) > 0 {
		s.err = &domain.MixedModesError{Stage: "$fill"}
	}
	s.partitionBy = e
	return s
}

// PartitionByFields returns a copy of s filling within partitions of fields.
func (s FillStage) PartitionByFields(fields ...string) FillStage {
	if s.partitionBy != nil {
		s.err = &domain.MixedModesError{Stage: "$fill"}
	}
	s.partitionByFields = appendClip(s.partitionByFields, fields...)
	return s
}

// SortBy returns a copy of s ordering documents before filling.
func (s FillStage) SortBy(fields ...domain.SortField) FillStage {
	s.sortBy = appendClip(s.sortBy, fields...)
	return s
}

// Value returns a copy of s filling field with e.
func (s FillStage) Value(field string, e domain.Expression) FillStage {
	s.output = appendClip(s.output, FillOutput{Field: field, Value: e})
	return s
}

// Method returns a copy of s filling field with method, "linear" or "locf".
func (s FillStage) Method(field, method string) FillStage {
	s.output = appendClip(s.output, FillOutput{Field: field, Method: method})
	return s
}

// StageName implements [domain.Stage].
func (FillStage) StageName() string { return "$fill" }

// Partition returns the partition expression, if any.
func (s FillStage) Partition() domain.Expression { return s.partitionBy }

// PartitionFields returns the fields documents are partitioned by.
func (s FillStage) PartitionFields() []string { return s.partitionByFields }

// Sorting returns the sort order within a partition.
func (s FillStage) Sorting() []domain.SortField { return s.sortBy }

// Outputs returns the filled fields.
func (s FillStage) Outputs() []FillOutput { return s.output }

// Err implements [domain.Stage].
func (s FillStage) Err() error {
	if s.err != nil {
		return s.err
	}
	if len(s.output) == 0 {
		return &domain.ValidationError{Operation: "$fill", Reason: "at least one output is required"}
	}
	return nil
}

// DensifyRange is the range of a $densify stage: full, partition or bounded.
type DensifyRange struct {
	bounds string
	lower  any
	upper  any
	step   any
	unit   string
}

// FullRange densifies over the whole range of values of the collection.
func FullRange(step any) DensifyRange {
	return DensifyRange{bounds: "full", step: step}
}

// PartitionRange densifies over the range of values of each partition.
func PartitionRange(step any) DensifyRange {
	return DensifyRange{bounds: "partition", step: step}
}

// BoundedRange densifies between lower and upper.
func BoundedRange(lower, upper, step any) DensifyRange {
	return DensifyRange{bounds: "bounded", lower: lower, upper: upper, step: step}
}

// Unit returns a copy of r with a time unit, for date fields.
func (r DensifyRange) Unit(unit string) DensifyRange {
	r.unit = unit
	return r
}

// Bounds returns "full", "partition" or "bounded".
func (r DensifyRange) Bounds() string { return r.bounds }

// Limits returns the bounds of a bounded range.
func (r DensifyRange) Limits() (lower, upper any) { return r.lower, r.upper }

// Step returns the increment between generated values.
func (r DensifyRange) Step() any { return r.step }

// TimeUnit returns the unit of Step for dates, if any.
func (r DensifyRange) TimeUnit() string { return r.unit }

// DensifyStage is $densify.
type DensifyStage struct {
	field       string
	partitionBy []string
	rng         DensifyRange
}

// Densify adds missing documents so that field has every value of rng.
func Densify(field string, rng DensifyRange) DensifyStage {
	return DensifyStage{field: field, rng: rng}
}

// PartitionByFields returns a copy of s densifying each partition of
// fields.
func (s DensifyStage) PartitionByFields(fields ...string) DensifyStage {
	s.partitionBy = appendClip(s.partitionBy, fields...)
	return s
}

// StageName implements [domain.Stage].
func (DensifyStage) StageName() string { return "$densify" }

// Field returns the densified field.
func (s DensifyStage) Field() string { return s.field }

// PartitionFields returns the fields documents are partitioned by.
func (s DensifyStage) PartitionFields() []string { return s.partitionBy }

// Range returns the range of generated values.
func (s DensifyStage) Range() DensifyRange { return s.rng }

// Err implements [domain.Stage].
func (s DensifyStage) Err() error {
	switch {
	case s.field == "":
		return &domain.ValidationError{Operation: "$densify", Reason: "field cannot be empty"}
	case s.rng.bounds == "" || s.rng.step == nil:
		return &domain.ValidationError{Operation: "$densify", Reason: "range with a step is required"}
	case s.rng.bounds == "partition" && len(s.partitionBy) == 0:
		return &domain.ValidationError{Operation: "$densify", Reason: "partition range requires partition fields"}
	}
	return nil
}

// GeoNearStage is $geoNear.
type GeoNearStage struct {
	near               any
	distanceField      string
	spherical          bool
	maxDistance        *float64
	minDistance        *float64
	query              domain.Filter
	includeLocs        string
	key                string
	distanceMultiplier *float64
}

// GeoNear orders documents by distance to point, storing it in
// distanceField.
func GeoNear(point geo.Point, distanceField string) GeoNearStage {
	return GeoNearStage{near: point, distanceField: distanceField, spherical: true}
}

// GeoNearLegacy orders documents by distance to a legacy coordinate pair.
func GeoNearLegacy(p geo.Position, distanceField string) GeoNearStage {
	return GeoNearStage{near: []float64{p[0], p[1]}, distanceField: distanceField}
}

// Spherical returns a copy of s with spherical geometry set.
func (s GeoNearStage) Spherical(sp bool) GeoNearStage {
	s.spherical = sp
	return s
}

// MaxDistance returns a copy of s limited to d.
func (s GeoNearStage) MaxDistance(d float64) GeoNearStage {
	s.maxDistance = &d
	return s
}

// MinDistance returns a copy of s starting at d.
func (s GeoNearStage) MinDistance(d float64) GeoNearStage {
	s.minDistance = &d
	return s
}

// Query returns a copy of s only considering documents matching f.
func (s GeoNearStage) Query(f domain.Filter) GeoNearStage {
	s.query = f
	return s
}

// IncludeLocs returns a copy of s storing the matched location in field.
func (s GeoNearStage) IncludeLocs(field string) GeoNearStage {
	s.includeLocs = field
	return s
}

// Key returns a copy of s using the geospatial index on field.
func (s GeoNearStage) Key(field string) GeoNearStage {
	s.key = field
	return s
}

// DistanceMultiplier returns a copy of s multiplying distances by m.
func (s GeoNearStage) DistanceMultiplier(m float64) GeoNearStage {
	s.distanceMultiplier = &m
	return s
}

// StageName implements [domain.Stage].
func (GeoNearStage) StageName() string { return "$geoNear" }

// Near returns the point distances are measured from.
func (s GeoNearStage) Near() any { return s.near }

// DistanceField returns the output field holding the distance.
func (s GeoNearStage) DistanceField() string { return s.distanceField }

// IsSpherical returns whether distances are spherical.
func (s GeoNearStage) IsSpherical() bool { return s.spherical }

// Max returns the maximum distance, if any.
func (s GeoNearStage) Max() *float64 { return s.maxDistance }

// Min returns the minimum distance, if any.
func (s GeoNearStage) Min() *float64 { return s.minDistance }

// Filter returns the filter applied to candidate documents, if any.
func (s GeoNearStage) Filter() domain.Filter { return s.query }

// LocationsField returns the output field holding the matched location, if any.
func (s GeoNearStage) LocationsField() string { return s.includeLocs }

// IndexKey returns the geospatial field to use, if any.
func (s GeoNearStage) IndexKey() string { return s.key }

// Multiplier returns the factor applied to distances, if any.
func (s GeoNearStage) Multiplier() *float64 { return s.distanceMultiplier }

// Err implements [domain.Stage].
func (s GeoNearStage) Err() error {
	if s.distanceField == "" {
		return &domain.ValidationError{Operation: "$geoNear", Reason: "distanceField cannot be empty"}
	}
	if s.query != nil {
		return s.query.Err()
	}
	return nil
}

// Facet is one named sub-pipeline of a $facet stage.
type Facet struct {
	Name   string
	Stages []domain.Stage
}

// FacetStage is $facet.
type FacetStage struct {
	facets []Facet
}

// FacetOf runs each facet on the same input documents.
func FacetOf(facets ...Facet) FacetStage { return FacetStage{facets: facets} }

// Facet returns a copy of s adding the sub-pipeline name.
func (s FacetStage) Facet(name string, stages ...domain.Stage) FacetStage {
	s.facets = appendClip(s.facets, Facet{Name: name, Stages: stages})
	return s
}

// StageName implements [domain.Stage].
func (FacetStage) StageName() string { return "$facet" }

// Facets returns the named sub pipelines.
func (s FacetStage) Facets() []Facet { return s.facets }

// Err implements [domain.Stage].
func (s FacetStage) Err() error {
	if len(s.facets) == 0 {
		return &domain.ValidationError{Operation: "$facet", Reason: "at least one facet is required"}
	}
	for _, f := range s.facets {
		if err := firstErr(f.Stages); err != nil {
			return err
		}
	}
	return nil
}

// RedactStage is $redact.
type RedactStage struct {
	e domain.Expression
}

// Redact restricts documents with e, which resolves to [expr.Descend],
// [expr.Prune] or [expr.Keep].
func Redact(e domain.Expression) RedactStage { return RedactStage{e: e} }

// StageName implements [domain.Stage].
func (RedactStage) StageName() string { return "$redact" }

// Expression returns the expression deciding what is kept.
func (s RedactStage) Expression() domain.Expression { return s.e }

// Err implements [domain.Stage].
func (s RedactStage) Err() error {
	if s.e == nil {
		return &domain.ValidationError{Operation: "$redact", Reason: "expression is required"}
	}
	return nil
}
