// Package aggregation renders pipeline stages and runs aggregations.
package aggregation

import (
	"fmt"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/expr"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/filters"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/geo"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/stages"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// EncodePipeline renders stages in order.
func EncodePipeline(ctx *domain.RenderContext, pipeline []domain.Stage) ([]bson.D, error) {
	docs := make([]bson.D, 0, len(pipeline))
	for n, s := range pipeline {
		doc, err := Encode(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", n, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Encode renders one stage as {name: value}. Paths are resolved against the
// model of ctx, and against the target type for stages reading another
// collection.
func Encode(ctx *domain.RenderContext, stage domain.Stage) (bson.D, error) {
	if stage == nil {
		return nil, &domain.ValidationError{Operation: "pipeline", Reason: "nil stage"}
	}
	if err := stage.Err(); err != nil {
		return nil, err
	}
	var value any
	var err error
	switch s := stage.(type) {
	case stages.MatchStage:
		value, err = filters.Document(ctx, s.Filters()...)
	case stages.LimitStage:
		value = s.N()
	case stages.SkipStage:
		value = s.N()
	case stages.SampleStage:
		value = bson.D{{Key: "size", Value: s.Size()}}
	case stages.SortStage:
		value, err = domain.RenderSort(ctx, s.Fields())
	case stages.CountStage:
		value = s.Field()
	case stages.UnwindStage:
		value, err = encodeUnwind(ctx, s)
	case stages.UnsetStage:
		value, err = resolveAll(ctx, s.Fields())
	case stages.DocumentsStage:
		value, err = renderExprs(ctx, s.Documents())
	case stages.IndexStatsStage, stages.PlanCacheStatsStage:
		value = bson.D{}
	case stages.CollStatsStage:
		value = encodeCollStats(s)
	case stages.RawStage:
		return s.Document(), nil
	case stages.LookupStage:
		value, err = encodeLookup(ctx, s)
	case stages.GraphLookupStage:
		value, err = encodeGraphLookup(ctx, s)
	case stages.UnionWithStage:
		value, err = encodeUnionWith(ctx, s)
	case stages.OutStage:
		value, err = encodeOut(ctx, s)
	case stages.MergeStage:
		value, err = encodeMerge(ctx, s)
	case stages.GroupStage:
		value, err = encodeGroup(ctx, s)
	case stages.BucketStage:
		value, err = encodeBucket(ctx, s)
	case stages.BucketAutoStage:
		value, err = encodeBucketAuto(ctx, s)
	case stages.SortByCountStage:
		value, err = expr.Render(ctx, s.Expression())
	case stages.SetWindowFieldsStage:
		value, err = encodeSetWindowFields(ctx, s)
	case stages.FillStage:
		value, err = encodeFill(ctx, s)
	case stages.DensifyStage:
		value, err = encodeDensify(ctx, s)
	case stages.GeoNearStage:
		value, err = encodeGeoNear(ctx, s)
	case stages.FacetStage:
		value, err = encodeFacet(ctx, s)
	case stages.RedactStage:
		value, err = expr.Render(ctx, s.Expression())
	case stages.ProjectStage:
		value, err = encodeProject(ctx, s)
	case stages.AddFieldsStage:
		value, err = expr.RenderNamed(ctx, s.Fields())
	case stages.ReplaceRootStage:
		value, err = encodeReplaceRoot(ctx, s)
	default:
		return nil, &domain.UnsupportedOperationError{
			Operation: stage.StageName(),
			Reason:    fmt.Sprintf("no encoder for %T", stage),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", stage.StageName(), err)
	}
	return bson.D{{Key: stage.StageName(), Value: value}}, nil
}

// target returns the collection name of t and the context resolving paths of
// that collection. Name targets are rendered without a model.
func target(ctx *domain.RenderContext, t stages.Target) (string, *domain.RenderContext, error) {
	if !t.IsType() {
		return t.Collection, ctx.WithModel(nil), nil
	}
	tctx, err := ctx.ForType(t.Type)
	if err != nil {
		return "", nil, err
	}
	if tctx == nil || tctx.Model == nil {
		return "", nil, &domain.NotMappedError{Type: t.Type, Reason: "no mapper to resolve the collection"}
	}
	return tctx.Model.Collection, tctx, nil
}

func resolve(ctx *domain.RenderContext, path string) (string, error) {
	t, err := ctx.Resolve(path)
	if err != nil {
		return "", err
	}
	return t.Path, nil
}

func resolveAll(ctx *domain.RenderContext, paths []string) (bson.A, error) {
	out := make(bson.A, 0, len(paths))
	for _, p := range paths {
		r, err := resolve(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func renderExprs(ctx *domain.RenderContext, exprs []domain.Expression) (bson.A, error) {
	out := make(bson.A, 0, len(exprs))
	for _, e := range exprs {
		v, err := expr.Render(ctx, e)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func encodeUnwind(ctx *domain.RenderContext, s stages.UnwindStage) (any, error) {
	path, err := resolve(ctx, s.Path())
	if err != nil {
		return nil, err
	}
	path = "$" + path
	if s.ArrayIndexField() == "" && !s.PreservesNull() {
		return path, nil
	}
	doc := bson.D{{Key: "path", Value: path}}
	if s.ArrayIndexField() != "" {
		doc = append(doc, bson.E{Key: "includeArrayIndex", Value: s.ArrayIndexField()})
	}
	if s.PreservesNull() {
		doc = append(doc, bson.E{Key: "preserveNullAndEmptyArrays", Value: true})
	}
	return doc, nil
}

func encodeCollStats(s stages.CollStatsStage) bson.D {
	doc := bson.D{}
	if s.Latency() {
		doc = append(doc, bson.E{Key: "latencyStats", Value: bson.D{{Key: "histograms", Value: s.Histograms()}}})
	}
	if scale := s.StorageScale(); scale != nil {
		doc = append(doc, bson.E{Key: "storageStats", Value: bson.D{{Key: "scale", Value: *scale}}})
	}
	if s.Counts() {
		doc = append(doc, bson.E{Key: "count", Value: bson.D{}})
	}
	if s.QueryExecutionStats() {
		doc = append(doc, bson.E{Key: "queryExecStats", Value: bson.D{}})
	}
	return doc
}

func encodeGroup(ctx *domain.RenderContext, s stages.GroupStage) (any, error) {
	var id any
	var err error
	if fields := s.IDFields(); len(fields) > 0 {
		id, err = expr.RenderNamed(ctx, fields)
	} else {
		id, err = expr.Render(ctx, s.IDExpression())
	}
	if err != nil {
		return nil, err
	}
	acc, err := expr.RenderNamed(ctx, s.Accumulators())
	if err != nil {
		return nil, err
	}
	return append(bson.D{{Key: "_id", Value: id}}, acc...), nil
}

func encodeBucket(ctx *domain.RenderContext, s stages.BucketStage) (any, error) {
	groupBy, err := expr.Render(ctx, s.GroupBy())
	if err != nil {
		return nil, err
	}
	boundaries := make(bson.A, 0, len(s.Boundaries()))
	for _, b := range s.Boundaries() {
		v, err := ctx.Encode(domain.PathTarget{}, b)
		if err != nil {
			return nil, err
		}
		boundaries = append(boundaries, v)
	}
	doc := bson.D{
		{Key: "groupBy", Value: groupBy},
		{Key: "boundaries", Value: boundaries},
	}
	if def := s.DefaultBucket(); def != nil {
		doc = append(doc, bson.E{Key: "default", Value: def})
	}
	return appendOutput(ctx, doc, s.Outputs())
}

func encodeBucketAuto(ctx *domain.RenderContext, s stages.BucketAutoStage) (any, error) {
	groupBy, err := expr.Render(ctx, s.GroupBy())
	if err != nil {
		return nil, err
	}
	doc := bson.D{
		{Key: "groupBy", Value: groupBy},
		{Key: "buckets", Value: s.Buckets()},
	}
	doc, err = appendOutput(ctx, doc, s.Outputs())
	if err != nil {
		return nil, err
	}
	if g := s.GranularityName(); g != "" {
		doc = append(doc, bson.E{Key: "granularity", Value: g})
	}
	return doc, nil
}

func appendOutput(ctx *domain.RenderContext, doc bson.D, output []expr.Named) (bson.D, error) {
	if len(output) == 0 {
		return doc, nil
	}
	out, err := expr.RenderNamed(ctx, output)
	if err != nil {
		return nil, err
	}
	return append(doc, bson.E{Key: "output", Value: out}), nil
}

func encodeSetWindowFields(ctx *domain.RenderContext, s stages.SetWindowFieldsStage) (any, error) {
	doc := bson.D{}
	if p := s.Partition(); p != nil {
		v, err := expr.Render(ctx, p)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "partitionBy", Value: v})
	}
	if len(s.Sorting()) > 0 {
		sort, err := domain.RenderSort(ctx, s.Sorting())
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "sortBy", Value: sort})
	}
	return appendOutput(ctx, doc, s.Outputs())
}

func encodeFill(ctx *domain.RenderContext, s stages.FillStage) (any, error) {
	doc := bson.D{}
	if p := s.Partition(); p != nil {
		v, err := expr.Render(ctx, p)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "partitionBy", Value: v})
	}
	if len(s.PartitionFields()) > 0 {
		fields, err := resolveAll(ctx, s.PartitionFields())
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "partitionByFields", Value: fields})
	}
	if len(s.Sorting()) > 0 {
		sort, err := domain.RenderSort(ctx, s.Sorting())
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "sortBy", Value: sort})
	}
	output := make(bson.D, 0, len(s.Outputs()))
	for _, o := range s.Outputs() {
		field, err := resolve(ctx, o.Field)
		if err != nil {
			return nil, err
		}
		var rule bson.D
		if o.Value != nil {
			v, err := expr.Render(ctx, o.Value)
			if err != nil {
				return nil, err
			}
			rule = bson.D{{Key: "value", Value: v}}
		} else {
			rule = bson.D{{Key: "method", Value: o.Method}}
		}
		output = append(output, bson.E{Key: field, Value: rule})
	}
	return append(doc, bson.E{Key: "output", Value: output}), nil
}

func encodeDensify(ctx *domain.RenderContext, s stages.DensifyStage) (any, error) {
	field, err := resolve(ctx, s.Field())
	if err != nil {
		return nil, err
	}
	doc := bson.D{{Key: "field", Value: field}}
	if len(s.PartitionFields()) > 0 {
		fields, err := resolveAll(ctx, s.PartitionFields())
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "partitionByFields", Value: fields})
	}

	r := s.Range()
	rng := bson.D{{Key: "step", Value: r.Step()}}
	if r.TimeUnit() != "" {
		rng = append(rng, bson.E{Key: "unit", Value: r.TimeUnit()})
	}
	if r.Bounds() == "bounded" {
		lower, upper := r.Limits()
		rng = append(rng, bson.E{Key: "bounds", Value: bson.A{lower, upper}})
	} else {
		rng = append(rng, bson.E{Key: "bounds", Value: r.Bounds()})
	}
	return append(doc, bson.E{Key: "range", Value: rng}), nil
}

func encodeGeoNear(ctx *domain.RenderContext, s stages.GeoNearStage) (any, error) {
	var near any
	switch p := s.Near().(type) {
	case geo.Point:
		near = p.GeoJSON()
	case []float64:
		near = bson.A{p[0], p[1]}
	default:
		near = p
	}
	doc := bson.D{
		{Key: "near", Value: near},
		{Key: "distanceField", Value: s.DistanceField()},
		{Key: "spherical", Value: s.IsSpherical()},
	}
	if d := s.Max(); d != nil {
		doc = append(doc, bson.E{Key: "maxDistance", Value: *d})
	}
	if d := s.Min(); d != nil {
		doc = append(doc, bson.E{Key: "minDistance", Value: *d})
	}
	if f := s.Filter(); f != nil {
		q, err := f.Render(ctx)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "query", Value: q})
	}
	if l := s.LocationsField(); l != "" {
		doc = append(doc, bson.E{Key: "includeLocs", Value: l})
	}
	if k := s.IndexKey(); k != "" {
		key, err := resolve(ctx, k)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: "key", Value: key})
	}
	if m := s.Multiplier(); m != nil {
		doc = append(doc, bson.E{Key: "distanceMultiplier", Value: *m})
	}
	return doc, nil
}

func encodeFacet(ctx *domain.RenderContext, s stages.FacetStage) (any, error) {
	doc := make(bson.D, 0, len(s.Facets()))
	for _, f := range s.Facets() {
		pipeline, err := EncodePipeline(ctx, f.Stages)
		if err != nil {
			return nil, fmt.Errorf("facet %s: %w", f.Name, err)
		}
		doc = append(doc, bson.E{Key: f.Name, Value: pipeline})
	}
	return doc, nil
}

func encodeProject(ctx *domain.RenderContext, s stages.ProjectStage) (any, error) {
	doc := make(bson.D, 0, len(s.Fields()))
	for _, f := range s.Fields() {
		if f.Expr != nil {
			v, err := expr.Render(ctx, f.Expr)
			if err != nil {
				return nil, err
			}
			doc = append(doc, bson.E{Key: f.Field, Value: v})
			continue
		}
		path, err := resolve(ctx, f.Field)
		if err != nil {
			return nil, err
		}
		if f.Exclude {
			doc = append(doc, bson.E{Key: path, Value: 0})
		} else {
			doc = append(doc, bson.E{Key: path, Value: 1})
		}
	}
	return doc, nil
}

func encodeReplaceRoot(ctx *domain.RenderContext, s stages.ReplaceRootStage) (any, error) {
	var root any
	var err error
	if len(s.Fields()) > 0 {
		root, err = expr.RenderNamed(ctx, s.Fields())
	} else {
		root, err = expr.Render(ctx, s.RootExpression())
	}
	if err != nil {
		return nil, err
	}
	if s.StageName() == "$replaceWith" {
		return root, nil
	}
	return bson.D{{Key: "newRoot", Value: root}}, nil
}
