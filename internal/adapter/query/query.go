// Package query binds filters, sorts, projections and read options to the
// collection of one entity type.
package query

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/filters"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Query implements [domain.Query]. Builder methods return modified copies, so
// a query can be reused as a template.
type Query[T any] struct {
	backend    domain.Backend
	model      *domain.EntityModel
	filters    []domain.Filter
	sort       []domain.SortField
	projection domain.Projection
	options    domain.FindOptions
	validate   bool
	err        error
}

// NewQuery returns a query over the collection of T with no filter. Path
// validation defaults to the mapper setting.
func NewQuery[T any](backend domain.Backend) (domain.Query[T], error) {
	model, err := backend.Mapper().Model(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return &Query[T]{
		backend:  backend,
		model:    model,
		validate: backend.Mapper().Options().ValidatePaths,
	}, nil
}

func (q *Query[T]) clone() *Query[T] {
	c := *q
	c.filters = slices.Clip(q.filters)
	c.sort = slices.Clip(q.sort)
	return &c
}

// Filter implements [domain.Query]. Filters that failed to build, such as
// negated geo filters, fail the query right away.
func (q *Query[T]) Filter(filters ...domain.Filter) domain.Query[T] {
	c := q.clone()
	for _, f := range filters {
		if c.err != nil {
			break
		}
		if f == nil {
			c.err = &domain.ValidationError{Operation: "filter", Reason: "nil filter"}
			break
		}
		c.err = f.Err()
		c.filters = append(c.filters, f)
	}
	return c
}

// Sort implements [domain.Query].
func (q *Query[T]) Sort(fields ...domain.SortField) domain.Query[T] {
	c := q.clone()
	c.sort = append(c.sort, fields...)
	return c
}

// Project implements [domain.Query].
func (q *Query[T]) Project(p domain.Projection) domain.Query[T] {
	c := q.clone()
	c.projection = p
	if c.err == nil && p != nil {
		c.err = p.Err()
	}
	return c
}

// Skip implements [domain.Query].
func (q *Query[T]) Skip(n int64) domain.Query[T] {
	c := q.clone()
	c.options.Skip = n
	return c
}

// Limit implements [domain.Query].
func (q *Query[T]) Limit(n int64) domain.Query[T] {
	c := q.clone()
	c.options.Limit = n
	return c
}

// BatchSize implements [domain.Query].
func (q *Query[T]) BatchSize(n int32) domain.Query[T] {
	c := q.clone()
	c.options.BatchSize = n
	return c
}

// Collation implements [domain.Query].
func (q *Query[T]) Collation(collation domain.Collation) domain.Query[T] {
	c := q.clone()
	c.options.Collation = &collation
	return c
}

// Hint implements [domain.Query].
func (q *Query[T]) Hint(h any) domain.Query[T] {
	c := q.clone()
	c.options.Hint = h
	return c
}

// Comment implements [domain.Query].
func (q *Query[T]) Comment(comment string) domain.Query[T] {
	c := q.clone()
	c.options.Comment = comment
	return c
}

// MaxTime implements [domain.Query].
func (q *Query[T]) MaxTime(d time.Duration) domain.Query[T] {
	c := q.clone()
	c.options.MaxTime = d
	return c
}

// DisableValidation implements [domain.Query].
func (q *Query[T]) DisableValidation() domain.Query[T] {
	c := q.clone()
	c.validate = false
	return c
}

// EnableValidation implements [domain.Query].
func (q *Query[T]) EnableValidation() domain.Query[T] {
	c := q.clone()
	c.validate = true
	return c
}

func (q *Query[T]) renderContext() *domain.RenderContext {
	return &domain.RenderContext{
		Mapper:   q.backend.Mapper(),
		Model:    q.model,
		Validate: q.validate,
		Resolver: q.backend.Resolver(),
		Codec:    q.backend.Codec(),
	}
}

// Document implements [domain.Query].
func (q *Query[T]) Document() (bson.D, error) {
	if q.err != nil {
		return nil, q.err
	}
	doc, err := filters.Document(q.renderContext(), q.filters...)
	if err != nil {
		return nil, err
	}
	return q.discriminate(doc), nil
}

// discriminate restricts polymorphic queries to the queried type and its
// subtypes, unless the filter already selects by id or discriminator.
func (q *Query[T]) discriminate(doc bson.D) bson.D {
	subtypes := q.backend.Mapper().Subtypes(q.model)
	if q.model.Parent == nil && len(subtypes) == 0 {
		return doc
	}
	key := q.model.DiscriminatorKey
	for _, e := range doc {
		if e.Key == "_id" || e.Key == key {
			return doc
		}
	}
	values := make(bson.A, 0, len(subtypes)+1)
	values = append(values, q.model.Discriminator)
	for _, s := range subtypes {
		values = append(values, s.Discriminator)
	}
	return append(doc, bson.E{Key: key, Value: bson.D{{Key: "$in", Value: values}}})
}

func (q *Query[T]) findOptions() (domain.FindOptions, error) {
	opts := q.options
	ctx := q.renderContext()
	sort, err := domain.RenderSort(ctx, q.sort)
	if err != nil {
		return opts, err
	}
	opts.Sort = sort
	if q.projection != nil {
		proj, err := q.projection.Render(ctx)
		if err != nil {
			return opts, err
		}
		opts.Projection = proj
	}
	return opts, nil
}

func (q *Query[T]) collection() domain.Collection {
	return q.backend.Collection(q.model)
}

func (q *Query[T]) do(ctx context.Context, operation string, coll domain.Collection, filter any, fn func(context.Context) error) error {
	q.backend.Logger().Debug(operation,
		zap.String("collection", coll.Name()),
		zap.Any("filter", filter),
	)
	return q.backend.Do(ctx, operation, coll.Name(), fn)
}

// Count implements [domain.Query].
func (q *Query[T]) Count(ctx context.Context) (int64, error) {
	filter, err := q.Document()
	if err != nil {
		return 0, err
	}
	coll := q.collection()
	opts := domain.CountOptions{
		Skip:      q.options.Skip,
		Limit:     q.options.Limit,
		Collation: q.options.Collation,
		Hint:      q.options.Hint,
		MaxTime:   q.options.MaxTime,
	}
	var n int64
	err = q.do(ctx, "count", coll, filter, func(ctx context.Context) error {
		var err error
		n, err = coll.CountDocuments(ctx, filter, opts)
		return err
	})
	return n, err
}

// Execute implements [domain.Query].
func (q *Query[T]) Execute(ctx context.Context) (domain.Iterator[T], error) {
	filter, err := q.Document()
	if err != nil {
		return nil, err
	}
	opts, err := q.findOptions()
	if err != nil {
		return nil, err
	}
	coll := q.collection()
	var cur domain.Cursor
	err = q.do(ctx, "find", coll, filter, func(ctx context.Context) error {
		var err error
		cur, err = coll.Find(ctx, filter, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return NewIterator[T](cur, q.backend.Codec()), nil
}

// First implements [domain.Query].
func (q *Query[T]) First(ctx context.Context) (T, error) {
	var zero T
	it, err := q.Limit(1).Execute(ctx)
	if err != nil {
		return zero, err
	}
	defer it.Close(ctx)
	if !it.Next(ctx) {
		if err := it.Err(); err != nil {
			return zero, err
		}
		return zero, domain.ErrNotFound
	}
	return it.Value()
}

// All implements [domain.Query].
func (q *Query[T]) All(ctx context.Context) ([]T, error) {
	it, err := q.Execute(ctx)
	if err != nil {
		return nil, err
	}
	defer it.Close(ctx)
	var out []T
	for it.Next(ctx) {
		v, err := it.Value()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, it.Err()
}

// Delete implements [domain.Query].
func (q *Query[T]) Delete(ctx context.Context, options ...domain.RemoveOption) (int64, error) {
	var opts domain.RemoveOptions
	for _, option := range options {
		option(&opts)
	}
	filter, err := q.Document()
	if err != nil {
		return 0, err
	}
	coll := q.collection()
	dopts := domain.DeleteOptions{Collation: q.options.Collation, Hint: q.options.Hint}
	var n int64
	err = q.do(ctx, "delete", coll, filter, func(ctx context.Context) error {
		var err error
		if opts.Multi {
			n, err = coll.DeleteMany(ctx, filter, dopts)
		} else {
			n, err = coll.DeleteOne(ctx, filter, dopts)
		}
		return err
	})
	return n, err
}

// FindAndDelete implements [domain.Query].
func (q *Query[T]) FindAndDelete(ctx context.Context) (T, error) {
	var zero T
	filter, err := q.Document()
	if err != nil {
		return zero, err
	}
	fopts, err := q.findOptions()
	if err != nil {
		return zero, err
	}
	coll := q.collection()
	opts := domain.FindOneAndDeleteOptions{Sort: fopts.Sort, Projection: fopts.Projection, MaxTime: fopts.MaxTime}
	var raw bson.Raw
	err = q.do(ctx, "findAndDelete", coll, filter, func(ctx context.Context) error {
		var err error
		raw, err = coll.FindOneAndDelete(ctx, filter, opts)
		return err
	})
	if err != nil {
		return zero, err
	}
	return Decode[T](ctx, q.backend.Codec(), raw)
}

// Explain implements [domain.Query]. It runs the explain command for the
// find this query would issue.
func (q *Query[T]) Explain(ctx context.Context) (bson.M, error) {
	filter, err := q.Document()
	if err != nil {
		return nil, err
	}
	opts, err := q.findOptions()
	if err != nil {
		return nil, err
	}
	coll := q.collection()
	find := bson.D{{Key: "find", Value: coll.Name()}, {Key: "filter", Value: filter}}
	if opts.Sort != nil {
		find = append(find, bson.E{Key: "sort", Value: opts.Sort})
	}
	if opts.Projection != nil {
		find = append(find, bson.E{Key: "projection", Value: opts.Projection})
	}
	if opts.Skip > 0 {
		find = append(find, bson.E{Key: "skip", Value: opts.Skip})
	}
	if opts.Limit > 0 {
		find = append(find, bson.E{Key: "limit", Value: opts.Limit})
	}
	cmd := bson.D{{Key: "explain", Value: find}, {Key: "verbosity", Value: "queryPlanner"}}

	var raw bson.Raw
	err = q.do(ctx, "explain", coll, filter, func(ctx context.Context) error {
		var err error
		raw, err = q.backend.Database().RunCommand(ctx, cmd)
		return err
	})
	if err != nil {
		return nil, err
	}
	var out bson.M
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding explain output: %w", err)
	}
	return out, nil
}

// Update implements [domain.Query].
func (q *Query[T]) Update(operators ...domain.UpdateOperator) domain.Update {
	return &Update[T]{query: q, operators: operators}
}

// Modify implements [domain.Query].
func (q *Query[T]) Modify(operators ...domain.UpdateOperator) domain.Modify[T] {
	return &Modify[T]{query: q, operators: operators}
}
