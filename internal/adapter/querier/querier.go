// Package querier contains the default [domain.Querier] implementation.
package querier

import (
	"fmt"
	"slices"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/fieldnavigator"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/matcher"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/projector"
)

// Option configures a [Querier].
type Option func(*Querier)

// WithMatcher sets the matcher used to filter documents.
func WithMatcher(m domain.Matcher) Option {
	return func(q *Querier) {
		q.mtchr = m
	}
}

// WithComparer sets the comparer used to sort documents.
func WithComparer(c domain.Comparer) Option {
	return func(q *Querier) {
		q.cmpr = c
	}
}

// WithFieldNavigator sets the field navigator used to read sort keys.
func WithFieldNavigator(fn domain.FieldNavigator) Option {
	return func(q *Querier) {
		q.fn = fn
	}
}

// WithProjector sets the projector applied to the results.
func WithProjector(p domain.Projector) Option {
	return func(q *Querier) {
		q.proj = p
	}
}

// Querier implements [domain.Querier].
type Querier struct {
	mtchr domain.Matcher
	cmpr  domain.Comparer
	fn    domain.FieldNavigator
	proj  domain.Projector
}

type sortKey struct {
	addr []string
	dir  int
}

// NewQuerier returns a new implementation of [domain.Querier].
func NewQuerier(opts ...Option) domain.Querier {
	q := Querier{}
	for _, opt := range opts {
		opt(&q)
	}
	if q.cmpr == nil {
		q.cmpr = comparer.NewComparer()
	}
	if q.fn == nil {
		q.fn = fieldnavigator.NewFieldNavigator()
	}
	if q.proj == nil {
		q.proj = projector.NewProjector(
			domain.WithProjectorFieldNavigator(q.fn),
		)
	}
	if q.mtchr == nil {
		q.mtchr = matcher.NewMatcher(
			domain.WithMatcherComparer(q.cmpr),
			domain.WithMatcherFieldNavigator(q.fn),
		)
	}
	return &q
}

// Query implements [domain.Querier]. Documents are filtered, sorted, skipped,
// limited and projected, in that order.
func (q *Querier) Query(docs []domain.Document, opts ...domain.QueryOption) ([]domain.Document, error) {
	var options domain.QueryOptions
	for _, opt := range opts {
		opt(&options)
	}

	limit := options.Limit
	if limit < 0 {
		limit = -limit
	}
	unsorted := options.Sort == nil || options.Sort.Len() == 0

	var skipped int64
	res := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		if options.Query != nil {
			matches, err := q.mtchr.Match(doc, options.Query)
			if err != nil {
				return nil, fmt.Errorf("matching document: %w", err)
			}
			if !matches {
				continue
			}
		}
		if unsorted {
			if skipped < options.Skip {
				skipped++
				continue
			}
			if limit > 0 && int64(len(res)) == limit {
				break
			}
		}
		res = append(res, doc)
	}

	if !unsorted {
		sorted, err := q.Sort(res, options.Sort)
		if err != nil {
			return nil, fmt.Errorf("sorting: %w", err)
		}
		res = q.skipAndLimit(sorted, options.Skip, limit)
	}

	res, err := q.proj.Project(res, options.Projection)
	if err != nil {
		return nil, fmt.Errorf("projecting: %w", err)
	}
	return res, nil
}

// Sort implements [domain.Querier]. An array sorts by its lowest element
// ascending and by its highest element descending.
func (q *Querier) Sort(docs []domain.Document, spec domain.Document) ([]domain.Document, error) {
	keys, err := q.sortKeys(spec)
	if err != nil {
		return nil, err
	}
	res := slices.Clone(docs)
	slices.SortStableFunc(res, func(a, b domain.Document) int {
		for _, k := range keys {
			comp := q.cmpr.Compare(q.sortValue(a, k), q.sortValue(b, k))
			if comp != 0 {
				return comp * k.dir
			}
		}
		return 0
	})
	return res, nil
}

func (q *Querier) sortKeys(spec domain.Document) ([]sortKey, error) {
	keys := make([]sortKey, 0, spec.Len())
	for field, value := range spec.Iter() {
		var dir int
		switch v := value.(type) {
		case int32:
			dir = int(v)
		case int64:
			dir = int(v)
		case int:
			dir = v
		case float64:
			dir = int(v)
		case domain.Document:
			return nil, &domain.UnsupportedOperationError{
				Operation: "$meta",
				Reason:    "text scores are not computed in memory",
			}
		}
		if dir != 1 && dir != -1 {
			return nil, fmt.Errorf("invalid sort order %v for field %s", value, field)
		}
		keys = append(keys, sortKey{addr: q.fn.GetAddress(field), dir: dir})
	}
	return keys, nil
}

func (q *Querier) sortValue(doc domain.Document, k sortKey) any {
	fields, _ := q.fn.GetField(doc, k.addr...)

	var values []any
	for _, f := range fields {
		v, defined := f.Get()
		if !defined {
			values = append(values, nil)
			continue
		}
		if arr, ok := v.([]any); ok {
			values = append(values, arr...)
			continue
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return nil
	}

	best := values[0]
	for _, v := range values[1:] {
		if q.cmpr.Compare(v, best)*k.dir < 0 {
			best = v
		}
	}
	return best
}

func (q *Querier) skipAndLimit(docs []domain.Document, skip, limit int64) []domain.Document {
	length := int64(len(docs))

	skip = max(skip, 0)      // skip cannot be negative
	skip = min(skip, length) // cannot skip more than length

	end := length
	if limit > 0 {
		end = min(skip+limit, length)
	}
	return docs[skip:end]
}
