// Package projections builds the projection documents of queries.
package projections

import (
	"slices"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type kind uint8

const (
	include kind = iota
	exclude
	other
)

type entry struct {
	field string
	kind  kind
	value any
	// filters is set for $elemMatch projections.
	filters []domain.Filter
}

// Projection selects the fields returned by a query. A projection either
// includes or excludes fields; _id can always be excluded.
type Projection struct {
	entries []entry
	err     error
}

// Include returns a projection keeping only fields.
func Include(fields ...string) Projection {
	return Projection{}.Include(fields...)
}

// Exclude returns a projection dropping fields.
func Exclude(fields ...string) Projection {
	return Projection{}.Exclude(fields...)
}

// Include returns a copy of p also keeping fields.
func (p Projection) Include(fields ...string) Projection {
	for _, f := range fields {
		p = p.with(entry{field: f, kind: include, value: 1})
	}
	return p
}

// Exclude returns a copy of p also dropping fields.
func (p Projection) Exclude(fields ...string) Projection {
	for _, f := range fields {
		p = p.with(entry{field: f, kind: exclude, value: 0})
	}
	return p
}

// SuppressID returns a copy of p dropping _id.
func (p Projection) SuppressID() Projection {
	return p.with(entry{field: "_id", kind: exclude, value: 0})
}

// Slice returns a copy of p keeping the first n elements of the array field,
// or the last ones when n is negative.
func (p Projection) Slice(field string, n int) Projection {
	return p.with(entry{field: field, kind: other, value: bson.D{{Key: "$slice", Value: n}}})
}

// SliceFrom returns a copy of p keeping limit elements of the array field
// starting at skip.
func (p Projection) SliceFrom(field string, skip, limit int) Projection {
	return p.with(entry{field: field, kind: other, value: bson.D{{Key: "$slice", Value: bson.A{skip, limit}}}})
}

// ElemMatch returns a copy of p keeping the first element of the array field
// matching filters.
func (p Projection) ElemMatch(field string, filters ...domain.Filter) Projection {
	return p.with(entry{field: field, kind: other, filters: filters})
}

// Meta returns a copy of p storing the metadata keyword, such as
// "textScore", in field.
func (p Projection) Meta(field, keyword string) Projection {
	return p.with(entry{field: field, kind: other, value: bson.D{{Key: "$meta", Value: keyword}}})
}

func (p Projection) with(e entry) Projection {
	p.entries = append(slices.Clip(p.entries), e)
	if p.err == nil && e.kind != other && e.field != "_id" {
		for _, prev := range p.entries[:len(p.entries)-1] {
			if prev.kind != other && prev.field != "_id" && prev.kind != e.kind {
				p.err = &domain.MixedProjectionError{Field: e.field}
				break
			}
		}
	}
	return p
}

// Err implements [domain.Projection].
func (p Projection) Err() error { return p.err }

// Render implements [domain.Projection].
func (p Projection) Render(ctx *domain.RenderContext) (bson.D, error) {
	if p.err != nil {
		return nil, p.err
	}
	doc := make(bson.D, 0, len(p.entries))
	for _, e := range p.entries {
		target, err := ctx.Resolve(e.field)
		if err != nil {
			return nil, err
		}
		value := e.value
		if e.filters != nil {
			model, err := ctx.ElementModel(target)
			if err != nil {
				return nil, err
			}
			inner := ctx.WithModel(model)
			if model == nil {
				inner.Validate = false
			}
			cond := bson.D{}
			for _, f := range e.filters {
				if f == nil {
					return nil, &domain.ValidationError{Operation: "projection", Reason: "nil filter"}
				}
				d, err := f.Render(inner)
				if err != nil {
					return nil, err
				}
				cond = append(cond, d...)
			}
			value = bson.D{{Key: "$elemMatch", Value: cond}}
		}
		doc = append(doc, bson.E{Key: target.Path, Value: value})
	}
	return doc, nil
}
