package filters

import (
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// LogicalFilter composes child filters.
type LogicalFilter struct {
	op       string
	children []domain.Filter
	not      bool
}

// And matches documents matching every filter. Children are merged into one
// document unless two of them share a top level key, in which case they are
// rendered as an $and list.
func And(filters ...domain.Filter) LogicalFilter {
	return LogicalFilter{op: "$and", children: filters}
}

// Or matches documents matching any filter. It always renders as an $or
// list.
func Or(filters ...domain.Filter) LogicalFilter {
	return LogicalFilter{op: "$or", children: filters}
}

// Nor matches documents matching none of the filters.
func Nor(filters ...domain.Filter) LogicalFilter {
	return LogicalFilter{op: "$nor", children: filters}
}

// Operator returns "$and", "$or" or "$nor".
func (f LogicalFilter) Operator() string { return f.op }

// Filters returns the child filters.
func (f LogicalFilter) Filters() []domain.Filter { return f.children }

// Not implements [domain.Filter]. A negated logical filter renders as
// {$nor: [filter]}.
func (f LogicalFilter) Not() domain.Filter {
	f.not = !f.not
	return f
}

// Err implements [domain.Filter].
func (f LogicalFilter) Err() error { return firstErr(f.children) }

// Render implements [domain.Filter].
func (f LogicalFilter) Render(ctx *domain.RenderContext) (bson.D, error) {
	if err := f.Err(); err != nil {
		return nil, err
	}
	docs := make([]bson.D, 0, len(f.children))
	for _, child := range f.children {
		doc, err := child.Render(ctx)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	var out bson.D
	if f.op == "$and" && !collide(docs) {
		out = bson.D{}
		for _, doc := range docs {
			out = append(out, doc...)
		}
	} else {
		list := make(bson.A, len(docs))
		for n, doc := range docs {
			list[n] = doc
		}
		out = bson.D{{Key: f.op, Value: list}}
	}
	if f.not {
		out = bson.D{{Key: "$nor", Value: bson.A{out}}}
	}
	return out, nil
}

func collide(docs []bson.D) bool {
	seen := make(map[string]struct{})
	for _, doc := range docs {
		for _, e := range doc {
			if _, ok := seen[e.Key]; ok {
				return true
			}
			seen[e.Key] = struct{}{}
		}
	}
	return false
}

// Document renders filters as one document joined with [And].
func Document(ctx *domain.RenderContext, filters ...domain.Filter) (bson.D, error) {
	return And(filters...).Render(ctx)
}

// TopLevelFilter is a filter that is not bound to a field, such as $expr or
// $text.
type TopLevelFilter struct {
	op     string
	value  any
	render func(*domain.RenderContext) (any, error)
	// negatable is false for operators that cannot appear inside $nor.
	negatable bool
	not       bool
}

// Not implements [domain.Filter].
func (f TopLevelFilter) Not() domain.Filter {
	f.not = !f.not
	return f
}

// Err implements [domain.Filter].
func (f TopLevelFilter) Err() error {
	if f.not && !f.negatable {
		return &domain.UnsupportedOperationError{Operation: f.op, Reason: "cannot be negated"}
	}
	return nil
}

// Render implements [domain.Filter].
func (f TopLevelFilter) Render(ctx *domain.RenderContext) (bson.D, error) {
	if err := f.Err(); err != nil {
		return nil, err
	}
	value := f.value
	if f.render != nil {
		var err error
		if value, err = f.render(ctx); err != nil {
			return nil, err
		}
	}
	out := bson.D{{Key: f.op, Value: value}}
	if f.not {
		out = bson.D{{Key: "$nor", Value: bson.A{out}}}
	}
	return out, nil
}

// Expr matches documents for which the aggregation expression is true.
func Expr(e domain.Expression) TopLevelFilter {
	return TopLevelFilter{op: "$expr", negatable: true, render: e.Render}
}

// Where matches documents for which the javascript function returns true.
func Where(js string) TopLevelFilter {
	return TopLevelFilter{op: "$where", value: js}
}

// JSONSchema matches documents valid against the schema.
func JSONSchema(schema any) TopLevelFilter {
	return TopLevelFilter{op: "$jsonSchema", value: schema, negatable: true}
}

// Comment attaches a comment to the query.
func Comment(c string) TopLevelFilter {
	return TopLevelFilter{op: "$comment", value: c}
}

// SampleRate matches a random sample of documents at the given rate.
func SampleRate(r float64) TopLevelFilter {
	return TopLevelFilter{op: "$sampleRate", value: r}
}

// RawFilter is a pre-built filter document, rendered unchanged.
type RawFilter struct {
	doc bson.D
	not bool
}

// Raw returns a filter rendering doc as given.
func Raw(doc bson.D) RawFilter {
	return RawFilter{doc: doc}
}

// Not implements [domain.Filter].
func (f RawFilter) Not() domain.Filter {
	f.not = !f.not
	return f
}

// Err implements [domain.Filter].
func (f RawFilter) Err() error { return nil }

// Render implements [domain.Filter].
func (f RawFilter) Render(*domain.RenderContext) (bson.D, error) {
	if f.not {
		return bson.D{{Key: "$nor", Value: bson.A{f.doc}}}, nil
	}
	return append(bson.D{}, f.doc...), nil
}
