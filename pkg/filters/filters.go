// Package filters builds query filters.
//
// Filters are immutable values. Paths are kept as given until the filter is
// rendered, when they are translated against the model of the queried entity
// and literals are encoded through the codec of their property.
package filters

import (
	"reflect"
	"strings"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type valueMode uint8

const (
	// encode the operand through the codec of the property.
	encodeSingle valueMode = iota
	// encode every element of a list operand.
	encodeList
	// never encode the operand.
	encodeNone
)

// FieldFilter applies one operator to one field.
type FieldFilter struct {
	op    string
	field string
	value any
	mode  valueMode
	not   bool
	err   error
}

func newField(op, field string, value any, mode valueMode) FieldFilter {
	return FieldFilter{op: op, field: field, value: value, mode: mode}
}

// Operator returns the filter operator, such as "$gt".
func (f FieldFilter) Operator() string { return f.op }

// Field returns the unresolved field path.
func (f FieldFilter) Field() string { return f.field }

// Value returns the unencoded operand.
func (f FieldFilter) Value() any { return f.value }

// Negated reports whether the filter is wrapped in $not.
func (f FieldFilter) Negated() bool { return f.not }

// Not implements [domain.Filter].
func (f FieldFilter) Not() domain.Filter {
	f.not = !f.not
	return f
}

// Err implements [domain.Filter].
func (f FieldFilter) Err() error { return f.err }

// Render implements [domain.Filter].
func (f FieldFilter) Render(ctx *domain.RenderContext) (bson.D, error) {
	if f.err != nil {
		return nil, f.err
	}
	target, err := ctx.Resolve(f.field)
	if err != nil {
		return nil, err
	}
	value, err := encodeOperand(ctx, target, f.value, f.mode)
	if err != nil {
		return nil, err
	}
	var cond any
	switch {
	case f.op == "" && !f.not:
		cond = value
	case f.op == "":
		cond = bson.D{{Key: "$not", Value: value}}
	case f.not:
		cond = bson.D{{Key: "$not", Value: bson.D{{Key: f.op, Value: value}}}}
	default:
		cond = bson.D{{Key: f.op, Value: value}}
	}
	return bson.D{{Key: target.Path, Value: cond}}, nil
}

func encodeOperand(ctx *domain.RenderContext, target domain.PathTarget, value any, mode valueMode) (any, error) {
	switch mode {
	case encodeNone:
		return value, nil
	case encodeList:
		list := toList(value)
		out := make(bson.A, 0, len(list))
		for _, v := range list {
			enc, err := ctx.Encode(target, v)
			if err != nil {
				return nil, err
			}
			out = append(out, enc)
		}
		return out, nil
	default:
		return ctx.Encode(target, value)
	}
}

func toList(value any) []any {
	switch t := value.(type) {
	case nil:
		return nil
	case []any:
		return t
	case bson.A:
		return t
	}
	rv := reflect.ValueOf(value)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{value}
}

// Eq matches documents where field equals value. Negated, it renders as
// {field: {$not: value}}.
func Eq(field string, value any) FieldFilter {
	return newField("", field, value, encodeSingle)
}

// EqOp matches documents where field equals value, using the explicit $eq
// operator.
func EqOp(field string, value any) FieldFilter {
	return newField("$eq", field, value, encodeSingle)
}

// Ne matches documents where field is not equal to value.
func Ne(field string, value any) FieldFilter {
	return newField("$ne", field, value, encodeSingle)
}

// Gt matches documents where field is greater than value.
func Gt(field string, value any) FieldFilter {
	return newField("$gt", field, value, encodeSingle)
}

// Gte matches documents where field is greater than or equal to value.
func Gte(field string, value any) FieldFilter {
	return newField("$gte", field, value, encodeSingle)
}

// Lt matches documents where field is less than value.
func Lt(field string, value any) FieldFilter {
	return newField("$lt", field, value, encodeSingle)
}

// Lte matches documents where field is less than or equal to value.
func Lte(field string, value any) FieldFilter {
	return newField("$lte", field, value, encodeSingle)
}

// In matches documents where field equals any of values.
func In(field string, values ...any) FieldFilter {
	return newField("$in", field, values, encodeList)
}

// Nin matches documents where field equals none of values.
func Nin(field string, values ...any) FieldFilter {
	return newField("$nin", field, values, encodeList)
}

// Exists matches documents that have field.
func Exists(field string) FieldFilter {
	return newField("$exists", field, true, encodeNone)
}

// Type matches documents where field has one of the given BSON types, by
// alias or number.
func Type(field string, types ...any) FieldFilter {
	var value any = types
	if len(types) == 1 {
		value = types[0]
	}
	return newField("$type", field, value, encodeNone)
}

// Size matches documents where the array field has n elements.
func Size(field string, n int) FieldFilter {
	return newField("$size", field, n, encodeNone)
}

// All matches documents where the array field contains every value.
func All(field string, values ...any) FieldFilter {
	return newField("$all", field, values, encodeList)
}

// Mod matches documents where field divided by divisor has the given
// remainder.
func Mod(field string, divisor, remainder int64) FieldFilter {
	return newField("$mod", field, bson.A{divisor, remainder}, encodeNone)
}

// BitsAllSet matches documents where every bit of mask is set in field.
func BitsAllSet(field string, mask any) FieldFilter {
	return newField("$bitsAllSet", field, mask, encodeNone)
}

// BitsAllClear matches documents where every bit of mask is clear in field.
func BitsAllClear(field string, mask any) FieldFilter {
	return newField("$bitsAllClear", field, mask, encodeNone)
}

// BitsAnySet matches documents where any bit of mask is set in field.
func BitsAnySet(field string, mask any) FieldFilter {
	return newField("$bitsAnySet", field, mask, encodeNone)
}

// BitsAnyClear matches documents where any bit of mask is clear in field.
func BitsAnyClear(field string, mask any) FieldFilter {
	return newField("$bitsAnyClear", field, mask, encodeNone)
}

// RegexFilter matches a field against a regular expression.
type RegexFilter struct {
	field   string
	pattern string
	options string
	not     bool
}

// Regex matches documents where field matches pattern.
func Regex(field, pattern string) RegexFilter {
	return RegexFilter{field: field, pattern: pattern}
}

// Options returns a copy of the filter with the given regex options, such as
// "im".
func (f RegexFilter) Options(o string) RegexFilter {
	f.options = o
	return f
}

// CaseInsensitive returns a copy of the filter adding the "i" option.
func (f RegexFilter) CaseInsensitive() RegexFilter {
	f.options += "i"
	return f
}

// Not implements [domain.Filter].
func (f RegexFilter) Not() domain.Filter {
	f.not = !f.not
	return f
}

// Err implements [domain.Filter].
func (f RegexFilter) Err() error { return nil }

// Render implements [domain.Filter]. $not does not accept $regex, so a negated
// filter renders the expression as a regular expression value.
func (f RegexFilter) Render(ctx *domain.RenderContext) (bson.D, error) {
	target, err := ctx.Resolve(f.field)
	if err != nil {
		return nil, err
	}
	if f.not {
		re := bson.Regex{Pattern: f.pattern, Options: f.options}
		return bson.D{{Key: target.Path, Value: bson.D{{Key: "$not", Value: re}}}}, nil
	}
	cond := bson.D{{Key: "$regex", Value: f.pattern}}
	if f.options != "" {
		cond = append(cond, bson.E{Key: "$options", Value: f.options})
	}
	return bson.D{{Key: target.Path, Value: cond}}, nil
}

// ElemMatchFilter matches array elements against nested filters.
type ElemMatchFilter struct {
	field   string
	filters []domain.Filter
	not     bool
}

// ElemMatch matches documents where at least one element of the array field
// matches every filter. Nested filter paths are relative to the element; an
// empty path applies the condition to the element itself.
func ElemMatch(field string, filters ...domain.Filter) ElemMatchFilter {
	return ElemMatchFilter{field: field, filters: filters}
}

// Not implements [domain.Filter].
func (f ElemMatchFilter) Not() domain.Filter {
	f.not = !f.not
	return f
}

// Err implements [domain.Filter].
func (f ElemMatchFilter) Err() error { return firstErr(f.filters) }

// Render implements [domain.Filter].
func (f ElemMatchFilter) Render(ctx *domain.RenderContext) (bson.D, error) {
	target, err := ctx.Resolve(f.field)
	if err != nil {
		return nil, err
	}
	model, err := ctx.ElementModel(target)
	if err != nil {
		return nil, err
	}
	inner := ctx.WithModel(model)
	if model == nil {
		inner.Validate = false
	}
	cond := bson.D{}
	for _, child := range f.filters {
		doc, err := child.Render(inner)
		if err != nil {
			return nil, err
		}
		for _, e := range doc {
			switch sub, ok := e.Value.(bson.D); {
			case e.Key != "":
				cond = append(cond, e)
			case ok && operators(sub):
				cond = append(cond, sub...)
			default:
				// plain equality on the element itself
				cond = append(cond, bson.E{Key: "$eq", Value: e.Value})
			}
		}
	}
	var value any = bson.D{{Key: "$elemMatch", Value: cond}}
	if f.not {
		value = bson.D{{Key: "$not", Value: value}}
	}
	return bson.D{{Key: target.Path, Value: value}}, nil
}

// operators reports whether every key of d is an operator.
func operators(d bson.D) bool {
	for _, e := range d {
		if !strings.HasPrefix(e.Key, "$") {
			return false
		}
	}
	return len(d) > 0
}

func firstErr(filters []domain.Filter) error {
	for _, f := range filters {
		if f == nil {
			return &domain.ValidationError{Operation: "filter", Reason: "nil filter"}
		}
		if err := f.Err(); err != nil {
			return err
		}
	}
	return nil
}
