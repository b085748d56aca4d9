// Package updates builds update operators. Operators are validated when they
// are built; a failed validation is reported by the update that uses them,
// before anything is sent to the database.
package updates

import (
	"reflect"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
)

// Set sets field to value.
func Set(field string, value any) domain.UpdateOperator {
	return op(domain.OpSet, field, value)
}

// SetEntity sets every stored field of entity, except _id, as one unit. When
// stripVersion is true the version property is left out too.
func SetEntity(entity any, stripVersion bool) domain.UpdateOperator {
	u := domain.UpdateOperator{Operator: domain.OpSet, Entity: entity, StripVersion: stripVersion}
	if entity == nil {
		u.Err = &domain.ValidationError{Operation: domain.OpSet, Reason: "entity is nil"}
	}
	return u
}

// SetOnInsert sets field to value only when an upsert inserts a document.
func SetOnInsert(field string, value any) domain.UpdateOperator {
	return op(domain.OpSetOnInsert, field, value)
}

// Unset removes field.
func Unset(field string) domain.UpdateOperator {
	return op(domain.OpUnset, field, "")
}

// Inc increments field by value, which must be an int, int32, int64, float32
// or float64.
func Inc(field string, value any) domain.UpdateOperator {
	u := op(domain.OpInc, field, value)
	if !numeric(value) {
		u.Err = &domain.NumericTypeError{Operation: domain.OpInc, Value: value}
	}
	return u
}

// Dec decrements field by value. It is rendered as a negative $inc.
func Dec(field string, value any) domain.UpdateOperator {
	if !numeric(value) {
		u := op(domain.OpInc, field, value)
		u.Err = &domain.NumericTypeError{Operation: "$dec", Value: value}
		return u
	}
	return Inc(field, negate(value))
}

// Mul multiplies field by value.
func Mul(field string, value any) domain.UpdateOperator {
	u := op(domain.OpMul, field, value)
	if !numeric(value) {
		u.Err = &domain.NumericTypeError{Operation: domain.OpMul, Value: value}
	}
	return u
}

// Min sets field to value when value is lower than the stored one.
func Min(field string, value any) domain.UpdateOperator {
	return op(domain.OpMin, field, value)
}

// Max sets field to value when value is greater than the stored one.
func Max(field string, value any) domain.UpdateOperator {
	return op(domain.OpMax, field, value)
}

// Rename renames field to newName. Both names are resolved.
func Rename(field, newName string) domain.UpdateOperator {
	return op(domain.OpRename, field, newName)
}

// CurrentDate sets field to the current date.
func CurrentDate(field string) domain.UpdateOperator {
	return op(domain.OpCurrentDate, field, true)
}

// CurrentTimestamp sets field to the current timestamp.
func CurrentTimestamp(field string) domain.UpdateOperator {
	return op(domain.OpCurrentDate, field, map[string]any{"$type": "timestamp"})
}

// PushOption configures $push modifiers.
type PushOption func(*domain.UpdateOperator)

// WithPosition inserts pushed values at position.
func WithPosition(position int) PushOption {
	return func(u *domain.UpdateOperator) {
		u.Position = &position
	}
}

// WithSlice keeps only n elements of the array after pushing.
func WithSlice(n int) PushOption {
	return func(u *domain.UpdateOperator) {
		u.Slice = &n
	}
}

// WithSort sorts the array after pushing. sort is 1, -1 or a document of
// element fields.
func WithSort(sort any) PushOption {
	return func(u *domain.UpdateOperator) {
		u.Sort = sort
	}
}

// Push appends value to the array field. A slice value is appended element
// by element through $each.
func Push(field string, value any, options ...PushOption) domain.UpdateOperator {
	u := arrayOp(domain.OpPush, field, value)
	for _, opt := range options {
		opt(&u)
	}
	if (u.Position != nil || u.Slice != nil || u.Sort != nil) && !u.Each && u.Err == nil {
		u.Value = []any{u.Value}
		u.Each = true
	}
	return u
}

// AddToSet appends value to the array field unless already present. A slice
// value is added element by element through $each.
func AddToSet(field string, value any) domain.UpdateOperator {
	return arrayOp(domain.OpAddToSet, field, value)
}

// PopFirst removes the first element of the array field.
func PopFirst(field string) domain.UpdateOperator {
	return op(domain.OpPop, field, -1)
}

// PopLast removes the last element of the array field.
func PopLast(field string) domain.UpdateOperator {
	return op(domain.OpPop, field, 1)
}

// Pull removes from the array field the elements equal to value.
func Pull(field string, value any) domain.UpdateOperator {
	return op(domain.OpPull, field, value)
}

// PullFilter removes from the array field the elements matching filter. The
// filter paths are relative to the elements.
func PullFilter(field string, filter domain.Filter) domain.UpdateOperator {
	u := op(domain.OpPull, field, filter)
	if filter == nil {
		u.Err = &domain.ValidationError{Operation: domain.OpPull, Reason: "filter is nil"}
	} else if err := filter.Err(); err != nil {
		u.Err = err
	}
	return u
}

// PullAll removes from the array field every element equal to one of values.
func PullAll(field string, values ...any) domain.UpdateOperator {
	u := op(domain.OpPullAll, field, values)
	if len(values) == 0 {
		u.Err = &domain.ValidationError{Operation: domain.OpPullAll, Reason: "values cannot be empty"}
	}
	return u
}

func op(operator, field string, value any) domain.UpdateOperator {
	u := domain.UpdateOperator{Operator: operator, Field: field, Value: value}
	if field == "" {
		u.Err = &domain.ValidationError{Operation: operator, Reason: "field cannot be empty"}
	}
	return u
}

func arrayOp(operator, field string, value any) domain.UpdateOperator {
	u := op(operator, field, value)
	if value == nil {
		u.Err = &domain.ValidationError{Operation: operator, Reason: "value cannot be nil"}
		return u
	}
	rv := reflect.ValueOf(value)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
		if rv.Len() == 0 {
			u.Err = &domain.ValidationError{Operation: operator, Reason: "values cannot be empty"}
			return u
		}
		list := make([]any, rv.Len())
		for i := range list {
			list[i] = rv.Index(i).Interface()
		}
		u.Value = list
		u.Each = true
	}
	return u
}

func numeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

func negate(v any) any {
	switch n := v.(type) {
	case int:
		return -n
	case int32:
		return -n
	case int64:
		return -n
	case float32:
		return -n
	case float64:
		return -n
	}
	return v
}
