// Package fieldnavigator addresses values inside documents by dotted path.
package fieldnavigator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/data"
)

// FieldNavigator implements [domain.FieldNavigator].
type FieldNavigator struct{}

// NewFieldNavigator returns a new instance of [domain.FieldNavigator].
func NewFieldNavigator() domain.FieldNavigator {
	return &FieldNavigator{}
}

// GetAddress implements [domain.FieldNavigator].
func (fn *FieldNavigator) GetAddress(field string) []string {
	return strings.Split(field, ".")
}

// GetField implements [domain.FieldNavigator]. A missing value is returned as
// an undefined getter, so the result is never empty.
func (fn *FieldNavigator) GetField(obj any, fieldParts ...string) ([]domain.GetSetter, bool) {
	if obj == nil || len(fieldParts) == 0 {
		return []domain.GetSetter{NewGetSetterEmpty()}, false
	}
	var res []domain.GetSetter
	expanded := fn.get(obj, fieldParts, false, &res)
	if len(res) == 0 {
		res = append(res, NewGetSetterEmpty())
	}
	return res, expanded
}

// get walks parts. An array reached through a non index segment is expanded
// once: arrays nested in it are not expanded again.
func (fn *FieldNavigator) get(v any, parts []string, inArray bool, res *[]domain.GetSetter) bool {
	part, rest := parts[0], parts[1:]

	switch t := v.(type) {
	case domain.Document:
		if !t.Has(part) {
			*res = append(*res, NewGetSetterEmpty())
			return false
		}
		if len(rest) == 0 {
			*res = append(*res, NewGetSetterWithDoc(t, part))
			return false
		}
		return fn.get(t.Get(part), rest, false, res)

	case []any:
		if i, err := strconv.Atoi(part); err == nil {
			if i < 0 || i >= len(t) {
				*res = append(*res, NewGetSetterEmpty())
				return false
			}
			if len(rest) == 0 {
				*res = append(*res, NewGetSetterWithArrayIndex(t, i))
				return false
			}
			return fn.get(t[i], rest, false, res)
		}
		if inArray {
			*res = append(*res, NewGetSetterEmpty())
			return true
		}
		for _, item := range t {
			fn.get(item, parts, true, res)
		}
		return true

	default:
		*res = append(*res, NewGetSetterEmpty())
		return false
	}
}

// EnsureField implements [domain.FieldNavigator].
func (fn *FieldNavigator) EnsureField(obj any, filter domain.ArrayFilter, fieldParts ...string) ([]domain.GetSetter, error) {
	var res []domain.GetSetter
	err := fn.walk(obj, func(any) {}, fieldParts, filter, true, &res)
	return res, err
}

// Locate implements [domain.FieldNavigator].
func (fn *FieldNavigator) Locate(obj any, filter domain.ArrayFilter, fieldParts ...string) ([]domain.GetSetter, error) {
	var res []domain.GetSetter
	err := fn.walk(obj, func(any) {}, fieldParts, filter, false, &res)
	return res, err
}

func (fn *FieldNavigator) walk(v any, set func(any), parts []string, filter domain.ArrayFilter, create bool, res *[]domain.GetSetter) error {
	if len(parts) == 0 {
		return nil
	}
	part, rest := parts[0], parts[1:]

	switch t := v.(type) {
	case domain.Document:
		gs := NewGetSetterWithDoc(t, part)
		if len(rest) == 0 {
			*res = append(*res, gs)
			return nil
		}
		if !t.Has(part) {
			if !create {
				return nil
			}
			t.Set(part, &data.M{})
		}
		return fn.walk(t.Get(part), gs.Set, rest, filter, create, res)

	case []any:
		indexes, err := fn.indexes(t, part, filter, create)
		if err != nil {
			return err
		}
		for _, i := range indexes {
			if i >= len(t) {
				if !create {
					continue
				}
				grown := make([]any, i+1)
				copy(grown, t)
				t = grown
				set(t)
			}
			gs := NewGetSetterWithArrayIndex(t, i)
			if len(rest) == 0 {
				*res = append(*res, gs)
				continue
			}
			if t[i] == nil && create {
				t[i] = &data.M{}
			}
			if err := fn.walk(t[i], gs.Set, rest, filter, create, res); err != nil {
				return err
			}
		}
		return nil

	default:
		if !create {
			return nil
		}
		return fmt.Errorf("cannot create field %q in element %v", part, v)
	}
}

// indexes returns the array positions addressed by part.
func (fn *FieldNavigator) indexes(arr []any, part string, filter domain.ArrayFilter, create bool) ([]int, error) {
	switch {
	case part == "$":
		return nil, &domain.UnsupportedOperationError{
			Operation: "$",
			Reason:    "positional updates need the matched element of the query",
		}
	case part == "$[]":
		res := make([]int, len(arr))
		for n := range arr {
			res[n] = n
		}
		return res, nil
	case strings.HasPrefix(part, "$[") && strings.HasSuffix(part, "]"):
		if filter == nil {
			return nil, fmt.Errorf("no array filter found for identifier %q", part)
		}
		id := part[2 : len(part)-1]
		var res []int
		for n, item := range arr {
			ok, err := filter(id, item)
			if err != nil {
				return nil, err
			}
			if ok {
				res = append(res, n)
			}
		}
		return res, nil
	}

	i, err := strconv.Atoi(part)
	if err != nil || i < 0 {
		if !create {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot create field %q in an array", part)
	}
	return []int{i}, nil
}
