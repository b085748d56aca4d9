package fieldnavigator

import "github.com/vinicius-lino-figueiredo/gedm/domain"

// GetSetter implements [domain.GetSetter].
type GetSetter struct {
	get   func() (any, bool)
	set   func(any)
	unset func()
}

// NewGetSetterWithArrayIndex returns a [domain.GetSetter] of one element of
// array. Unsetting an element sets it to null, keeping the array length.
func NewGetSetterWithArrayIndex(array []any, index int) domain.GetSetter {
	inRange := func() bool { return index >= 0 && index < len(array) }
	return &GetSetter{
		get: func() (any, bool) {
			if inRange() {
				return array[index], true
			}
			return nil, false
		},
		set: func(value any) {
			if inRange() {
				array[index] = value
			}
		},
		unset: func() {
			if inRange() {
				array[index] = nil
			}
		},
	}
}

// NewGetSetterWithDoc returns a [domain.GetSetter] of the key of doc.
func NewGetSetterWithDoc(doc domain.Document, key string) domain.GetSetter {
	return &GetSetter{
		get:   func() (any, bool) { return doc.Get(key), doc.Has(key) },
		set:   func(value any) { doc.Set(key, value) },
		unset: func() { doc.Unset(key) },
	}
}

// NewGetSetterWithValue returns a read only [domain.GetSetter] of v.
func NewGetSetterWithValue(v any) domain.GetSetter {
	return &GetSetter{get: func() (any, bool) { return v, true }}
}

// NewGetSetterEmpty returns a [domain.GetSetter] of an undefined value.
func NewGetSetterEmpty() domain.GetSetter {
	return &GetSetter{}
}

// Get implements [domain.GetSetter].
func (gs *GetSetter) Get() (any, bool) {
	if gs.get != nil {
		return gs.get()
	}
	return nil, false
}

// Set implements [domain.GetSetter].
func (gs *GetSetter) Set(value any) {
	if gs.set != nil {
		gs.set(value)
	}
}

// Unset implements [domain.GetSetter].
func (gs *GetSetter) Unset() {
	if gs.unset != nil {
		gs.unset()
	}
}
