// Package data contains the [domain.Document] used by the in-memory engine
// and the conversions between it and the bson package.
package data

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// M implements [domain.Document] keeping insertion order. Setting an existing
// key keeps its position.
type M struct {
	keys   []string
	values map[string]any
}

// NewDocument returns a new [domain.Document] holding a copy of in, which may
// be nil, a [domain.Document] or any value the bson package marshals into a
// document.
func NewDocument(in any) (domain.Document, error) {
	switch t := in.(type) {
	case nil:
		return &M{values: map[string]any{}}, nil
	case domain.Document:
		return Clone(t).(domain.Document), nil
	case bson.Raw:
		return FromRaw(t)
	}
	b, err := bson.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("expected a document, got %T: %w", in, err)
	}
	return FromRaw(b)
}

// FromRaw decodes a raw document.
func FromRaw(raw bson.Raw) (domain.Document, error) {
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return FromD(d), nil
}

// FromD converts d and every document and array inside it.
func FromD(d bson.D) *M {
	m := &M{keys: make([]string, 0, len(d)), values: make(map[string]any, len(d))}
	for _, e := range d {
		m.Set(e.Key, fromBSON(e.Value))
	}
	return m
}

func fromBSON(v any) any {
	switch t := v.(type) {
	case bson.D:
		return FromD(t)
	case bson.A:
		res := make([]any, len(t))
		for n, item := range t {
			res[n] = fromBSON(item)
		}
		return res
	case []any:
		res := make([]any, len(t))
		for n, item := range t {
			res[n] = fromBSON(item)
		}
		return res
	default:
		return v
	}
}

// Value converts any value the bson package can marshal into the types it
// decodes, such as int32 for a small int and bson.DateTime for time.Time.
func Value(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case domain.Document:
		return Clone(t), nil
	}
	b, err := bson.Marshal(bson.D{{Key: "v", Value: v}})
	if err != nil {
		return nil, err
	}
	var d bson.D
	if err := bson.Unmarshal(b, &d); err != nil {
		return nil, err
	}
	if len(d) != 1 {
		return nil, errors.New("value did not round trip")
	}
	return fromBSON(d[0].Value), nil
}

// ToBSON converts documents and arrays inside v back into bson.D and bson.A.
func ToBSON(v any) any {
	switch t := v.(type) {
	case domain.Document:
		return t.D()
	case []any:
		res := make(bson.A, len(t))
		for n, item := range t {
			res[n] = ToBSON(item)
		}
		return res
	default:
		return v
	}
}

// Clone deep copies documents and arrays. Other values are returned as is.
func Clone(v any) any {
	switch t := v.(type) {
	case domain.Document:
		m := &M{keys: make([]string, 0, t.Len()), values: make(map[string]any, t.Len())}
		for k, item := range t.Iter() {
			m.Set(k, Clone(item))
		}
		return m
	case []any:
		res := make([]any, len(t))
		for n, item := range t {
			res[n] = Clone(item)
		}
		return res
	default:
		return v
	}
}

// Raw encodes doc.
func Raw(doc domain.Document) (bson.Raw, error) {
	return bson.Marshal(doc.D())
}

// ID implements [domain.Document].
func (m *M) ID() any { return m.values["_id"] }

// Get implements [domain.Document].
func (m *M) Get(key string) any { return m.values[key] }

// Has implements [domain.Document].
func (m *M) Has(key string) bool {
	_, ok := m.values[key]
	return ok
}

// Set implements [domain.Document].
func (m *M) Set(key string, value any) {
	if m.values == nil {
		m.values = map[string]any{}
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Unset implements [domain.Document].
func (m *M) Unset(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	m.keys = slices.DeleteFunc(m.keys, func(k string) bool { return k == key })
}

// Keys implements [domain.Document].
func (m *M) Keys() iter.Seq[string] {
	return slices.Values(slices.Clone(m.keys))
}

// Iter implements [domain.Document].
func (m *M) Iter() iter.Seq2[string, any] {
	keys := slices.Clone(m.keys)
	return func(yield func(string, any) bool) {
		for _, k := range keys {
			v, ok := m.values[k]
			if !ok {
				continue
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

// Len implements [domain.Document].
func (m *M) Len() int { return len(m.keys) }

// D implements [domain.Document].
func (m *M) D() bson.D {
	d := make(bson.D, 0, len(m.keys))
	for _, k := range m.keys {
		d = append(d, bson.E{Key: k, Value: ToBSON(m.values[k])})
	}
	return d
}

// MarshalBSON implements [bson.Marshaler].
func (m *M) MarshalBSON() ([]byte, error) {
	return bson.Marshal(m.D())
}

// UnmarshalBSON implements [bson.Unmarshaler].
func (m *M) UnmarshalBSON(b []byte) error {
	var d bson.D
	if err := bson.Unmarshal(b, &d); err != nil {
		return err
	}
	*m = *FromD(d)
	return nil
}

var _ domain.Document = (*M)(nil)
