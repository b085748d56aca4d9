package codec

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	timeType             = reflect.TypeFor[time.Time]()
	valueUnmarshalerType = reflect.TypeFor[bson.ValueUnmarshaler]()
	unmarshalerType      = reflect.TypeFor[bson.Unmarshaler]()
)

// Decode implements [domain.Codec].
func (c *Codec) Decode(doc bson.Raw, target any) error {
	rv := reflect.ValueOf(target)
	if target == nil || rv.Kind() != reflect.Pointer || rv.IsNil() {
		return domain.ErrTargetNil
	}
	elem := rv.Elem()
	if !domain.DocumentType(elem.Type()) {
		return bson.Unmarshal(doc, target)
	}
	var d bson.D
	if err := bson.Unmarshal(doc, &d); err != nil {
		return err
	}
	return c.decodeAny(elem, d)
}

// decodeAny sets the settable value rv from v, a value decoded by the bson
// package into bson.D, bson.A and primitives.
func (c *Codec) decodeAny(rv reflect.Value, v any) error {
	t := rv.Type()
	if v == nil {
		rv.SetZero()
		return nil
	}
	if vt := reflect.TypeOf(v); vt.AssignableTo(t) && t.Kind() != reflect.Interface {
		rv.Set(reflect.ValueOf(v))
		return nil
	}

	switch t.Kind() {
	case reflect.Interface:
		rv.Set(reflect.ValueOf(v))
		return nil
	case reflect.Pointer:
		if rv.IsNil() {
			rv.Set(reflect.New(t.Elem()))
		}
		return c.decodeAny(rv.Elem(), v)
	}

	if unmarshalable(t) {
		return roundTrip(rv, v)
	}

	switch t.Kind() {
	case reflect.Struct:
		d, ok := v.(bson.D)
		if !ok || !domain.DocumentType(t) {
			return c.decodeLeaf(rv, v)
		}
		model, err := c.mapper.Model(t)
		if err != nil {
			return err
		}
		return c.decodeStruct(model, rv, d)

	case reflect.Slice:
		a, ok := v.(bson.A)
		if !ok {
			return c.decodeLeaf(rv, v)
		}
		s := reflect.MakeSlice(t, len(a), len(a))
		for i, item := range a {
			if err := c.decodeAny(s.Index(i), item); err != nil {
				return err
			}
		}
		rv.Set(s)
		return nil

	case reflect.Array:
		a, ok := v.(bson.A)
		if !ok {
			return c.decodeLeaf(rv, v)
		}
		for i := range min(len(a), rv.Len()) {
			if err := c.decodeAny(rv.Index(i), a[i]); err != nil {
				return err
			}
		}
		return nil

	case reflect.Map:
		d, ok := v.(bson.D)
		if !ok {
			return c.decodeLeaf(rv, v)
		}
		m := reflect.MakeMapWithSize(t, len(d))
		for _, e := range d {
			key := reflect.New(t.Key()).Elem()
			if err := c.decodeLeaf(key, e.Key); err != nil {
				return err
			}
			val := reflect.New(t.Elem()).Elem()
			if err := c.decodeAny(val, e.Value); err != nil {
				return fmt.Errorf("decoding key %q: %w", e.Key, err)
			}
			m.SetMapIndex(key, val)
		}
		rv.Set(m)
		return nil
	}
	return c.decodeLeaf(rv, v)
}

func (c *Codec) decodeStruct(model *domain.EntityModel, rv reflect.Value, d bson.D) error {
	for _, e := range d {
		p := mapped(model, e.Key)
		if p == nil {
			continue
		}
		fv := p.Setter(rv)
		if p.Codec != nil {
			dec, err := p.Codec.Decode(e.Value, p.Type)
			if err != nil {
				return fmt.Errorf("decoding %s.%s: %w", model.Name, p.Name, err)
			}
			if dec == nil {
				fv.SetZero()
				continue
			}
			fv.Set(reflect.ValueOf(dec))
			continue
		}
		if err := c.decodeAny(fv, e.Value); err != nil {
			return fmt.Errorf("decoding %s.%s: %w", model.Name, p.Name, err)
		}
	}
	return nil
}

// decodeLeaf converts a single value, such as an int32 into an int or a
// string into a named string type.
func (c *Codec) decodeLeaf(rv reflect.Value, v any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(dateTimeHook, binaryHook, objectIDHook),
		TagName:    c.tagName,
		Result:     rv.Addr().Interface(),
	})
	if err != nil {
		return err
	}
	return dec.Decode(v)
}

func mapped(model *domain.EntityModel, key string) *domain.PropertyModel {
	for _, p := range model.Properties {
		if p.MappedName == key {
			return p
		}
	}
	return nil
}

func unmarshalable(t reflect.Type) bool {
	pt := reflect.PointerTo(t)
	return pt.Implements(valueUnmarshalerType) || pt.Implements(unmarshalerType)
}

// roundTrip hands v back to the bson package so that types with their own
// unmarshaling logic receive the raw value.
func roundTrip(rv reflect.Value, v any) error {
	typ, data, err := bson.MarshalValue(v)
	if err != nil {
		return err
	}
	return bson.UnmarshalValue(typ, data, rv.Addr().Interface())
}

func dateTimeHook(from, to reflect.Type, data any) (any, error) {
	if to != timeType {
		return data, nil
	}
	switch d := data.(type) {
	case bson.DateTime:
		return d.Time().UTC(), nil
	case bson.Timestamp:
		return time.Unix(int64(d.T), 0).UTC(), nil
	}
	return data, nil
}

func binaryHook(from, to reflect.Type, data any) (any, error) {
	b, ok := data.(bson.Binary)
	if !ok {
		return data, nil
	}
	if to.Kind() == reflect.Array && to.Elem() == byteType {
		arr := reflect.New(to).Elem()
		reflect.Copy(arr, reflect.ValueOf(b.Data))
		return arr.Interface(), nil
	}
	return b.Data, nil
}

func objectIDHook(from, to reflect.Type, data any) (any, error) {
	if id, ok := data.(bson.ObjectID); ok && to.Kind() == reflect.String {
		return id.Hex(), nil
	}
	return data, nil
}
