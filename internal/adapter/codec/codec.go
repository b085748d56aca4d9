// Package codec contains the default [domain.Codec] implementation.
package codec

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	bsonPkgPath = reflect.TypeFor[bson.D]().PkgPath()
	byteType    = reflect.TypeFor[byte]()
)

// Codec implements [domain.Codec] by walking entity models. Leaf values are
// left to the bson package when encoding and converted with mapstructure when
// decoding.
type Codec struct {
	mapper       domain.Mapper
	storeNulls   bool
	storeEmpties bool
	tagName      string
}

// NewCodec returns a new implementation of [domain.Codec] reading models from
// mapper.
func NewCodec(mapper domain.Mapper) domain.Codec {
	opts := mapper.Options()
	return &Codec{
		mapper:       mapper,
		storeNulls:   opts.StoreNulls,
		storeEmpties: opts.StoreEmpties,
		tagName:      opts.TagName,
	}
}

// Encode implements [domain.Codec].
func (c *Codec) Encode(entity any) (bson.D, error) {
	rv := reflect.ValueOf(entity)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, &domain.NotMappedError{Reason: "nil entity"}
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, &domain.NotMappedError{Reason: "nil entity"}
	}
	model, err := c.mapper.Model(rv.Type())
	if err != nil {
		return nil, err
	}
	return c.encodeStruct(model, rv)
}

// EncodeValue implements [domain.Codec].
func (c *Codec) EncodeValue(prop *domain.PropertyModel, v any) (any, error) {
	if prop != nil && prop.Codec != nil {
		return prop.Codec.Encode(v)
	}
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().PkgPath() == bsonPkgPath {
		return v, nil
	}
	enc, present, err := c.encodeAny(rv)
	if err != nil {
		return nil, err
	}
	if !present {
		// literals are sent even when they would not be stored
		return v, nil
	}
	return enc, nil
}

// polymorphic reports whether documents of model must store their
// discriminator.
func (c *Codec) polymorphic(model *domain.EntityModel) bool {
	return model.Parent != nil || len(c.mapper.Subtypes(model)) > 0
}

func (c *Codec) encodeStruct(model *domain.EntityModel, rv reflect.Value) (bson.D, error) {
	doc := make(bson.D, 0, len(model.Properties)+1)

	if p := model.IDProperty; p != nil {
		if fv, ok := p.Getter(rv); ok && !fv.IsZero() {
			v, present, err := c.encodeProperty(p, fv)
			if err != nil {
				return nil, fmt.Errorf("encoding %s.%s: %w", model.Name, p.Name, err)
			}
			if present {
				doc = append(doc, bson.E{Key: p.MappedName, Value: v})
			}
		}
	}
	if c.polymorphic(model) {
		doc = append(doc, bson.E{Key: model.DiscriminatorKey, Value: model.Discriminator})
	}

	for _, p := range model.Properties {
		if p.ID {
			continue
		}
		fv, ok := p.Getter(rv)
		if !ok {
			continue
		}
		if p.OmitZero && fv.IsZero() {
			continue
		}
		if p.OmitEmpty && empty(fv) {
			continue
		}
		v, present, err := c.encodeProperty(p, fv)
		if err != nil {
			return nil, fmt.Errorf("encoding %s.%s: %w", model.Name, p.Name, err)
		}
		if present {
			doc = append(doc, bson.E{Key: p.MappedName, Value: v})
		}
	}
	return doc, nil
}

func (c *Codec) encodeProperty(p *domain.PropertyModel, fv reflect.Value) (any, bool, error) {
	if p.Codec == nil {
		return c.encodeAny(fv)
	}
	if nilable(fv) && fv.IsNil() {
		return nil, c.storeNulls, nil
	}
	v, err := p.Codec.Encode(fv.Interface())
	return v, err == nil, err
}

// encodeAny encodes rv, reporting false when it must not be stored.
func (c *Codec) encodeAny(rv reflect.Value) (any, bool, error) {
	if !rv.IsValid() {
		return nil, c.storeNulls, nil
	}
	t := rv.Type()
	if t.PkgPath() == bsonPkgPath {
		return rv.Interface(), true, nil
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, c.storeNulls, nil
		}
		return c.encodeAny(rv.Elem())

	case reflect.Struct:
		if !domain.DocumentType(t) {
			return rv.Interface(), true, nil
		}
		model, err := c.mapper.Model(t)
		if err != nil {
			return nil, false, err
		}
		doc, err := c.encodeStruct(model, rv)
		return doc, err == nil, err

	case reflect.Slice:
		if rv.IsNil() {
			return nil, c.storeNulls, nil
		}
		if t.Elem() == byteType {
			return rv.Interface(), true, nil
		}
		if rv.Len() == 0 && !c.storeEmpties {
			return nil, false, nil
		}
		return c.encodeList(rv)

	case reflect.Array:
		if t.Elem() == byteType {
			return rv.Interface(), true, nil
		}
		return c.encodeList(rv)

	case reflect.Map:
		if rv.IsNil() {
			return nil, c.storeNulls, nil
		}
		if rv.Len() == 0 && !c.storeEmpties {
			return nil, false, nil
		}
		return c.encodeMap(rv)
	}
	return rv.Interface(), true, nil
}

func (c *Codec) encodeList(rv reflect.Value) (any, bool, error) {
	out := make(bson.A, rv.Len())
	for i := range rv.Len() {
		v, _, err := c.encodeAny(rv.Index(i))
		if err != nil {
			return nil, false, err
		}
		out[i] = v
	}
	return out, true, nil
}

// encodeMap writes map entries ordered by key.
func (c *Codec) encodeMap(rv reflect.Value) (any, bool, error) {
	doc := make(bson.D, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		v, _, err := c.encodeAny(iter.Value())
		if err != nil {
			return nil, false, err
		}
		doc = append(doc, bson.E{Key: mapKey(iter.Key()), Value: v})
	}
	slices.SortFunc(doc, func(a, b bson.E) int { return cmp.Compare(a.Key, b.Key) })
	return doc, true, nil
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	return fmt.Sprint(k.Interface())
}

func nilable(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return true
	}
	return false
}

// empty reports whether rv is zero or an empty map, slice or string.
func empty(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.String:
		return rv.Len() == 0
	}
	return rv.IsZero()
}
