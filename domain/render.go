package domain

import (
	"reflect"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// RenderContext carries what filters, expressions and stages need to render
// themselves. A nil context renders paths and values as given.
type RenderContext struct {
	Mapper   Mapper
	Model    *EntityModel
	Validate bool
	Resolver PathResolver
	Codec    Codec
}

// Resolve translates path against the active model.
func (c *RenderContext) Resolve(path string) (PathTarget, error) {
	if c == nil || c.Resolver == nil {
		return PathTarget{Path: path}, nil
	}
	return c.Resolver.Resolve(c.Model, path, c.Validate)
}

// Encode encodes a literal destined to target.
func (c *RenderContext) Encode(target PathTarget, v any) (any, error) {
	if c == nil || c.Codec == nil {
		return v, nil
	}
	return c.Codec.EncodeValue(target.Property, v)
}

// WithModel returns a copy of c rendering against m.
func (c *RenderContext) WithModel(m *EntityModel) *RenderContext {
	if c == nil {
		return &RenderContext{Model: m}
	}
	cp := *c
	cp.Model = m
	return &cp
}

// ForType returns a copy of c rendering against the model of t.
func (c *RenderContext) ForType(t reflect.Type) (*RenderContext, error) {
	if c == nil || c.Mapper == nil {
		return c, nil
	}
	m, err := c.Mapper.Model(t)
	if err != nil {
		return nil, err
	}
	return c.WithModel(m), nil
}

// ElementModel returns the model of the documents held by target, if its
// property holds documents.
func (c *RenderContext) ElementModel(target PathTarget) (*EntityModel, error) {
	if c == nil || c.Mapper == nil || target.Property == nil || !target.Property.Embedded() {
		return nil, nil
	}
	return c.Mapper.Model(ElementType(target.Property.Type))
}

// Projection renders the projection document of a find.
type Projection interface {
	Render(ctx *RenderContext) (bson.D, error)
	Err() error
}

// SortField is one field of a sort specification. Order is 1, -1 or a
// document such as {$meta: "textScore"}.
type SortField struct {
	Field string
	Order any
}

// RenderSort renders fields in order, translating their paths.
func RenderSort(ctx *RenderContext, fields []SortField) (bson.D, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	doc := make(bson.D, 0, len(fields))
	for _, f := range fields {
		t, err := ctx.Resolve(f.Field)
		if err != nil {
			return nil, err
		}
		doc = append(doc, bson.E{Key: t.Path, Value: f.Order})
	}
	return doc, nil
}
