// Package projector contains the default [domain.Projector] implementation.
package projector

import (
	"fmt"
	"strings"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/data"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/fieldnavigator"
)

// node is one segment of a projection. Leaves have no children.
type node struct {
	children map[string]*node
}

// Projector implements [domain.Projector].
type Projector struct {
	fn domain.FieldNavigator
}

// NewProjector returns a new implementation of [domain.Projector].
func NewProjector(opts ...domain.ProjectorOption) domain.Projector {
	var options domain.ProjectorOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.FieldNavigator == nil {
		options.FieldNavigator = fieldnavigator.NewFieldNavigator()
	}
	return &Projector{
		fn: options.FieldNavigator,
	}
}

// Project implements [domain.Projector]. Paths crossing arrays apply to each
// element of the array.
func (p *Projector) Project(docs []domain.Document, projection domain.Document) ([]domain.Document, error) {
	if projection == nil || projection.Len() == 0 {
		return docs, nil
	}

	tree, include, err := p.compile(projection)
	if err != nil {
		return nil, err
	}

	res := make([]domain.Document, len(docs))
	for n, doc := range docs {
		if include {
			res[n] = p.include(doc, tree)
		} else {
			res[n] = p.exclude(doc, tree)
		}
	}
	return res, nil
}

func (p *Projector) compile(projection domain.Document) (*node, bool, error) {
	keepID := true
	fields := 0
	oneFields := 0
	root := &node{children: map[string]*node{}}

	for field, value := range projection.Iter() {
		keep, err := p.truthy(field, value)
		if err != nil {
			return nil, false, err
		}
		if field == "_id" {
			keepID = keep
			continue
		}
		fields++
		if keep {
			oneFields++
		}
		if oneFields > 0 && oneFields != fields {
			return nil, false, &domain.MixedProjectionError{Field: field}
		}
		if err := p.add(root, field); err != nil {
			return nil, false, err
		}
	}

	include := oneFields > 0 || (fields == 0 && keepID)
	if include == keepID {
		if err := p.add(root, "_id"); err != nil {
			return nil, false, err
		}
	}
	return root, include, nil
}

func (p *Projector) truthy(field string, value any) (bool, error) {
	switch t := value.(type) {
	case bool:
		return t, nil
	case int32:
		return t != 0, nil
	case int64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case float64:
		return t != 0, nil
	case domain.Document:
		var op string
		for k := range t.Keys() {
			op = k
			break
		}
		return false, &domain.UnsupportedOperationError{
			Operation: op,
			Reason:    fmt.Sprintf("projection operators are not evaluated in memory (field %q)", field),
		}
	default:
		return false, fmt.Errorf("invalid projection value %v for field %q", value, field)
	}
}

func (p *Projector) add(root *node, field string) error {
	addr := p.fn.GetAddress(field)
	cur := root
	for i, part := range addr {
		if strings.HasPrefix(part, "$") {
			return &domain.UnsupportedOperationError{
				Operation: part,
				Reason:    "positional projections are not evaluated in memory",
			}
		}
		next, ok := cur.children[part]
		switch {
		case ok && next.children == nil:
			return fmt.Errorf("path collision at %s", strings.Join(addr[:i+1], "."))
		case ok && i == len(addr)-1:
			return fmt.Errorf("path collision at %s", field)
		case !ok:
			next = &node{}
			if i < len(addr)-1 {
				next.children = map[string]*node{}
			}
			cur.children[part] = next
		}
		cur = next
	}
	return nil
}

func (p *Projector) include(doc domain.Document, tree *node) domain.Document {
	res := &data.M{}
	for k, v := range doc.Iter() {
		child, ok := tree.children[k]
		if !ok {
			continue
		}
		if child.children == nil {
			res.Set(k, data.Clone(v))
			continue
		}
		if projected, ok := p.includeValue(v, child); ok {
			res.Set(k, projected)
		}
	}
	return res
}

func (p *Projector) includeValue(v any, tree *node) (any, bool) {
	switch t := v.(type) {
	case domain.Document:
		return p.include(t, tree), true
	case []any:
		res := make([]any, 0, len(t))
		for _, item := range t {
			if projected, ok := p.includeValue(item, tree); ok {
				res = append(res, projected)
			}
		}
		return res, true
	default:
		return nil, false
	}
}

func (p *Projector) exclude(doc domain.Document, tree *node) domain.Document {
	res := &data.M{}
	for k, v := range doc.Iter() {
		child, ok := tree.children[k]
		switch {
		case !ok:
			res.Set(k, data.Clone(v))
		case child.children != nil:
			res.Set(k, p.excludeValue(v, child))
		}
	}
	return res
}

func (p *Projector) excludeValue(v any, tree *node) any {
	switch t := v.(type) {
	case domain.Document:
		return p.exclude(t, tree)
	case []any:
		res := make([]any, len(t))
		for n, item := range t {
			res[n] = p.excludeValue(item, tree)
		}
		return res
	default:
		return data.Clone(v)
	}
}
