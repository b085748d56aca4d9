// Package pathresolver contains the default [domain.PathResolver]
// implementation.
package pathresolver

import (
	"reflect"
	"strings"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// PathResolver implements [domain.PathResolver].
type PathResolver struct {
	mapper domain.Mapper
}

// NewPathResolver returns a new implementation of [domain.PathResolver]
// reading models from mapper.
func NewPathResolver(mapper domain.Mapper) domain.PathResolver {
	return &PathResolver{mapper: mapper}
}

type state uint8

const (
	// the segment names a property of the current model.
	onModel state = iota
	// the segment is the key of a map property.
	onMapKey
	// the previous property holds values with no model, such as any or a
	// map of scalars; every remaining segment passes through.
	opaque
	// the previous property is a scalar, so nothing can follow it.
	leaf
)

// Resolve implements [domain.PathResolver].
func (r *PathResolver) Resolve(model *domain.EntityModel, path string, validate bool) (domain.PathTarget, error) {
	if model == nil || path == "" {
		return domain.PathTarget{Path: path}, nil
	}

	segments := strings.Split(path, ".")
	out := make([]string, 0, len(segments))
	var prop *domain.PropertyModel
	var owner *domain.EntityModel
	current := model
	st := onModel

	for n, seg := range segments {
		switch st {
		case opaque:
			out = append(out, seg)
			prop, owner = nil, nil
			continue
		case onMapKey:
			out = append(out, seg)
			st = onModel
			continue
		}
		if positional(seg) {
			// positional segments stay on the current model
			out = append(out, seg)
			continue
		}
		if st == leaf {
			if validate {
				return domain.PathTarget{}, &domain.MappingError{Type: owner.Name, Path: path, Segment: seg}
			}
			out = append(out, segments[n:]...)
			return domain.PathTarget{Path: strings.Join(out, ".")}, nil
		}

		p := current.Property(seg)
		if p == nil {
			if validate {
				return domain.PathTarget{}, &domain.MappingError{Type: current.Name, Path: path, Segment: seg}
			}
			out = append(out, segments[n:]...)
			return domain.PathTarget{Path: strings.Join(out, ".")}, nil
		}
		out = append(out, p.MappedName)
		prop, owner = p, current

		next, err := r.step(p)
		if err != nil {
			return domain.PathTarget{}, err
		}
		switch {
		case next != nil:
			current = next
			st = onModel
			if throughMap(p.Type) {
				st = onMapKey
			}
		case opaqueType(p.Type):
			st = opaque
		default:
			st = leaf
		}
	}

	return domain.PathTarget{Path: strings.Join(out, "."), Property: prop, Model: owner}, nil
}

// step returns the model of the documents held by p, if any.
func (r *PathResolver) step(p *domain.PropertyModel) (*domain.EntityModel, error) {
	if !p.Embedded() {
		return nil, nil
	}
	return r.mapper.Model(domain.ElementType(p.Type))
}

// positional reports whether seg is an array index or an operator such as
// "$", "$[]" or "$[name]".
func positional(seg string) bool {
	if strings.HasPrefix(seg, "$") {
		return true
	}
	if seg == "" {
		return false
	}
	for _, c := range seg {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func throughMap(t reflect.Type) bool {
	for {
		switch t.Kind() {
		case reflect.Map:
			return true
		case reflect.Pointer, reflect.Slice, reflect.Array:
			t = t.Elem()
		default:
			return false
		}
	}
}

// opaqueType reports whether values of t may hold documents the mapper does
// not describe.
func opaqueType(t reflect.Type) bool {
	et := domain.ElementType(t)
	if et.Kind() == reflect.Interface || et.PkgPath() == bsonPkgPath {
		return true
	}
	return throughMap(t)
}

var bsonPkgPath = reflect.TypeFor[bson.D]().PkgPath()
