package mapper

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
)

// scanner collects the properties of one type, flattening anonymous struct
// fields into it.
type scanner struct {
	mapper  *Mapper
	root    reflect.Type
	options *domain.EntityOptions
	props   []*domain.PropertyModel
	parent  *domain.EntityModel
	// chain holds the types whose models are being built, root last.
	chain []reflect.Type
	// scanning holds the struct types the current field is nested in.
	scanning []reflect.Type
}

func (s *scanner) scan(t reflect.Type, index []int, top bool) error {
	s.scanning = append(s.scanning, t)
	defer func() { s.scanning = s.scanning[:len(s.scanning)-1] }()

	for n := range t.NumField() {
		field := t.Field(n)
		tag := parseTag(field.Tag, s.mapper.options.TagName)
		if tag.skip {
			continue
		}
		idx := append(slices.Clip(index), n)

		if ft := derefType(field.Type); ((field.Anonymous && tag.name == "") || tag.inline) &&
			ft.Kind() == reflect.Struct && domain.DocumentType(ft) {
			if slices.Contains(s.chain, ft) || slices.Contains(s.scanning, ft) {
				return &domain.NotMappedError{Type: ft, Reason: "embedding cycle"}
			}
			if top && field.Anonymous && s.parent == nil {
				parent, err := s.mapper.model(ft, s.chain)
				if err != nil {
					return err
				}
				if parent.Entity {
					s.parent = parent
				}
			}
			if err := s.scan(ft, idx, false); err != nil {
				return err
			}
			continue
		}

		if !field.IsExported() {
			continue
		}
		p, err := s.property(field, idx, tag)
		if err != nil {
			return err
		}
		s.props = append(s.props, p)
	}
	return nil
}

func (s *scanner) property(field reflect.StructField, index []int, tag fieldTag) (*domain.PropertyModel, error) {
	p := &domain.PropertyModel{
		Name:       field.Name,
		MappedName: field.Name,
		Type:       field.Type,
		Index:      index,
		OmitEmpty:  tag.omitEmpty,
		OmitZero:   tag.omitZero,
		ID:         tag.id || tag.name == "_id",
		Version:    tag.version,
		ShardKey:   tag.shardKey,
		CreatedAt:  tag.createdAt,
		UpdatedAt:  tag.updatedAt,
		Getter:     compileGetter(index),
		Setter:     compileSetter(index),
	}
	if tag.name != "" {
		p.MappedName = tag.name
	}

	if c, ok := s.options.Codecs[field.Name]; ok {
		p.Codec = c
	} else if c, ok := s.mapper.options.Codecs[field.Type.String()]; ok {
		p.Codec = c
	}

	if p.Version {
		switch field.Type.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		default:
			return nil, &domain.NotMappedError{Type: s.root, Reason: fmt.Sprintf("version field %s must be an integer", field.Name)}
		}
	}
	if p.CreatedAt || p.UpdatedAt {
		switch derefType(field.Type) {
		case timeType, dateTimeType:
		default:
			return nil, &domain.NotMappedError{Type: s.root, Reason: fmt.Sprintf("timestamp field %s must be a time", field.Name)}
		}
	}
	return p, nil
}

// finish picks the id and checks the properties are unambiguous.
func (s *scanner) finish() error {
	var ids, versions int
	for _, p := range s.props {
		if p.ID {
			ids++
		}
		if p.Version {
			versions++
		}
	}
	if ids > 1 {
		return &domain.NotMappedError{Type: s.root, Reason: "more than one id field"}
	}
	if versions > 1 {
		return &domain.NotMappedError{Type: s.root, Reason: "more than one version field"}
	}
	if ids == 0 {
		for _, p := range s.props {
			if (p.Name == "ID" || p.Name == "Id") && p.MappedName == p.Name {
				p.ID = true
				break
			}
		}
	}

	seen := make(map[string]string, len(s.props))
	for _, p := range s.props {
		if p.ID {
			if p.Version {
				return &domain.NotMappedError{Type: s.root, Reason: "id field cannot be the version"}
			}
			p.MappedName = "_id"
		}
		if other, ok := seen[p.MappedName]; ok {
			return &domain.NotMappedError{Type: s.root, Reason: fmt.Sprintf("fields %s and %s are both stored as %q", other, p.Name, p.MappedName)}
		}
		seen[p.MappedName] = p.Name
	}
	return nil
}

// compileGetter returns a function reading the field at index, stopping at
// nil embedded pointers.
func compileGetter(index []int) func(reflect.Value) (reflect.Value, bool) {
	if len(index) == 1 {
		i := index[0]
		return func(v reflect.Value) (reflect.Value, bool) {
			return v.Field(i), true
		}
	}
	return func(v reflect.Value) (reflect.Value, bool) {
		for n, i := range index {
			if n > 0 && v.Kind() == reflect.Pointer {
				if v.IsNil() {
					return reflect.Value{}, false
				}
				v = v.Elem()
			}
			v = v.Field(i)
		}
		return v, true
	}
}

// compileSetter returns a function reaching the field at index, allocating
// nil embedded pointers.
func compileSetter(index []int) func(reflect.Value) reflect.Value {
	if len(index) == 1 {
		i := index[0]
		return func(v reflect.Value) reflect.Value {
			return v.Field(i)
		}
	}
	return func(v reflect.Value) reflect.Value {
		for n, i := range index {
			if n > 0 && v.Kind() == reflect.Pointer {
				if v.IsNil() {
					v.Set(reflect.New(v.Type().Elem()))
				}
				v = v.Elem()
			}
			v = v.Field(i)
		}
		return v
	}
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
