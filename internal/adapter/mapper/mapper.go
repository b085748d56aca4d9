// Package mapper contains the default [domain.Mapper] implementation.
package mapper

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	goreflect "github.com/goccy/go-reflect"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/singleflight"
)

var (
	prePersisterType  = reflect.TypeFor[domain.PrePersister]()
	postPersisterType = reflect.TypeFor[domain.PostPersister]()
	postLoaderType    = reflect.TypeFor[domain.PostLoader]()
	timeType          = reflect.TypeFor[time.Time]()
	dateTimeType      = reflect.TypeFor[bson.DateTime]()
)

// Mapper implements [domain.Mapper].
type Mapper struct {
	options domain.MapperOptions

	mu       sync.RWMutex
	models   map[reflect.Type]*domain.EntityModel
	byTypeID map[uintptr]*domain.EntityModel
	children map[reflect.Type][]*domain.EntityModel
	entities []*domain.EntityModel
	sealed   bool

	group singleflight.Group
}

// NewMapper returns a new implementation of [domain.Mapper].
func NewMapper(options ...domain.MapperOption) domain.Mapper {
	opts := domain.MapperOptions{
		TagName:          "gedm",
		DiscriminatorKey: "_t",
		ValidatePaths:    true,
		CollectionNaming: func(s string) string { return s },
	}
	for _, option := range options {
		option(&opts)
	}
	return &Mapper{
		options:  opts,
		models:   make(map[reflect.Type]*domain.EntityModel),
		byTypeID: make(map[uintptr]*domain.EntityModel),
		children: make(map[reflect.Type][]*domain.EntityModel),
	}
}

// Options implements [domain.Mapper].
func (m *Mapper) Options() domain.MapperOptions {
	return m.options
}

// Seal implements [domain.Mapper].
func (m *Mapper) Seal() {
	m.mu.Lock()
	m.sealed = true
	m.mu.Unlock()
}

// Map implements [domain.Mapper]. Options given for an already mapped type
// rebuild its model.
func (m *Mapper) Map(t reflect.Type, options ...domain.EntityOption) (*domain.EntityModel, error) {
	t, err := structType(t)
	if err != nil {
		return nil, err
	}
	if len(options) == 0 {
		return m.Model(t)
	}
	m.mu.RLock()
	sealed := m.sealed
	m.mu.RUnlock()
	if sealed {
		return nil, fmt.Errorf("%w: %s", domain.ErrMapperSealed, t)
	}
	model, err := m.build(t, options, nil)
	if err != nil {
		return nil, err
	}
	m.store(model)
	if err := m.mapNested(model); err != nil {
		return nil, err
	}
	return model, nil
}

// Model implements [domain.Mapper].
func (m *Mapper) Model(t reflect.Type) (*domain.EntityModel, error) {
	return m.model(t, nil)
}

// model returns the model of t. chain holds the types whose models are being
// built by the caller, the innermost last. Nested builds skip the singleflight
// group, since its holder may be waiting on them.
func (m *Mapper) model(t reflect.Type, chain []reflect.Type) (*domain.EntityModel, error) {
	t, err := structType(t)
	if err != nil {
		return nil, err
	}
	if slices.Contains(chain, t) {
		return nil, &domain.NotMappedError{Type: t, Reason: "embedding cycle"}
	}
	if model := m.cached(t); model != nil {
		return model, nil
	}
	if len(chain) > 0 {
		return m.buildAndStore(t, chain)
	}

	v, err, _ := m.group.Do(t.PkgPath()+"/"+t.String(), func() (any, error) {
		if model := m.cached(t); model != nil {
			return model, nil
		}
		return m.buildAndStore(t, nil)
	})
	if err != nil {
		return nil, err
	}
	model := v.(*domain.EntityModel)
	if err := m.mapNested(model); err != nil {
		return nil, err
	}
	return model, nil
}

func (m *Mapper) buildAndStore(t reflect.Type, chain []reflect.Type) (*domain.EntityModel, error) {
	m.mu.RLock()
	sealed := m.sealed
	m.mu.RUnlock()
	if sealed {
		return nil, fmt.Errorf("%w: %s", domain.ErrMapperSealed, t)
	}
	model, err := m.build(t, nil, chain)
	if err != nil {
		return nil, err
	}
	if cached := m.cached(t); cached != nil {
		return cached, nil
	}
	m.store(model)
	return model, nil
}

// ModelOf implements [domain.Mapper].
func (m *Mapper) ModelOf(v any) (*domain.EntityModel, error) {
	if v == nil {
		return nil, &domain.NotMappedError{Reason: "nil value"}
	}
	id := goreflect.TypeID(v)
	m.mu.RLock()
	model, ok := m.byTypeID[id]
	m.mu.RUnlock()
	if ok {
		return model, nil
	}
	model, err := m.Model(reflect.TypeOf(v))
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.byTypeID[id] = model
	m.mu.Unlock()
	return model, nil
}

// Subtypes implements [domain.Mapper].
func (m *Mapper) Subtypes(model *domain.EntityModel) []*domain.EntityModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*domain.EntityModel
	queue := []reflect.Type{model.Type}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		for _, child := range m.children[t] {
			res = append(res, child)
			queue = append(queue, child.Type)
		}
	}
	return res
}

// Models implements [domain.Mapper].
func (m *Mapper) Models() []*domain.EntityModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entities)
}

func (m *Mapper) cached(t reflect.Type) *domain.EntityModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.models[t]
}

func (m *Mapper) store(model *domain.EntityModel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, replaced := m.models[model.Type]
	m.models[model.Type] = model
	for id, cached := range m.byTypeID {
		if cached == old {
			delete(m.byTypeID, id)
		}
	}

	if replaced && old.Parent != nil {
		siblings := m.children[old.Parent.Type]
		m.children[old.Parent.Type] = slices.DeleteFunc(siblings, func(c *domain.EntityModel) bool {
			return c == old
		})
	}
	if model.Parent != nil {
		m.children[model.Parent.Type] = append(m.children[model.Parent.Type], model)
	}

	if replaced {
		m.entities = slices.DeleteFunc(m.entities, func(e *domain.EntityModel) bool {
			return e == old
		})
	}
	if model.Entity {
		m.entities = append(m.entities, model)
	}
}

// mapNested maps the types of embedded document properties, so that paths
// can still be resolved after the registry is sealed.
func (m *Mapper) mapNested(model *domain.EntityModel) error {
	for _, p := range model.Properties {
		if !p.Embedded() {
			continue
		}
		t := domain.ElementType(p.Type)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if m.cached(t) != nil {
			continue
		}
		if _, err := m.Model(t); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mapper) build(t reflect.Type, options []domain.EntityOption, chain []reflect.Type) (*domain.EntityModel, error) {
	var eo domain.EntityOptions
	for _, option := range options {
		option(&eo)
	}

	model := &domain.EntityModel{
		Type: t,
		Name: t.Name(),
	}

	s := scanner{mapper: m, root: t, options: &eo, chain: append(slices.Clip(chain), t)}
	if err := s.scan(t, nil, true); err != nil {
		return nil, err
	}
	if err := s.finish(); err != nil {
		return nil, err
	}
	model.Properties = s.props
	model.Parent = s.parent

	for _, p := range model.Properties {
		switch {
		case p.ID:
			model.IDProperty = p
		case p.Version:
			model.VersionProperty = p
		}
		if p.ShardKey {
			model.ShardKeys = append(model.ShardKeys, p)
		}
		if p.CreatedAt {
			model.CreatedAt = p
		}
		if p.UpdatedAt {
			model.UpdatedAt = p
		}
	}
	for _, name := range eo.ShardKeys {
		p := model.Property(name)
		if p == nil {
			return nil, &domain.NotMappedError{Type: t, Reason: fmt.Sprintf("unknown shard key %q", name)}
		}
		if !p.ShardKey {
			p.ShardKey = true
			model.ShardKeys = append(model.ShardKeys, p)
		}
	}

	model.Entity = model.IDProperty != nil && !eo.Embedded
	m.name(model, &eo)

	model.Indexes = eo.Indexes
	model.Capped = eo.Capped
	model.Validation = eo.Validation
	model.WriteConcern = eo.WriteConcern

	ptr := reflect.PointerTo(t)
	model.PrePersist = ptr.Implements(prePersisterType)
	model.PostPersist = ptr.Implements(postPersisterType)
	model.PostLoad = ptr.Implements(postLoaderType)

	return model, nil
}

// name sets the collection and discriminator of model, inheriting from its
// parent what options leave unset.
func (m *Mapper) name(model *domain.EntityModel, eo *domain.EntityOptions) {
	model.Discriminator = model.Name
	if eo.Discriminator != "" {
		model.Discriminator = eo.Discriminator
	}

	model.DiscriminatorKey = m.options.DiscriminatorKey
	model.Collection = m.options.CollectionNaming(model.Name)
	if model.Parent != nil {
		model.DiscriminatorKey = model.Parent.DiscriminatorKey
		model.Collection = model.Parent.Collection
	}
	if eo.DiscriminatorKey != "" {
		model.DiscriminatorKey = eo.DiscriminatorKey
	}
	if eo.Collection != "" {
		model.Collection = eo.Collection
	}
}

func structType(t reflect.Type) (reflect.Type, error) {
	if t == nil {
		return nil, &domain.NotMappedError{Reason: "nil type"}
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, &domain.NotMappedError{Type: t, Reason: "not a struct"}
	}
	return t, nil
}
