package domain

import (
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// PropertyModel describes one mapped field of an entity or embedded type. It
// is created once by the [Mapper] and never modified afterwards.
type PropertyModel struct {
	// Name is the Go field name.
	Name string
	// MappedName is the name used in stored documents.
	MappedName string
	// Type is the declared Go type of the field.
	Type reflect.Type
	// Index is the field index sequence used by [reflect.Value.FieldByIndex].
	Index []int

	OmitEmpty bool
	OmitZero  bool

	ID        bool
	Version   bool
	ShardKey  bool
	CreatedAt bool
	UpdatedAt bool

	// Codec, when set, converts values of this property to and from their
	// stored representation.
	Codec ValueCodec

	// Getter returns the field value of the given struct value. The bool is
	// false when an embedded pointer on the way is nil.
	Getter func(reflect.Value) (reflect.Value, bool)
	// Setter returns the settable field of the given addressable struct
	// value, allocating nil embedded pointers on the way.
	Setter func(reflect.Value) reflect.Value
}

// Get returns the current value of the property on entity, which must be a
// struct value or a pointer to one.
func (p *PropertyModel) Get(entity reflect.Value) (reflect.Value, bool) {
	for entity.Kind() == reflect.Pointer {
		if entity.IsNil() {
			return reflect.Value{}, false
		}
		entity = entity.Elem()
	}
	return p.Getter(entity)
}

// Field returns the settable field of entity, which must be a non nil pointer
// to a struct.
func (p *PropertyModel) Field(entity reflect.Value) reflect.Value {
	for entity.Kind() == reflect.Pointer {
		entity = entity.Elem()
	}
	return p.Setter(entity)
}

// Embedded reports whether the property holds a nested document, directly or
// as elements of a slice, array or map.
func (p *PropertyModel) Embedded() bool {
	return DocumentType(ElementType(p.Type))
}

// EntityModel describes one mapped type. Entities have a collection; embedded
// types only describe their fields.
type EntityModel struct {
	// Type is the struct type, never a pointer.
	Type reflect.Type
	// Name is the short type name.
	Name string
	// Entity is false for types only used as embedded documents.
	Entity bool
	// Collection is the name of the collection storing the entity.
	Collection string

	// DiscriminatorKey is the field storing Discriminator.
	DiscriminatorKey string
	// Discriminator identifies this type among its parent and subtypes.
	Discriminator string
	// Parent is the mapped type embedded by this one, if any.
	Parent *EntityModel

	Properties []*PropertyModel
	IDProperty *PropertyModel
	// VersionProperty is nil for unversioned entities.
	VersionProperty *PropertyModel
	ShardKeys       []*PropertyModel
	CreatedAt       *PropertyModel
	UpdatedAt       *PropertyModel

	Indexes      []IndexModel
	Capped       *CappedOptions
	Validation   *ValidationOptions
	WriteConcern *WriteConcern

	PrePersist  bool
	PostPersist bool
	PostLoad    bool
}

// Property returns the property with the given Go field name or mapped name,
// or nil if none.
func (m *EntityModel) Property(name string) *PropertyModel {
	for _, p := range m.Properties {
		if p.Name == name {
			return p
		}
	}
	for _, p := range m.Properties {
		if p.MappedName == name {
			return p
		}
	}
	return nil
}

// Versioned reports whether the entity uses optimistic locking.
func (m *EntityModel) Versioned() bool {
	return m.VersionProperty != nil
}

// Root returns the top most parent of the model.
func (m *EntityModel) Root() *EntityModel {
	for m.Parent != nil {
		m = m.Parent
	}
	return m
}

// IndexModel declares one index of an entity collection. Field names are
// resolved by the [PathResolver] when indexes are created.
type IndexModel struct {
	Name   string
	Keys   []IndexKey
	Unique bool
	Sparse bool
	// ExpireAfter creates a TTL index when positive.
	ExpireAfter time.Duration
	// PartialFilter restricts the index to documents matching it.
	PartialFilter Filter
}

// IndexKey is one field of an [IndexModel]. Kind is usually 1 or -1, but can
// also be a string such as "text" or "2dsphere".
type IndexKey struct {
	Field string
	Kind  any
}

// CappedOptions describes a capped collection.
type CappedOptions struct {
	Size  int64
	Count int64
}

// ValidationOptions describes the document validation of a collection.
type ValidationOptions struct {
	Validator Filter
	Level     string
	Action    string
}

// WriteConcern overrides the write acknowledgement of an entity collection.
type WriteConcern struct {
	W       any
	Journal *bool
}

// PathTarget is a dotted path translated to stored names. Property and Model
// are nil when the last segment was not resolved.
type PathTarget struct {
	Path     string
	Property *PropertyModel
	Model    *EntityModel
}

var (
	timeType     = reflect.TypeFor[time.Time]()
	objectIDType = reflect.TypeFor[bson.ObjectID]()
	bsonPkgPath  = reflect.TypeFor[bson.D]().PkgPath()
)

// ElementType strips pointers, slices, arrays and map values from t until it
// reaches a type holding a single value. Byte slices and byte arrays are single
// values.
func ElementType(t reflect.Type) reflect.Type {
	for {
		switch t.Kind() {
		case reflect.Pointer:
			t = t.Elem()
		case reflect.Slice, reflect.Array:
			if t.Elem().Kind() == reflect.Uint8 {
				return t
			}
			t = t.Elem()
		case reflect.Map:
			t = t.Elem()
		default:
			return t
		}
	}
}

// DocumentType reports whether values of t are stored as nested documents
// described by an [EntityModel].
func DocumentType(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	if t == timeType || t == objectIDType || t.PkgPath() == bsonPkgPath {
		return false
	}
	if t.Implements(bsonMarshalerType) || reflect.PointerTo(t).Implements(bsonMarshalerType) {
		return false
	}
	if t.Implements(valueMarshalerType) || reflect.PointerTo(t).Implements(valueMarshalerType) {
		return false
	}
	return true
}

var (
	bsonMarshalerType  = reflect.TypeFor[bson.Marshaler]()
	valueMarshalerType = reflect.TypeFor[bson.ValueMarshaler]()
)
