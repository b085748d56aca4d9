package datastore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

var dateTimeType = reflect.TypeFor[bson.DateTime]()

// changes records the fields a write sets on an entity, so that a failed
// write leaves the entity as it was given.
type changes struct {
	fields []reflect.Value
	old    []reflect.Value
}

func (c *changes) set(field, v reflect.Value) {
	old := reflect.New(field.Type()).Elem()
	old.Set(field)
	c.fields = append(c.fields, field)
	c.old = append(c.old, old)
	field.Set(v)
}

// rollback restores every recorded field, last change first.
func (c *changes) rollback() {
	for i := len(c.fields) - 1; i >= 0; i-- {
		c.fields[i].Set(c.old[i])
	}
	c.fields, c.old = nil, nil
}

// write is one entity going through a write call.
type write struct {
	entity  any
	value   reflect.Value
	model   *domain.EntityModel
	changes changes
	// version is the version the entity had when the call started.
	version int64
}

func (d *Datastore) prepare(entity any) (*write, error) {
	rv := reflect.ValueOf(entity)
	if entity == nil || rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, &domain.NotMappedError{Type: reflect.TypeOf(entity), Reason: "entities must be non nil struct pointers"}
	}
	model, err := d.mapper.ModelOf(entity)
	if err != nil {
		return nil, err
	}
	if !model.Entity {
		return nil, &domain.NotMappedError{Type: model.Type, Reason: "not an entity"}
	}
	w := &write{entity: entity, value: rv, model: model}
	if p := model.VersionProperty; p != nil {
		w.version = p.Field(rv).Int()
	}
	return w, nil
}

// id returns the id of the entity, reporting false when it is zero.
func (w *write) id() (any, bool) {
	fv, ok := w.model.IDProperty.Get(w.value)
	if !ok || fv.IsZero() {
		return nil, false
	}
	return fv.Interface(), true
}

func (w *write) requireID() (any, error) {
	id, ok := w.id()
	if !ok {
		return nil, &domain.MissingIDError{Type: w.model.Name}
	}
	return id, nil
}

func (w *write) setVersion(v int64) {
	field := w.model.VersionProperty.Field(w.value)
	w.changes.set(field, reflect.ValueOf(v).Convert(field.Type()))
}

// assignID generates the id of an entity with a zero id. Unsupported id
// types are left for the database to fill.
func (d *Datastore) assignID(w *write) error {
	if _, ok := w.id(); ok {
		return nil
	}
	field := w.model.IDProperty.Field(w.value)
	id, ok, err := d.idGenerator.GenerateID(field.Type())
	if err != nil {
		return fmt.Errorf("generating id of %s: %w", w.model.Name, err)
	}
	if ok {
		w.changes.set(field, reflect.ValueOf(id).Convert(field.Type()))
	}
	return nil
}

// adoptID sets the id returned by the database on an entity whose id was
// left zero.
func (d *Datastore) adoptID(w *write, id any) {
	if id == nil {
		return
	}
	if _, ok := w.id(); ok {
		return
	}
	field := w.model.IDProperty.Field(w.value)
	if v := reflect.ValueOf(id); v.Type().AssignableTo(field.Type()) {
		field.Set(v)
	}
}

// stamp sets the update time of the entity, and its creation time when
// created is true and it is still zero.
func (d *Datastore) stamp(w *write, created bool) {
	if w.model.CreatedAt == nil && w.model.UpdatedAt == nil {
		return
	}
	now := d.timeGetter.GetTime()
	if p := w.model.CreatedAt; p != nil && created {
		if field := p.Field(w.value); field.IsZero() {
			w.changes.set(field, stampValue(field.Type(), now))
		}
	}
	if p := w.model.UpdatedAt; p != nil {
		field := p.Field(w.value)
		w.changes.set(field, stampValue(field.Type(), now))
	}
}

func stampValue(t reflect.Type, now time.Time) reflect.Value {
	if t.Kind() == reflect.Pointer {
		v := reflect.New(t.Elem())
		v.Elem().Set(stampValue(t.Elem(), now))
		return v
	}
	if t == dateTimeType {
		return reflect.ValueOf(bson.NewDateTimeFromTime(now))
	}
	return reflect.ValueOf(now).Convert(t)
}

// filter returns the predicate of a targeted write: the id, the version the
// entity had when the call started, when versioned is true, and every shard
// key.
func (d *Datastore) filter(w *write, versioned bool) (bson.D, error) {
	id, err := w.requireID()
	if err != nil {
		return nil, err
	}
	enc, err := d.codec.EncodeValue(w.model.IDProperty, id)
	if err != nil {
		return nil, err
	}
	filter := bson.D{{Key: "_id", Value: enc}}
	if versioned && w.model.Versioned() {
		filter = append(filter, bson.E{Key: w.model.VersionProperty.MappedName, Value: w.version})
	}
	for _, p := range w.model.ShardKeys {
		var v any
		if fv, ok := p.Get(w.value); ok {
			v = fv.Interface()
		}
		enc, err := d.codec.EncodeValue(p, v)
		if err != nil {
			return nil, err
		}
		filter = append(filter, bson.E{Key: p.MappedName, Value: enc})
	}
	return filter, nil
}

// mismatch returns the error of a targeted write that matched nothing.
func (d *Datastore) mismatch(w *write, collection string) error {
	id, _ := w.id()
	switch {
	case len(w.model.ShardKeys) > 0:
		keys := make(map[string]any, len(w.model.ShardKeys))
		for _, p := range w.model.ShardKeys {
			if fv, ok := p.Get(w.value); ok {
				keys[p.Name] = fv.Interface()
			}
		}
		d.metrics.Conflict(collection, "shard_key")
		d.logger.Warn("no shard key match",
			zap.String("type", w.model.Name),
			zap.Any("id", id),
			zap.Any("shardKeys", keys),
		)
		return &domain.ShardKeyMismatchError{Type: w.model.Name, ID: id, ShardKeys: keys}
	case w.model.Versioned():
		d.metrics.Conflict(collection, "version")
		d.logger.Warn("version mismatch",
			zap.String("type", w.model.Name),
			zap.Any("id", id),
			zap.Int64("version", w.version),
		)
		return &domain.VersionMismatchError{Type: w.model.Name, ID: id, Version: w.version}
	}
	return fmt.Errorf("%s with id %v: %w", w.model.Name, id, domain.ErrNotFound)
}

// duplicate returns the conflict of a versioned insert whose id is already
// stored. The driver error stays reachable.
func (d *Datastore) duplicate(w *write, collection string, err error) error {
	id, _ := w.id()
	d.metrics.Conflict(collection, "duplicate_key")
	d.logger.Warn("versioned insert of stored id",
		zap.String("type", w.model.Name),
		zap.Any("id", id),
	)
	return errors.Join(&domain.VersionMismatchError{Type: w.model.Name, ID: id, Version: w.version}, err)
}

func prePersist(ctx context.Context, entity any) error {
	if h, ok := entity.(domain.PrePersister); ok {
		return h.PrePersist(ctx)
	}
	return nil
}

func postPersist(ctx context.Context, entity any) error {
	if h, ok := entity.(domain.PostPersister); ok {
		return h.PostPersist(ctx)
	}
	return nil
}
