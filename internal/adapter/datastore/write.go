package datastore

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/update"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/updates"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Insert implements [domain.Datastore]. Versioned entities with no version
// are inserted with version 1.
func (d *Datastore) Insert(ctx context.Context, entity any, options ...domain.InsertOption) error {
	var opts domain.InsertOptions
	for _, option := range options {
		option(&opts)
	}
	w, err := d.prepare(entity)
	if err != nil {
		return err
	}
	if err := prePersist(ctx, entity); err != nil {
		return err
	}
	if err := d.insert(ctx, w, opts.Collection); err != nil {
		return err
	}
	return postPersist(ctx, entity)
}

// insert runs the versioned insert: a plain insert of the entity with its
// version bumped from zero to one. A duplicate key on a versioned entity is
// reported as a conflict.
func (d *Datastore) insert(ctx context.Context, w *write, collection string) error {
	if err := d.assignID(w); err != nil {
		return err
	}
	if w.model.Versioned() && w.version == 0 {
		w.setVersion(1)
	}
	d.stamp(w, true)
	doc, err := d.codec.Encode(w.entity)
	if err != nil {
		w.changes.rollback()
		return err
	}

	coll := d.collection(w.model, collection)
	d.logger.Debug("insert", zap.String("collection", coll.Name()), zap.Any("document", doc))
	var id any
	err = d.Do(ctx, "insert", coll.Name(), func(ctx context.Context) error {
		var err error
		id, err = coll.InsertOne(ctx, doc)
		return err
	})
	if err != nil {
		if w.model.Versioned() && errors.Is(err, domain.ErrDuplicateKey) {
			err = d.duplicate(w, coll.Name(), err)
		}
		w.changes.rollback()
		return err
	}
	d.adoptID(w, id)
	return nil
}

// InsertMany implements [domain.Datastore]. Entities are inserted with one
// call per collection, in the order the collections first appear.
func (d *Datastore) InsertMany(ctx context.Context, entities []any, options ...domain.InsertOption) error {
	var opts domain.InsertOptions
	for _, option := range options {
		option(&opts)
	}
	var names []string
	groups := make(map[string][]*write)
	for _, entity := range entities {
		w, err := d.prepare(entity)
		if err != nil {
			return err
		}
		if err := prePersist(ctx, entity); err != nil {
			return err
		}
		name := opts.Collection
		if name == "" {
			name = w.model.Collection
		}
		if _, ok := groups[name]; !ok {
			names = append(names, name)
		}
		groups[name] = append(groups[name], w)
	}
	for _, name := range names {
		if err := d.insertMany(ctx, groups[name], name, opts.Unordered); err != nil {
			return err
		}
	}
	for _, entity := range entities {
		if err := postPersist(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// insertMany inserts ws in one call. Every entity of the call is rolled
// back if it fails.
func (d *Datastore) insertMany(ctx context.Context, ws []*write, collection string, unordered bool) error {
	rollback := func() {
		for _, w := range ws {
			w.changes.rollback()
		}
	}
	docs := make([]any, len(ws))
	for i, w := range ws {
		if err := d.assignID(w); err != nil {
			rollback()
			return err
		}
		if w.model.Versioned() && w.version == 0 {
			w.setVersion(1)
		}
		d.stamp(w, true)
		doc, err := d.codec.Encode(w.entity)
		if err != nil {
			rollback()
			return err
		}
		docs[i] = doc
	}

	coll := d.collection(ws[0].model, collection)
	d.logger.Debug("insertMany", zap.String("collection", coll.Name()), zap.Int("documents", len(docs)))
	var ids []any
	err := d.Do(ctx, "insertMany", coll.Name(), func(ctx context.Context) error {
		var err error
		ids, err = coll.InsertMany(ctx, docs, domain.InsertManyOptions{Unordered: unordered})
		return err
	})
	if err != nil {
		rollback()
		return fmt.Errorf("inserting %d documents into %s: %w", len(docs), coll.Name(), err)
	}
	for i, w := range ws {
		if i < len(ids) {
			d.adoptID(w, ids[i])
		}
	}
	return nil
}

// Save implements [domain.Datastore].
//
// Unversioned entities with an id are replaced, inserting them if missing;
// those without one are inserted. Versioned entities with no version are
// inserted with version 1; the others are replaced only if the stored
// version is still the one they carry, which is then incremented.
func (d *Datastore) Save(ctx context.Context, entity any, options ...domain.SaveOption) error {
	var opts domain.SaveOptions
	for _, option := range options {
		option(&opts)
	}
	w, err := d.prepare(entity)
	if err != nil {
		return err
	}
	if err := prePersist(ctx, entity); err != nil {
		return err
	}

	_, hasID := w.id()
	switch {
	case w.model.Versioned() && w.version == 0, !w.model.Versioned() && !hasID:
		err = d.insert(ctx, w, opts.Collection)
	default:
		err = d.replace(ctx, w, opts.Collection, !w.model.Versioned())
	}
	if err != nil {
		return err
	}
	return postPersist(ctx, entity)
}

// Replace implements [domain.Datastore]. It never inserts: an entity that
// is not stored, or whose stored version differs, fails with a conflict or
// [domain.ErrNotFound].
func (d *Datastore) Replace(ctx context.Context, entity any, options ...domain.SaveOption) error {
	var opts domain.SaveOptions
	for _, option := range options {
		option(&opts)
	}
	w, err := d.prepare(entity)
	if err != nil {
		return err
	}
	if _, err := w.requireID(); err != nil {
		return err
	}
	if err := prePersist(ctx, entity); err != nil {
		return err
	}
	if err := d.replace(ctx, w, opts.Collection, false); err != nil {
		return err
	}
	return postPersist(ctx, entity)
}

// replace runs the compare and swap of a stored entity. The version is
// incremented in memory before the write and restored if nothing matched.
func (d *Datastore) replace(ctx context.Context, w *write, collection string, upsert bool) error {
	filter, err := d.filter(w, true)
	if err != nil {
		return err
	}
	if w.model.Versioned() {
		w.setVersion(w.version + 1)
	}
	d.stamp(w, upsert)
	doc, err := d.codec.Encode(w.entity)
	if err != nil {
		w.changes.rollback()
		return err
	}

	coll := d.collection(w.model, collection)
	d.logger.Debug("replace", zap.String("collection", coll.Name()), zap.Any("filter", filter))
	var res domain.UpdateResult
	err = d.Do(ctx, "replace", coll.Name(), func(ctx context.Context) error {
		var err error
		res, err = coll.ReplaceOne(ctx, filter, doc, domain.ReplaceOptions{Upsert: upsert})
		return err
	})
	if err != nil {
		w.changes.rollback()
		return err
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		w.changes.rollback()
		return d.mismatch(w, coll.Name())
	}
	return nil
}

// Merge implements [domain.Datastore]. The stored fields of the entity are
// set one by one, leaving fields the entity does not map untouched. With
// [domain.MergeOptions.UnsetMissing], mapped fields the entity would not
// store are removed.
func (d *Datastore) Merge(ctx context.Context, entity any, options ...domain.MergeOption) error {
	var opts domain.MergeOptions
	for _, option := range options {
		option(&opts)
	}
	w, err := d.prepare(entity)
	if err != nil {
		return err
	}
	filter, err := d.filter(w, true)
	if err != nil {
		return err
	}
	if err := prePersist(ctx, entity); err != nil {
		return err
	}

	d.stamp(w, false)
	var doc bson.D
	if opts.UnsetMissing {
		doc, err = d.mergeUnsetting(w)
	} else {
		doc, err = d.mergeSetting(w)
	}
	if err != nil {
		w.changes.rollback()
		return err
	}
	if w.model.Versioned() {
		w.setVersion(w.version + 1)
	}

	coll := d.collection(w.model, opts.Collection)
	d.logger.Debug("merge",
		zap.String("collection", coll.Name()),
		zap.Any("filter", filter),
		zap.Any("update", doc),
	)
	var res domain.UpdateResult
	err = d.Do(ctx, "merge", coll.Name(), func(ctx context.Context) error {
		var err error
		res, err = coll.UpdateOne(ctx, filter, doc, domain.UpdateOptions{})
		return err
	})
	if err != nil {
		w.changes.rollback()
		return err
	}
	if res.MatchedCount == 0 {
		w.changes.rollback()
		return d.mismatch(w, coll.Name())
	}
	return postPersist(ctx, entity)
}

// mergeSetting renders {$set: entity without id and version} plus the
// version increment.
func (d *Datastore) mergeSetting(w *write) (bson.D, error) {
	ops := update.NewOperations(d.renderContext(w.model))
	if err := ops.Add(updates.SetEntity(w.entity, true)); err != nil {
		return nil, err
	}
	ops.BumpVersion(w.model)
	return ops.Document()
}

// mergeUnsetting renders a $set of every stored field and an $unset of every
// mapped property the entity would not store, plus the version increment.
func (d *Datastore) mergeUnsetting(w *write) (bson.D, error) {
	doc, err := d.codec.Encode(w.entity)
	if err != nil {
		return nil, err
	}
	ops := update.NewOperations(d.renderContext(w.model))
	stored := make(map[string]bool, len(doc))
	version := ""
	if w.model.Versioned() {
		version = w.model.VersionProperty.MappedName
	}
	for _, e := range doc {
		stored[e.Key] = true
		if e.Key == "_id" || e.Key == version {
			continue
		}
		ops.Raw(domain.OpSet, e.Key, e.Value)
	}
	for _, p := range w.model.Properties {
		if p.ID || p.Version || stored[p.MappedName] {
			continue
		}
		ops.Raw(domain.OpUnset, p.MappedName, "")
	}
	ops.BumpVersion(w.model)
	return ops.Document()
}

// Delete implements [domain.Datastore]. The entity is matched by id and
// shard keys.
func (d *Datastore) Delete(ctx context.Context, entity any) (int64, error) {
	w, err := d.prepare(entity)
	if err != nil {
		return 0, err
	}
	filter, err := d.filter(w, false)
	if err != nil {
		return 0, err
	}
	coll := d.Collection(w.model)
	d.logger.Debug("delete", zap.String("collection", coll.Name()), zap.Any("filter", filter))
	var n int64
	err = d.Do(ctx, "delete", coll.Name(), func(ctx context.Context) error {
		var err error
		n, err = coll.DeleteOne(ctx, filter, domain.DeleteOptions{})
		return err
	})
	return n, err
}

// Refresh implements [domain.Datastore]. Fields missing from the stored
// document are reset to their zero value.
func (d *Datastore) Refresh(ctx context.Context, entity any) error {
	w, err := d.prepare(entity)
	if err != nil {
		return err
	}
	filter, err := d.filter(w, false)
	if err != nil {
		return err
	}
	id, _ := w.id()
	coll := d.Collection(w.model)
	var raw bson.Raw
	err = d.Do(ctx, "refresh", coll.Name(), func(ctx context.Context) error {
		cur, err := coll.Find(ctx, filter, domain.FindOptions{Limit: 1})
		if err != nil {
			return err
		}
		defer cur.Close(ctx)
		if !cur.Next(ctx) {
			if err := cur.Err(); err != nil {
				return err
			}
			return fmt.Errorf("refreshing %s with id %v: %w", w.model.Name, id, domain.ErrNotFound)
		}
		raw = cur.Current()
		return nil
	})
	if err != nil {
		return err
	}

	elem := w.value.Elem()
	old := reflect.New(elem.Type()).Elem()
	old.Set(elem)
	elem.SetZero()
	if err := d.codec.Decode(raw, entity); err != nil {
		elem.Set(old)
		return err
	}
	if h, ok := entity.(domain.PostLoader); ok {
		return h.PostLoad(ctx)
	}
	return nil
}

// SaveMany implements [domain.Datastore]. Entities are grouped by type in
// the order types first appear. Within a group, entities with neither id
// nor version are inserted with one call; the others are saved one at a
// time.
func (d *Datastore) SaveMany(ctx context.Context, entities []any, options ...domain.SaveOption) error {
	var opts domain.SaveOptions
	for _, option := range options {
		option(&opts)
	}
	type group struct {
		bulk   []*write
		single []any
	}
	var order []*domain.EntityModel
	groups := make(map[*domain.EntityModel]*group)
	for _, entity := range entities {
		w, err := d.prepare(entity)
		if err != nil {
			return err
		}
		g, ok := groups[w.model]
		if !ok {
			g = new(group)
			groups[w.model] = g
			order = append(order, w.model)
		}
		if _, hasID := w.id(); !hasID && w.version == 0 {
			g.bulk = append(g.bulk, w)
		} else {
			g.single = append(g.single, entity)
		}
	}

	for _, model := range order {
		g := groups[model]
		if len(g.bulk) > 0 {
			for _, w := range g.bulk {
				if err := prePersist(ctx, w.entity); err != nil {
					return err
				}
			}
			if err := d.insertMany(ctx, g.bulk, opts.Collection, false); err != nil {
				return err
			}
			for _, w := range g.bulk {
				if err := postPersist(ctx, w.entity); err != nil {
					return err
				}
			}
		}
		for _, entity := range g.single {
			if err := d.Save(ctx, entity, options...); err != nil {
				return err
			}
		}
	}
	return nil
}

