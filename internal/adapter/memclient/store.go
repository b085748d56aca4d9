package memclient

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/data"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/index"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

const idIndexName = "_id_"

// engine holds the parts shared by every database of a client.
type engine struct {
	cmpr   domain.Comparer
	fn     domain.FieldNavigator
	mtchr  domain.Matcher
	mod    domain.Modifier
	qrr    domain.Querier
	tg     domain.TimeGetter
	logger *zap.Logger
}

type dbState struct {
	name        string
	colls       map[string]*collState
	dirty       bool
	persistence domain.Persistence
}

type collState struct {
	eng     *engine
	db      string
	name    string
	options domain.CreateCollectionOptions
	docs    []domain.Document
	indexes []*indexState
}

type indexState struct {
	spec    domain.IndexSpec
	index   domain.Index
	partial domain.Document
}

func newDBState(name string) *dbState {
	return &dbState{name: name, colls: make(map[string]*collState)}
}

func (e *engine) newCollState(ctx context.Context, db, name string, opts domain.CreateCollectionOptions) (*collState, error) {
	cs := &collState{eng: e, db: db, name: name, options: opts}
	_, err := cs.createIndex(ctx, domain.IndexSpec{
		Keys:   bson.D{{Key: "_id", Value: int32(1)}},
		Name:   idIndexName,
		Unique: true,
	})
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func (cs *collState) namespace() string {
	return cs.db + "." + cs.name
}

// indexName returns the name the server gives to an index with keys.
func indexName(keys bson.D) string {
	parts := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		parts = append(parts, k.Key, fmt.Sprint(k.Value))
	}
	return strings.Join(parts, "_")
}

func sameKeys(a, b bson.D) bool {
	return slices.EqualFunc(a, b, func(x, y bson.E) bool {
		return x.Key == y.Key && fmt.Sprint(x.Value) == fmt.Sprint(y.Value)
	})
}

// createIndex builds the index of spec over the current documents. created
// is false when an equivalent index already exists.
func (cs *collState) createIndex(ctx context.Context, spec domain.IndexSpec) (created bool, err error) {
	if len(spec.Keys) == 0 {
		return false, commandError(CodeBadValue, "index keys cannot be empty")
	}
	if spec.Name == "" {
		spec.Name = indexName(spec.Keys)
	}
	for _, ix := range cs.indexes {
		switch {
		case ix.spec.Name == spec.Name && sameKeys(ix.spec.Keys, spec.Keys):
			if ix.spec.Unique != spec.Unique || ix.spec.Sparse != spec.Sparse {
				return false, commandError(CodeIndexKeySpecsConflict,
					"An existing index has the same name as the requested index but different options: %s", spec.Name)
			}
			return false, nil
		case ix.spec.Name == spec.Name:
			return false, commandError(CodeIndexKeySpecsConflict,
				"An existing index has the same name as the requested index but different keys: %s", spec.Name)
		case sameKeys(ix.spec.Keys, spec.Keys):
			return false, commandError(CodeIndexOptionsConflict,
				"Index already exists with a different name: %s", ix.spec.Name)
		}
	}

	fields := make([]string, len(spec.Keys))
	for n, k := range spec.Keys {
		fields[n] = k.Key
	}
	idx, err := index.NewIndex(
		domain.WithIndexFields(fields...),
		domain.WithIndexUnique(spec.Unique),
		domain.WithIndexSparse(spec.Sparse),
		domain.WithIndexComparer(cs.eng.cmpr),
		domain.WithIndexFieldNavigator(cs.eng.fn),
	)
	if err != nil {
		return false, badValue(err)
	}

	ix := &indexState{spec: spec, index: idx}
	if spec.PartialFilterExpression != nil {
		if ix.partial, err = data.NewDocument(spec.PartialFilterExpression); err != nil {
			return false, badValue(err)
		}
	}

	if err := idx.Reset(ctx, cs.covered(ix, cs.docs)...); err != nil {
		return false, badValue(err)
	}
	cs.indexes = append(cs.indexes, ix)
	return true, nil
}

func (cs *collState) dropIndex(name string) error {
	if name == idIndexName {
		return commandError(CodeInvalidOptions, "cannot drop _id index")
	}
	for n, ix := range cs.indexes {
		if ix.spec.Name == name {
			cs.indexes = slices.Delete(cs.indexes, n, n+1)
			return nil
		}
	}
	return commandError(CodeIndexNotFound, "index not found with name [%s]", name)
}

func (cs *collState) covers(ix *indexState, doc domain.Document) bool {
	if ix.partial == nil {
		return true
	}
	ok, err := cs.eng.mtchr.Match(doc, ix.partial)
	return err == nil && ok
}

func (cs *collState) covered(ix *indexState, docs []domain.Document) []domain.Document {
	if ix.partial == nil {
		return docs
	}
	res := make([]domain.Document, 0, len(docs))
	for _, doc := range docs {
		if cs.covers(ix, doc) {
			res = append(res, doc)
		}
	}
	return res
}

func (cs *collState) indexInsert(ctx context.Context, doc domain.Document) error {
	for n, ix := range cs.indexes {
		if !cs.covers(ix, doc) {
			continue
		}
		if err := ix.index.Insert(ctx, doc); err != nil {
			cs.indexRemove(ctx, doc, cs.indexes[:n])
			return badValue(fmt.Errorf("collection: %s index: %s: %w", cs.namespace(), ix.spec.Name, err))
		}
	}
	return nil
}

func (cs *collState) indexRemove(ctx context.Context, doc domain.Document, indexes []*indexState) {
	ctx = context.WithoutCancel(ctx)
	for _, ix := range indexes {
		if cs.covers(ix, doc) {
			_ = ix.index.Remove(ctx, doc)
		}
	}
}

// validate checks doc against the validator of the collection. old is the
// document being replaced, if any.
func (cs *collState) validate(doc, old domain.Document) error {
	opts := cs.options
	if opts.Validator == nil || opts.ValidationLevel == "off" {
		return nil
	}
	validator, err := data.NewDocument(opts.Validator)
	if err != nil {
		return badValue(err)
	}
	ok, err := cs.eng.mtchr.Match(doc, validator)
	if err != nil {
		return badValue(err)
	}
	if ok {
		return nil
	}
	if opts.ValidationLevel == "moderate" && old != nil {
		if wasValid, err := cs.eng.mtchr.Match(old, validator); err == nil && !wasValid {
			return nil
		}
	}
	if opts.ValidationAction == "warn" {
		cs.eng.logger.Warn("document failed validation",
			zap.String("namespace", cs.namespace()),
			zap.Any("_id", doc.ID()),
		)
		return nil
	}
	return commandError(CodeDocumentValidationFailure, "Document failed validation")
}

// insert stores doc, which must already have an _id.
func (cs *collState) insert(ctx context.Context, doc domain.Document) error {
	if err := cs.validate(doc, nil); err != nil {
		return err
	}
	if err := cs.indexInsert(ctx, doc); err != nil {
		return err
	}
	cs.docs = append(cs.docs, doc)
	cs.applyCap(ctx)
	return nil
}

func (cs *collState) remove(ctx context.Context, doc domain.Document) {
	cs.indexRemove(ctx, doc, cs.indexes)
	if n := slices.Index(cs.docs, doc); n >= 0 {
		cs.docs = slices.Delete(cs.docs, n, n+1)
	}
}

// replace swaps old for doc, keeping its position.
func (cs *collState) replace(ctx context.Context, old, doc domain.Document) error {
	if err := cs.validate(doc, old); err != nil {
		return err
	}
	cs.indexRemove(ctx, old, cs.indexes)
	if err := cs.indexInsert(ctx, doc); err != nil {
		if rerr := cs.indexInsert(context.WithoutCancel(ctx), old); rerr != nil {
			cs.eng.logger.Error("restoring index entries", zap.String("namespace", cs.namespace()), zap.Error(rerr))
		}
		return err
	}
	if n := slices.Index(cs.docs, old); n >= 0 {
		cs.docs[n] = doc
	}
	return nil
}

// applyCap drops the oldest documents of a capped collection until it fits.
func (cs *collState) applyCap(ctx context.Context) {
	if !cs.options.Capped {
		return
	}
	size := int64(0)
	sizes := make([]int64, len(cs.docs))
	for n, doc := range cs.docs {
		if raw, err := data.Raw(doc); err == nil {
			sizes[n] = int64(len(raw))
		}
		size += sizes[n]
	}
	drop := 0
	for drop < len(cs.docs) {
		overCount := cs.options.MaxDocuments > 0 && int64(len(cs.docs)-drop) > cs.options.MaxDocuments
		overSize := cs.options.SizeInBytes > 0 && size > cs.options.SizeInBytes
		if !overCount && !overSize {
			break
		}
		size -= sizes[drop]
		drop++
	}
	for _, doc := range slices.Clone(cs.docs[:drop]) {
		cs.remove(ctx, doc)
	}
}

// expire removes the documents of TTL indexes whose date is older than the
// index allows. It reports whether anything was removed.
func (cs *collState) expire(ctx context.Context, now time.Time) bool {
	var expired []domain.Document
	for _, ix := range cs.indexes {
		if ix.spec.ExpireAfterSeconds == nil || len(ix.spec.Keys) != 1 {
			continue
		}
		limit := now.Add(-time.Duration(*ix.spec.ExpireAfterSeconds) * time.Second)
		addr := cs.eng.fn.GetAddress(ix.spec.Keys[0].Key)
		for _, doc := range cs.docs {
			if oldest, ok := cs.oldestDate(doc, addr); ok && !oldest.After(limit) && !slices.Contains(expired, doc) {
				expired = append(expired, doc)
			}
		}
	}
	for _, doc := range expired {
		cs.remove(ctx, doc)
	}
	return len(expired) > 0
}

func (cs *collState) oldestDate(doc domain.Document, addr []string) (time.Time, bool) {
	var (
		oldest time.Time
		found  bool
	)
	fields, _ := cs.eng.fn.GetField(doc, addr...)
	for _, f := range fields {
		v, _ := f.Get()
		values := []any{v}
		if arr, ok := v.([]any); ok {
			values = arr
		}
		for _, item := range values {
			dt, ok := item.(bson.DateTime)
			if !ok {
				continue
			}
			if t := dt.Time(); !found || t.Before(oldest) {
				oldest, found = t, true
			}
		}
	}
	return oldest, found
}

// candidates returns the documents that may match filter, using the _id
// index for plain equality on _id.
func (cs *collState) candidates(filter domain.Document) []domain.Document {
	id, ok := idLookup(filter)
	if !ok {
		return cs.docs
	}
	return cs.indexes[0].index.GetMatching(id)
}

// idLookup returns the _id a filter requires by plain equality.
func idLookup(filter domain.Document) (any, bool) {
	if filter == nil || !filter.Has("_id") {
		return nil, false
	}
	switch filter.ID().(type) {
	case domain.Document, []any, bson.Regex:
		return nil, false
	}
	return filter.ID(), true
}

func (cs *collState) specs() []domain.IndexSpec {
	res := make([]domain.IndexSpec, 0, len(cs.indexes))
	for _, ix := range cs.indexes {
		if ix.spec.Name != idIndexName {
			res = append(res, ix.spec)
		}
	}
	return res
}

func (db *dbState) snapshot() domain.Snapshot {
	names := make([]string, 0, len(db.colls))
	for name := range db.colls {
		names = append(names, name)
	}
	slices.Sort(names)

	snap := domain.Snapshot{Database: db.name}
	for _, name := range names {
		cs := db.colls[name]
		snap.Collections = append(snap.Collections, domain.CollectionSnapshot{
			Name:      cs.name,
			Options:   cs.options,
			Indexes:   cs.specs(),
			Documents: slices.Clone(cs.docs),
		})
	}
	return snap
}

// restore rebuilds the collections of snap into db.
func (e *engine) restore(ctx context.Context, db *dbState, snap domain.Snapshot) error {
	colls := make(map[string]*collState, len(snap.Collections))
	for _, coll := range snap.Collections {
		cs, err := e.newCollState(ctx, db.name, coll.Name, coll.Options)
		if err != nil {
			return err
		}
		cs.docs = slices.Clone(coll.Documents)
		if err := cs.indexes[0].index.Reset(ctx, cs.docs...); err != nil {
			return fmt.Errorf("restoring %s: %w", cs.namespace(), badValue(err))
		}
		for _, spec := range coll.Indexes {
			if _, err := cs.createIndex(ctx, spec); err != nil {
				return fmt.Errorf("restoring index %s of %s: %w", spec.Name, cs.namespace(), err)
			}
		}
		colls[coll.Name] = cs
	}
	db.colls = colls
	return nil
}
