package memclient

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/cursor"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/data"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Collection implements [domain.Collection].
type Collection struct {
	client *Client
	db     string
	name   string
}

// Name implements [domain.Collection].
func (c *Collection) Name() string { return c.name }

// state returns the collection state with the client locked. The caller
// unlocks the client, even when the collection does not exist.
func (c *Collection) state(ctx context.Context, create bool) (*collState, error) {
	if err := c.client.begin(ctx); err != nil {
		return nil, err
	}
	cs, err := c.client.coll(ctx, c.db, c.name, create)
	if err != nil {
		c.client.mu.Unlock()
		return nil, err
	}
	return cs, nil
}

func (c *Collection) touch() {
	if db := c.client.db(c.db, false); db != nil {
		db.dirty = true
	}
}

func withMaxTime(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func unsupportedCollation(operation string, collation *domain.Collation) error {
	if collation == nil {
		return nil
	}
	return &domain.UnsupportedOperationError{
		Operation: operation,
		Reason:    "collations are not evaluated in memory",
	}
}

// document converts the argument of a call, reporting failures as the server
// would.
func document(v any) (domain.Document, error) {
	doc, err := data.NewDocument(v)
	if err != nil {
		return nil, commandError(CodeBadValue, "%s", err)
	}
	return doc, nil
}

func sortDocument(d bson.D) domain.Document {
	if len(d) == 0 {
		return nil
	}
	return data.FromD(d)
}

// query returns the documents matching filter.
func (cs *collState) query(filter domain.Document, options ...domain.QueryOption) ([]domain.Document, error) {
	options = append([]domain.QueryOption{domain.WithQuery(filter)}, options...)
	docs, err := cs.eng.qrr.Query(cs.candidates(filter), options...)
	if err != nil {
		return nil, badValue(err)
	}
	return docs, nil
}

// plan describes the access path query uses for filter.
func (cs *collState) plan(filter domain.Document) bson.D {
	if _, ok := idLookup(filter); ok {
		return bson.D{{Key: "stage", Value: "IDHACK"}}
	}
	for _, ix := range cs.indexes {
		if ix.partial != nil {
			continue
		}
		first := ix.spec.Keys[0].Key
		if !filter.Has(first) {
			continue
		}
		return bson.D{
			{Key: "stage", Value: "FETCH"},
			{Key: "inputStage", Value: bson.D{
				{Key: "stage", Value: "IXSCAN"},
				{Key: "keyPattern", Value: ix.spec.Keys},
				{Key: "indexName", Value: ix.spec.Name},
				{Key: "isUnique", Value: ix.spec.Unique},
				{Key: "isSparse", Value: ix.spec.Sparse},
			}},
		}
	}
	return bson.D{{Key: "stage", Value: "COLLSCAN"}, {Key: "direction", Value: "forward"}}
}

// withID returns doc with _id as its first field, generating an ObjectID
// when it has none.
func withID(doc domain.Document) (domain.Document, error) {
	id := doc.ID()
	switch id.(type) {
	case []any:
		return nil, commandError(CodeBadValue, "can't use an array for _id")
	case bson.Regex:
		return nil, commandError(CodeBadValue, "can't use a regex for _id")
	}
	if !doc.Has("_id") {
		id = bson.NewObjectID()
	}
	res := &data.M{}
	res.Set("_id", id)
	for k, v := range doc.Iter() {
		if k != "_id" {
			res.Set(k, v)
		}
	}
	return res, nil
}

// upsertSeed builds the document an upsert starts from, holding the
// equalities of filter.
func (c *Collection) upsertSeed(filter domain.Document) (domain.Document, error) {
	seed := &data.M{}
	if err := c.seed(seed, filter); err != nil {
		return nil, err
	}
	return seed, nil
}

func (c *Collection) seed(seed, filter domain.Document) error {
	fn := c.client.eng.fn
	for k, v := range filter.Iter() {
		if k == "$and" {
			clauses, _ := v.([]any)
			for _, clause := range clauses {
				if sub, ok := clause.(domain.Document); ok {
					if err := c.seed(seed, sub); err != nil {
						return err
					}
				}
			}
			continue
		}
		if strings.HasPrefix(k, "$") {
			continue
		}
		value, ok := equality(v)
		if !ok {
			continue
		}
		fields, err := fn.EnsureField(seed, nil, fn.GetAddress(k)...)
		if err != nil {
			return badValue(err)
		}
		for _, f := range fields {
			f.Set(data.Clone(value))
		}
	}
	return nil
}

// equality returns the value a filter clause requires a field to be equal
// to.
func equality(v any) (any, bool) {
	switch t := v.(type) {
	case bson.Regex:
		return nil, false
	case domain.Document:
		if t.Has("$eq") {
			return t.Get("$eq"), true
		}
		for k := range t.Keys() {
			if strings.HasPrefix(k, "$") {
				return nil, false
			}
		}
	}
	return v, true
}

// InsertOne implements [domain.Collection].
func (c *Collection) InsertOne(ctx context.Context, doc any) (any, error) {
	d, err := document(doc)
	if err != nil {
		return nil, err
	}
	if d, err = withID(d); err != nil {
		return nil, err
	}
	cs, err := c.state(ctx, true)
	if err != nil {
		return nil, err
	}
	defer c.client.mu.Unlock()

	if err := cs.insert(ctx, d); err != nil {
		return nil, err
	}
	c.touch()
	return d.ID(), nil
}

// InsertMany implements [domain.Collection]. Ordered inserts stop at the
// first failure; unordered ones try every document and join the failures.
func (c *Collection) InsertMany(ctx context.Context, docs []any, opts domain.InsertManyOptions) ([]any, error) {
	prepared := make([]domain.Document, len(docs))
	for n, doc := range docs {
		d, err := document(doc)
		if err == nil {
			d, err = withID(d)
		}
		if err != nil {
			return nil, err
		}
		prepared[n] = d
	}

	cs, err := c.state(ctx, true)
	if err != nil {
		return nil, err
	}
	defer c.client.mu.Unlock()

	ids := make([]any, 0, len(prepared))
	var errs []error
	for _, d := range prepared {
		if err := cs.insert(ctx, d); err != nil {
			errs = append(errs, err)
			if !opts.Unordered {
				break
			}
			continue
		}
		ids = append(ids, d.ID())
	}
	if len(ids) > 0 {
		c.touch()
	}
	return ids, errors.Join(errs...)
}

// changed reports whether a modification produced a different document.
func changed(old, doc domain.Document) bool {
	a, errA := data.Raw(old)
	b, errB := data.Raw(doc)
	return errA != nil || errB != nil || !bytes.Equal(a, b)
}

// ReplaceOne implements [domain.Collection].
func (c *Collection) ReplaceOne(ctx context.Context, filter, replacement any, opts domain.ReplaceOptions) (domain.UpdateResult, error) {
	f, err := document(filter)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	r, err := document(replacement)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	for k := range r.Keys() {
		if strings.HasPrefix(k, "$") {
			return domain.UpdateResult{}, commandError(CodeBadValue, "replacement document must not contain update operators: %s", k)
		}
	}
	return c.write(ctx, f, r, domain.ModifyContext{}, false, opts.Upsert)
}

// UpdateOne implements [domain.Collection].
func (c *Collection) UpdateOne(ctx context.Context, filter, update any, opts domain.UpdateOptions) (domain.UpdateResult, error) {
	return c.update(ctx, filter, update, opts, false)
}

// UpdateMany implements [domain.Collection].
func (c *Collection) UpdateMany(ctx context.Context, filter, update any, opts domain.UpdateOptions) (domain.UpdateResult, error) {
	return c.update(ctx, filter, update, opts, true)
}

// operators converts an update made only of operators.
func operators(operation string, update any) (domain.Document, error) {
	switch update.(type) {
	case bson.A, []any, []bson.D, []bson.M:
		return nil, &domain.UnsupportedOperationError{
			Operation: operation,
			Reason:    "update pipelines are not evaluated in memory",
		}
	}
	u, err := document(update)
	if err != nil {
		return nil, err
	}
	if u.Len() == 0 {
		return nil, commandError(CodeFailedToParse, "update document requires atomic operators")
	}
	for k := range u.Keys() {
		if !strings.HasPrefix(k, "$") {
			return nil, commandError(CodeFailedToParse, "update document requires atomic operators, found %q", k)
		}
	}
	return u, nil
}

func arrayFilters(filters []any) ([]domain.Document, error) {
	res := make([]domain.Document, 0, len(filters))
	for _, f := range filters {
		d, err := document(f)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, nil
}

func (c *Collection) update(ctx context.Context, filter, update any, opts domain.UpdateOptions, multi bool) (domain.UpdateResult, error) {
	if err := unsupportedCollation("update", opts.Collation); err != nil {
		return domain.UpdateResult{}, err
	}
	f, err := document(filter)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	u, err := operators("update", update)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	af, err := arrayFilters(opts.ArrayFilters)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	return c.write(ctx, f, u, domain.ModifyContext{ArrayFilters: af}, multi, opts.Upsert)
}

// write applies u to the documents matching f, inserting one when nothing
// matches and upsert is set.
func (c *Collection) write(ctx context.Context, f, u domain.Document, mc domain.ModifyContext, multi, upsert bool) (domain.UpdateResult, error) {
	var res domain.UpdateResult
	cs, err := c.state(ctx, upsert)
	if err != nil {
		return res, err
	}
	defer c.client.mu.Unlock()
	if cs == nil {
		return res, nil
	}

	var options []domain.QueryOption
	if !multi {
		options = append(options, domain.WithQueryLimit(1))
	}
	matches, err := cs.query(f, options...)
	if err != nil {
		return res, err
	}

	for _, old := range matches {
		res.MatchedCount++
		doc, err := c.client.eng.mod.Modify(old, u, mc)
		if err != nil {
			return res, badValue(err)
		}
		if !changed(old, doc) {
			continue
		}
		if err := cs.replace(ctx, old, doc); err != nil {
			return res, err
		}
		res.ModifiedCount++
		c.touch()
	}
	if res.MatchedCount > 0 || !upsert {
		return res, nil
	}

	doc, err := c.upsert(ctx, cs, f, u, mc)
	if err != nil {
		return res, err
	}
	res.UpsertedCount = 1
	res.UpsertedID = doc.ID()
	return res, nil
}

// upsert inserts the document built from the equalities of f and u.
func (c *Collection) upsert(ctx context.Context, cs *collState, f, u domain.Document, mc domain.ModifyContext) (domain.Document, error) {
	seed, err := c.upsertSeed(f)
	if err != nil {
		return nil, err
	}
	mc.Insert = true
	doc, err := c.client.eng.mod.Modify(seed, u, mc)
	if err != nil {
		return nil, badValue(err)
	}
	if doc, err = withID(doc); err != nil {
		return nil, err
	}
	if err := cs.insert(ctx, doc); err != nil {
		return nil, err
	}
	c.touch()
	return doc, nil
}

// DeleteOne implements [domain.Collection].
func (c *Collection) DeleteOne(ctx context.Context, filter any, opts domain.DeleteOptions) (int64, error) {
	return c.delete(ctx, filter, opts, false)
}

// DeleteMany implements [domain.Collection].
func (c *Collection) DeleteMany(ctx context.Context, filter any, opts domain.DeleteOptions) (int64, error) {
	return c.delete(ctx, filter, opts, true)
}

func (c *Collection) delete(ctx context.Context, filter any, opts domain.DeleteOptions, multi bool) (int64, error) {
	if err := unsupportedCollation("delete", opts.Collation); err != nil {
		return 0, err
	}
	f, err := document(filter)
	if err != nil {
		return 0, err
	}
	cs, err := c.state(ctx, false)
	if err != nil {
		return 0, err
	}
	defer c.client.mu.Unlock()
	if cs == nil {
		return 0, nil
	}

	var options []domain.QueryOption
	if !multi {
		options = append(options, domain.WithQueryLimit(1))
	}
	matches, err := cs.query(f, options...)
	if err != nil {
		return 0, err
	}
	for _, doc := range matches {
		cs.remove(ctx, doc)
	}
	if len(matches) > 0 {
		c.touch()
	}
	return int64(len(matches)), nil
}

// Find implements [domain.Collection]. Results are computed before the
// cursor is returned, so the time limit only bounds the query.
func (c *Collection) Find(ctx context.Context, filter any, opts domain.FindOptions) (domain.Cursor, error) {
	if err := unsupportedCollation("find", opts.Collation); err != nil {
		return nil, err
	}
	ctx, cancel := withMaxTime(ctx, opts.MaxTime)
	defer cancel()

	f, err := document(filter)
	if err != nil {
		return nil, err
	}
	cs, err := c.state(ctx, false)
	if err != nil {
		return nil, err
	}
	defer c.client.mu.Unlock()
	if cs == nil {
		return cursor.NewCursor(nil), nil
	}

	docs, err := cs.query(f,
		domain.WithQuerySort(sortDocument(opts.Sort)),
		domain.WithQueryProjection(sortDocument(opts.Projection)),
		domain.WithQuerySkip(opts.Skip),
		domain.WithQueryLimit(opts.Limit),
	)
	if err != nil {
		return nil, err
	}
	return cursor.NewCursor(docs), nil
}

// CountDocuments implements [domain.Collection].
func (c *Collection) CountDocuments(ctx context.Context, filter any, opts domain.CountOptions) (int64, error) {
	if err := unsupportedCollation("count", opts.Collation); err != nil {
		return 0, err
	}
	ctx, cancel := withMaxTime(ctx, opts.MaxTime)
	defer cancel()

	f, err := document(filter)
	if err != nil {
		return 0, err
	}
	cs, err := c.state(ctx, false)
	if err != nil {
		return 0, err
	}
	defer c.client.mu.Unlock()
	if cs == nil {
		return 0, nil
	}
	docs, err := cs.query(f, domain.WithQuerySkip(opts.Skip), domain.WithQueryLimit(opts.Limit))
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

// EstimatedDocumentCount implements [domain.Collection].
func (c *Collection) EstimatedDocumentCount(ctx context.Context) (int64, error) {
	cs, err := c.state(ctx, false)
	if err != nil {
		return 0, err
	}
	defer c.client.mu.Unlock()
	if cs == nil {
		return 0, nil
	}
	return int64(len(cs.docs)), nil
}

// project encodes doc with projection applied.
func (c *Collection) project(doc domain.Document, projection bson.D) (bson.Raw, error) {
	docs, err := c.client.eng.qrr.Query([]domain.Document{doc}, domain.WithQueryProjection(sortDocument(projection)))
	if err != nil {
		return nil, badValue(err)
	}
	return data.Raw(docs[0])
}

// FindOneAndUpdate implements [domain.Collection].
func (c *Collection) FindOneAndUpdate(ctx context.Context, filter, update any, opts domain.FindOneAndUpdateOptions) (bson.Raw, error) {
	ctx, cancel := withMaxTime(ctx, opts.MaxTime)
	defer cancel()

	f, err := document(filter)
	if err != nil {
		return nil, err
	}
	u, err := operators("findAndModify", update)
	if err != nil {
		return nil, err
	}
	af, err := arrayFilters(opts.ArrayFilters)
	if err != nil {
		return nil, err
	}
	mc := domain.ModifyContext{ArrayFilters: af}

	cs, err := c.state(ctx, opts.Upsert)
	if err != nil {
		return nil, err
	}
	defer c.client.mu.Unlock()
	if cs == nil {
		return nil, domain.ErrNotFound
	}

	matches, err := cs.query(f, domain.WithQuerySort(sortDocument(opts.Sort)), domain.WithQueryLimit(1))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		if !opts.Upsert {
			return nil, domain.ErrNotFound
		}
		doc, err := c.upsert(ctx, cs, f, u, mc)
		if err != nil {
			return nil, err
		}
		if !opts.ReturnNew {
			return nil, domain.ErrNotFound
		}
		return c.project(doc, opts.Projection)
	}

	old := matches[0]
	doc, err := c.client.eng.mod.Modify(old, u, mc)
	if err != nil {
		return nil, badValue(err)
	}
	if changed(old, doc) {
		if err := cs.replace(ctx, old, doc); err != nil {
			return nil, err
		}
		c.touch()
	}
	if opts.ReturnNew {
		return c.project(doc, opts.Projection)
	}
	return c.project(old, opts.Projection)
}

// FindOneAndDelete implements [domain.Collection].
func (c *Collection) FindOneAndDelete(ctx context.Context, filter any, opts domain.FindOneAndDeleteOptions) (bson.Raw, error) {
	ctx, cancel := withMaxTime(ctx, opts.MaxTime)
	defer cancel()

	f, err := document(filter)
	if err != nil {
		return nil, err
	}
	cs, err := c.state(ctx, false)
	if err != nil {
		return nil, err
	}
	defer c.client.mu.Unlock()
	if cs == nil {
		return nil, domain.ErrNotFound
	}

	matches, err := cs.query(f, domain.WithQuerySort(sortDocument(opts.Sort)), domain.WithQueryLimit(1))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, domain.ErrNotFound
	}
	cs.remove(ctx, matches[0])
	c.touch()
	return c.project(matches[0], opts.Projection)
}

// CreateIndexes implements [domain.Collection]. Only ascending and
// descending keys are supported.
func (c *Collection) CreateIndexes(ctx context.Context, indexes []domain.IndexSpec) ([]string, error) {
	for _, spec := range indexes {
		for _, k := range spec.Keys {
			if _, ok := k.Value.(string); ok {
				return nil, &domain.UnsupportedOperationError{
					Operation: "createIndexes",
					Reason:    "text and geospatial indexes are not supported in memory: " + k.Key,
				}
			}
		}
	}

	cs, err := c.state(ctx, true)
	if err != nil {
		return nil, err
	}
	defer c.client.mu.Unlock()

	names := make([]string, 0, len(indexes))
	for _, spec := range indexes {
		if spec.Name == "" {
			spec.Name = indexName(spec.Keys)
		}
		created, err := cs.createIndex(ctx, spec)
		if err != nil {
			return names, err
		}
		if created {
			c.touch()
		}
		names = append(names, spec.Name)
	}
	return names, nil
}

// Drop implements [domain.Collection]. Dropping a missing collection
// succeeds.
func (c *Collection) Drop(ctx context.Context) error {
	if err := c.client.begin(ctx); err != nil {
		return err
	}
	defer c.client.mu.Unlock()
	db := c.client.db(c.db, false)
	if db == nil {
		return nil
	}
	if _, ok := db.colls[c.name]; ok {
		delete(db.colls, c.name)
		db.dirty = true
	}
	return nil
}

var _ domain.Collection = (*Collection)(nil)
