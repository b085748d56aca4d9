package mongoclient

import (
	"context"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.opentelemetry.io/otel/trace"
)

// Collection implements [domain.Collection].
type Collection struct {
	coll     *mongo.Collection
	tracer   trace.Tracer
	database string
}

func (c *Collection) span(ctx context.Context, operation string) (context.Context, func(error)) {
	return span(ctx, c.tracer, c.database, c.coll.Name(), operation)
}

// Name implements [domain.Collection].
func (c *Collection) Name() string { return c.coll.Name() }

// InsertOne implements [domain.Collection].
func (c *Collection) InsertOne(ctx context.Context, doc any) (id any, err error) {
	ctx, end := c.span(ctx, "insert")
	defer func() { end(err) }()
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, translate(err)
	}
	return res.InsertedID, nil
}

// InsertMany implements [domain.Collection].
func (c *Collection) InsertMany(ctx context.Context, docs []any, opts domain.InsertManyOptions) (ids []any, err error) {
	ctx, end := c.span(ctx, "insert")
	defer func() { end(err) }()
	res, err := c.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(!opts.Unordered))
	if err != nil {
		return nil, translate(err)
	}
	return res.InsertedIDs, nil
}

// ReplaceOne implements [domain.Collection].
func (c *Collection) ReplaceOne(ctx context.Context, filter, replacement any, opts domain.ReplaceOptions) (res domain.UpdateResult, err error) {
	ctx, end := c.span(ctx, "replace")
	defer func() { end(err) }()
	r, err := c.coll.ReplaceOne(ctx, filter, replacement, options.Replace().SetUpsert(opts.Upsert))
	return updateResult(r), translate(err)
}

// UpdateOne implements [domain.Collection].
func (c *Collection) UpdateOne(ctx context.Context, filter, update any, opts domain.UpdateOptions) (res domain.UpdateResult, err error) {
	ctx, end := c.span(ctx, "update")
	defer func() { end(err) }()
	r, err := c.coll.UpdateOne(ctx, filter, update, updateOneOptions(opts))
	return updateResult(r), translate(err)
}

// UpdateMany implements [domain.Collection].
func (c *Collection) UpdateMany(ctx context.Context, filter, update any, opts domain.UpdateOptions) (res domain.UpdateResult, err error) {
	ctx, end := c.span(ctx, "update")
	defer func() { end(err) }()
	r, err := c.coll.UpdateMany(ctx, filter, update, updateManyOptions(opts))
	return updateResult(r), translate(err)
}

// DeleteOne implements [domain.Collection].
func (c *Collection) DeleteOne(ctx context.Context, filter any, opts domain.DeleteOptions) (n int64, err error) {
	ctx, end := c.span(ctx, "delete")
	defer func() { end(err) }()
	r, err := c.coll.DeleteOne(ctx, filter, deleteOneOptions(opts))
	if err != nil {
		return 0, translate(err)
	}
	return r.DeletedCount, nil
}

// DeleteMany implements [domain.Collection].
func (c *Collection) DeleteMany(ctx context.Context, filter any, opts domain.DeleteOptions) (n int64, err error) {
	ctx, end := c.span(ctx, "delete")
	defer func() { end(err) }()
	r, err := c.coll.DeleteMany(ctx, filter, deleteManyOptions(opts))
	if err != nil {
		return 0, translate(err)
	}
	return r.DeletedCount, nil
}

// Find implements [domain.Collection]. The time limit of opts bounds the
// whole iteration of the returned cursor.
func (c *Collection) Find(ctx context.Context, filter any, opts domain.FindOptions) (cur domain.Cursor, err error) {
	ctx, cancel := withMaxTime(ctx, opts.MaxTime)
	spanCtx, end := c.span(ctx, "find")
	defer func() { end(err) }()
	mc, err := c.coll.Find(spanCtx, filter, findOptions(opts))
	if err != nil {
		cancel()
		return nil, translate(err)
	}
	return &Cursor{cur: mc, cancel: cancel}, nil
}

// Aggregate implements [domain.Collection].
func (c *Collection) Aggregate(ctx context.Context, pipeline any, opts domain.AggregateOptions) (cur domain.Cursor, err error) {
	ctx, cancel := withMaxTime(ctx, opts.MaxTime)
	spanCtx, end := c.span(ctx, "aggregate")
	defer func() { end(err) }()
	mc, err := c.coll.Aggregate(spanCtx, pipeline, aggregateOptions(opts))
	if err != nil {
		cancel()
		return nil, translate(err)
	}
	return &Cursor{cur: mc, cancel: cancel}, nil
}

// CountDocuments implements [domain.Collection].
func (c *Collection) CountDocuments(ctx context.Context, filter any, opts domain.CountOptions) (n int64, err error) {
	ctx, cancel := withMaxTime(ctx, opts.MaxTime)
	defer cancel()
	ctx, end := c.span(ctx, "count")
	defer func() { end(err) }()
	n, err = c.coll.CountDocuments(ctx, filter, countOptions(opts))
	return n, translate(err)
}

// EstimatedDocumentCount implements [domain.Collection].
func (c *Collection) EstimatedDocumentCount(ctx context.Context) (n int64, err error) {
	ctx, end := c.span(ctx, "count")
	defer func() { end(err) }()
	n, err = c.coll.EstimatedDocumentCount(ctx)
	return n, translate(err)
}

// FindOneAndUpdate implements [domain.Collection].
func (c *Collection) FindOneAndUpdate(ctx context.Context, filter, update any, opts domain.FindOneAndUpdateOptions) (raw bson.Raw, err error) {
	ctx, cancel := withMaxTime(ctx, opts.MaxTime)
	defer cancel()
	ctx, end := c.span(ctx, "findAndModify")
	defer func() { end(err) }()
	raw, err = c.coll.FindOneAndUpdate(ctx, filter, update, findOneAndUpdateOptions(opts)).Raw()
	return raw, translate(err)
}

// FindOneAndDelete implements [domain.Collection].
func (c *Collection) FindOneAndDelete(ctx context.Context, filter any, opts domain.FindOneAndDeleteOptions) (raw bson.Raw, err error) {
	ctx, cancel := withMaxTime(ctx, opts.MaxTime)
	defer cancel()
	ctx, end := c.span(ctx, "findAndModify")
	defer func() { end(err) }()
	raw, err = c.coll.FindOneAndDelete(ctx, filter, findOneAndDeleteOptions(opts)).Raw()
	return raw, translate(err)
}

// CreateIndexes implements [domain.Collection].
func (c *Collection) CreateIndexes(ctx context.Context, indexes []domain.IndexSpec) (names []string, err error) {
	ctx, end := c.span(ctx, "createIndexes")
	defer func() { end(err) }()
	names, err = c.coll.Indexes().CreateMany(ctx, indexModels(indexes))
	return names, translate(err)
}

// Drop implements [domain.Collection].
func (c *Collection) Drop(ctx context.Context) (err error) {
	ctx, end := c.span(ctx, "drop")
	defer func() { end(err) }()
	return translate(c.coll.Drop(ctx))
}

func updateResult(r *mongo.UpdateResult) domain.UpdateResult {
	if r == nil {
		return domain.UpdateResult{}
	}
	return domain.UpdateResult{
		MatchedCount:  r.MatchedCount,
		ModifiedCount: r.ModifiedCount,
		UpsertedCount: r.UpsertedCount,
		UpsertedID:    r.UpsertedID,
	}
}

// Cursor implements [domain.Cursor].
type Cursor struct {
	cur    *mongo.Cursor
	cancel context.CancelFunc
}

// Next implements [domain.Cursor].
func (c *Cursor) Next(ctx context.Context) bool { return c.cur.Next(ctx) }

// Current implements [domain.Cursor].
func (c *Cursor) Current() bson.Raw { return c.cur.Current }

// Err implements [domain.Cursor].
func (c *Cursor) Err() error { return translate(c.cur.Err()) }

// Close implements [domain.Cursor].
func (c *Cursor) Close(ctx context.Context) error {
	defer c.cancel()
	return translate(c.cur.Close(ctx))
}

// Session implements [domain.Session].
type Session struct {
	session *mongo.Session
}

// StartTransaction implements [domain.Session].
func (s *Session) StartTransaction(opts domain.TransactionOptions) error {
	return translate(s.session.StartTransaction(transactionOptions(opts)))
}

// CommitTransaction implements [domain.Session].
func (s *Session) CommitTransaction(ctx context.Context) error {
	return translate(s.session.CommitTransaction(ctx))
}

// AbortTransaction implements [domain.Session].
func (s *Session) AbortTransaction(ctx context.Context) error {
	return translate(s.session.AbortTransaction(ctx))
}

// EndSession implements [domain.Session].
func (s *Session) EndSession(ctx context.Context) { s.session.EndSession(ctx) }

// Bind implements [domain.Session].
func (s *Session) Bind(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, s.session)
}

var (
	_ domain.Collection = (*Collection)(nil)
	_ domain.Cursor     = (*Cursor)(nil)
	_ domain.Session    = (*Session)(nil)
)
