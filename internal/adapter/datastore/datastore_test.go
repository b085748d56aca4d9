package datastore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/mapper"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/filters"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var ctx = context.Background()

var errHook = errors.New("hook failed")

type account struct {
	ID      string
	Version int64  `gedm:"v,version"`
	Name    string `gedm:"n"`
}

type note struct {
	ID   string
	Text string `gedm:"t"`
}

type order struct {
	ID     string
	Tenant string `gedm:"tn,shardkey"`
	Total  int    `gedm:"tt"`
}

type profile struct {
	ID      string
	Version int64  `gedm:"v,version"`
	Name    string `gedm:"n"`
	Bio     string `gedm:"b,omitempty"`
}

type event struct {
	ID      string
	Created time.Time `gedm:"c,createdAt"`
	Updated time.Time `gedm:"u,updatedAt"`
	pre     int
	post    int
	loaded  int
	fail    bool
}

func (e *event) PrePersist(context.Context) error {
	e.pre++
	if e.fail {
		return errHook
	}
	return nil
}

func (e *event) PostPersist(context.Context) error {
	e.post++
	return nil
}

func (e *event) PostLoad(context.Context) error {
	e.loaded++
	return nil
}

type timeGetterMock struct{ mock.Mock }

func (t *timeGetterMock) GetTime() time.Time { return t.Called().Get(0).(time.Time) }

type idGeneratorMock struct{ mock.Mock }

func (g *idGeneratorMock) GenerateID(t reflect.Type) (any, bool, error) {
	call := g.Called(t)
	return call.Get(0), call.Bool(1), call.Error(2)
}

type metricsMock struct{ mock.Mock }

func (m *metricsMock) ObserveOperation(operation, collection string, d time.Duration, err error) {
	m.Called(operation, collection, err)
}

func (m *metricsMock) Conflict(collection, cause string) { m.Called(collection, cause) }

type clientMock struct {
	mock.Mock
	db domain.Database
}

func (c *clientMock) Database(string) domain.Database { return c.db }

func (c *clientMock) StartSession(ctx context.Context, options domain.SessionOptions) (domain.Session, error) {
	call := c.Called(options)
	sess, _ := call.Get(0).(domain.Session)
	return sess, call.Error(1)
}

func (c *clientMock) Disconnect(context.Context) error { return nil }

type databaseMock struct{ mock.Mock }

func (d *databaseMock) Name() string { return "test" }

func (d *databaseMock) Collection(name string, options domain.CollectionOptions) domain.Collection {
	return d.Called(name, options).Get(0).(domain.Collection)
}

func (d *databaseMock) RunCommand(ctx context.Context, cmd any) (bson.Raw, error) {
	call := d.Called(cmd)
	raw, _ := call.Get(0).(bson.Raw)
	return raw, call.Error(1)
}

func (d *databaseMock) CreateCollection(ctx context.Context, name string, options domain.CreateCollectionOptions) error {
	return d.Called(name, options).Error(0)
}

func (d *databaseMock) ListCollectionNames(ctx context.Context, filter any) ([]string, error) {
	call := d.Called(filter)
	names, _ := call.Get(0).([]string)
	return names, call.Error(1)
}

// collectionMock records the context of every call so that session binding
// can be checked.
type collectionMock struct {
	mock.Mock
	name string
	ctxs []context.Context
}

func (c *collectionMock) Name() string { return c.name }

func (c *collectionMock) InsertOne(ctx context.Context, doc any) (any, error) {
	c.ctxs = append(c.ctxs, ctx)
	call := c.Called(doc)
	return call.Get(0), call.Error(1)
}

func (c *collectionMock) InsertMany(ctx context.Context, docs []any, options domain.InsertManyOptions) ([]any, error) {
	c.ctxs = append(c.ctxs, ctx)
	call := c.Called(docs, options)
	ids, _ := call.Get(0).([]any)
	return ids, call.Error(1)
}

func (c *collectionMock) ReplaceOne(ctx context.Context, filter, replacement any, options domain.ReplaceOptions) (domain.UpdateResult, error) {
	c.ctxs = append(c.ctxs, ctx)
	call := c.Called(filter, replacement, options)
	return call.Get(0).(domain.UpdateResult), call.Error(1)
}

func (c *collectionMock) UpdateOne(ctx context.Context, filter, update any, options domain.UpdateOptions) (domain.UpdateResult, error) {
	c.ctxs = append(c.ctxs, ctx)
	call := c.Called(filter, update, options)
	return call.Get(0).(domain.UpdateResult), call.Error(1)
}

func (c *collectionMock) UpdateMany(ctx context.Context, filter, update any, options domain.UpdateOptions) (domain.UpdateResult, error) {
	call := c.Called(filter, update, options)
	return call.Get(0).(domain.UpdateResult), call.Error(1)
}

func (c *collectionMock) DeleteOne(ctx context.Context, filter any, options domain.DeleteOptions) (int64, error) {
	call := c.Called(filter, options)
	return call.Get(0).(int64), call.Error(1)
}

func (c *collectionMock) DeleteMany(ctx context.Context, filter any, options domain.DeleteOptions) (int64, error) {
	call := c.Called(filter, options)
	return call.Get(0).(int64), call.Error(1)
}

func (c *collectionMock) Find(ctx context.Context, filter any, options domain.FindOptions) (domain.Cursor, error) {
	call := c.Called(filter, options)
	cur, _ := call.Get(0).(domain.Cursor)
	return cur, call.Error(1)
}

func (c *collectionMock) Aggregate(ctx context.Context, pipeline any, options domain.AggregateOptions) (domain.Cursor, error) {
	call := c.Called(pipeline, options)
	cur, _ := call.Get(0).(domain.Cursor)
	return cur, call.Error(1)
}

func (c *collectionMock) CountDocuments(ctx context.Context, filter any, options domain.CountOptions) (int64, error) {
	call := c.Called(filter, options)
	return call.Get(0).(int64), call.Error(1)
}

func (c *collectionMock) EstimatedDocumentCount(ctx context.Context) (int64, error) {
	call := c.Called()
	return call.Get(0).(int64), call.Error(1)
}

func (c *collectionMock) FindOneAndUpdate(ctx context.Context, filter, update any, options domain.FindOneAndUpdateOptions) (bson.Raw, error) {
	call := c.Called(filter, update, options)
	raw, _ := call.Get(0).(bson.Raw)
	return raw, call.Error(1)
}

func (c *collectionMock) FindOneAndDelete(ctx context.Context, filter any, options domain.FindOneAndDeleteOptions) (bson.Raw, error) {
	call := c.Called(filter, options)
	raw, _ := call.Get(0).(bson.Raw)
	return raw, call.Error(1)
}

func (c *collectionMock) CreateIndexes(ctx context.Context, indexes []domain.IndexSpec) ([]string, error) {
	call := c.Called(indexes)
	names, _ := call.Get(0).([]string)
	return names, call.Error(1)
}

func (c *collectionMock) Drop(context.Context) error { return c.Called().Error(0) }

type sessionKey struct{}

type sessionMock struct{ mock.Mock }

func (m *sessionMock) StartTransaction(options domain.TransactionOptions) error {
	return m.Called(options).Error(0)
}

func (m *sessionMock) CommitTransaction(ctx context.Context) error {
	return m.Called(ctx.Value(sessionKey{})).Error(0)
}

func (m *sessionMock) AbortTransaction(ctx context.Context) error {
	return m.Called(ctx.Value(sessionKey{})).Error(0)
}

func (m *sessionMock) EndSession(context.Context) { m.Called() }

func (m *sessionMock) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, sessionKey{}, "bound")
}

type sliceCursor struct {
	docs []bson.Raw
	pos  int
}

func (c *sliceCursor) Next(context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Current() bson.Raw { return c.docs[c.pos-1] }
func (c *sliceCursor) Err() error { return nil }
func (c *sliceCursor) Close(context.Context) error { return nil }

type DatastoreTestSuite struct {
	suite.Suite
	d       *Datastore
	mapper  domain.Mapper
	client  *clientMock
	db      *databaseMock
	coll    *collectionMock
	ids     *idGeneratorMock
	clock   *timeGetterMock
	metrics *metricsMock
	now     time.Time
}

func (s *DatastoreTestSuite) SetupTest() {
	s.mapper = mapper.NewMapper()
	s.db = new(databaseMock)
	s.client = &clientMock{db: s.db}
	s.coll = &collectionMock{name: "coll"}
	s.ids = new(idGeneratorMock)
	s.clock = new(timeGetterMock)
	s.metrics = new(metricsMock)
	s.now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	s.db.On("Collection", mock.Anything, mock.Anything).Return(s.coll)
	s.clock.On("GetTime").Return(s.now)
	s.metrics.On("ObserveOperation", mock.Anything, mock.Anything, mock.Anything).Return()

	d, err := NewDatastore(s.client, "test",
		domain.WithMapper(s.mapper),
		domain.WithIDGenerator(s.ids),
		domain.WithTimeGetter(s.clock),
		domain.WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
	s.d = d.(*Datastore)
}

func (s *DatastoreTestSuite) raw(doc bson.D) bson.Raw {
	raw, err := bson.Marshal(doc)
	s.Require().NoError(err)
	return raw
}

func matched(n int64) domain.UpdateResult {
	return domain.UpdateResult{MatchedCount: n, ModifiedCount: n}
}

// NewDatastore should reject a missing client or database name.
func (s *DatastoreTestSuite) TestNewDatastore() {
	var ve *domain.ValidationError
	_, err := NewDatastore(nil, "test")
	s.ErrorAs(err, &ve)
	_, err = NewDatastore(s.client, "")
	s.ErrorAs(err, &ve)

	d, err := NewDatastore(s.client, "test")
	s.NoError(err)
	s.NotNil(d.Mapper())
	s.NotNil(d.Codec())
	s.NotNil(d.Resolver())
	s.NotNil(d.Metrics())
	s.Equal(s.db, d.Database())
}

// Collection handles should carry the write concern of the entity.
func (s *DatastoreTestSuite) TestCollection() {
	w := domain.WriteConcern{W: "majority"}
	model, err := s.mapper.Map(reflect.TypeFor[note](), domain.WithWriteConcern(w))
	s.Require().NoError(err)
	s.d.Collection(model)
	s.db.AssertCalled(s.T(), "Collection", "note", domain.CollectionOptions{WriteConcern: &w})
}

// Non entities and nil pointers should be rejected before any call.
func (s *DatastoreTestSuite) TestNotMapped() {
	var nm *domain.NotMappedError
	s.ErrorAs(s.d.Insert(ctx, note{ID: "a"}), &nm)
	s.ErrorAs(s.d.Insert(ctx, (*note)(nil)), &nm)
	s.coll.AssertNotCalled(s.T(), "InsertOne", mock.Anything)
}

// Insert should generate missing ids and start versions at one.
func (s *DatastoreTestSuite) TestInsert() {
	s.ids.On("GenerateID", reflect.TypeFor[string]()).Return("gen", true, nil).Once()
	s.coll.On("InsertOne", bson.D{
		{Key: "_id", Value: "gen"},
		{Key: "v", Value: int64(1)},
		{Key: "n", Value: "x"},
	}).Return("gen", nil).Once()

	a := &account{Name: "x"}
	s.NoError(s.d.Insert(ctx, a))
	s.Equal(&account{ID: "gen", Version: 1, Name: "x"}, a)
	s.coll.AssertExpectations(s.T())
}

// Ids returned by the driver should be adopted when none was generated.
func (s *DatastoreTestSuite) TestInsertAdoptsID() {
	s.ids.On("GenerateID", mock.Anything).Return(nil, false, nil).Once()
	s.coll.On("InsertOne", bson.D{{Key: "t", Value: "x"}}).Return("db", nil).Once()

	n := &note{Text: "x"}
	s.NoError(s.d.Insert(ctx, n))
	s.Equal("db", n.ID)
}

// A versioned insert of a stored id should fail as a version conflict and
// leave the entity as it was.
func (s *DatastoreTestSuite) TestInsertDuplicate() {
	s.ids.On("GenerateID", mock.Anything).Return("gen", true, nil).Once()
	s.coll.On("InsertOne", mock.Anything).
		Return(nil, fmt.Errorf("E11000: %w", domain.ErrDuplicateKey)).Once()
	s.metrics.On("Conflict", "coll", "duplicate_key").Return().Once()

	a := &account{Name: "x"}
	err := s.d.Insert(ctx, a)
	s.ErrorIs(err, domain.ErrConflict)
	s.ErrorIs(err, domain.ErrVersionMismatch)
	s.ErrorIs(err, domain.ErrDuplicateKey)
	s.Equal(&account{Name: "x"}, a)
	s.metrics.AssertExpectations(s.T())
}

// Save of a versioned entity with no version should insert it.
func (s *DatastoreTestSuite) TestSaveVersionedNew() {
	s.coll.On("InsertOne", bson.D{
		{Key: "_id", Value: "a"},
		{Key: "v", Value: int64(1)},
		{Key: "n", Value: "x"},
	}).Return("a", nil).Once()

	a := &account{ID: "a", Name: "x"}
	s.NoError(s.d.Save(ctx, a))
	s.Equal(int64(1), a.Version)
	s.coll.AssertNotCalled(s.T(), "ReplaceOne", mock.Anything, mock.Anything, mock.Anything)
}

// Save of a versioned entity should compare and swap its version.
func (s *DatastoreTestSuite) TestSaveVersioned() {
	s.coll.On("ReplaceOne",
		bson.D{{Key: "_id", Value: "a"}, {Key: "v", Value: int64(3)}},
		bson.D{{Key: "_id", Value: "a"}, {Key: "v", Value: int64(4)}, {Key: "n", Value: "x"}},
		domain.ReplaceOptions{},
	).Return(matched(1), nil).Once()

	a := &account{ID: "a", Version: 3, Name: "x"}
	s.NoError(s.d.Save(ctx, a))
	s.Equal(int64(4), a.Version)
}

// A versioned save that matches nothing should restore the version and
// fail with a version conflict.
func (s *DatastoreTestSuite) TestSaveVersionMismatch() {
	s.coll.On("ReplaceOne", mock.Anything, mock.Anything, mock.Anything).Return(matched(0), nil).Once()
	s.metrics.On("Conflict", "coll", "version").Return().Once()

	a := &account{ID: "a", Version: 3, Name: "x"}
	err := s.d.Save(ctx, a)
	var vm *domain.VersionMismatchError
	s.Require().ErrorAs(err, &vm)
	s.Equal(int64(3), vm.Version)
	s.Equal("a", vm.ID)
	s.ErrorIs(err, domain.ErrConflict)
	s.NotErrorIs(err, domain.ErrShardKeyMismatch)
	s.Equal(int64(3), a.Version)
}

// Unversioned entities with an id should be upserted.
func (s *DatastoreTestSuite) TestSaveUnversioned() {
	s.coll.On("ReplaceOne",
		bson.D{{Key: "_id", Value: "a"}},
		bson.D{{Key: "_id", Value: "a"}, {Key: "t", Value: "x"}},
		domain.ReplaceOptions{Upsert: true},
	).Return(domain.UpdateResult{UpsertedCount: 1, UpsertedID: "a"}, nil).Once()

	s.NoError(s.d.Save(ctx, &note{ID: "a", Text: "x"}))
	s.coll.AssertExpectations(s.T())
}

// Replace should never insert, and report a missing entity.
func (s *DatastoreTestSuite) TestReplace() {
	var mi *domain.MissingIDError
	s.ErrorAs(s.d.Replace(ctx, &note{Text: "x"}), &mi)

	s.coll.On("ReplaceOne", bson.D{{Key: "_id", Value: "a"}}, mock.Anything, domain.ReplaceOptions{}).
		Return(matched(0), nil).Once()
	err := s.d.Replace(ctx, &note{ID: "a", Text: "x"})
	s.ErrorIs(err, domain.ErrNotFound)
	s.NotErrorIs(err, domain.ErrConflict)
}

// Writes on sharded entities should filter by shard key and report a
// shard key conflict when nothing matches.
func (s *DatastoreTestSuite) TestShardKeyMismatch() {
	s.coll.On("ReplaceOne",
		bson.D{{Key: "_id", Value: "a"}, {Key: "tn", Value: "t1"}},
		mock.Anything, domain.ReplaceOptions{},
	).Return(matched(0), nil).Once()
	s.metrics.On("Conflict", "coll", "shard_key").Return().Once()

	err := s.d.Replace(ctx, &order{ID: "a", Tenant: "t1", Total: 3})
	var sk *domain.ShardKeyMismatchError
	s.Require().ErrorAs(err, &sk)
	s.Equal(map[string]any{"Tenant": "t1"}, sk.ShardKeys)
	s.ErrorIs(err, domain.ErrConflict)
	s.ErrorIs(err, domain.ErrShardKeyMismatch)
	s.NotErrorIs(err, domain.ErrVersionMismatch)
}

// Driver errors should roll the version back and be returned as they are.
func (s *DatastoreTestSuite) TestReplaceError() {
	boom := errors.New("boom")
	s.coll.On("ReplaceOne", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.UpdateResult{}, boom).Once()

	a := &account{ID: "a", Version: 7}
	s.ErrorIs(s.d.Save(ctx, a), boom)
	s.Equal(int64(7), a.Version)
}

// InsertMany should insert every collection with one call.
func (s *DatastoreTestSuite) TestInsertMany() {
	s.coll.On("InsertMany", []any{
		bson.D{{Key: "_id", Value: "a"}, {Key: "t", Value: "x"}},
		bson.D{{Key: "_id", Value: "b"}, {Key: "t", Value: "y"}},
	}, domain.InsertManyOptions{Unordered: true}).Return([]any{"a", "b"}, nil).Once()

	s.NoError(s.d.InsertMany(ctx, []any{&note{ID: "a", Text: "x"}, &note{ID: "b", Text: "y"}},
		domain.WithUnordered(true)))
	s.coll.AssertExpectations(s.T())
}

// A failed InsertMany should roll back every entity of the call.
func (s *DatastoreTestSuite) TestInsertManyRollback() {
	boom := errors.New("boom")
	s.coll.On("InsertMany", mock.Anything, mock.Anything).Return(nil, boom).Once()

	a, b := &account{ID: "a"}, &account{ID: "b"}
	s.ErrorIs(s.d.InsertMany(ctx, []any{a, b}), boom)
	s.Zero(a.Version)
	s.Zero(b.Version)
}

// SaveMany should bulk insert new entities and save the others one at a
// time.
func (s *DatastoreTestSuite) TestSaveMany() {
	s.ids.On("GenerateID", mock.Anything).Return("g1", true, nil).Once()
	s.ids.On("GenerateID", mock.Anything).Return("g2", true, nil).Once()
	s.coll.On("InsertMany", []any{
		bson.D{{Key: "_id", Value: "g1"}, {Key: "v", Value: int64(1)}, {Key: "n", Value: "a"}},
		bson.D{{Key: "_id", Value: "g2"}, {Key: "v", Value: int64(1)}, {Key: "n", Value: "b"}},
	}, domain.InsertManyOptions{}).Return([]any{"g1", "g2"}, nil).Once()
	s.coll.On("ReplaceOne",
		bson.D{{Key: "_id", Value: "c"}, {Key: "v", Value: int64(2)}},
		mock.Anything, domain.ReplaceOptions{},
	).Return(matched(1), nil).Once()

	a, b, c := &account{Name: "a"}, &account{Name: "b"}, &account{ID: "c", Version: 2, Name: "c"}
	s.NoError(s.d.SaveMany(ctx, []any{a, c, b}))
	s.coll.AssertNumberOfCalls(s.T(), "InsertMany", 1)
	s.coll.AssertNumberOfCalls(s.T(), "ReplaceOne", 1)
	s.coll.AssertNotCalled(s.T(), "InsertOne", mock.Anything)
	s.Equal("g1", a.ID)
	s.Equal("g2", b.ID)
	s.Equal(int64(3), c.Version)
}

// Merge should set the stored fields and increment the version.
func (s *DatastoreTestSuite) TestMerge() {
	s.coll.On("UpdateOne",
		bson.D{{Key: "_id", Value: "a"}, {Key: "v", Value: int64(2)}},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "n", Value: "x"}}},
			{Key: "$inc", Value: bson.D{{Key: "v", Value: 1}}},
		},
		domain.UpdateOptions{},
	).Return(matched(1), nil).Once()

	p := &profile{ID: "a", Version: 2, Name: "x"}
	s.NoError(s.d.Merge(ctx, p))
	s.Equal(int64(3), p.Version)
}

// Merge with unset missing should remove fields the entity does not store.
func (s *DatastoreTestSuite) TestMergeUnsetMissing() {
	s.coll.On("UpdateOne",
		bson.D{{Key: "_id", Value: "a"}, {Key: "v", Value: int64(2)}},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "n", Value: "x"}}},
			{Key: "$unset", Value: bson.D{{Key: "b", Value: ""}}},
			{Key: "$inc", Value: bson.D{{Key: "v", Value: 1}}},
		},
		domain.UpdateOptions{},
	).Return(matched(1), nil).Once()

	p := &profile{ID: "a", Version: 2, Name: "x"}
	s.NoError(s.d.Merge(ctx, p, domain.WithUnsetMissing(true)))
	s.Equal(int64(3), p.Version)
}

// A merge that matches nothing should be a version conflict.
func (s *DatastoreTestSuite) TestMergeMismatch() {
	s.coll.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(matched(0), nil).Once()
	s.metrics.On("Conflict", "coll", "version").Return().Once()

	p := &profile{ID: "a", Version: 2, Name: "x"}
	s.ErrorIs(s.d.Merge(ctx, p), domain.ErrVersionMismatch)
	s.Equal(int64(2), p.Version)

	var mi *domain.MissingIDError
	s.ErrorAs(s.d.Merge(ctx, &profile{Name: "x"}), &mi)
}

// Delete should filter by id only.
func (s *DatastoreTestSuite) TestDelete() {
	s.coll.On("DeleteOne", bson.D{{Key: "_id", Value: "a"}}, domain.DeleteOptions{}).Return(int64(1), nil).Once()
	n, err := s.d.Delete(ctx, &account{ID: "a", Version: 9})
	s.NoError(err)
	s.Equal(int64(1), n)

	_, err = s.d.Delete(ctx, &account{})
	var mi *domain.MissingIDError
	s.ErrorAs(err, &mi)
}

// Refresh should reload the entity, clearing fields the stored document
// lacks.
func (s *DatastoreTestSuite) TestRefresh() {
	cur := &sliceCursor{docs: []bson.Raw{s.raw(bson.D{{Key: "_id", Value: "a"}, {Key: "v", Value: int64(5)}})}}
	s.coll.On("Find", bson.D{{Key: "_id", Value: "a"}}, domain.FindOptions{Limit: 1}).Return(cur, nil).Once()

	a := &account{ID: "a", Version: 2, Name: "stale"}
	s.NoError(s.d.Refresh(ctx, a))
	s.Equal(&account{ID: "a", Version: 5}, a)

	s.coll.On("Find", mock.Anything, mock.Anything).Return(&sliceCursor{}, nil).Once()
	s.ErrorIs(s.d.Refresh(ctx, a), domain.ErrNotFound)
	s.Equal(int64(5), a.Version)
}

// Hooks should run around writes and timestamps should be set.
func (s *DatastoreTestSuite) TestHooksAndTimestamps() {
	s.coll.On("InsertOne", bson.D{
		{Key: "_id", Value: "e"},
		{Key: "c", Value: s.now},
		{Key: "u", Value: s.now},
	}).Return("e", nil).Once()

	e := &event{ID: "e"}
	s.NoError(s.d.Insert(ctx, e))
	s.Equal(1, e.pre)
	s.Equal(1, e.post)
	s.Equal(s.now, e.Created)
	s.Equal(s.now, e.Updated)

	later := s.now.Add(time.Hour)
	s.clock.ExpectedCalls = nil
	s.clock.On("GetTime").Return(later)
	s.coll.On("ReplaceOne", mock.Anything, bson.D{
		{Key: "_id", Value: "e"},
		{Key: "c", Value: s.now},
		{Key: "u", Value: later},
	}, domain.ReplaceOptions{Upsert: true}).Return(matched(1), nil).Once()
	s.NoError(s.d.Save(ctx, e))
	s.Equal(s.now, e.Created)
	s.Equal(later, e.Updated)
	s.Equal(2, e.post)

	cur := &sliceCursor{docs: []bson.Raw{s.raw(bson.D{{Key: "_id", Value: "e"}})}}
	s.coll.On("Find", mock.Anything, mock.Anything).Return(cur, nil).Once()
	s.NoError(s.d.Refresh(ctx, e))
	s.Equal(1, e.loaded)
}

// A failing pre persist hook should stop the write.
func (s *DatastoreTestSuite) TestPrePersistError() {
	e := &event{ID: "e", fail: true}
	s.ErrorIs(s.d.Insert(ctx, e), errHook)
	s.Zero(e.post)
	s.True(e.Updated.IsZero())
	s.coll.AssertNotCalled(s.T(), "InsertOne", mock.Anything)
}

// EnsureIndexes should resolve index fields and create every index of a
// collection at once.
func (s *DatastoreTestSuite) TestEnsureIndexes() {
	_, err := s.mapper.Map(reflect.TypeFor[profile](),
		domain.WithIndex(domain.IndexModel{
			Name:   "name",
			Keys:   []domain.IndexKey{{Field: "Name"}, {Field: "Version", Kind: -1}},
			Unique: true,
		}),
		domain.WithIndex(domain.IndexModel{
			Keys:          []domain.IndexKey{{Field: "Bio", Kind: "text"}},
			ExpireAfter:   time.Hour,
			PartialFilter: filters.Eq("Name", "x"),
		}),
	)
	s.Require().NoError(err)
	_, err = s.mapper.Model(reflect.TypeFor[note]())
	s.Require().NoError(err)

	ttl := int32(3600)
	s.coll.On("CreateIndexes", []domain.IndexSpec{
		{Keys: bson.D{{Key: "n", Value: 1}, {Key: "v", Value: -1}}, Name: "name", Unique: true},
		{
			Keys:                    bson.D{{Key: "b", Value: "text"}},
			ExpireAfterSeconds:      &ttl,
			PartialFilterExpression: bson.D{{Key: "n", Value: "x"}},
		},
	}).Return([]string{"name", "b_text"}, nil).Once()

	s.NoError(s.d.EnsureIndexes(ctx))
	s.coll.AssertNumberOfCalls(s.T(), "CreateIndexes", 1)
}

// Unknown index fields should fail before any call.
func (s *DatastoreTestSuite) TestEnsureIndexesInvalid() {
	_, err := s.mapper.Map(reflect.TypeFor[note](),
		domain.WithIndex(domain.IndexModel{Keys: []domain.IndexKey{{Field: "Nope"}}}))
	s.Require().NoError(err)
	var me *domain.MappingError
	s.ErrorAs(s.d.EnsureIndexes(ctx), &me)
	s.coll.AssertNotCalled(s.T(), "CreateIndexes", mock.Anything)
}

// EnsureCaps should only create missing capped collections.
func (s *DatastoreTestSuite) TestEnsureCaps() {
	_, err := s.mapper.Map(reflect.TypeFor[note](), domain.WithCapped(1024, 10))
	s.Require().NoError(err)
	_, err = s.mapper.Map(reflect.TypeFor[account](), domain.WithCapped(2048, 0))
	s.Require().NoError(err)
	_, err = s.mapper.Model(reflect.TypeFor[order]())
	s.Require().NoError(err)

	s.db.On("ListCollectionNames", bson.D{}).Return([]string{"account"}, nil).Once()
	s.db.On("CreateCollection", "note", domain.CreateCollectionOptions{
		Capped: true, SizeInBytes: 1024, MaxDocuments: 10,
	}).Return(nil).Once()

	s.NoError(s.d.EnsureCaps(ctx))
	s.db.AssertNumberOfCalls(s.T(), "CreateCollection", 1)
}

// Validations should use collMod, creating collections that do not exist.
func (s *DatastoreTestSuite) TestApplyDocumentValidations() {
	_, err := s.mapper.Map(reflect.TypeFor[note](), domain.WithValidation(domain.ValidationOptions{
		Validator: filters.Exists("Text"),
		Level:     "moderate",
	}))
	s.Require().NoError(err)
	_, err = s.mapper.Map(reflect.TypeFor[account](), domain.WithValidation(domain.ValidationOptions{
		Validator: filters.Eq("Name", "x"),
		Action:    "warn",
	}))
	s.Require().NoError(err)

	exists := bson.D{{Key: "t", Value: bson.D{{Key: "$exists", Value: true}}}}
	s.db.On("RunCommand", bson.D{
		{Key: "collMod", Value: "note"},
		{Key: "validator", Value: exists},
		{Key: "validationLevel", Value: "moderate"},
	}).Return(nil, &domain.CommandError{Code: domain.CodeNamespaceNotFound, Message: "ns not found"}).Once()
	s.db.On("CreateCollection", "note", domain.CreateCollectionOptions{
		Validator:       exists,
		ValidationLevel: "moderate",
	}).Return(nil).Once()
	s.db.On("RunCommand", bson.D{
		{Key: "collMod", Value: "account"},
		{Key: "validator", Value: bson.D{{Key: "n", Value: "x"}}},
		{Key: "validationAction", Value: "warn"},
	}).Return(bson.Raw(nil), nil).Once()

	s.NoError(s.d.ApplyDocumentValidations(ctx))
	s.db.AssertExpectations(s.T())
}

// Other command errors should not create collections.
func (s *DatastoreTestSuite) TestApplyDocumentValidationsError() {
	_, err := s.mapper.Map(reflect.TypeFor[note](), domain.WithValidation(domain.ValidationOptions{
		Validator: filters.Exists("Text"),
	}))
	s.Require().NoError(err)
	s.db.On("RunCommand", mock.Anything).Return(nil, &domain.CommandError{Code: 13, Message: "unauthorized"}).Once()

	var ce *domain.CommandError
	s.ErrorAs(s.d.ApplyDocumentValidations(ctx), &ce)
	s.db.AssertNotCalled(s.T(), "CreateCollection", mock.Anything, mock.Anything)
}

func (s *DatastoreTestSuite) startSession() (*SessionDatastore, *sessionMock) {
	sess := new(sessionMock)
	s.client.On("StartSession", domain.SessionOptions{}).Return(sess, nil).Once()
	sd, err := s.d.StartSession(ctx)
	s.Require().NoError(err)
	return sd.(*SessionDatastore), sess
}

// Session datastores should bind the session to every call and refuse
// calls once ended.
func (s *DatastoreTestSuite) TestSession() {
	sd, sess := s.startSession()
	s.coll.On("InsertOne", mock.Anything).Return("a", nil).Once()

	s.NoError(sd.Insert(ctx, &note{ID: "a"}))
	s.Require().Len(s.coll.ctxs, 1)
	s.Equal("bound", s.coll.ctxs[0].Value(sessionKey{}))

	sess.On("StartTransaction", domain.TransactionOptions{ReadConcern: "snapshot"}).Return(nil).Once()
	sess.On("CommitTransaction", "bound").Return(nil).Once()
	s.NoError(sd.StartTransaction(domain.WithReadConcern("snapshot")))
	s.NoError(sd.CommitTransaction(ctx))

	sess.On("EndSession").Return().Once()
	sd.EndSession(ctx)
	sd.EndSession(ctx)
	sess.AssertNumberOfCalls(s.T(), "EndSession", 1)

	s.ErrorIs(sd.Insert(ctx, &note{ID: "b"}), domain.ErrSessionEnded)
	s.ErrorIs(sd.StartTransaction(), domain.ErrSessionEnded)
	s.ErrorIs(sd.AbortTransaction(ctx), domain.ErrSessionEnded)
	s.Nil(s.d.session)
}

// Calls on a busy session should give up when their context is done.
func (s *DatastoreTestSuite) TestSessionBusy() {
	sd, _ := s.startSession()
	sd.session.mu.Lock()
	defer sd.session.mu.Unlock()

	c, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	s.ErrorIs(sd.Insert(c, &note{ID: "a"}), context.DeadlineExceeded)
}

// WithTransaction should commit when fn succeeds and end its session.
func (s *DatastoreTestSuite) TestWithTransaction() {
	sess := new(sessionMock)
	s.client.On("StartSession", domain.SessionOptions{}).Return(sess, nil).Once()
	sess.On("StartTransaction", domain.TransactionOptions{}).Return(nil).Once()
	sess.On("CommitTransaction", "bound").Return(nil).Once()
	sess.On("EndSession").Return().Once()
	s.coll.On("InsertOne", mock.Anything).Return("a", nil).Once()

	err := s.d.WithTransaction(ctx, func(ctx context.Context, d domain.Datastore) error {
		return d.Insert(ctx, &note{ID: "a"})
	})
	s.NoError(err)
	sess.AssertExpectations(s.T())
	s.Equal("bound", s.coll.ctxs[0].Value(sessionKey{}))
}

// WithTransaction should abort when fn fails, returning both errors.
func (s *DatastoreTestSuite) TestWithTransactionAbort() {
	sess := new(sessionMock)
	s.client.On("StartSession", domain.SessionOptions{}).Return(sess, nil).Once()
	sess.On("StartTransaction", domain.TransactionOptions{}).Return(nil).Once()
	abortErr := errors.New("abort failed")
	sess.On("AbortTransaction", "bound").Return(abortErr).Once()
	sess.On("EndSession").Return().Once()

	err := s.d.WithTransaction(ctx, func(context.Context, domain.Datastore) error {
		return errHook
	})
	s.ErrorIs(err, errHook)
	s.ErrorIs(err, abortErr)
	sess.AssertNotCalled(s.T(), "CommitTransaction", mock.Anything)
	sess.AssertExpectations(s.T())
}

// WithTransaction on a session datastore should reuse its session.
func (s *DatastoreTestSuite) TestWithTransactionInSession() {
	sd, sess := s.startSession()
	sess.On("StartTransaction", domain.TransactionOptions{}).Return(nil).Once()
	sess.On("CommitTransaction", "bound").Return(nil).Once()

	s.NoError(sd.WithTransaction(ctx, func(context.Context, domain.Datastore) error { return nil }))
	s.client.AssertNumberOfCalls(s.T(), "StartSession", 1)
	sess.AssertNotCalled(s.T(), "EndSession")
}

func TestDatastoreTestSuite(t *testing.T) {
	suite.Run(t, new(DatastoreTestSuite))
}
