package query

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/codec"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/mapper"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/pathresolver"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/filters"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/geo"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/projections"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/sorts"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/updates"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

type pet struct {
	ID   string
	Name string `gedm:"n"`
	Age  int    `gedm:"a"`
}

type cat struct {
	pet
	Lives int `gedm:"l"`
}

type ticket struct {
	ID      string
	Version int64     `gedm:"v,version"`
	Title   string    `gedm:"t"`
	Changed time.Time `gedm:"c,updatedAt"`
}

type loaded struct {
	ID     string
	Name   string
	loaded bool
}

func (l *loaded) PostLoad(context.Context) error {
	l.loaded = true
	return nil
}

type backendMock struct {
	mock.Mock
	mapper   domain.Mapper
	codec    domain.Codec
	resolver domain.PathResolver
	db       domain.Database
}

func (m *backendMock) Mapper() domain.Mapper { return m.mapper }
func (m *backendMock) Codec() domain.Codec { return m.codec }
func (m *backendMock) Resolver() domain.PathResolver { return m.resolver }
func (m *backendMock) Logger() *zap.Logger { return zap.NewNop() }
func (m *backendMock) Database() domain.Database { return m.db }

func (m *backendMock) Collection(model *domain.EntityModel) domain.Collection {
	return m.Called(model.Name).Get(0).(domain.Collection)
}

func (m *backendMock) Do(ctx context.Context, operation, collection string, fn func(context.Context) error) error {
	return fn(ctx)
}

// collectionMock only implements the calls made by queries.
type collectionMock struct {
	mock.Mock
	domain.Collection
}

func (m *collectionMock) Name() string { return "pets" }

func (m *collectionMock) Find(ctx context.Context, filter any, options domain.FindOptions) (domain.Cursor, error) {
	call := m.Called(filter, options)
	cur, _ := call.Get(0).(domain.Cursor)
	return cur, call.Error(1)
}

func (m *collectionMock) CountDocuments(ctx context.Context, filter any, options domain.CountOptions) (int64, error) {
	call := m.Called(filter, options)
	return call.Get(0).(int64), call.Error(1)
}

func (m *collectionMock) DeleteOne(ctx context.Context, filter any, options domain.DeleteOptions) (int64, error) {
	call := m.Called(filter)
	return call.Get(0).(int64), call.Error(1)
}

func (m *collectionMock) DeleteMany(ctx context.Context, filter any, options domain.DeleteOptions) (int64, error) {
	call := m.Called(filter)
	return call.Get(0).(int64), call.Error(1)
}

func (m *collectionMock) UpdateOne(ctx context.Context, filter, update any, options domain.UpdateOptions) (domain.UpdateResult, error) {
	call := m.Called("one", filter, update, options)
	return call.Get(0).(domain.UpdateResult), call.Error(1)
}

func (m *collectionMock) UpdateMany(ctx context.Context, filter, update any, options domain.UpdateOptions) (domain.UpdateResult, error) {
	call := m.Called("many", filter, update, options)
	return call.Get(0).(domain.UpdateResult), call.Error(1)
}

func (m *collectionMock) FindOneAndUpdate(ctx context.Context, filter, update any, options domain.FindOneAndUpdateOptions) (bson.Raw, error) {
	call := m.Called(filter, update, options)
	raw, _ := call.Get(0).(bson.Raw)
	return raw, call.Error(1)
}

func (m *collectionMock) FindOneAndDelete(ctx context.Context, filter any, options domain.FindOneAndDeleteOptions) (bson.Raw, error) {
	call := m.Called(filter, options)
	raw, _ := call.Get(0).(bson.Raw)
	return raw, call.Error(1)
}

type databaseMock struct {
	mock.Mock
	domain.Database
}

func (m *databaseMock) RunCommand(ctx context.Context, cmd any) (bson.Raw, error) {
	call := m.Called(cmd)
	raw, _ := call.Get(0).(bson.Raw)
	return raw, call.Error(1)
}

type sliceCursor struct {
	docs   []bson.Raw
	pos    int
	closed bool
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

func (c *sliceCursor) Close(context.Context) error {
	c.closed = true
	return nil
}

type QueryTestSuite struct {
	suite.Suite
	backend *backendMock
	coll    *collectionMock
	db      *databaseMock
	ctx     context.Context
}

func (s *QueryTestSuite) SetupTest() {
	mp := mapper.NewMapper()
	_, err := mp.Model(reflect.TypeFor[cat]())
	s.Require().NoError(err)
	s.coll = new(collectionMock)
	s.db = new(databaseMock)
	s.backend = &backendMock{
		mapper:   mp,
		codec:    codec.NewCodec(mp),
		resolver: pathresolver.NewPathResolver(mp),
		db:       s.db,
	}
	s.backend.On("Collection", mock.Anything).Return(s.coll)
	s.ctx = context.Background()
}

func (s *QueryTestSuite) raw(doc bson.D) bson.Raw {
	raw, err := bson.Marshal(doc)
	s.Require().NoError(err)
	return raw
}

func newQuery[T any](s *QueryTestSuite) domain.Query[T] {
	q, err := NewQuery[T](s.backend)
	s.Require().NoError(err)
	return q
}

// Polymorphic queries should be restricted to the queried type and its
// subtypes, unless they select by id or discriminator.
func (s *QueryTestSuite) TestDiscriminator() {
	doc, err := newQuery[pet](s).Filter(filters.Eq("Name", "rex")).Document()
	s.NoError(err)
	s.Equal(bson.D{
		{Key: "n", Value: "rex"},
		{Key: "_t", Value: bson.D{{Key: "$in", Value: bson.A{"pet", "cat"}}}},
	}, doc)

	doc, err = newQuery[*cat](s).Document()
	s.NoError(err)
	s.Equal(bson.D{{Key: "_t", Value: bson.D{{Key: "$in", Value: bson.A{"cat"}}}}}, doc)

	doc, err = newQuery[pet](s).Filter(filters.Eq("ID", "1")).Document()
	s.NoError(err)
	s.Equal(bson.D{{Key: "_id", Value: "1"}}, doc)

	doc, err = newQuery[pet](s).Filter(filters.Eq("_t", "cat")).DisableValidation().Document()
	s.NoError(err)
	s.Equal(bson.D{{Key: "_t", Value: "cat"}}, doc)

	doc, err = newQuery[ticket](s).Document()
	s.NoError(err)
	s.Equal(bson.D{}, doc)
}

// Unknown paths should fail only while validation is enabled.
func (s *QueryTestSuite) TestValidation() {
	q := newQuery[ticket](s).Filter(filters.Eq("Nope", 1))
	_, err := q.Document()
	var me *domain.MappingError
	s.ErrorAs(err, &me)
	s.Equal("Nope", me.Segment)

	doc, err := q.DisableValidation().Document()
	s.NoError(err)
	s.Equal(bson.D{{Key: "Nope", Value: 1}}, doc)

	_, err = q.DisableValidation().EnableValidation().Document()
	s.ErrorAs(err, &me)
}

// Filters that failed to build should fail the query before any driver call.
func (s *QueryTestSuite) TestEagerErrors() {
	q := newQuery[ticket](s).Filter(filters.Near("Title", geo.NewPoint(1, 2)).Not())
	var uoe *domain.UnsupportedOperationError
	_, err := q.Count(s.ctx)
	s.ErrorAs(err, &uoe)
	_, err = q.All(s.ctx)
	s.ErrorAs(err, &uoe)
	_, err = q.Delete(s.ctx)
	s.ErrorAs(err, &uoe)
	_, err = q.Update(updates.Set("Title", "x")).Execute(s.ctx)
	s.ErrorAs(err, &uoe)

	_, err = newQuery[ticket](s).Project(projections.Include("Title").Exclude("ID", "Version")).All(s.ctx)
	var mpe *domain.MixedProjectionError
	s.ErrorAs(err, &mpe)

	_, err = newQuery[ticket](s).Filter(nil).Document()
	var ve *domain.ValidationError
	s.ErrorAs(err, &ve)
	s.coll.AssertNotCalled(s.T(), "Find", mock.Anything, mock.Anything)
}

// Builders should not modify the query they are called on.
func (s *QueryTestSuite) TestImmutable() {
	base := newQuery[ticket](s).Filter(filters.Eq("Title", "a"))
	left := base.Filter(filters.Eq("Version", 1))
	right := base.Filter(filters.Eq("Version", 2))

	doc, err := base.Document()
	s.NoError(err)
	s.Len(doc, 1)
	doc, err = left.Document()
	s.NoError(err)
	s.Equal(bson.E{Key: "v", Value: 1}, doc[1])
	doc, err = right.Document()
	s.NoError(err)
	s.Equal(bson.E{Key: "v", Value: 2}, doc[1])
}

// Queries should send their options and decode every result.
func (s *QueryTestSuite) TestAll() {
	cur := &sliceCursor{docs: []bson.Raw{
		s.raw(bson.D{{Key: "_id", Value: "1"}, {Key: "_t", Value: "pet"}, {Key: "n", Value: "rex"}, {Key: "a", Value: int32(3)}}),
		s.raw(bson.D{{Key: "_id", Value: "2"}, {Key: "_t", Value: "cat"}, {Key: "n", Value: "tom"}}),
	}}
	s.coll.On("Find", mock.Anything, domain.FindOptions{
		Sort:       bson.D{{Key: "a", Value: -1}},
		Projection: bson.D{{Key: "n", Value: 1}, {Key: "a", Value: 1}},
		Skip:       1,
		Limit:      2,
		Comment:    "c",
	}).Return(cur, nil).Once()

	out, err := newQuery[pet](s).
		Sort(sorts.Descending("Age")).
		Project(projections.Include("Name", "Age")).
		Skip(1).
		Limit(2).
		Comment("c").
		All(s.ctx)
	s.NoError(err)
	s.Equal([]pet{{ID: "1", Name: "rex", Age: 3}, {ID: "2", Name: "tom"}}, out)
	s.True(cur.closed)
	s.coll.AssertExpectations(s.T())
}

// First should return the first match or ErrNotFound.
func (s *QueryTestSuite) TestFirst() {
	s.coll.On("Find", mock.Anything, domain.FindOptions{Limit: 1}).
		Return(&sliceCursor{docs: []bson.Raw{s.raw(bson.D{{Key: "_id", Value: "1"}, {Key: "Name", Value: "x"}})}}, nil).Once()
	l, err := newQuery[*loaded](s).First(s.ctx)
	s.NoError(err)
	s.Equal("x", l.Name)
	s.True(l.loaded)

	s.coll.On("Find", mock.Anything, domain.FindOptions{Limit: 1}).Return(&sliceCursor{}, nil).Once()
	_, err = newQuery[*loaded](s).First(s.ctx)
	s.ErrorIs(err, domain.ErrNotFound)

	boom := errors.New("boom")
	s.coll.On("Find", mock.Anything, domain.FindOptions{Limit: 1}).Return(nil, boom).Once()
	_, err = newQuery[*loaded](s).First(s.ctx)
	s.ErrorIs(err, boom)
}

// Iterators should refuse to be used after being closed.
func (s *QueryTestSuite) TestIteratorClosed() {
	cur := &sliceCursor{docs: []bson.Raw{s.raw(bson.D{{Key: "_id", Value: "1"}})}}
	it := NewIterator[loaded](cur, s.backend.codec)
	s.NoError(it.Close(s.ctx))
	s.NoError(it.Close(s.ctx))
	s.False(it.Next(s.ctx))
	s.ErrorIs(it.Err(), domain.ErrCursorClosed)
	_, err := it.Value()
	s.ErrorIs(err, domain.ErrCursorClosed)
}

// Count should send the query limits.
func (s *QueryTestSuite) TestCount() {
	filter := bson.D{{Key: "t", Value: "a"}}
	s.coll.On("CountDocuments", filter, domain.CountOptions{Limit: 3, MaxTime: time.Second}).Return(int64(2), nil).Once()
	n, err := newQuery[ticket](s).Filter(filters.Eq("Title", "a")).Limit(3).MaxTime(time.Second).Count(s.ctx)
	s.NoError(err)
	s.Equal(int64(2), n)
}

// Delete should remove one document unless multi is set.
func (s *QueryTestSuite) TestDelete() {
	filter := bson.D{{Key: "t", Value: "a"}}
	s.coll.On("DeleteOne", filter).Return(int64(1), nil).Once()
	s.coll.On("DeleteMany", filter).Return(int64(4), nil).Once()
	q := newQuery[ticket](s).Filter(filters.Eq("Title", "a"))

	n, err := q.Delete(s.ctx)
	s.NoError(err)
	s.Equal(int64(1), n)
	n, err = q.Delete(s.ctx, domain.WithRemoveMulti(true))
	s.NoError(err)
	s.Equal(int64(4), n)
	s.coll.AssertExpectations(s.T())
}

// Updates should bump the version and touch the update time.
func (s *QueryTestSuite) TestUpdate() {
	q := newQuery[ticket](s).Filter(filters.Eq("ID", "1"))
	upd := q.Update(updates.Set("Title", "x"))
	doc, err := upd.Document()
	s.NoError(err)
	expected := bson.D{
		{Key: "$set", Value: bson.D{{Key: "t", Value: "x"}}},
		{Key: "$inc", Value: bson.D{{Key: "v", Value: 1}}},
		{Key: "$currentDate", Value: bson.D{{Key: "c", Value: true}}},
	}
	s.Equal(expected, doc)

	filter := bson.D{{Key: "_id", Value: "1"}}
	s.coll.On("UpdateMany", "many", filter, expected, domain.UpdateOptions{Multi: true, Upsert: true}).
		Return(domain.UpdateResult{MatchedCount: 2, ModifiedCount: 2}, nil).Once()
	res, err := upd.Execute(s.ctx, domain.WithUpdateMulti(true), domain.WithUpsert(true))
	s.NoError(err)
	s.Equal(int64(2), res.ModifiedCount)

	s.coll.On("UpdateOne", "one", filter, expected, domain.UpdateOptions{}).
		Return(domain.UpdateResult{MatchedCount: 1}, nil).Once()
	_, err = upd.Execute(s.ctx)
	s.NoError(err)

	doc, err = q.Update().Document()
	s.NoError(err)
	s.Equal(expected[1:], doc)

	_, err = q.Update(updates.Inc("Title", "1")).Execute(s.ctx)
	var nte *domain.NumericTypeError
	s.ErrorAs(err, &nte)
}

// Modify should decode the returned document.
func (s *QueryTestSuite) TestModify() {
	filter := bson.D{{Key: "_id", Value: "1"}}
	update := bson.D{
		{Key: "$set", Value: bson.D{{Key: "t", Value: "x"}}},
		{Key: "$inc", Value: bson.D{{Key: "v", Value: 1}}},
		{Key: "$currentDate", Value: bson.D{{Key: "c", Value: true}}},
	}
	s.coll.On("FindOneAndUpdate", filter, update, domain.FindOneAndUpdateOptions{ReturnNew: true}).
		Return(s.raw(bson.D{{Key: "_id", Value: "1"}, {Key: "v", Value: int64(2)}, {Key: "t", Value: "x"}}), nil).Once()
	t, err := newQuery[ticket](s).Filter(filters.Eq("ID", "1")).
		Modify(updates.Set("Title", "x")).
		Execute(s.ctx, domain.WithReturnNew(true))
	s.NoError(err)
	s.Equal(ticket{ID: "1", Version: 2, Title: "x"}, t)

	s.coll.On("FindOneAndUpdate", filter, update, domain.FindOneAndUpdateOptions{}).Return(nil, domain.ErrNotFound).Once()
	_, err = newQuery[ticket](s).Filter(filters.Eq("ID", "1")).Modify(updates.Set("Title", "x")).Execute(s.ctx)
	s.ErrorIs(err, domain.ErrNotFound)
}

// FindAndDelete should send the sort and decode the removed document.
func (s *QueryTestSuite) TestFindAndDelete() {
	s.coll.On("FindOneAndDelete", bson.D{}, domain.FindOneAndDeleteOptions{Sort: bson.D{{Key: "t", Value: 1}}}).
		Return(s.raw(bson.D{{Key: "_id", Value: "9"}}), nil).Once()
	t, err := newQuery[*ticket](s).Sort(sorts.Ascending("Title")).FindAndDelete(s.ctx)
	s.NoError(err)
	s.Equal("9", t.ID)
}

// Explain should run the explain command of the find.
func (s *QueryTestSuite) TestExplain() {
	cmd := bson.D{
		{Key: "explain", Value: bson.D{
			{Key: "find", Value: "pets"},
			{Key: "filter", Value: bson.D{{Key: "t", Value: "a"}}},
			{Key: "limit", Value: int64(5)},
		}},
		{Key: "verbosity", Value: "queryPlanner"},
	}
	s.db.On("RunCommand", cmd).Return(s.raw(bson.D{{Key: "ok", Value: 1.0}}), nil).Once()
	out, err := newQuery[ticket](s).Filter(filters.Eq("Title", "a")).Limit(5).Explain(s.ctx)
	s.NoError(err)
	s.Equal(bson.M{"ok": 1.0}, out)
}

func TestQueryTestSuite(t *testing.T) {
	suite.Run(t, new(QueryTestSuite))
}
