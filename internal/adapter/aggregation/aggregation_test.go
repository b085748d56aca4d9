package aggregation

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/codec"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/mapper"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/pathresolver"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/expr"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/filters"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/geo"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/sorts"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/stages"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

type author struct {
	ID   bson.ObjectID
	Name string `gedm:"n"`
}

type book struct {
	ID       bson.ObjectID
	Title    string        `gedm:"t"`
	AuthorID bson.ObjectID `gedm:"a"`
	Pages    int           `gedm:"p"`
	Tags     []string      `gedm:"tags"`
}

type backendMock struct {
	mock.Mock
	mapper   domain.Mapper
	codec    domain.Codec
	resolver domain.PathResolver
}

func (m *backendMock) Mapper() domain.Mapper { return m.mapper }
func (m *backendMock) Codec() domain.Codec { return m.codec }
func (m *backendMock) Resolver() domain.PathResolver { return m.resolver }
func (m *backendMock) Logger() *zap.Logger { return zap.NewNop() }
func (m *backendMock) Database() domain.Database { return nil }

func (m *backendMock) Collection(model *domain.EntityModel) domain.Collection {
	return m.Called(model).Get(0).(domain.Collection)
}

func (m *backendMock) Do(ctx context.Context, operation, collection string, fn func(context.Context) error) error {
	m.Called(operation, collection)
	return fn(ctx)
}

// collectionMock only expects the calls an aggregation makes.
type collectionMock struct {
	mock.Mock
	domain.Collection
}

func (m *collectionMock) Name() string {
	return m.Called().String(0)
}

func (m *collectionMock) Aggregate(ctx context.Context, pipeline any, options domain.AggregateOptions) (domain.Cursor, error) {
	call := m.Called(ctx, pipeline, options)
	cur, _ := call.Get(0).(domain.Cursor)
	return cur, call.Error(1)
}

type AggregationTestSuite struct {
	suite.Suite
	backend *backendMock
	model   *domain.EntityModel
}

func (s *AggregationTestSuite) SetupTest() {
	mp := mapper.NewMapper()
	s.backend = &backendMock{
		mapper:   mp,
		codec:    codec.NewCodec(mp),
		resolver: pathresolver.NewPathResolver(mp),
	}
	var err error
	s.model, err = mp.Model(reflect.TypeFor[book]())
	s.Require().NoError(err)
}

func (s *AggregationTestSuite) ctx() *domain.RenderContext {
	return &domain.RenderContext{
		Mapper:   s.backend.mapper,
		Model:    s.model,
		Resolver: s.backend.resolver,
		Codec:    s.backend.codec,
	}
}

func (s *AggregationTestSuite) encode(st domain.Stage) bson.D {
	doc, err := Encode(s.ctx(), st)
	s.Require().NoError(err)
	return doc
}

// Pipelines should render in order with translated paths.
func (s *AggregationTestSuite) TestDocument() {
	agg := NewAggregation(s.backend, s.model).Pipeline(
		stages.Match(filters.Gte("Pages", 100)),
		stages.Sort(sorts.Descending("Pages")),
		stages.Group(expr.Field("AuthorID")).Field("total", expr.Sum(expr.Field("Pages"))),
		stages.Limit(5),
	)
	s.NoError(agg.Err())
	docs, err := agg.Document()
	s.Require().NoError(err)
	s.Equal([]bson.D{
		{{Key: "$match", Value: bson.D{{Key: "p", Value: bson.D{{Key: "$gte", Value: 100}}}}}},
		{{Key: "$sort", Value: bson.D{{Key: "p", Value: -1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$a"},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$p"}}},
		}}},
		{{Key: "$limit", Value: int64(5)}},
	}, docs)
}

// Invalid stages should fail the aggregation before any driver call.
func (s *AggregationTestSuite) TestInvalidStage() {
	agg := NewAggregation(s.backend, s.model).
		Pipeline(stages.Limit(0)).
		Pipeline(stages.Skip(1))
	var ve *domain.ValidationError
	s.ErrorAs(agg.Err(), &ve)
	_, err := agg.Document()
	s.ErrorAs(err, &ve)
	_, err = agg.Execute(context.Background())
	s.ErrorAs(err, &ve)
	s.backend.AssertNotCalled(s.T(), "Collection", mock.Anything)

	agg = NewAggregation(s.backend, s.model).Pipeline(
		stages.Group(expr.Field("a")).IDField(expr.As("b", 1)),
	)
	var mme *domain.MixedModesError
	s.ErrorAs(agg.Err(), &mme)
}

// Execute should run the rendered pipeline on the entity collection.
func (s *AggregationTestSuite) TestExecute() {
	coll := new(collectionMock)
	coll.On("Name").Return("book")
	pipeline := []bson.D{{{Key: "$count", Value: "n"}}}
	coll.On("Aggregate", mock.Anything, pipeline, domain.AggregateOptions{AllowDiskUse: true, BatchSize: 10}).
		Return(nil, nil).Once()
	s.backend.On("Collection", s.model).Return(coll)
	s.backend.On("Do", "aggregate", "book").Return()

	_, err := NewAggregation(s.backend, s.model).
		Pipeline(stages.Count("n")).
		Execute(context.Background(), domain.WithAllowDiskUse(true), domain.WithAggregateBatchSize(10))
	s.NoError(err)
	coll.AssertExpectations(s.T())
	s.backend.AssertExpectations(s.T())

	boom := errors.New("boom")
	coll.On("Aggregate", mock.Anything, pipeline, domain.AggregateOptions{}).Return(nil, boom).Once()
	_, err = NewAggregation(s.backend, s.model).Pipeline(stages.Count("n")).Execute(context.Background())
	s.ErrorIs(err, boom)
}

// Lookups should resolve foreign paths and nested pipelines against the
// joined type.
func (s *AggregationTestSuite) TestLookup() {
	s.Equal(bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: "author"},
		{Key: "localField", Value: "a"},
		{Key: "foreignField", Value: "_id"},
		{Key: "as", Value: "author"},
	}}}, s.encode(stages.LookupType(reflect.TypeFor[author]()).On("AuthorID", "ID").As("author")))

	s.Equal(bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: "author"},
		{Key: "let", Value: bson.D{{Key: "aid", Value: "$a"}}},
		{Key: "pipeline", Value: []bson.D{{{Key: "$match", Value: bson.D{{Key: "n", Value: "x"}}}}}},
		{Key: "as", Value: "au"},
	}}}, s.encode(stages.LookupType(reflect.TypeFor[author]()).
		Let(expr.As("aid", expr.Field("AuthorID"))).
		Pipeline(stages.Match(filters.Eq("Name", "x"))).
		As("au")))

	s.Equal(bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: "people"},
		{Key: "localField", Value: "a"},
		{Key: "foreignField", Value: "Name"},
		{Key: "as", Value: "p"},
	}}}, s.encode(stages.Lookup("people").On("AuthorID", "Name").As("p")))
}

// Graph lookups, unions and outputs should name their target collection.
func (s *AggregationTestSuite) TestTargets() {
	doc := s.encode(stages.GraphLookupType(reflect.TypeFor[author]()).
		StartWith(expr.Field("AuthorID")).
		Connect("ID", "Name").
		As("chain").
		MaxDepth(2).
		RestrictSearchWithMatch(filters.Exists("Name")))
	s.Equal(bson.D{{Key: "$graphLookup", Value: bson.D{
		{Key: "from", Value: "author"},
		{Key: "startWith", Value: "$a"},
		{Key: "connectFromField", Value: "_id"},
		{Key: "connectToField", Value: "n"},
		{Key: "as", Value: "chain"},
		{Key: "maxDepth", Value: 2},
		{Key: "restrictSearchWithMatch", Value: bson.D{{Key: "n", Value: bson.D{{Key: "$exists", Value: true}}}}},
	}}}, doc)

	s.Equal(bson.D{{Key: "$unionWith", Value: "archive"}}, s.encode(stages.UnionWith("archive")))
	s.Equal(bson.D{{Key: "$unionWith", Value: bson.D{
		{Key: "coll", Value: "author"},
		{Key: "pipeline", Value: []bson.D{{{Key: "$limit", Value: int64(1)}}}},
	}}}, s.encode(stages.UnionWithType(reflect.TypeFor[author]()).Pipeline(stages.Limit(1))))

	s.Equal(bson.D{{Key: "$out", Value: "author"}}, s.encode(stages.OutType(reflect.TypeFor[author]())))
	s.Equal(bson.D{{Key: "$out", Value: bson.D{{Key: "db", Value: "r"}, {Key: "coll", Value: "x"}}}},
		s.encode(stages.Out("x").Database("r")))

	s.Equal(bson.D{{Key: "$merge", Value: bson.D{
		{Key: "into", Value: "author"},
		{Key: "on", Value: "n"},
		{Key: "whenMatched", Value: stages.WhenMatchedMerge},
		{Key: "whenNotMatched", Value: stages.WhenNotMatchedDiscard},
	}}}, s.encode(stages.MergeType(reflect.TypeFor[author]()).
		On("Name").
		WhenMatched(stages.WhenMatchedMerge).
		WhenNotMatched(stages.WhenNotMatchedDiscard)))
}

// Reshaping stages should render their documents.
func (s *AggregationTestSuite) TestReshape() {
	s.Equal(bson.D{{Key: "$project", Value: bson.D{
		{Key: "t", Value: 1},
		{Key: "_id", Value: 0},
		{Key: "len", Value: bson.D{{Key: "$size", Value: "$tags"}}},
	}}}, s.encode(stages.Project().Include("Title").SuppressID().Field("len", expr.Size(expr.Field("Tags")))))

	s.Equal(bson.D{{Key: "$unwind", Value: "$tags"}}, s.encode(stages.Unwind("Tags")))
	s.Equal(bson.D{{Key: "$unwind", Value: bson.D{
		{Key: "path", Value: "$tags"},
		{Key: "includeArrayIndex", Value: "i"},
		{Key: "preserveNullAndEmptyArrays", Value: true},
	}}}, s.encode(stages.Unwind("Tags").IncludeArrayIndex("i").PreserveNullAndEmptyArrays(true)))

	s.Equal(bson.D{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$author"}}}},
		s.encode(stages.ReplaceRoot(expr.Field("author"))))
	s.Equal(bson.D{{Key: "$replaceWith", Value: bson.D{{Key: "title", Value: "$t"}}}},
		s.encode(stages.ReplaceWith(nil).Field("title", expr.Field("Title"))))

	s.Equal(bson.D{{Key: "$set", Value: bson.D{{Key: "x", Value: 1}}}},
		s.encode(stages.Set(expr.As("x", 1))))
	s.Equal(bson.D{{Key: "$unset", Value: bson.A{"t", "p"}}}, s.encode(stages.Unset("Title", "Pages")))
	s.Equal(bson.D{{Key: "$sample", Value: bson.D{{Key: "size", Value: int64(3)}}}}, s.encode(stages.Sample(3)))
	s.Equal(bson.D{{Key: "$indexStats", Value: bson.D{}}}, s.encode(stages.IndexStats()))
	s.Equal(bson.D{{Key: "$sortByCount", Value: "$a"}}, s.encode(stages.SortByCount(expr.Field("AuthorID"))))
}

// Grouping stages should render boundaries, outputs and windows.
func (s *AggregationTestSuite) TestBuckets() {
	s.Equal(bson.D{{Key: "$bucket", Value: bson.D{
		{Key: "groupBy", Value: "$p"},
		{Key: "boundaries", Value: bson.A{0, 100, 1000}},
		{Key: "default", Value: "other"},
		{Key: "output", Value: bson.D{{Key: "n", Value: bson.D{{Key: "$count", Value: bson.D{}}}}}},
	}}}, s.encode(stages.Bucket(expr.Field("Pages"), 0, 100, 1000).Default("other").Output("n", expr.Count())))

	s.Equal(bson.D{{Key: "$bucketAuto", Value: bson.D{
		{Key: "groupBy", Value: "$p"},
		{Key: "buckets", Value: 4},
		{Key: "granularity", Value: "R5"},
	}}}, s.encode(stages.BucketAuto(expr.Field("Pages"), 4).Granularity("R5")))

	s.Equal(bson.D{{Key: "$setWindowFields", Value: bson.D{
		{Key: "partitionBy", Value: "$a"},
		{Key: "sortBy", Value: bson.D{{Key: "p", Value: 1}}},
		{Key: "output", Value: bson.D{{Key: "r", Value: bson.D{{Key: "$rank", Value: bson.D{}}}}}},
	}}}, s.encode(stages.SetWindowFields().
		PartitionBy(expr.Field("AuthorID")).
		SortBy(sorts.Ascending("Pages")).
		Output("r", expr.Rank())))

	s.Equal(bson.D{{Key: "$facet", Value: bson.D{
		{Key: "few", Value: []bson.D{{{Key: "$limit", Value: int64(2)}}}},
	}}}, s.encode(stages.FacetOf().Facet("few", stages.Limit(2))))
}

// Time series and geo stages should render their options.
func (s *AggregationTestSuite) TestFillDensifyGeo() {
	s.Equal(bson.D{{Key: "$fill", Value: bson.D{
		{Key: "partitionByFields", Value: bson.A{"a"}},
		{Key: "sortBy", Value: bson.D{{Key: "p", Value: 1}}},
		{Key: "output", Value: bson.D{
			{Key: "t", Value: bson.D{{Key: "value", Value: "none"}}},
			{Key: "p", Value: bson.D{{Key: "method", Value: "linear"}}},
		}},
	}}}, s.encode(stages.Fill().
		PartitionByFields("AuthorID").
		SortBy(sorts.Ascending("Pages")).
		Value("Title", expr.Value("none")).
		Method("Pages", "linear")))

	s.Equal(bson.D{{Key: "$densify", Value: bson.D{
		{Key: "field", Value: "p"},
		{Key: "range", Value: bson.D{{Key: "step", Value: 1}, {Key: "bounds", Value: bson.A{0, 10}}}},
	}}}, s.encode(stages.Densify("Pages", stages.BoundedRange(0, 10, 1))))

	s.Equal(bson.D{{Key: "$densify", Value: bson.D{
		{Key: "field", Value: "ts"},
		{Key: "range", Value: bson.D{{Key: "step", Value: 1}, {Key: "unit", Value: "hour"}, {Key: "bounds", Value: "full"}}},
	}}}, s.encode(stages.Densify("ts", stages.FullRange(1).Unit("hour"))))

	s.Equal(bson.D{{Key: "$geoNear", Value: bson.D{
		{Key: "near", Value: geo.NewPoint(1, 2).GeoJSON()},
		{Key: "distanceField", Value: "d"},
		{Key: "spherical", Value: true},
		{Key: "maxDistance", Value: 10.0},
	}}}, s.encode(stages.GeoNear(geo.NewPoint(1, 2), "d").MaxDistance(10)))

	s.Equal(bson.D{{Key: "$collStats", Value: bson.D{
		{Key: "latencyStats", Value: bson.D{{Key: "histograms", Value: false}}},
		{Key: "count", Value: bson.D{}},
	}}}, s.encode(stages.CollStats().LatencyStats(false).WithCount()))
}

// Raw stages should render unchanged and unknown stages should fail.
func (s *AggregationTestSuite) TestRawAndUnknown() {
	raw := bson.D{{Key: "$search", Value: bson.D{{Key: "text", Value: "x"}}}}
	s.Equal(raw, s.encode(stages.Raw(raw)))

	_, err := Encode(s.ctx(), unknownStage{})
	var uoe *domain.UnsupportedOperationError
	s.ErrorAs(err, &uoe)
}

type unknownStage struct{}

func (unknownStage) StageName() string { return "$nope" }
func (unknownStage) Err() error { return nil }

func TestAggregationTestSuite(t *testing.T) {
	suite.Run(t, new(AggregationTestSuite))
}
