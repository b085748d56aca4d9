package projector

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/data"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type D = bson.D

type A = bson.A

type ProjectorTestSuite struct {
	suite.Suite
	p    *Projector
	docs []domain.Document
}

func (s *ProjectorTestSuite) SetupTest() {
	s.p = NewProjector().(*Projector)
	s.docs = []domain.Document{
		data.FromD(D{
			{"_id", "1"},
			{"name", "Earth"},
			{"moons", int32(1)},
			{"info", D{{"color", "blue"}, {"size", int32(3)}}},
			{"tags", A{D{{"k", "a"}, {"v", int32(1)}}, "loose", D{{"v", int32(2)}}}},
		}),
		data.FromD(D{{"_id", "2"}, {"name", "Mars"}}),
	}
}

func (s *ProjectorTestSuite) project(p D) []D {
	res, err := s.p.Project(s.docs, data.FromD(p))
	s.Require().NoError(err)
	out := make([]D, len(res))
	for n, doc := range res {
		out[n] = doc.D()
	}
	return out
}

// An empty projection should return the documents unchanged.
func (s *ProjectorTestSuite) TestEmpty() {
	res, err := s.p.Project(s.docs, nil)
	s.NoError(err)
	s.Equal(s.docs, res)

	res, err = s.p.Project(s.docs, data.FromD(D{}))
	s.NoError(err)
	s.Equal(s.docs, res)
}

// Inclusion should keep _id and the listed fields in document order.
func (s *ProjectorTestSuite) TestInclusion() {
	s.Equal([]D{
		{{"_id", "1"}, {"name", "Earth"}, {"moons", int32(1)}},
		{{"_id", "2"}, {"name", "Mars"}},
	}, s.project(D{{"moons", int32(1)}, {"name", true}}))
}

// Inclusion can drop _id.
func (s *ProjectorTestSuite) TestInclusionWithoutID() {
	s.Equal([]D{
		{{"name", "Earth"}},
		{{"name", "Mars"}},
	}, s.project(D{{"_id", int32(0)}, {"name", int32(1)}}))
}

// Only _id can be kept on its own.
func (s *ProjectorTestSuite) TestOnlyID() {
	s.Equal([]D{{{"_id", "1"}}, {{"_id", "2"}}}, s.project(D{{"_id", int32(1)}}))
}

// Exclusion should drop the listed fields.
func (s *ProjectorTestSuite) TestExclusion() {
	s.Equal([]D{
		{{"_id", "1"}, {"moons", int32(1)}, {"info", D{{"color", "blue"}, {"size", int32(3)}}}},
		{{"_id", "2"}},
	}, s.project(D{{"name", int32(0)}, {"tags", false}}))

	s.Equal([]D{
		{{"name", "Earth"}, {"moons", int32(1)}, {"info", D{{"color", "blue"}, {"size", int32(3)}}}},
		{{"name", "Mars"}},
	}, s.project(D{{"_id", int32(0)}, {"tags", int32(0)}}))
}

// Nested paths should reach into documents and arrays.
func (s *ProjectorTestSuite) TestNested() {
	s.Equal([]D{
		{{"_id", "1"}, {"info", D{{"size", int32(3)}}}, {"tags", A{D{{"v", int32(1)}}, D{{"v", int32(2)}}}}},
		{{"_id", "2"}},
	}, s.project(D{{"info.size", int32(1)}, {"tags.v", int32(1)}}))

	s.Equal([]D{
		{{"_id", "1"}, {"info", D{{"color", "blue"}}}, {"tags", A{D{{"v", int32(1)}}, "loose", D{{"v", int32(2)}}}}},
		{{"_id", "2"}},
	}, s.project(D{{"name", int32(0)}, {"moons", int32(0)}, {"info.size", int32(0)}, {"tags.k", int32(0)}}))
}

// Mixed projections should fail.
func (s *ProjectorTestSuite) TestMixed() {
	var mixed *domain.MixedProjectionError
	_, err := s.p.Project(s.docs, data.FromD(D{{"name", int32(1)}, {"moons", int32(0)}}))
	s.Require().True(errors.As(err, &mixed))
	s.Equal("moons", mixed.Field)
}

// Invalid projections should fail.
func (s *ProjectorTestSuite) TestInvalid() {
	_, err := s.p.Project(s.docs, data.FromD(D{{"name", "yes"}}))
	s.Error(err)

	_, err = s.p.Project(s.docs, data.FromD(D{{"info", int32(1)}, {"info.size", int32(1)}}))
	s.Error(err)

	_, err = s.p.Project(s.docs, data.FromD(D{{"info.size", int32(1)}, {"info", int32(1)}}))
	s.Error(err)

	var unsupported *domain.UnsupportedOperationError
	_, err = s.p.Project(s.docs, data.FromD(D{{"tags", D{{"$slice", int32(1)}}}}))
	s.True(errors.As(err, &unsupported))

	_, err = s.p.Project(s.docs, data.FromD(D{{"tags.$", int32(1)}}))
	s.True(errors.As(err, &unsupported))
}

// Projected documents should not share values with the originals.
func (s *ProjectorTestSuite) TestCopies() {
	res, err := s.p.Project(s.docs, data.FromD(D{{"info", int32(1)}}))
	s.Require().NoError(err)
	res[0].Get("info").(domain.Document).Set("color", "red")
	s.Equal("blue", s.docs[0].Get("info").(domain.Document).Get("color"))
}

func TestProjectorTestSuite(t *testing.T) {
	suite.Run(t, new(ProjectorTestSuite))
}
