package sorts

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type SortsTestSuite struct {
	suite.Suite
}

// Fields should carry their direction and keep the given order when
// combined.
func (s *SortsTestSuite) TestBy() {
	fields := By(Descending("Age"), Ascending("Name"), TextScore("score"))
	s.Equal([]domain.SortField{
		{Field: "Age", Order: -1},
		{Field: "Name", Order: 1},
		{Field: "score", Order: bson.D{{Key: "$meta", Value: "textScore"}}},
	}, fields)
	s.Empty(By())
}

// Rendered sorts should keep the field order and directions.
func (s *SortsTestSuite) TestRender() {
	doc, err := domain.RenderSort(nil, By(Descending("a"), Ascending("b")))
	s.Require().NoError(err)
	s.Equal(bson.D{{Key: "a", Value: -1}, {Key: "b", Value: 1}}, doc)

	doc, err = domain.RenderSort(nil, nil)
	s.NoError(err)
	s.Nil(doc)
}

func TestSortsTestSuite(t *testing.T) {
	suite.Run(t, new(SortsTestSuite))
}
