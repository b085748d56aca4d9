package geo

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type GeoTestSuite struct {
	suite.Suite
}

// Geometries should render as GeoJSON with their type first.
func (s *GeoTestSuite) TestGeoJSON() {
	s.Equal(bson.D{
		{Key: "type", Value: "Point"},
		{Key: "coordinates", Value: bson.A{1.5, -2.0}},
	}, NewPoint(1.5, -2).GeoJSON())

	s.Equal(bson.D{
		{Key: "type", Value: "LineString"},
		{Key: "coordinates", Value: bson.A{bson.A{0.0, 0.0}, bson.A{1.0, 1.0}}},
	}, NewLineString(Position{0, 0}, Position{1, 1}).GeoJSON())

	s.Equal(bson.D{
		{Key: "type", Value: "MultiPoint"},
		{Key: "coordinates", Value: bson.A{bson.A{2.0, 3.0}}},
	}, NewMultiPoint(Position{2, 3}).GeoJSON())

	ring := []Position{{0, 0}, {4, 0}, {4, 4}, {0, 0}}
	hole := []Position{{1, 1}, {2, 1}, {2, 2}, {1, 1}}
	poly := NewPolygon(ring, hole).GeoJSON()
	s.Equal("Polygon", poly[0].Value)
	rings := poly[1].Value.(bson.A)
	s.Require().Len(rings, 2)
	s.Equal(bson.A{bson.A{1.0, 1.0}, bson.A{2.0, 1.0}, bson.A{2.0, 2.0}, bson.A{1.0, 1.0}}, rings[1])
}

// A point built by hand should still render as a point.
func (s *GeoTestSuite) TestZeroType() {
	p := Point{Coordinates: []float64{1, 2}}
	s.Equal("Point", p.GeoJSON()[0].Value)
}

// GeoJSON shapes should be wrapped in $geometry and legacy shapes should use
// their own operators.
func (s *GeoTestSuite) TestShape() {
	s.Equal(bson.D{{Key: "$geometry", Value: NewPoint(1, 2).GeoJSON()}}, NewPoint(1, 2).Shape())

	s.Equal(bson.D{{Key: "$box", Value: bson.A{bson.A{0.0, 0.0}, bson.A{2.0, 3.0}}}},
		Box{BottomLeft: Position{0, 0}, UpperRight: Position{2, 3}}.Shape())
	s.Equal(bson.D{{Key: "$center", Value: bson.A{bson.A{1.0, 1.0}, 5.0}}},
		Center{Center: Position{1, 1}, Radius: 5}.Shape())
	s.Equal(bson.D{{Key: "$centerSphere", Value: bson.A{bson.A{1.0, 1.0}, 0.1}}},
		CenterSphere{Center: Position{1, 1}, Radius: 0.1}.Shape())
	s.Equal(bson.D{{Key: "$polygon", Value: bson.A{bson.A{0.0, 0.0}, bson.A{1.0, 0.0}, bson.A{0.0, 1.0}}}},
		LegacyPolygon{{0, 0}, {1, 0}, {0, 1}}.Shape())
}

// Points stored as entity fields should use the GeoJSON layout.
func (s *GeoTestSuite) TestPointField() {
	raw, err := bson.Marshal(NewPoint(3, 4))
	s.Require().NoError(err)

	var d bson.D
	s.Require().NoError(bson.Unmarshal(raw, &d))
	s.Equal(bson.D{{Key: "type", Value: "Point"}, {Key: "coordinates", Value: bson.A{3.0, 4.0}}}, d)
}

func TestGeoTestSuite(t *testing.T) {
	suite.Run(t, new(GeoTestSuite))
}
