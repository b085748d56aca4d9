// Package geo contains GeoJSON geometries and legacy coordinate shapes used by
// geospatial filters, stages and entity fields.
package geo

import "go.mongodb.org/mongo-driver/v2/bson"

// Geometry is a GeoJSON object.
type Geometry interface {
	// GeoJSON returns the object as a document.
	GeoJSON() bson.D
}

// Shape is an operand of $geoWithin.
type Shape interface {
	// Shape returns the shape operator and its operand, such as
	// {$box: [[0, 0], [1, 1]]}.
	Shape() bson.D
}

// Position is a longitude and latitude pair.
type Position [2]float64

func (p Position) array() bson.A { return bson.A{p[0], p[1]} }

// Point is a GeoJSON point. It can be used as an entity field.
type Point struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
}

// NewPoint returns the point at the given longitude and latitude.
func NewPoint(lng, lat float64) Point {
	return Point{Type: "Point", Coordinates: []float64{lng, lat}}
}

// GeoJSON implements [Geometry].
func (p Point) GeoJSON() bson.D {
	coords := make(bson.A, len(p.Coordinates))
	for i, c := range p.Coordinates {
		coords[i] = c
	}
	return bson.D{{Key: "type", Value: "Point"}, {Key: "coordinates", Value: coords}}
}

// Shape implements [Shape].
func (p Point) Shape() bson.D { return geometryShape(p) }

// LineString is a GeoJSON line.
type LineString struct {
	Type        string      `bson:"type"`
	Coordinates [][]float64 `bson:"coordinates"`
}

// NewLineString returns a line through positions.
func NewLineString(positions ...Position) LineString {
	return LineString{Type: "LineString", Coordinates: toCoords(positions)}
}

// GeoJSON implements [Geometry].
func (l LineString) GeoJSON() bson.D {
	return bson.D{{Key: "type", Value: "LineString"}, {Key: "coordinates", Value: coordsArray(l.Coordinates)}}
}

// Shape implements [Shape].
func (l LineString) Shape() bson.D { return geometryShape(l) }

// Polygon is a GeoJSON polygon made of an exterior ring and optional holes.
// Rings must be closed.
type Polygon struct {
	Type        string        `bson:"type"`
	Coordinates [][][]float64 `bson:"coordinates"`
}

// NewPolygon returns a polygon with the given rings.
func NewPolygon(rings ...[]Position) Polygon {
	coords := make([][][]float64, len(rings))
	for i, r := range rings {
		coords[i] = toCoords(r)
	}
	return Polygon{Type: "Polygon", Coordinates: coords}
}

// GeoJSON implements [Geometry].
func (p Polygon) GeoJSON() bson.D {
	rings := make(bson.A, len(p.Coordinates))
	for i, r := range p.Coordinates {
		rings[i] = coordsArray(r)
	}
	return bson.D{{Key: "type", Value: "Polygon"}, {Key: "coordinates", Value: rings}}
}

// Shape implements [Shape].
func (p Polygon) Shape() bson.D { return geometryShape(p) }

// MultiPoint is a GeoJSON set of points.
type MultiPoint struct {
	Type        string      `bson:"type"`
	Coordinates [][]float64 `bson:"coordinates"`
}

// NewMultiPoint returns a set of positions.
func NewMultiPoint(positions ...Position) MultiPoint {
	return MultiPoint{Type: "MultiPoint", Coordinates: toCoords(positions)}
}

// GeoJSON implements [Geometry].
func (m MultiPoint) GeoJSON() bson.D {
	return bson.D{{Key: "type", Value: "MultiPoint"}, {Key: "coordinates", Value: coordsArray(m.Coordinates)}}
}

// Shape implements [Shape].
func (m MultiPoint) Shape() bson.D { return geometryShape(m) }

func geometryShape(g Geometry) bson.D {
	return bson.D{{Key: "$geometry", Value: g.GeoJSON()}}
}

func toCoords(positions []Position) [][]float64 {
	out := make([][]float64, len(positions))
	for i, p := range positions {
		out[i] = []float64{p[0], p[1]}
	}
	return out
}

func coordsArray(coords [][]float64) bson.A {
	out := make(bson.A, len(coords))
	for i, c := range coords {
		pair := make(bson.A, len(c))
		for j, v := range c {
			pair[j] = v
		}
		out[i] = pair
	}
	return out
}

// Box is a legacy rectangle given by its bottom left and upper right corners.
type Box struct {
	BottomLeft Position
	UpperRight Position
}

// Shape implements [Shape].
func (b Box) Shape() bson.D {
	return bson.D{{Key: "$box", Value: bson.A{b.BottomLeft.array(), b.UpperRight.array()}}}
}

// Center is a legacy circle on a flat surface.
type Center struct {
	Center Position
	Radius float64
}

// Shape implements [Shape].
func (c Center) Shape() bson.D {
	return bson.D{{Key: "$center", Value: bson.A{c.Center.array(), c.Radius}}}
}

// CenterSphere is a legacy circle on a sphere, with radius in radians.
type CenterSphere struct {
	Center Position
	Radius float64
}

// Shape implements [Shape].
func (c CenterSphere) Shape() bson.D {
	return bson.D{{Key: "$centerSphere", Value: bson.A{c.Center.array(), c.Radius}}}
}

// LegacyPolygon is a legacy polygon on a flat surface.
type LegacyPolygon []Position

// Shape implements [Shape].
func (p LegacyPolygon) Shape() bson.D {
	points := make(bson.A, len(p))
	for i, pos := range p {
		points[i] = pos.array()
	}
	return bson.D{{Key: "$polygon", Value: points}}
}
