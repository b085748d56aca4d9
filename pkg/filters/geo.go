package filters

import (
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/pkg/geo"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// GeoFilter is a geospatial filter. Geospatial operators cannot be wrapped in
// $not, so negating one records an error returned when it is used.
type GeoFilter struct {
	op          string
	field       string
	operand     bson.D
	maxDistance *float64
	minDistance *float64
	err         error
}

// Near matches documents ordered by distance to point on a flat surface.
func Near(field string, point geo.Point) GeoFilter {
	return GeoFilter{op: "$near", field: field, operand: bson.D{{Key: "$geometry", Value: point.GeoJSON()}}}
}

// NearSphere matches documents ordered by distance to point on a sphere.
func NearSphere(field string, point geo.Point) GeoFilter {
	return GeoFilter{op: "$nearSphere", field: field, operand: bson.D{{Key: "$geometry", Value: point.GeoJSON()}}}
}

// GeoWithin matches documents whose geometry lies within shape.
func GeoWithin(field string, shape geo.Shape) GeoFilter {
	return GeoFilter{op: "$geoWithin", field: field, operand: shape.Shape()}
}

// GeoIntersects matches documents whose geometry intersects g.
func GeoIntersects(field string, g geo.Geometry) GeoFilter {
	return GeoFilter{op: "$geoIntersects", field: field, operand: bson.D{{Key: "$geometry", Value: g.GeoJSON()}}}
}

// MaxDistance returns a copy of a $near or $nearSphere filter limited to d
// meters.
func (f GeoFilter) MaxDistance(d float64) GeoFilter {
	f.maxDistance = &d
	return f
}

// MinDistance returns a copy of a $near or $nearSphere filter starting at d
// meters.
func (f GeoFilter) MinDistance(d float64) GeoFilter {
	f.minDistance = &d
	return f
}

// Not implements [domain.Filter].
func (f GeoFilter) Not() domain.Filter {
	f.err = &domain.UnsupportedOperationError{Operation: f.op, Reason: "$not cannot be applied to geospatial filters"}
	return f
}

// Err implements [domain.Filter].
func (f GeoFilter) Err() error { return f.err }

// Render implements [domain.Filter].
func (f GeoFilter) Render(ctx *domain.RenderContext) (bson.D, error) {
	if f.err != nil {
		return nil, f.err
	}
	target, err := ctx.Resolve(f.field)
	if err != nil {
		return nil, err
	}
	operand := append(bson.D{}, f.operand...)
	if f.maxDistance != nil {
		operand = append(operand, bson.E{Key: "$maxDistance", Value: *f.maxDistance})
	}
	if f.minDistance != nil {
		operand = append(operand, bson.E{Key: "$minDistance", Value: *f.minDistance})
	}
	return bson.D{{Key: target.Path, Value: bson.D{{Key: f.op, Value: operand}}}}, nil
}

// TextFilter is a $text search.
type TextFilter struct {
	search             string
	language           string
	caseSensitive      *bool
	diacriticSensitive *bool
	not                bool
}

// Text matches documents with text indexes matching search.
func Text(search string) TextFilter {
	return TextFilter{search: search}
}

// Language returns a copy of the filter using the given stemming language.
func (f TextFilter) Language(l string) TextFilter {
	f.language = l
	return f
}

// CaseSensitive returns a copy of the filter with case sensitivity set.
func (f TextFilter) CaseSensitive(c bool) TextFilter {
	f.caseSensitive = &c
	return f
}

// DiacriticSensitive returns a copy of the filter with diacritic sensitivity
// set.
func (f TextFilter) DiacriticSensitive(d bool) TextFilter {
	f.diacriticSensitive = &d
	return f
}

// Not implements [domain.Filter].
func (f TextFilter) Not() domain.Filter {
	f.not = !f.not
	return f
}

// Err implements [domain.Filter].
func (f TextFilter) Err() error {
	if f.not {
		return &domain.UnsupportedOperationError{Operation: "$text", Reason: "cannot be negated"}
	}
	return nil
}

// Render implements [domain.Filter].
func (f TextFilter) Render(*domain.RenderContext) (bson.D, error) {
	if err := f.Err(); err != nil {
		return nil, err
	}
	doc := bson.D{{Key: "$search", Value: f.search}}
	if f.language != "" {
		doc = append(doc, bson.E{Key: "$language", Value: f.language})
	}
	if f.caseSensitive != nil {
		doc = append(doc, bson.E{Key: "$caseSensitive", Value: *f.caseSensitive})
	}
	if f.diacriticSensitive != nil {
		doc = append(doc, bson.E{Key: "$diacriticSensitive", Value: *f.diacriticSensitive})
	}
	return bson.D{{Key: "$text", Value: doc}}, nil
}
