// Package sorts builds query and $sort stage specifications.
package sorts

import (
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Ascending sorts by field from lowest to highest.
func Ascending(field string) domain.SortField {
	return domain.SortField{Field: field, Order: 1}
}

// Descending sorts by field from highest to lowest.
func Descending(field string) domain.SortField {
	return domain.SortField{Field: field, Order: -1}
}

// TextScore sorts by the relevance of a $text search, storing the score in
// field.
func TextScore(field string) domain.SortField {
	return domain.SortField{Field: field, Order: bson.D{{Key: "$meta", Value: "textScore"}}}
}

// By combines sort fields in order.
func By(fields ...domain.SortField) []domain.SortField {
	return fields
}
