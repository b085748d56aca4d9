package mongoclient

import (
	"context"
	"time"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"
)

// withMaxTime bounds ctx by d. The driver dropped per operation time limits
// in favour of context deadlines.
func withMaxTime(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func collation(c *domain.Collation) *options.Collation {
	if c == nil {
		return nil
	}
	return &options.Collation{
		Locale:          c.Locale,
		CaseLevel:       c.CaseLevel,
		CaseFirst:       c.CaseFirst,
		Strength:        c.Strength,
		NumericOrdering: c.NumericOrdering,
	}
}

func writeConcern(wc *domain.WriteConcern) *writeconcern.WriteConcern {
	if wc == nil {
		return nil
	}
	return &writeconcern.WriteConcern{W: wc.W, Journal: wc.Journal}
}

func findOptions(o domain.FindOptions) *options.FindOptionsBuilder {
	b := options.Find()
	if len(o.Sort) > 0 {
		b.SetSort(o.Sort)
	}
	if len(o.Projection) > 0 {
		b.SetProjection(o.Projection)
	}
	if o.Skip > 0 {
		b.SetSkip(o.Skip)
	}
	if o.Limit != 0 {
		b.SetLimit(o.Limit)
	}
	if o.BatchSize > 0 {
		b.SetBatchSize(o.BatchSize)
	}
	if o.Collation != nil {
		b.SetCollation(collation(o.Collation))
	}
	if o.Hint != nil {
		b.SetHint(o.Hint)
	}
	if o.Comment != "" {
		b.SetComment(o.Comment)
	}
	return b
}

func aggregateOptions(o domain.AggregateOptions) *options.AggregateOptionsBuilder {
	b := options.Aggregate()
	if o.AllowDiskUse {
		b.SetAllowDiskUse(true)
	}
	if o.BatchSize > 0 {
		b.SetBatchSize(o.BatchSize)
	}
	if o.Collation != nil {
		b.SetCollation(collation(o.Collation))
	}
	if o.Hint != nil {
		b.SetHint(o.Hint)
	}
	if o.Comment != "" {
		b.SetComment(o.Comment)
	}
	if len(o.Let) > 0 {
		b.SetLet(o.Let)
	}
	return b
}

func countOptions(o domain.CountOptions) *options.CountOptionsBuilder {
	b := options.Count()
	if o.Skip > 0 {
		b.SetSkip(o.Skip)
	}
	if o.Limit > 0 {
		b.SetLimit(o.Limit)
	}
	if o.Collation != nil {
		b.SetCollation(collation(o.Collation))
	}
	if o.Hint != nil {
		b.SetHint(o.Hint)
	}
	return b
}

func updateOneOptions(o domain.UpdateOptions) *options.UpdateOneOptionsBuilder {
	b := options.UpdateOne().SetUpsert(o.Upsert)
	if len(o.ArrayFilters) > 0 {
		b.SetArrayFilters(o.ArrayFilters)
	}
	if o.Collation != nil {
		b.SetCollation(collation(o.Collation))
	}
	if o.Hint != nil {
		b.SetHint(o.Hint)
	}
	return b
}

func updateManyOptions(o domain.UpdateOptions) *options.UpdateManyOptionsBuilder {
	b := options.UpdateMany().SetUpsert(o.Upsert)
	if len(o.ArrayFilters) > 0 {
		b.SetArrayFilters(o.ArrayFilters)
	}
	if o.Collation != nil {
		b.SetCollation(collation(o.Collation))
	}
	if o.Hint != nil {
		b.SetHint(o.Hint)
	}
	return b
}

func deleteOneOptions(o domain.DeleteOptions) *options.DeleteOneOptionsBuilder {
	b := options.DeleteOne()
	if o.Collation != nil {
		b.SetCollation(collation(o.Collation))
	}
	if o.Hint != nil {
		b.SetHint(o.Hint)
	}
	return b
}

func deleteManyOptions(o domain.DeleteOptions) *options.DeleteManyOptionsBuilder {
	b := options.DeleteMany()
	if o.Collation != nil {
		b.SetCollation(collation(o.Collation))
	}
	if o.Hint != nil {
		b.SetHint(o.Hint)
	}
	return b
}

func findOneAndUpdateOptions(o domain.FindOneAndUpdateOptions) *options.FindOneAndUpdateOptionsBuilder {
	b := options.FindOneAndUpdate().SetUpsert(o.Upsert)
	if o.ReturnNew {
		b.SetReturnDocument(options.After)
	}
	if len(o.Sort) > 0 {
		b.SetSort(o.Sort)
	}
	if len(o.Projection) > 0 {
		b.SetProjection(o.Projection)
	}
	if len(o.ArrayFilters) > 0 {
		b.SetArrayFilters(o.ArrayFilters)
	}
	return b
}

func findOneAndDeleteOptions(o domain.FindOneAndDeleteOptions) *options.FindOneAndDeleteOptionsBuilder {
	b := options.FindOneAndDelete()
	if len(o.Sort) > 0 {
		b.SetSort(o.Sort)
	}
	if len(o.Projection) > 0 {
		b.SetProjection(o.Projection)
	}
	return b
}

func createCollectionOptions(o domain.CreateCollectionOptions) *options.CreateCollectionOptionsBuilder {
	b := options.CreateCollection()
	if o.Capped {
		b.SetCapped(true)
		b.SetSizeInBytes(o.SizeInBytes)
		if o.MaxDocuments > 0 {
			b.SetMaxDocuments(o.MaxDocuments)
		}
	}
	if o.Validator != nil {
		b.SetValidator(o.Validator)
	}
	if o.ValidationLevel != "" {
		b.SetValidationLevel(o.ValidationLevel)
	}
	if o.ValidationAction != "" {
		b.SetValidationAction(o.ValidationAction)
	}
	return b
}

func indexModels(specs []domain.IndexSpec) []mongo.IndexModel {
	models := make([]mongo.IndexModel, len(specs))
	for i, spec := range specs {
		b := options.Index()
		if spec.Name != "" {
			b.SetName(spec.Name)
		}
		if spec.Unique {
			b.SetUnique(true)
		}
		if spec.Sparse {
			b.SetSparse(true)
		}
		if spec.ExpireAfterSeconds != nil {
			b.SetExpireAfterSeconds(*spec.ExpireAfterSeconds)
		}
		if spec.PartialFilterExpression != nil {
			b.SetPartialFilterExpression(spec.PartialFilterExpression)
		}
		models[i] = mongo.IndexModel{Keys: spec.Keys, Options: b}
	}
	return models
}

func sessionOptions(o domain.SessionOptions) *options.SessionOptionsBuilder {
	b := options.Session()
	if o.CausalConsistency != nil {
		b.SetCausalConsistency(*o.CausalConsistency)
	}
	return b
}

func transactionOptions(o domain.TransactionOptions) *options.TransactionOptionsBuilder {
	b := options.Transaction()
	if o.ReadConcern != "" {
		b.SetReadConcern(&readconcern.ReadConcern{Level: o.ReadConcern})
	}
	if o.WriteConcern != nil {
		b.SetWriteConcern(writeConcern(o.WriteConcern))
	}
	return b
}
