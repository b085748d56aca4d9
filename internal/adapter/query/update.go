package query

import (
	"context"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/update"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Update implements [domain.Update].
type Update[T any] struct {
	query     *Query[T]
	operators []domain.UpdateOperator
}

// Document implements [domain.Update]. Versioned entities have their version
// incremented and timestamped entities have their update time set, unless
// an operator already targets those fields.
func (u *Update[T]) Document() (bson.D, error) {
	return render(u.query, u.operators)
}

func render[T any](q *Query[T], operators []domain.UpdateOperator) (bson.D, error) {
	if q.err != nil {
		return nil, q.err
	}
	ops := update.NewOperations(q.renderContext())
	if err := ops.Add(operators...); err != nil {
		return nil, err
	}
	ops.BumpVersion(q.model)
	ops.Touch(q.model)
	return ops.Document()
}

// Execute implements [domain.Update].
func (u *Update[T]) Execute(ctx context.Context, options ...domain.UpdateOption) (domain.UpdateResult, error) {
	var opts domain.UpdateOptions
	for _, option := range options {
		option(&opts)
	}
	opts.Collation = u.query.options.Collation
	opts.Hint = u.query.options.Hint

	filter, err := u.query.Document()
	if err != nil {
		return domain.UpdateResult{}, err
	}
	doc, err := u.Document()
	if err != nil {
		return domain.UpdateResult{}, err
	}
	coll := u.query.collection()
	var res domain.UpdateResult
	err = u.query.do(ctx, "update", coll, filter, func(ctx context.Context) error {
		var err error
		if opts.Multi {
			res, err = coll.UpdateMany(ctx, filter, doc, opts)
		} else {
			res, err = coll.UpdateOne(ctx, filter, doc, opts)
		}
		return err
	})
	return res, err
}

// Modify implements [domain.Modify].
type Modify[T any] struct {
	query     *Query[T]
	operators []domain.UpdateOperator
}

// Execute implements [domain.Modify]. It returns [domain.ErrNotFound] when
// nothing matched and no document was upserted.
func (m *Modify[T]) Execute(ctx context.Context, options ...domain.ModifyOption) (T, error) {
	var zero T
	var opts domain.ModifyOptions
	for _, option := range options {
		option(&opts)
	}
	filter, err := m.query.Document()
	if err != nil {
		return zero, err
	}
	doc, err := render(m.query, m.operators)
	if err != nil {
		return zero, err
	}
	fopts, err := m.query.findOptions()
	if err != nil {
		return zero, err
	}
	coll := m.query.collection()
	mopts := domain.FindOneAndUpdateOptions{
		Sort:         fopts.Sort,
		Projection:   fopts.Projection,
		Upsert:       opts.Upsert,
		ReturnNew:    opts.ReturnNew,
		ArrayFilters: opts.ArrayFilters,
		MaxTime:      fopts.MaxTime,
	}
	var raw bson.Raw
	err = m.query.do(ctx, "findAndModify", coll, filter, func(ctx context.Context) error {
		var err error
		raw, err = coll.FindOneAndUpdate(ctx, filter, doc, mopts)
		return err
	})
	if err != nil {
		return zero, err
	}
	return Decode[T](ctx, m.query.backend.Codec(), raw)
}
