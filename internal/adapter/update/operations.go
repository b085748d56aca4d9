// Package update renders update operators into update documents.
package update

import (
	"slices"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type entry struct {
	path  string
	value any
}

// Operations accumulates update operators for one model. A path registered
// twice under the same operator keeps the last value.
type Operations struct {
	ctx       *domain.RenderContext
	operators []string
	entries   map[string][]entry
}

// NewOperations returns an empty accumulator rendering against ctx.
func NewOperations(ctx *domain.RenderContext) *Operations {
	return &Operations{ctx: ctx, entries: make(map[string][]entry)}
}

// Add resolves and encodes operators, in order.
func (o *Operations) Add(operators ...domain.UpdateOperator) error {
	for _, u := range operators {
		if u.Err != nil {
			return u.Err
		}
		if err := o.add(u); err != nil {
			return err
		}
	}
	return nil
}

// Empty reports whether no operator was added.
func (o *Operations) Empty() bool {
	return len(o.operators) == 0
}

// Has reports whether path was registered under any operator.
func (o *Operations) Has(path string) bool {
	for _, entries := range o.entries {
		for _, e := range entries {
			if e.path == path {
				return true
			}
		}
	}
	return false
}

// BumpVersion increments the version of versioned models by one, unless an
// operator already targets the version field.
func (o *Operations) BumpVersion(model *domain.EntityModel) {
	if model == nil || !model.Versioned() {
		return
	}
	path := model.VersionProperty.MappedName
	if o.Has(path) {
		return
	}
	o.register(domain.OpInc, path, 1)
}

// Touch sets the update timestamp of model to the server date, unless an
// operator already targets it.
func (o *Operations) Touch(model *domain.EntityModel) {
	if model == nil || model.UpdatedAt == nil {
		return
	}
	path := model.UpdatedAt.MappedName
	if o.Has(path) {
		return
	}
	o.register(domain.OpCurrentDate, path, true)
}

// Raw registers an already resolved path and encoded value under op.
func (o *Operations) Raw(op, path string, value any) {
	o.register(op, path, value)
}

// Document renders the update document, one key per operator in first use
// order.
func (o *Operations) Document() (bson.D, error) {
	if o.Empty() {
		return nil, &domain.ValidationError{Operation: "update", Reason: "no update operators"}
	}
	doc := make(bson.D, 0, len(o.operators))
	for _, op := range o.operators {
		fields := make(bson.D, 0, len(o.entries[op]))
		for _, e := range o.entries[op] {
			fields = append(fields, bson.E{Key: e.path, Value: e.value})
		}
		doc = append(doc, bson.E{Key: op, Value: fields})
	}
	return doc, nil
}

func (o *Operations) register(op, path string, value any) {
	entries, ok := o.entries[op]
	if !ok {
		o.operators = append(o.operators, op)
	}
	if i := slices.IndexFunc(entries, func(e entry) bool { return e.path == path }); i >= 0 {
		entries[i].value = value
		return
	}
	o.entries[op] = append(entries, entry{path: path, value: value})
}

func (o *Operations) add(u domain.UpdateOperator) error {
	if u.Entity != nil {
		return o.addEntity(u)
	}
	target, err := o.ctx.Resolve(u.Field)
	if err != nil {
		return err
	}

	var value any
	switch u.Operator {
	case domain.OpSet, domain.OpSetOnInsert, domain.OpMin, domain.OpMax:
		value, err = o.ctx.Encode(target, u.Value)
	case domain.OpRename:
		var to domain.PathTarget
		to, err = o.ctx.Resolve(u.Value.(string))
		value = to.Path
	case domain.OpPush, domain.OpAddToSet:
		value, err = o.arrayValue(target, u)
	case domain.OpPull:
		value, err = o.pullValue(target, u.Value)
	case domain.OpPullAll:
		value, err = o.list(u.Value.([]any))
	default:
		value = u.Value
	}
	if err != nil {
		return err
	}
	o.register(u.Operator, target.Path, value)
	return nil
}

// addEntity registers every stored field of the entity under $set.
func (o *Operations) addEntity(u domain.UpdateOperator) error {
	if o.ctx == nil || o.ctx.Codec == nil || o.ctx.Mapper == nil {
		return &domain.ValidationError{Operation: domain.OpSet, Reason: "entity updates need a codec"}
	}
	model, err := o.ctx.Mapper.ModelOf(u.Entity)
	if err != nil {
		return err
	}
	doc, err := o.ctx.Codec.Encode(u.Entity)
	if err != nil {
		return err
	}
	for _, e := range doc {
		if e.Key == "_id" {
			continue
		}
		if u.StripVersion && model.Versioned() && e.Key == model.VersionProperty.MappedName {
			continue
		}
		o.register(domain.OpSet, e.Key, e.Value)
	}
	return nil
}

func (o *Operations) arrayValue(target domain.PathTarget, u domain.UpdateOperator) (any, error) {
	if !u.Each {
		return o.ctx.Encode(domain.PathTarget{}, u.Value)
	}
	list, err := o.list(u.Value.([]any))
	if err != nil {
		return nil, err
	}
	value := bson.D{{Key: "$each", Value: list}}
	if u.Position != nil {
		value = append(value, bson.E{Key: "$position", Value: *u.Position})
	}
	if u.Slice != nil {
		value = append(value, bson.E{Key: "$slice", Value: *u.Slice})
	}
	if u.Sort != nil {
		sort, err := o.sortValue(target, u.Sort)
		if err != nil {
			return nil, err
		}
		value = append(value, bson.E{Key: "$sort", Value: sort})
	}
	return value, nil
}

// sortValue renders sort fields against the array elements.
func (o *Operations) sortValue(target domain.PathTarget, sort any) (any, error) {
	var fields []domain.SortField
	switch s := sort.(type) {
	case domain.SortField:
		fields = []domain.SortField{s}
	case []domain.SortField:
		fields = s
	default:
		return sort, nil
	}
	model, err := o.ctx.ElementModel(target)
	if err != nil {
		return nil, err
	}
	return domain.RenderSort(o.ctx.WithModel(model), fields)
}

// pullValue renders a filter against the array elements. Conditions on the
// element itself are unwrapped.
func (o *Operations) pullValue(target domain.PathTarget, v any) (any, error) {
	f, ok := v.(domain.Filter)
	if !ok {
		return o.ctx.Encode(domain.PathTarget{}, v)
	}
	model, err := o.ctx.ElementModel(target)
	if err != nil {
		return nil, err
	}
	inner := o.ctx.WithModel(model)
	if model == nil {
		inner.Validate = false
	}
	doc, err := f.Render(inner)
	if err != nil {
		return nil, err
	}
	if len(doc) == 1 && doc[0].Key == "" {
		return doc[0].Value, nil
	}
	return doc, nil
}

func (o *Operations) list(values []any) (bson.A, error) {
	out := make(bson.A, 0, len(values))
	for _, v := range values {
		enc, err := o.ctx.Encode(domain.PathTarget{}, v)
		if err != nil {
			return nil, err
		}
		out = append(out, enc)
	}
	return out, nil
}
