package datastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// EnsureIndexes implements [domain.Datastore]. It creates the indexes
// declared by every mapped entity.
func (d *Datastore) EnsureIndexes(ctx context.Context) error {
	for _, model := range d.mapper.Models() {
		if len(model.Indexes) == 0 {
			continue
		}
		specs := make([]domain.IndexSpec, 0, len(model.Indexes))
		for _, idx := range model.Indexes {
			spec, err := d.indexSpec(model, idx)
			if err != nil {
				return fmt.Errorf("index of %s: %w", model.Name, err)
			}
			specs = append(specs, spec)
		}

		coll := d.Collection(model)
		var names []string
		err := d.Do(ctx, "createIndexes", coll.Name(), func(ctx context.Context) error {
			var err error
			names, err = coll.CreateIndexes(ctx, specs)
			return err
		})
		if err != nil {
			return fmt.Errorf("creating indexes of %s: %w", model.Name, err)
		}
		d.logger.Info("indexes ensured",
			zap.String("collection", coll.Name()),
			zap.Strings("indexes", names),
		)
	}
	return nil
}

// indexSpec resolves the fields of idx against model.
func (d *Datastore) indexSpec(model *domain.EntityModel, idx domain.IndexModel) (domain.IndexSpec, error) {
	if len(idx.Keys) == 0 {
		return domain.IndexSpec{}, &domain.ValidationError{Operation: "index", Reason: "no keys"}
	}
	spec := domain.IndexSpec{
		Keys:   make(bson.D, 0, len(idx.Keys)),
		Name:   idx.Name,
		Unique: idx.Unique,
		Sparse: idx.Sparse,
	}
	for _, k := range idx.Keys {
		target, err := d.resolver.Resolve(model, k.Field, true)
		if err != nil {
			return domain.IndexSpec{}, err
		}
		kind := k.Kind
		if kind == nil {
			kind = 1
		}
		spec.Keys = append(spec.Keys, bson.E{Key: target.Path, Value: kind})
	}
	if idx.ExpireAfter > 0 {
		secs := int32(idx.ExpireAfter.Seconds())
		spec.ExpireAfterSeconds = &secs
	}
	if idx.PartialFilter != nil {
		doc, err := idx.PartialFilter.Render(d.renderContext(model))
		if err != nil {
			return domain.IndexSpec{}, err
		}
		spec.PartialFilterExpression = doc
	}
	return spec, nil
}

// EnsureCaps implements [domain.Datastore]. Capped collections that already
// exist are left as they are.
func (d *Datastore) EnsureCaps(ctx context.Context) error {
	var existing []string
	err := d.Do(ctx, "listCollections", "", func(ctx context.Context) error {
		var err error
		existing, err = d.database.ListCollectionNames(ctx, bson.D{})
		return err
	})
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing))
	for _, name := range existing {
		seen[name] = true
	}

	for _, model := range d.mapper.Models() {
		if model.Capped == nil || seen[model.Collection] {
			continue
		}
		seen[model.Collection] = true
		opts := domain.CreateCollectionOptions{
			Capped:       true,
			SizeInBytes:  model.Capped.Size,
			MaxDocuments: model.Capped.Count,
		}
		err := d.Do(ctx, "create", model.Collection, func(ctx context.Context) error {
			return d.database.CreateCollection(ctx, model.Collection, opts)
		})
		if err != nil {
			return fmt.Errorf("creating capped collection %s: %w", model.Collection, err)
		}
		d.logger.Info("capped collection created",
			zap.String("collection", model.Collection),
			zap.Int64("size", model.Capped.Size),
			zap.Int64("count", model.Capped.Count),
		)
	}
	return nil
}

// ApplyDocumentValidations implements [domain.Datastore]. Validators are
// applied with collMod; collections that do not exist yet are created with
// their validator.
func (d *Datastore) ApplyDocumentValidations(ctx context.Context) error {
	for _, model := range d.mapper.Models() {
		v := model.Validation
		if v == nil || v.Validator == nil {
			continue
		}
		validator, err := v.Validator.Render(d.renderContext(model))
		if err != nil {
			return fmt.Errorf("validator of %s: %w", model.Name, err)
		}

		cmd := bson.D{{Key: "collMod", Value: model.Collection}, {Key: "validator", Value: validator}}
		if v.Level != "" {
			cmd = append(cmd, bson.E{Key: "validationLevel", Value: v.Level})
		}
		if v.Action != "" {
			cmd = append(cmd, bson.E{Key: "validationAction", Value: v.Action})
		}
		err = d.Do(ctx, "collMod", model.Collection, func(ctx context.Context) error {
			_, err := d.database.RunCommand(ctx, cmd)
			return err
		})
		if errors.Is(err, domain.ErrNamespaceNotFound) {
			opts := domain.CreateCollectionOptions{
				Validator:        validator,
				ValidationLevel:  v.Level,
				ValidationAction: v.Action,
			}
			err = d.Do(ctx, "create", model.Collection, func(ctx context.Context) error {
				return d.database.CreateCollection(ctx, model.Collection, opts)
			})
		}
		if err != nil {
			return fmt.Errorf("applying validation of %s: %w", model.Name, err)
		}
		d.logger.Info("document validation applied", zap.String("collection", model.Collection))
	}
	return nil
}
