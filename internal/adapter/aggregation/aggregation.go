package aggregation

import (
	"context"
	"fmt"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// Aggregation implements [domain.Aggregation]. Stages are checked when added
// and rendered when the pipeline is requested, so the first invalid stage
// fails the aggregation before any driver call.
type Aggregation struct {
	backend domain.Backend
	model   *domain.EntityModel
	stages  []domain.Stage
	err     error
}

// NewAggregation returns an empty pipeline reading the collection of model.
func NewAggregation(backend domain.Backend, model *domain.EntityModel) domain.Aggregation {
	return &Aggregation{backend: backend, model: model}
}

// Pipeline implements [domain.Aggregation].
func (a *Aggregation) Pipeline(stages ...domain.Stage) domain.Aggregation {
	for _, s := range stages {
		if a.err != nil {
			break
		}
		if s == nil {
			a.err = &domain.ValidationError{Operation: "pipeline", Reason: "nil stage"}
			break
		}
		if err := s.Err(); err != nil {
			a.err = fmt.Errorf("adding %s: %w", s.StageName(), err)
			break
		}
		a.stages = append(a.stages, s)
	}
	return a
}

// Err implements [domain.Aggregation].
func (a *Aggregation) Err() error {
	return a.err
}

// Document implements [domain.Aggregation].
func (a *Aggregation) Document() ([]bson.D, error) {
	if a.err != nil {
		return nil, a.err
	}
	return EncodePipeline(a.renderContext(), a.stages)
}

// Execute implements [domain.Aggregation].
func (a *Aggregation) Execute(ctx context.Context, options ...domain.AggregateOption) (domain.Cursor, error) {
	pipeline, err := a.Document()
	if err != nil {
		return nil, err
	}
	var opts domain.AggregateOptions
	for _, option := range options {
		option(&opts)
	}
	coll := a.backend.Collection(a.model)
	a.backend.Logger().Debug("aggregate",
		zap.String("collection", coll.Name()),
		zap.Any("pipeline", pipeline),
	)
	var cur domain.Cursor
	err = a.backend.Do(ctx, "aggregate", coll.Name(), func(ctx context.Context) error {
		var err error
		cur, err = coll.Aggregate(ctx, pipeline, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cur, nil
}

// renderContext resolves paths without validation: stages reshape documents,
// so later stages may reference fields the model does not declare.
func (a *Aggregation) renderContext() *domain.RenderContext {
	return &domain.RenderContext{
		Mapper:   a.backend.Mapper(),
		Model:    a.model,
		Resolver: a.backend.Resolver(),
		Codec:    a.backend.Codec(),
	}
}
