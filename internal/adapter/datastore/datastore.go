// Package datastore contains the default [domain.Datastore] implementation.
package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/codec"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/idgenerator"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/mapper"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/metrics"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/pathresolver"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/timegetter"
	"go.uber.org/zap"
)

// Datastore implements [domain.Datastore].
type Datastore struct {
	client      domain.Client
	database    domain.Database
	mapper      domain.Mapper
	codec       domain.Codec
	resolver    domain.PathResolver
	logger      *zap.Logger
	metrics     domain.Metrics
	idGenerator domain.IDGenerator
	timeGetter  domain.TimeGetter
	// session is set on datastores returned by StartSession.
	session *sessionState
}

// NewDatastore returns a new implementation of [domain.Datastore] storing
// entities in the named database of client.
func NewDatastore(client domain.Client, database string, options ...domain.DatastoreOption) (domain.Datastore, error) {
	if client == nil {
		return nil, &domain.ValidationError{Operation: "datastore", Reason: "nil client"}
	}
	if database == "" {
		return nil, &domain.ValidationError{Operation: "datastore", Reason: "empty database name"}
	}

	var opts domain.DatastoreOptions
	for _, option := range options {
		option(&opts)
	}
	if opts.Mapper == nil {
		opts.Mapper = mapper.NewMapper(opts.MapperOptions...)
	}
	if opts.Codec == nil {
		opts.Codec = codec.NewCodec(opts.Mapper)
	}
	if opts.Resolver == nil {
		opts.Resolver = pathresolver.NewPathResolver(opts.Mapper)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = idgenerator.NewIDGenerator()
	}
	if opts.TimeGetter == nil {
		opts.TimeGetter = timegetter.NewTimeGetter()
	}

	return &Datastore{
		client:      client,
		database:    client.Database(database),
		mapper:      opts.Mapper,
		codec:       opts.Codec,
		resolver:    opts.Resolver,
		logger:      opts.Logger.With(zap.String("database", database)),
		metrics:     opts.Metrics,
		idGenerator: opts.IDGenerator,
		timeGetter:  opts.TimeGetter,
	}, nil
}

// Mapper implements [domain.Backend].
func (d *Datastore) Mapper() domain.Mapper { return d.mapper }

// Codec implements [domain.Backend].
func (d *Datastore) Codec() domain.Codec { return d.codec }

// Resolver implements [domain.Backend].
func (d *Datastore) Resolver() domain.PathResolver { return d.resolver }

// Logger implements [domain.Backend].
func (d *Datastore) Logger() *zap.Logger { return d.logger }

// Database implements [domain.Backend].
func (d *Datastore) Database() domain.Database { return d.database }

// Metrics implements [domain.Datastore].
func (d *Datastore) Metrics() domain.Metrics { return d.metrics }

// Collection implements [domain.Backend].
func (d *Datastore) Collection(model *domain.EntityModel) domain.Collection {
	return d.collection(model, "")
}

// collection returns the collection of model, or the one named name when
// not empty.
func (d *Datastore) collection(model *domain.EntityModel, name string) domain.Collection {
	if name == "" {
		name = model.Collection
	}
	return d.database.Collection(name, domain.CollectionOptions{WriteConcern: model.WriteConcern})
}

// Do implements [domain.Backend]. On session datastores, calls wait for the
// session to be free.
func (d *Datastore) Do(ctx context.Context, operation, collection string, fn func(context.Context) error) error {
	if s := d.session; s != nil {
		if err := s.mu.LockWithContext(ctx); err != nil {
			return err
		}
		defer s.mu.Unlock()
		if s.ended {
			return domain.ErrSessionEnded
		}
		ctx = s.session.Bind(ctx)
	}
	start := time.Now()
	err := fn(ctx)
	d.metrics.ObserveOperation(operation, collection, time.Since(start), err)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		d.logger.Debug("operation failed",
			zap.String("operation", operation),
			zap.String("collection", collection),
			zap.Error(err),
		)
	}
	return err
}

func (d *Datastore) renderContext(model *domain.EntityModel) *domain.RenderContext {
	return &domain.RenderContext{
		Mapper:   d.mapper,
		Model:    model,
		Validate: true,
		Resolver: d.resolver,
		Codec:    d.codec,
	}
}
