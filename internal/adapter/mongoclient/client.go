// Package mongoclient implements the driver port of the domain package on top
// of the official MongoDB driver. Every collection call runs in an
// OpenTelemetry span and its errors are translated to domain sentinels.
package mongoclient

import (
	"context"
	"fmt"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/vinicius-lino-figueiredo/gedm/internal/adapter/mongoclient"

// Option configures a [Client] through the functional options pattern.
type Option func(*Options)

// Options contains the parameters of a [Client].
type Options struct {
	// TracerProvider creates the tracer of the client. Defaults to the
	// global provider.
	TracerProvider trace.TracerProvider
}

// WithTracerProvider sets the provider of the client tracer.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

// Client implements [domain.Client].
type Client struct {
	client *mongo.Client
	tracer trace.Tracer
}

// Connect connects to uri and pings the primary.
func Connect(ctx context.Context, uri string, opts ...Option) (*Client, error) {
	mc, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongoclient: connect: %w", err)
	}
	if err := mc.Ping(ctx, readpref.Primary()); err != nil {
		_ = mc.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("mongoclient: ping: %w", err)
	}
	return NewClient(mc, opts...), nil
}

// NewClient wraps an already connected driver client.
func NewClient(mc *mongo.Client, opts ...Option) *Client {
	var o Options
	for _, option := range opts {
		option(&o)
	}
	if o.TracerProvider == nil {
		o.TracerProvider = otel.GetTracerProvider()
	}
	return &Client{
		client: mc,
		tracer: o.TracerProvider.Tracer(instrumentationName),
	}
}

// Database implements [domain.Client].
func (c *Client) Database(name string) domain.Database {
	return &Database{db: c.client.Database(name), tracer: c.tracer}
}

// StartSession implements [domain.Client].
func (c *Client) StartSession(ctx context.Context, opts domain.SessionOptions) (domain.Session, error) {
	s, err := c.client.StartSession(sessionOptions(opts))
	if err != nil {
		return nil, translate(err)
	}
	return &Session{session: s}, nil
}

// Disconnect implements [domain.Client].
func (c *Client) Disconnect(ctx context.Context) error {
	return translate(c.client.Disconnect(ctx))
}

// Ping checks that the primary is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return translate(c.client.Ping(ctx, readpref.Primary()))
}

// Database implements [domain.Database].
type Database struct {
	db     *mongo.Database
	tracer trace.Tracer
}

// Name implements [domain.Database].
func (d *Database) Name() string { return d.db.Name() }

// Collection implements [domain.Database].
func (d *Database) Collection(name string, opts domain.CollectionOptions) domain.Collection {
	b := options.Collection()
	if wc := writeConcern(opts.WriteConcern); wc != nil {
		b.SetWriteConcern(wc)
	}
	return &Collection{coll: d.db.Collection(name, b), tracer: d.tracer, database: d.db.Name()}
}

// RunCommand implements [domain.Database].
func (d *Database) RunCommand(ctx context.Context, cmd any) (raw bson.Raw, err error) {
	ctx, end := span(ctx, d.tracer, d.db.Name(), "", "runCommand")
	defer func() { end(err) }()
	raw, err = d.db.RunCommand(ctx, cmd).Raw()
	return raw, translate(err)
}

// CreateCollection implements [domain.Database].
func (d *Database) CreateCollection(ctx context.Context, name string, opts domain.CreateCollectionOptions) (err error) {
	ctx, end := span(ctx, d.tracer, d.db.Name(), name, "create")
	defer func() { end(err) }()
	return translate(d.db.CreateCollection(ctx, name, createCollectionOptions(opts)))
}

// ListCollectionNames implements [domain.Database].
func (d *Database) ListCollectionNames(ctx context.Context, filter any) (names []string, err error) {
	ctx, end := span(ctx, d.tracer, d.db.Name(), "", "listCollections")
	defer func() { end(err) }()
	names, err = d.db.ListCollectionNames(ctx, filter)
	return names, translate(err)
}

// span starts the client span of one call. The returned function ends it,
// recording err.
func span(ctx context.Context, tracer trace.Tracer, database, collection, operation string) (context.Context, func(error)) {
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "mongodb"),
		attribute.String("db.namespace", database),
		attribute.String("db.operation.name", operation),
	}
	if collection != "" {
		attrs = append(attrs, attribute.String("db.collection.name", collection))
	}
	ctx, s := tracer.Start(ctx, "mongodb."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		if err != nil {
			s.RecordError(err)
			s.SetStatus(codes.Error, err.Error())
		}
		s.End()
	}
}

var (
	_ domain.Client   = (*Client)(nil)
	_ domain.Database = (*Database)(nil)
)
