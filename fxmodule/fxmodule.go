// Package fxmodule wires a datastore into an fx application.
//
// Usage:
//
//	cfg, err := config.Load("gedm.yaml")
//	...
//	app := fx.New(
//	    fxmodule.WithConfig(cfg),
//	    fxmodule.FXModule,
//	    fx.Invoke(func(ds domain.Datastore) { ... }),
//	)
package fxmodule

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vinicius-lino-figueiredo/gedm/config"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/datastore"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/logger"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/memclient"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/metrics"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/mongoclient"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// FXModule provides the logger, the metrics, the client and the
// [domain.Datastore] built from a [config.Config]. The client is
// disconnected and the logger synced when the application stops.
var FXModule = fx.Module("gedm",
	fx.Provide(
		NewLogger,
		NewMetrics,
		NewClient,
		NewDatastore,
	),
	fx.Invoke(RegisterLoggerLifecycle),
)

// WithConfig supplies cfg to the application.
func WithConfig(cfg *config.Config) fx.Option {
	return fx.Supply(cfg)
}

// NewLogger builds the logger described by the configuration.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Log)
}

// MetricsParams groups the dependencies of [NewMetrics].
type MetricsParams struct {
	fx.In

	Config     *config.Config
	Registerer prometheus.Registerer `optional:"true"`
}

// NewMetrics returns Prometheus collectors when enabled, registering them in
// the provided registerer or in the default one.
func NewMetrics(p MetricsParams) (domain.Metrics, error) {
	if !p.Config.Metrics.Enabled {
		return metrics.NewNop(), nil
	}
	reg := p.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return metrics.NewPrometheus(reg, p.Config.Metrics.Namespace)
}

// ClientParams groups the dependencies of [NewClient].
type ClientParams struct {
	fx.In

	Lifecycle      fx.Lifecycle
	Config         *config.Config
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider `optional:"true"`
}

// NewClient connects to the configured backend.
func NewClient(p ClientParams) (domain.Client, error) {
	ctx := context.Background()

	var (
		client domain.Client
		err    error
	)
	switch p.Config.Backend {
	case config.BackendMongo:
		var opts []mongoclient.Option
		if p.TracerProvider != nil {
			opts = append(opts, mongoclient.WithTracerProvider(p.TracerProvider))
		}
		client, err = mongoclient.Connect(ctx, p.Config.URI, opts...)
	case config.BackendMemory:
		client, err = memclient.NewClient(ctx,
			domain.WithMemoryDirectory(p.Config.Memory.Directory),
			domain.WithMemoryFlushInterval(p.Config.Memory.FlushInterval),
			domain.WithMemoryLogger(p.Logger.Named("memclient")),
		)
	default:
		err = fmt.Errorf("unknown backend %q", p.Config.Backend)
	}
	if err != nil {
		return nil, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			p.Logger.Info("disconnecting client", zap.String("backend", p.Config.Backend))
			return client.Disconnect(ctx)
		},
	})
	return client, nil
}

// DatastoreParams groups the dependencies of [NewDatastore].
type DatastoreParams struct {
	fx.In

	Config  *config.Config
	Client  domain.Client
	Logger  *zap.Logger
	Metrics domain.Metrics
}

// NewDatastore builds the datastore of the configured database.
func NewDatastore(p DatastoreParams) (domain.Datastore, error) {
	return datastore.NewDatastore(p.Client, p.Config.Database,
		domain.WithMapperOptions(p.Config.Mapper.Options()...),
		domain.WithLogger(p.Logger),
		domain.WithMetrics(p.Metrics),
	)
}

// LoggerLifecycleParams groups the dependencies of
// [RegisterLoggerLifecycle].
type LoggerLifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Logger    *zap.Logger
}

// RegisterLoggerLifecycle flushes buffered entries on stop.
func RegisterLoggerLifecycle(p LoggerLifecycleParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			// stderr cannot be synced on some platforms.
			_ = p.Logger.Sync()
			return nil
		},
	})
}
