package fxmodule

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/gedm/config"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/logger"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/metrics"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

type planet struct {
	ID   string
	Name string `gedm:"name"`
}

type FXModuleTestSuite struct {
	suite.Suite
	cfg *config.Config
}

func (s *FXModuleTestSuite) SetupTest() {
	s.cfg = &config.Config{
		Backend:  config.BackendMemory,
		Database: "solar",
		Mapper: config.Mapper{
			TagName:          "gedm",
			DiscriminatorKey: "_t",
			ValidatePaths:    true,
		},
		Log: logger.Config{Level: logger.Error},
	}
}

// The module should provide a working datastore over the memory backend.
func (s *FXModuleTestSuite) TestMemory() {
	var ds domain.Datastore
	app := fxtest.New(s.T(), WithConfig(s.cfg), FXModule, fx.Populate(&ds))
	app.RequireStart()
	defer app.RequireStop()

	ctx := context.Background()
	p := &planet{Name: "Earth"}
	s.Require().NoError(ds.Insert(ctx, p))
	s.NotEmpty(p.ID)

	loaded := &planet{ID: p.ID}
	s.Require().NoError(ds.Refresh(ctx, loaded))
	s.Equal("Earth", loaded.Name)
	s.IsType(metrics.Nop{}, ds.Metrics())
}

// Stopping the application should flush the memory backend to disk.
func (s *FXModuleTestSuite) TestPersistence() {
	dir := s.T().TempDir()
	s.cfg.Memory.Directory = dir

	var ds domain.Datastore
	app := fxtest.New(s.T(), WithConfig(s.cfg), FXModule, fx.Populate(&ds))
	app.RequireStart()
	s.Require().NoError(ds.Insert(context.Background(), &planet{Name: "Mars"}))
	app.RequireStop()

	_, err := os.Stat(filepath.Join(dir, "solar.db"))
	s.NoError(err)

	var reloaded domain.Datastore
	app = fxtest.New(s.T(), WithConfig(s.cfg), FXModule, fx.Populate(&reloaded))
	app.RequireStart()
	defer app.RequireStop()

	n, err := reloaded.Database().Collection("planet", domain.CollectionOptions{}).
		CountDocuments(context.Background(), map[string]any{}, domain.CountOptions{})
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

// Enabled metrics should be registered in the provided registerer.
func (s *FXModuleTestSuite) TestMetrics() {
	s.cfg.Metrics = config.Metrics{Enabled: true, Namespace: "solar"}
	reg := prometheus.NewRegistry()

	var ds domain.Datastore
	app := fxtest.New(s.T(),
		WithConfig(s.cfg),
		fx.Provide(func() prometheus.Registerer { return reg }),
		FXModule,
		fx.Populate(&ds),
	)
	app.RequireStart()
	defer app.RequireStop()

	s.Require().NoError(ds.Insert(context.Background(), &planet{Name: "Venus"}))

	families, err := reg.Gather()
	s.Require().NoError(err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	s.Contains(names, "solar_operations_total")
	s.Contains(names, "solar_operation_duration_seconds")
}

// An unknown backend should fail to start.
func (s *FXModuleTestSuite) TestUnknownBackend() {
	s.cfg.Backend = "sqlite"
	var ds domain.Datastore
	app := fx.New(WithConfig(s.cfg), FXModule, fx.Populate(&ds), fx.NopLogger)
	s.Error(app.Err())
}

func TestFXModuleTestSuite(t *testing.T) {
	suite.Run(t, new(FXModuleTestSuite))
}
