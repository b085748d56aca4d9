// Package config loads the settings of a datastore from files and the
// environment.
//
// Every key can be overridden by an environment variable named after it
// with a GEDM_ prefix and dots replaced by underscores, such as
// GEDM_MEMORY_DIRECTORY.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/logger"
)

// Backends accepted by [Config].
const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

const envPrefix = "GEDM"

// Config holds everything needed to build a datastore.
type Config struct {
	// Backend is mongo or memory.
	Backend string `mapstructure:"backend" validate:"required,oneof=mongo memory"`
	// URI is the connection string of the mongo backend.
	URI      string `mapstructure:"uri" validate:"required_if=Backend mongo"`
	Database string `mapstructure:"database" validate:"required"`

	Memory  Memory        `mapstructure:"memory"`
	Mapper  Mapper        `mapstructure:"mapper"`
	Log     logger.Config `mapstructure:"log"`
	Metrics Metrics       `mapstructure:"metrics"`
}

// Memory configures the in-memory backend.
type Memory struct {
	// Directory holds one snapshot file per database. Empty keeps
	// everything in memory.
	Directory     string        `mapstructure:"directory"`
	FlushInterval time.Duration `mapstructure:"flush_interval" validate:"gte=0"`
}

// Mapper holds the mapping conventions.
type Mapper struct {
	TagName          string `mapstructure:"tag_name" validate:"required"`
	DiscriminatorKey string `mapstructure:"discriminator_key" validate:"required"`
	ValidatePaths    bool   `mapstructure:"validate_paths"`
	StoreNulls       bool   `mapstructure:"store_nulls"`
	StoreEmpties     bool   `mapstructure:"store_empties"`
}

// Options converts the conventions into mapper options.
func (m Mapper) Options() []domain.MapperOption {
	return []domain.MapperOption{
		domain.WithTagName(m.TagName),
		domain.WithDiscriminatorKey(m.DiscriminatorKey),
		domain.WithPathValidation(m.ValidatePaths),
		domain.WithStoreNulls(m.StoreNulls),
		domain.WithStoreEmpties(m.StoreEmpties),
	}
}

// Metrics enables Prometheus collectors.
type Metrics struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace" validate:"required_if=Enabled true"`
}

func newViper() *viper.Viper {
	vi := viper.New()

	vi.SetDefault("backend", BackendMemory)
	vi.SetDefault("uri", "")
	vi.SetDefault("database", "")

	vi.SetDefault("memory.directory", "")
	vi.SetDefault("memory.flush_interval", time.Duration(0))

	vi.SetDefault("mapper.tag_name", "gedm")
	vi.SetDefault("mapper.discriminator_key", "_t")
	vi.SetDefault("mapper.validate_paths", true)
	vi.SetDefault("mapper.store_nulls", false)
	vi.SetDefault("mapper.store_empties", false)

	vi.SetDefault("log.level", logger.Info)
	vi.SetDefault("log.encoding", "json")
	vi.SetDefault("log.service", "gedm")

	vi.SetDefault("metrics.enabled", false)
	vi.SetDefault("metrics.namespace", "gedm")

	vi.SetEnvPrefix(envPrefix)
	vi.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vi.AutomaticEnv()
	return vi
}

// Load reads the file at path, if any, applying defaults and environment
// overrides.
func Load(path string) (*Config, error) {
	vi := newViper()
	if path != "" {
		vi.SetConfigFile(path)
		if err := vi.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return decode(vi)
}

// Parse reads a configuration of the given format, such as yaml or json.
func Parse(r io.Reader, format string) (*Config, error) {
	vi := newViper()
	vi.SetConfigType(format)
	if err := vi.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return decode(vi)
}

func decode(vi *viper.Viper) (*Config, error) {
	var c Config
	if err := vi.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the values of c.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
