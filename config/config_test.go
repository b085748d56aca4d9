package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
)

type ConfigTestSuite struct {
	suite.Suite
}

// Defaults should fill every key not present in the input.
func (s *ConfigTestSuite) TestDefaults() {
	c, err := Parse(strings.NewReader(`database: solar`), "yaml")
	s.Require().NoError(err)
	s.Equal(BackendMemory, c.Backend)
	s.Equal("solar", c.Database)
	s.Equal("gedm", c.Mapper.TagName)
	s.Equal("_t", c.Mapper.DiscriminatorKey)
	s.True(c.Mapper.ValidatePaths)
	s.Equal("info", c.Log.Level)
	s.Equal("json", c.Log.Encoding)
	s.False(c.Metrics.Enabled)
}

// Nested keys should be decoded into their sections.
func (s *ConfigTestSuite) TestParse() {
	yaml := `
backend: memory
database: solar
memory:
  directory: /tmp/solar
  flush_interval: 2s
mapper:
  store_nulls: true
log:
  level: debug
  encoding: console
metrics:
  enabled: true
  namespace: solar
`
	c, err := Parse(strings.NewReader(yaml), "yaml")
	s.Require().NoError(err)
	s.Equal("/tmp/solar", c.Memory.Directory)
	s.Equal(2*time.Second, c.Memory.FlushInterval)
	s.True(c.Mapper.StoreNulls)
	s.Equal("debug", c.Log.Level)
	s.Equal("console", c.Log.Encoding)
	s.True(c.Metrics.Enabled)
	s.Equal("solar", c.Metrics.Namespace)
}

// A file on disk should be loaded, with environment overrides on top.
func (s *ConfigTestSuite) TestLoad() {
	path := filepath.Join(s.T().TempDir(), "gedm.json")
	s.Require().NoError(os.WriteFile(path, []byte(`{"database":"solar","backend":"memory"}`), 0o600))
	s.T().Setenv("GEDM_DATABASE", "galaxy")
	s.T().Setenv("GEDM_LOG_LEVEL", "error")

	c, err := Load(path)
	s.Require().NoError(err)
	s.Equal("galaxy", c.Database)
	s.Equal("error", c.Log.Level)
}

// Without a file, the environment alone should be enough.
func (s *ConfigTestSuite) TestLoadEnvOnly() {
	s.T().Setenv("GEDM_DATABASE", "solar")
	c, err := Load("")
	s.Require().NoError(err)
	s.Equal("solar", c.Database)
}

// A missing file should fail.
func (s *ConfigTestSuite) TestLoadMissing() {
	_, err := Load(filepath.Join(s.T().TempDir(), "missing.yaml"))
	s.Error(err)
}

// Invalid combinations should be rejected.
func (s *ConfigTestSuite) TestValidate() {
	for _, input := range []string{
		`backend: memory`,
		`{backend: mongo, database: solar}`,
		`{backend: sqlite, database: solar}`,
		`{database: solar, log: {level: verbose}}`,
		`{database: solar, metrics: {enabled: true, namespace: ""}}`,
		`{database: solar, mapper: {tag_name: ""}}`,
	} {
		_, err := Parse(strings.NewReader(input), "yaml")
		s.Error(err, input)
	}

	c, err := Parse(strings.NewReader(`{backend: mongo, database: solar, uri: "mongodb://localhost"}`), "yaml")
	s.Require().NoError(err)
	s.Equal(BackendMongo, c.Backend)
}

// Mapper settings should become mapper options.
func (s *ConfigTestSuite) TestMapperOptions() {
	m := Mapper{TagName: "db", DiscriminatorKey: "kind", StoreEmpties: true}
	var opts domain.MapperOptions
	for _, o := range m.Options() {
		o(&opts)
	}
	s.Equal("db", opts.TagName)
	s.Equal("kind", opts.DiscriminatorKey)
	s.False(opts.ValidatePaths)
	s.False(opts.StoreNulls)
	s.True(opts.StoreEmpties)
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
