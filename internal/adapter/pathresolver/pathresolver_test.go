package pathresolver

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/mapper"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type line struct {
	Product string `gedm:"p"`
	Qty     int    `gedm:"q"`
}

type customer struct {
	Name string `gedm:"nm"`
}

type order struct {
	ID       string
	Customer customer         `gedm:"c"`
	Lines    []line           `gedm:"ls"`
	ByCode   map[string]line  `gedm:"bc"`
	Tags     []string         `gedm:"t"`
	Extra    bson.M           `gedm:"x"`
	Any      any              `gedm:"a"`
	Counts   map[string]int64 `gedm:"cn"`
}

type PathResolverTestSuite struct {
	suite.Suite
	resolver domain.PathResolver
	model    *domain.EntityModel
}

func (s *PathResolverTestSuite) SetupTest() {
	mp := mapper.NewMapper()
	var err error
	s.model, err = mp.Model(reflect.TypeFor[order]())
	s.Require().NoError(err)
	s.resolver = NewPathResolver(mp)
}

func (s *PathResolverTestSuite) resolve(path string, validate bool) string {
	t, err := s.resolver.Resolve(s.model, path, validate)
	s.Require().NoError(err, path)
	return t.Path
}

// Go names and stored names should both translate to stored names.
func (s *PathResolverTestSuite) TestNames() {
	s.Equal("_id", s.resolve("ID", true))
	s.Equal("_id", s.resolve("_id", true))
	s.Equal("c.nm", s.resolve("Customer.Name", true))
	s.Equal("c.nm", s.resolve("c.nm", true))
	s.Equal("ls.q", s.resolve("Lines.Qty", true))
}

// Positional segments should pass through without leaving the element
// model.
func (s *PathResolverTestSuite) TestPositional() {
	s.Equal("ls.0.p", s.resolve("Lines.0.Product", true))
	s.Equal("ls.$.q", s.resolve("Lines.$.Qty", true))
	s.Equal("ls.$[].q", s.resolve("Lines.$[].Qty", true))
	s.Equal("ls.$[item].q", s.resolve("Lines.$[item].Qty", true))
	s.Equal("t.3", s.resolve("Tags.3", true))
}

// Map keys should pass through and the value type keep resolving.
func (s *PathResolverTestSuite) TestMaps() {
	s.Equal("bc.A1.q", s.resolve("ByCode.A1.Qty", true))
	s.Equal("bc.2024.p", s.resolve("ByCode.2024.Product", true))
	s.Equal("cn.anything", s.resolve("Counts.anything", true))
	s.Equal("x.deep.path", s.resolve("Extra.deep.path", true))
	s.Equal("a.whatever", s.resolve("Any.whatever", true))
}

// The target should describe the last resolved property.
func (s *PathResolverTestSuite) TestTarget() {
	t, err := s.resolver.Resolve(s.model, "Lines.Qty", true)
	s.Require().NoError(err)
	s.Equal("Qty", t.Property.Name)
	s.Equal("line", t.Model.Name)

	t, err = s.resolver.Resolve(s.model, "Extra.k", true)
	s.Require().NoError(err)
	s.Nil(t.Property)
}

// Unknown segments should fail with validation and pass through without.
func (s *PathResolverTestSuite) TestValidation() {
	_, err := s.resolver.Resolve(s.model, "Customer.Missing.x", true)
	var me *domain.MappingError
	s.Require().ErrorAs(err, &me)
	s.Equal("Missing", me.Segment)
	s.Equal("customer", me.Type)
	s.Equal("Customer.Missing.x", me.Path)

	s.Equal("c.Missing.x", s.resolve("Customer.Missing.x", false))

	_, err = s.resolver.Resolve(s.model, "Tags.x", true)
	s.ErrorAs(err, &me)
	s.Equal("t.x", s.resolve("Tags.x", false))
}

// A nil model or an empty path should be returned as given.
func (s *PathResolverTestSuite) TestPassThrough() {
	t, err := s.resolver.Resolve(nil, "Any.Thing", true)
	s.NoError(err)
	s.Equal("Any.Thing", t.Path)
	s.Equal("", s.resolve("", true))
}

func TestPathResolverTestSuite(t *testing.T) {
	suite.Run(t, new(PathResolverTestSuite))
}
