package domain_test

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type DomainTestSuite struct {
	suite.Suite
}

type inner struct{ A int }

type marshaler struct{}

func (marshaler) MarshalBSON() ([]byte, error) { return nil, nil }

// Functional options should set their fields and leave the rest untouched.
func (s *DomainTestSuite) TestOptions() {
	var uos domain.UpdateOptions
	for _, opt := range []domain.UpdateOption{
		domain.WithUpdateMulti(true),
		domain.WithUpsert(true),
		domain.WithArrayFilters(bson.D{{Key: "a", Value: 1}}),
		domain.WithArrayFilters(bson.D{{Key: "b", Value: 2}}),
	} {
		opt(&uos)
	}
	s.Equal(domain.UpdateOptions{
		Multi:        true,
		Upsert:       true,
		ArrayFilters: []any{bson.D{{Key: "a", Value: 1}}, bson.D{{Key: "b", Value: 2}}},
	}, uos)

	var mos domain.ModifyOptions
	for _, opt := range []domain.ModifyOption{
		domain.WithModifyUpsert(true),
		domain.WithReturnNew(true),
	} {
		opt(&mos)
	}
	s.Equal(domain.ModifyOptions{Upsert: true, ReturnNew: true}, mos)

	var aos domain.AggregateOptions
	for _, opt := range []domain.AggregateOption{
		domain.WithAllowDiskUse(true),
		domain.WithAggregateBatchSize(10),
		domain.WithAggregateMaxTime(time.Second),
		domain.WithAggregateComment("report"),
	} {
		opt(&aos)
	}
	s.Equal(domain.AggregateOptions{
		AllowDiskUse: true,
		BatchSize:    10,
		MaxTime:      time.Second,
		Comment:      "report",
	}, aos)

	var sos domain.SessionOptions
	domain.WithCausalConsistency(false)(&sos)
	s.Require().NotNil(sos.CausalConsistency)
	s.False(*sos.CausalConsistency)

	wc := domain.WriteConcern{W: "majority"}
	var tos domain.TransactionOptions
	domain.WithReadConcern("snapshot")(&tos)
	domain.WithTransactionWriteConcern(wc)(&tos)
	s.Equal(domain.TransactionOptions{ReadConcern: "snapshot", WriteConcern: &wc}, tos)

	var eos domain.EntityOptions
	for _, opt := range []domain.EntityOption{
		domain.WithCollection("planets"),
		domain.WithShardKeys("region"),
		domain.WithCapped(1024, 10),
	} {
		opt(&eos)
	}
	s.Equal("planets", eos.Collection)
	s.Equal([]string{"region"}, eos.ShardKeys)
	s.Equal(&domain.CappedOptions{Size: 1024, Count: 10}, eos.Capped)

	var mapos domain.MapperOptions
	domain.WithTagName("db")(&mapos)
	domain.WithStoreNulls(true)(&mapos)
	s.Equal(domain.MapperOptions{TagName: "db", StoreNulls: true}, mapos)
}

// Errors should describe what failed.
func (s *DomainTestSuite) TestErrorMessages() {
	var e error

	e = &domain.MappingError{Type: "Planet", Path: "moons.name", Segment: "name"}
	s.Equal(`could not resolve "name" of path "moons.name" on type Planet`, e.Error())

	e = &domain.NotMappedError{Reason: "nil"}
	s.Equal("cannot map nil type: nil", e.Error())

	e = &domain.NotMappedError{Type: reflect.TypeFor[int](), Reason: "not a struct"}
	s.Equal("cannot map type int: not a struct", e.Error())

	e = &domain.MissingIDError{Type: "Planet"}
	s.Equal("entity of type Planet has no id", e.Error())

	e = &domain.ValidationError{Operation: "limit", Reason: "negative"}
	s.Equal("invalid limit: negative", e.Error())

	e = &domain.MixedModesError{Stage: "$group"}
	s.Equal("mixed modes not allowed for $group", e.Error())

	e = &domain.NumericTypeError{Operation: "$inc", Value: "a"}
	s.Equal("$inc requires an int, int32, int64, float32 or float64 value, got string", e.Error())

	e = &domain.UnsupportedOperationError{Operation: "$where", Reason: "no javascript"}
	s.Equal("unsupported operation $where: no javascript", e.Error())

	e = &domain.VersionMismatchError{Type: "Planet", ID: 1, Version: 3}
	s.Equal("entity of type Planet with id 1 was concurrently modified (version 3 is stale)", e.Error())

	e = &domain.ShardKeyMismatchError{Type: "Planet", ID: 1, ShardKeys: map[string]any{"r": "eu"}}
	s.Equal("no document of type Planet with id 1 matches shard key r=eu", e.Error())

	e = &domain.ShardKeyMismatchError{Type: "Planet", ID: 1, ShardKeys: map[string]any{"z": 1, "a": 2, "m": 3}}
	for range 20 {
		s.Equal("no document of type Planet with id 1 matches shard key a=2,m=3,z=1", e.Error())
	}

	e = &domain.CommandError{Code: 26, Message: "ns not found"}
	s.Equal("command error 26: ns not found", e.Error())

	e = &domain.CorruptFilesError{
		CorruptionRate:        1,
		CorruptItems:          10,
		DataLength:            10,
		CorruptAlertThreshold: 0.5,
	}
	s.Equal("corrupted 100.00% (10 of 10) exceeded threshold 50.00%", e.Error())
}

// Conflicts should match the generic sentinel and only their own specific
// one.
func (s *DomainTestSuite) TestErrorIs() {
	vm := fmt.Errorf("saving: %w", &domain.VersionMismatchError{})
	s.ErrorIs(vm, domain.ErrConflict)
	s.ErrorIs(vm, domain.ErrVersionMismatch)
	s.NotErrorIs(vm, domain.ErrShardKeyMismatch)

	sk := fmt.Errorf("saving: %w", &domain.ShardKeyMismatchError{})
	s.ErrorIs(sk, domain.ErrConflict)
	s.ErrorIs(sk, domain.ErrShardKeyMismatch)
	s.NotErrorIs(sk, domain.ErrVersionMismatch)

	cause := errors.New("cause")
	ce := &domain.CommandError{Code: domain.CodeNamespaceNotFound, Err: cause}
	s.ErrorIs(ce, domain.ErrNamespaceNotFound)
	s.ErrorIs(ce, cause)
	s.NotErrorIs(&domain.CommandError{Code: 2}, domain.ErrNamespaceNotFound)

	fsync := errors.New("fsync")
	closing := errors.New("close")
	s.ErrorIs(&domain.FlushToStorageError{ErrorOnFsync: fsync, ErrorOnClose: closing}, fsync)
	s.ErrorIs(&domain.FlushToStorageError{ErrorOnClose: closing}, closing)
}

// Element types should strip containers except byte slices.
func (s *DomainTestSuite) TestElementType() {
	s.Equal(reflect.TypeFor[inner](), domain.ElementType(reflect.TypeFor[[]*inner]()))
	s.Equal(reflect.TypeFor[inner](), domain.ElementType(reflect.TypeFor[map[string][2]inner]()))
	s.Equal(reflect.TypeFor[[]byte](), domain.ElementType(reflect.TypeFor[*[]byte]()))
	s.Equal(reflect.TypeFor[int](), domain.ElementType(reflect.TypeFor[int]()))
}

// Only plain structs should be stored as documents.
func (s *DomainTestSuite) TestDocumentType() {
	s.True(domain.DocumentType(reflect.TypeFor[inner]()))
	s.True(domain.DocumentType(reflect.TypeFor[**inner]()))
	s.False(domain.DocumentType(reflect.TypeFor[time.Time]()))
	s.False(domain.DocumentType(reflect.TypeFor[bson.ObjectID]()))
	s.False(domain.DocumentType(reflect.TypeFor[bson.Decimal128]()))
	s.False(domain.DocumentType(reflect.TypeFor[marshaler]()))
	s.False(domain.DocumentType(reflect.TypeFor[map[string]any]()))
}

// Properties should be found by Go name first, then by mapped name.
func (s *DomainTestSuite) TestProperty() {
	name := &domain.PropertyModel{Name: "Name", MappedName: "n"}
	other := &domain.PropertyModel{Name: "n", MappedName: "other"}
	m := &domain.EntityModel{Properties: []*domain.PropertyModel{name, other}}

	s.Same(name, m.Property("Name"))
	s.Same(other, m.Property("n"))
	s.Same(other, m.Property("other"))
	s.Nil(m.Property("missing"))
	s.False(m.Versioned())

	m.VersionProperty = other
	s.True(m.Versioned())
}

// Root should walk up to the top most parent.
func (s *DomainTestSuite) TestRoot() {
	base := &domain.EntityModel{Name: "Body"}
	planet := &domain.EntityModel{Name: "Planet", Parent: base}
	dwarf := &domain.EntityModel{Name: "Dwarf", Parent: planet}
	s.Same(base, dwarf.Root())
	s.Same(base, base.Root())
}

func TestDomainTestSuite(t *testing.T) {
	suite.Run(t, new(DomainTestSuite))
}
