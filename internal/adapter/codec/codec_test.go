package codec

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/mapper"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type status string

type valueCodecMock struct{ mock.Mock }

func (m *valueCodecMock) Encode(v any) (any, error) {
	call := m.Called(v)
	return call.Get(0), call.Error(1)
}

func (m *valueCodecMock) Decode(stored any, target reflect.Type) (any, error) {
	call := m.Called(stored, target)
	return call.Get(0), call.Error(1)
}

type item struct {
	SKU string `gedm:"sku"`
	Qty int32  `gedm:"qty"`
}

type account struct {
	ID      bson.ObjectID
	Version int64            `gedm:"v,version"`
	Owner   string           `gedm:"owner"`
	Status  status           `gedm:"st"`
	Balance float64          `gedm:"bal"`
	Items   []item           `gedm:"items"`
	Labels  map[string]int   `gedm:"labels"`
	Nick    *string          `gedm:"nick"`
	Note    string           `gedm:"note,omitempty"`
	Opened  time.Time        `gedm:"opened"`
	Meta    map[string]*item `gedm:"meta"`
	Raw     []byte           `gedm:"raw"`
	Extra   any              `gedm:"extra"`
}

type shape struct {
	ID   string
	Name string
}

type circle struct {
	shape
	Radius float64 `gedm:"r"`
}

type upper struct {
	ID   string
	Code string
}

type CodecTestSuite struct {
	suite.Suite
	mapper domain.Mapper
	codec  domain.Codec
}

func (s *CodecTestSuite) SetupTest() {
	s.mapper = mapper.NewMapper()
	s.codec = NewCodec(s.mapper)
}

func (s *CodecTestSuite) roundTrip(in any, out any) bson.D {
	doc, err := s.codec.Encode(in)
	s.Require().NoError(err)
	raw, err := bson.Marshal(doc)
	s.Require().NoError(err)
	s.Require().NoError(s.codec.Decode(raw, out))
	return doc
}

// Encoded documents should start with the id and use stored names.
func (s *CodecTestSuite) TestEncode() {
	id := bson.NewObjectID()
	opened := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	doc, err := s.codec.Encode(&account{
		ID:      id,
		Version: 2,
		Owner:   "ana",
		Status:  "open",
		Items:   []item{{SKU: "a", Qty: 1}},
		Labels:  map[string]int{"z": 1, "a": 2},
		Opened:  opened,
	})
	s.Require().NoError(err)
	s.Equal(bson.D{
		{Key: "_id", Value: id},
		{Key: "v", Value: int64(2)},
		{Key: "owner", Value: "ana"},
		{Key: "st", Value: status("open")},
		{Key: "bal", Value: 0.0},
		{Key: "items", Value: bson.A{bson.D{{Key: "sku", Value: "a"}, {Key: "qty", Value: int32(1)}}}},
		{Key: "labels", Value: bson.D{{Key: "a", Value: 2}, {Key: "z", Value: 1}}},
		{Key: "opened", Value: opened},
	}, doc)
}

// A zero id should not be encoded.
func (s *CodecTestSuite) TestZeroID() {
	doc, err := s.codec.Encode(account{Owner: "x"})
	s.Require().NoError(err)
	s.NotEqual("_id", doc[0].Key)
}

// Null and empty values should be stored only when configured.
func (s *CodecTestSuite) TestStoreNulls() {
	c := NewCodec(mapper.NewMapper(domain.WithStoreNulls(true), domain.WithStoreEmpties(true)))
	doc, err := c.Encode(&account{Items: []item{}})
	s.Require().NoError(err)
	keys := make([]string, len(doc))
	for i, e := range doc {
		keys[i] = e.Key
	}
	s.Contains(keys, "nick")
	s.Contains(keys, "items")
	s.Contains(keys, "meta")
	s.NotContains(keys, "note")
}

// Decoding should restore what was encoded.
func (s *CodecTestSuite) TestRoundTrip() {
	nick := "nn"
	in := account{
		ID:      bson.NewObjectID(),
		Version: 3,
		Owner:   "bob",
		Status:  "closed",
		Balance: 12.5,
		Items:   []item{{SKU: "a", Qty: 1}, {SKU: "b", Qty: 2}},
		Labels:  map[string]int{"k": 7},
		Nick:    &nick,
		Note:    "hi",
		Opened:  time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		Meta:    map[string]*item{"m": {SKU: "m", Qty: 9}},
		Raw:     []byte{1, 2, 3},
	}
	var out account
	s.roundTrip(&in, &out)
	s.Equal(in, out)
}

// Untyped fields should receive bson values.
func (s *CodecTestSuite) TestDecodeAny() {
	var out account
	s.roundTrip(account{Extra: bson.D{{Key: "a", Value: int32(1)}}}, &out)
	s.Equal(bson.D{{Key: "a", Value: int32(1)}}, out.Extra)
}

// Polymorphic types should store their discriminator right after the id.
func (s *CodecTestSuite) TestDiscriminator() {
	_, err := s.mapper.Model(reflect.TypeFor[circle]())
	s.Require().NoError(err)

	doc, err := s.codec.Encode(&circle{shape: shape{ID: "c1", Name: "round"}, Radius: 2})
	s.Require().NoError(err)
	s.Equal(bson.D{
		{Key: "_id", Value: "c1"},
		{Key: "_t", Value: "circle"},
		{Key: "Name", Value: "round"},
		{Key: "r", Value: 2.0},
	}, doc)

	doc, err = s.codec.Encode(shape{ID: "s1"})
	s.Require().NoError(err)
	s.Equal(bson.E{Key: "_t", Value: "shape"}, doc[1])

	var out circle
	s.roundTrip(&circle{shape: shape{ID: "c1"}, Radius: 3}, &out)
	s.Equal(3.0, out.Radius)
	s.Equal("c1", out.ID)
}

// Property codecs should convert values both ways.
func (s *CodecTestSuite) TestFieldCodec() {
	vc := new(valueCodecMock)
	vc.On("Encode", "abc").Return("ABC", nil).Once()
	vc.On("Decode", "ABC", reflect.TypeFor[string]()).Return("abc", nil).Once()
	_, err := s.mapper.Map(reflect.TypeFor[upper](), domain.WithFieldCodec("Code", vc))
	s.Require().NoError(err)

	var out upper
	doc := s.roundTrip(&upper{ID: "u", Code: "abc"}, &out)
	s.Equal(bson.E{Key: "Code", Value: "ABC"}, doc[1])
	s.Equal("abc", out.Code)
	vc.AssertExpectations(s.T())

	vc.On("Encode", "x").Return(nil, errors.New("boom")).Once()
	_, err = s.codec.Encode(&upper{ID: "u", Code: "x"})
	s.ErrorContains(err, "boom")
}

// Literal values should be encoded with mapped entities turned into
// documents.
func (s *CodecTestSuite) TestEncodeValue() {
	v, err := s.codec.EncodeValue(nil, item{SKU: "a", Qty: 2})
	s.NoError(err)
	s.Equal(bson.D{{Key: "sku", Value: "a"}, {Key: "qty", Value: int32(2)}}, v)

	v, err = s.codec.EncodeValue(nil, 5)
	s.NoError(err)
	s.Equal(5, v)

	raw := bson.D{{Key: "x", Value: 1}}
	v, err = s.codec.EncodeValue(nil, raw)
	s.NoError(err)
	s.Equal(raw, v)

	v, err = s.codec.EncodeValue(nil, []string{})
	s.NoError(err)
	s.Equal([]string{}, v)

	vc := new(valueCodecMock)
	vc.On("Encode", "q").Return(strings.ToUpper("q"), nil)
	v, err = s.codec.EncodeValue(&domain.PropertyModel{Codec: vc}, "q")
	s.NoError(err)
	s.Equal("Q", v)
}

// Invalid targets should be rejected.
func (s *CodecTestSuite) TestDecodeTarget() {
	raw, err := bson.Marshal(bson.D{{Key: "a", Value: 1}})
	s.Require().NoError(err)
	s.ErrorIs(s.codec.Decode(raw, nil), domain.ErrTargetNil)
	var acc *account
	s.ErrorIs(s.codec.Decode(raw, acc), domain.ErrTargetNil)

	var m bson.M
	s.NoError(s.codec.Decode(raw, &m))
	s.Equal(bson.M{"a": int32(1)}, m)
}

func TestCodecTestSuite(t *testing.T) {
	suite.Run(t, new(CodecTestSuite))
}
