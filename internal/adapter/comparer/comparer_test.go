package comparer

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/data"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type ComparerTestSuite struct {
	suite.Suite
	c *Comparer
}

func (s *ComparerTestSuite) SetupTest() {
	s.c = NewComparer().(*Comparer)
}

func doc(d bson.D) *data.M { return data.FromD(d) }

// Brackets should sort in server order regardless of value.
func (s *ComparerTestSuite) TestBracketOrder() {
	oid := bson.NewObjectID()
	ordered := []any{
		bson.MinKey{},
		nil,
		int32(1000),
		"",
		doc(bson.D{}),
		[]any{},
		bson.Binary{Data: []byte{1}},
		oid,
		false,
		bson.DateTime(0),
		bson.Timestamp{T: 1},
		bson.Regex{Pattern: "a"},
		bson.JavaScript("x"),
		bson.MaxKey{},
	}
	for i := range ordered {
		for j := range ordered {
			comp := s.c.Compare(ordered[i], ordered[j])
			switch {
			case i < j:
				s.Equal(-1, comp, "%T < %T", ordered[i], ordered[j])
			case i > j:
				s.Equal(1, comp, "%T > %T", ordered[i], ordered[j])
			default:
				s.Equal(0, comp)
			}
		}
	}
}

// Numbers of any width should compare by value.
func (s *ComparerTestSuite) TestNumbers() {
	testCases := []struct {
		a, b any
		res  int
	}{
		{int64(-12), int16(0), -1},
		{uint8(0), int8(-3), 1},
		{5.7, uint32(2), 1},
		{5.7, float32(12.3), -1},
		{uint64(0), uint16(0), 0},
		{int32(5), 5, 0},
		{int64(math.MaxInt64), float64(math.MaxInt64) + 4096, -1},
		{math.NaN(), math.Inf(-1), -1},
		{math.NaN(), math.NaN(), 0},
	}
	for _, tc := range testCases {
		s.Equal(tc.res, s.c.Compare(tc.a, tc.b), "%v vs %v", tc.a, tc.b)
	}

	dec, err := bson.ParseDecimal128("2.5")
	s.Require().NoError(err)
	s.Equal(-1, s.c.Compare(int32(2), dec))
	s.Equal(0, s.c.Compare(2.5, dec))

	dec, err = bson.ParseDecimal128("25")
	s.Require().NoError(err)
	s.Equal(0, s.c.Compare(int64(25), dec))
}

// Null and undefined should be the same value.
func (s *ComparerTestSuite) TestNulls() {
	s.Equal(0, s.c.Compare(nil, bson.Null{}))
	s.Equal(0, s.c.Compare(bson.Undefined{}, nil))
	s.True(s.c.Comparable(nil, bson.Null{}))
	s.False(s.c.Comparable(nil, 0))
}

// Dates should compare by instant whatever their representation.
func (s *ComparerTestSuite) TestDates() {
	t := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.Equal(0, s.c.Compare(t, bson.NewDateTimeFromTime(t)))
	s.Equal(-1, s.c.Compare(bson.NewDateTimeFromTime(t), t.Add(time.Second)))
}

// Documents should compare pair by pair.
func (s *ComparerTestSuite) TestDocuments() {
	a := doc(bson.D{{Key: "a", Value: int32(1)}})
	b := doc(bson.D{{Key: "a", Value: int32(2)}})
	c := doc(bson.D{{Key: "b", Value: int32(0)}})
	ab := doc(bson.D{{Key: "a", Value: int32(1)}, {Key: "b", Value: int32(1)}})

	s.Equal(-1, s.c.Compare(a, b))
	s.Equal(-1, s.c.Compare(a, c))
	s.Equal(-1, s.c.Compare(a, ab))
	s.Equal(0, s.c.Compare(a, doc(bson.D{{Key: "a", Value: 1.0}})))
	// The bracket of the value comes before the key.
	s.Equal(-1, s.c.Compare(
		doc(bson.D{{Key: "z", Value: int32(1)}}),
		doc(bson.D{{Key: "a", Value: "x"}}),
	))
}

// Arrays should compare element by element, the longest winning a tie.
func (s *ComparerTestSuite) TestArrays() {
	s.Equal(-1, s.c.Compare([]any{int32(1), "a"}, []any{int32(1), "b"}))
	s.Equal(1, s.c.Compare([]any{int32(1), "a"}, []any{int32(1)}))
	s.Equal(0, s.c.Compare([]any{}, []any{}))
}

// Values of the other brackets should compare inside their bracket.
func (s *ComparerTestSuite) TestOtherBrackets() {
	s.Equal(-1, s.c.Compare(false, true))
	s.Equal(-1, s.c.Compare("a", bson.Symbol("b")))
	s.Equal(-1, s.c.Compare(bson.Binary{Data: []byte{9}}, bson.Binary{Data: []byte{1, 1}}))
	s.Equal(-1, s.c.Compare(bson.Timestamp{T: 1, I: 2}, bson.Timestamp{T: 1, I: 3}))
	s.Equal(1, s.c.Compare(bson.Regex{Pattern: "b"}, bson.Regex{Pattern: "a", Options: "i"}))

	a := bson.ObjectID{0, 1}
	b := bson.ObjectID{0, 2}
	s.Equal(-1, s.c.Compare(a, b))
}

func TestComparerTestSuite(t *testing.T) {
	suite.Run(t, new(ComparerTestSuite))
}
