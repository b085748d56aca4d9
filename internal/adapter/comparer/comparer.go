// Package comparer orders values the way the server does: first by type
// bracket, then by value inside the bracket.
package comparer

import (
	"bytes"
	"cmp"
	"math"
	"math/big"
	"slices"
	"time"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Type brackets, in sort order.
const (
	bracketMinKey = iota
	bracketNull
	bracketNumber
	bracketString
	bracketDocument
	bracketArray
	bracketBinary
	bracketObjectID
	bracketBool
	bracketDate
	bracketTimestamp
	bracketRegex
	bracketCode
	bracketMaxKey
)

const precision = 256

// Comparer implements [domain.Comparer].
type Comparer struct{}

// NewComparer returns a new implementation of [domain.Comparer].
func NewComparer() domain.Comparer {
	return &Comparer{}
}

// Comparable implements [domain.Comparer].
func (c *Comparer) Comparable(a, b any) bool {
	return c.bracket(c.getVal(a)) == c.bracket(c.getVal(b))
}

// Compare implements [domain.Comparer]. Undefined getters sort as null.
func (c *Comparer) Compare(a, b any) int {
	a, b = c.getVal(a), c.getVal(b)

	ba, bb := c.bracket(a), c.bracket(b)
	if ba != bb {
		return cmp.Compare(ba, bb)
	}

	switch ba {
	case bracketNumber:
		return c.compareNumbers(a, b)
	case bracketString:
		return cmp.Compare(c.asString(a), c.asString(b))
	case bracketDocument:
		return c.compareDocs(a.(domain.Document), b.(domain.Document))
	case bracketArray:
		return c.compareArrays(a.([]any), b.([]any))
	case bracketBinary:
		return c.compareBinary(c.asBinary(a), c.asBinary(b))
	case bracketObjectID:
		oa, ob := a.(bson.ObjectID), b.(bson.ObjectID)
		return bytes.Compare(oa[:], ob[:])
	case bracketBool:
		return c.compareBool(a.(bool), b.(bool))
	case bracketDate:
		return cmp.Compare(c.asMillis(a), c.asMillis(b))
	case bracketTimestamp:
		ta, tb := a.(bson.Timestamp), b.(bson.Timestamp)
		if comp := cmp.Compare(ta.T, tb.T); comp != 0 {
			return comp
		}
		return cmp.Compare(ta.I, tb.I)
	case bracketRegex:
		ra, rb := a.(bson.Regex), b.(bson.Regex)
		if comp := cmp.Compare(ra.Pattern, rb.Pattern); comp != 0 {
			return comp
		}
		return cmp.Compare(ra.Options, rb.Options)
	case bracketCode:
		return cmp.Compare(c.asCode(a), c.asCode(b))
	default:
		// MinKey, null and MaxKey hold a single value each.
		return 0
	}
}

func (c *Comparer) bracket(v any) int {
	switch t := v.(type) {
	case nil, bson.Null, bson.Undefined:
		return bracketNull
	case bson.MinKey:
		return bracketMinKey
	case bson.MaxKey:
		return bracketMaxKey
	case string, bson.Symbol:
		return bracketString
	case domain.Document:
		return bracketDocument
	case []any:
		return bracketArray
	case bson.Binary, []byte:
		return bracketBinary
	case bson.ObjectID:
		return bracketObjectID
	case bool:
		return bracketBool
	case bson.DateTime, time.Time:
		return bracketDate
	case bson.Timestamp:
		return bracketTimestamp
	case bson.Regex:
		return bracketRegex
	case bson.JavaScript, bson.CodeWithScope:
		return bracketCode
	default:
		if _, ok := c.isNumber(t); ok {
			return bracketNumber
		}
		return bracketMaxKey
	}
}

// isNumber returns the value as a big.Float. NaN reports ok with a nil
// result.
func (c *Comparer) isNumber(v any) (*big.Float, bool) {
	r := new(big.Float).SetPrec(precision)
	switch n := v.(type) {
	case int:
		r.SetInt64(int64(n))
	case int8:
		r.SetInt64(int64(n))
	case int16:
		r.SetInt64(int64(n))
	case int32:
		r.SetInt64(int64(n))
	case int64:
		r.SetInt64(n)
	case uint:
		r.SetUint64(uint64(n))
	case uint8:
		r.SetUint64(uint64(n))
	case uint16:
		r.SetUint64(uint64(n))
	case uint32:
		r.SetUint64(uint64(n))
	case uint64:
		r.SetUint64(n)
	case float32:
		if math.IsNaN(float64(n)) {
			return nil, true
		}
		r.SetFloat64(float64(n))
	case float64:
		if math.IsNaN(n) {
			return nil, true
		}
		r.SetFloat64(n)
	case bson.Decimal128:
		return c.decimal(n)
	default:
		return nil, false
	}
	return r, true
}

func (c *Comparer) decimal(d bson.Decimal128) (*big.Float, bool) {
	if d.IsNaN() {
		return nil, true
	}
	if d.IsInf() != 0 {
		return new(big.Float).SetInf(d.IsInf() < 0), true
	}
	bi, exp, err := d.BigInt()
	if err != nil {
		return nil, true
	}
	r := new(big.Float).SetPrec(precision).SetInt(bi)
	scale := new(big.Float).SetPrec(precision).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(abs(exp))), nil))
	if exp >= 0 {
		return r.Mul(r, scale), true
	}
	return r.Quo(r, scale), true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// compareNumbers compares numbers of any width without precision loss. NaN
// sorts before every other number.
func (c *Comparer) compareNumbers(a, b any) int {
	na, _ := c.isNumber(a)
	nb, _ := c.isNumber(b)
	switch {
	case na == nil && nb == nil:
		return 0
	case na == nil:
		return -1
	case nb == nil:
		return 1
	}
	return na.Cmp(nb)
}

// compareDocs compares pairs in order, by value bracket, then key, then
// value. A document that is a prefix of the other sorts first.
func (c *Comparer) compareDocs(a, b domain.Document) int {
	aKeys := slices.Collect(a.Keys())
	bKeys := slices.Collect(b.Keys())
	for i := range min(len(aKeys), len(bKeys)) {
		va, vb := a.Get(aKeys[i]), b.Get(bKeys[i])
		if comp := cmp.Compare(c.bracket(va), c.bracket(vb)); comp != 0 {
			return comp
		}
		if comp := cmp.Compare(aKeys[i], bKeys[i]); comp != 0 {
			return comp
		}
		if comp := c.Compare(va, vb); comp != 0 {
			return comp
		}
	}
	return cmp.Compare(len(aKeys), len(bKeys))
}

func (c *Comparer) compareArrays(a, b []any) int {
	for i := range min(len(a), len(b)) {
		if comp := c.Compare(a[i], b[i]); comp != 0 {
			return comp
		}
	}
	// Common section was identical, longest one wins
	return cmp.Compare(len(a), len(b))
}

func (c *Comparer) compareBinary(a, b bson.Binary) int {
	if comp := cmp.Compare(len(a.Data), len(b.Data)); comp != 0 {
		return comp
	}
	if comp := cmp.Compare(a.Subtype, b.Subtype); comp != 0 {
		return comp
	}
	return bytes.Compare(a.Data, b.Data)
}

func (c *Comparer) compareBool(a, b bool) int {
	if a == b {
		return 0
	}
	if a {
		return 1
	}
	return -1
}

func (c *Comparer) asString(v any) string {
	if s, ok := v.(bson.Symbol); ok {
		return string(s)
	}
	return v.(string)
}

func (c *Comparer) asBinary(v any) bson.Binary {
	if b, ok := v.([]byte); ok {
		return bson.Binary{Data: b}
	}
	return v.(bson.Binary)
}

func (c *Comparer) asMillis(v any) int64 {
	if t, ok := v.(time.Time); ok {
		return t.UnixMilli()
	}
	return int64(v.(bson.DateTime))
}

func (c *Comparer) asCode(v any) string {
	if cws, ok := v.(bson.CodeWithScope); ok {
		return string(cws.Code)
	}
	return string(v.(bson.JavaScript))
}

func (c *Comparer) getVal(v any) any {
	if g, ok := v.(domain.Getter); ok {
		val, _ := g.Get()
		return val
	}
	return v
}
