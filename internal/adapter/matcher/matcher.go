// Package matcher evaluates query filters against in-memory documents.
package matcher

import (
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/data"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/fieldnavigator"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// oper evaluates one field operator. cond holds the sibling operators.
type oper func(obj domain.Document, addr []string, arg any, cond domain.Document) (bool, error)

// Matcher implements [domain.Matcher].
type Matcher struct {
	comparer       domain.Comparer
	fieldNavigator domain.FieldNavigator
	compFuncs      map[string]oper
	logicOps       map[string]func(domain.Document, any) (bool, error)
}

// NewMatcher returns a new implementation of domain.Matcher.
func NewMatcher(options ...domain.MatcherOption) domain.Matcher {
	opts := domain.MatcherOptions{
		Comparer:       comparer.NewComparer(),
		FieldNavigator: fieldnavigator.NewFieldNavigator(),
	}
	for _, option := range options {
		option(&opts)
	}

	m := &Matcher{
		comparer:       opts.Comparer,
		fieldNavigator: opts.FieldNavigator,
	}
	m.logicOps = map[string]func(domain.Document, any) (bool, error){
		"$and":     m.and,
		"$or":      m.or,
		"$nor":     m.nor,
		"$comment": func(domain.Document, any) (bool, error) { return true, nil },
	}
	m.compFuncs = map[string]oper{
		"$eq":           m.eq,
		"$ne":           m.ne,
		"$lt":           m.lt,
		"$lte":          m.lte,
		"$gt":           m.gt,
		"$gte":          m.gte,
		"$in":           m.in,
		"$nin":          m.nin,
		"$exists":       m.exists,
		"$type":         m.typeOf,
		"$size":         m.size,
		"$all":          m.all,
		"$elemMatch":    m.elemMatch,
		"$regex":        m.regex,
		"$options":      m.options,
		"$mod":          m.mod,
		"$not":          m.not,
		"$bitsAllSet":   m.bits(func(set, total int) bool { return set == total }),
		"$bitsAnySet":   m.bits(func(set, _ int) bool { return set > 0 }),
		"$bitsAllClear": m.bits(func(set, _ int) bool { return set == 0 }),
		"$bitsAnyClear": m.bits(func(set, total int) bool { return set < total }),
	}

	return m
}

var unsupported = map[string]string{
	"$expr":          "aggregation expressions are not evaluated in memory",
	"$where":         "javascript is not evaluated in memory",
	"$text":          "there are no text indexes in memory",
	"$jsonSchema":    "schemas are not evaluated in memory",
	"$near":          "geospatial queries are not evaluated in memory",
	"$nearSphere":    "geospatial queries are not evaluated in memory",
	"$geoWithin":     "geospatial queries are not evaluated in memory",
	"$geoIntersects": "geospatial queries are not evaluated in memory",
}

// Match implements [domain.Matcher].
func (m *Matcher) Match(val any, qry any) (bool, error) {
	if qry == nil {
		return true, nil
	}
	doc, ok := val.(domain.Document)
	if !ok {
		return m.nonDocMatch(val, qry)
	}

	query, ok := qry.(domain.Document)
	if !ok {
		// if val is not a doc, there is no non-doc value that can match
		return false, nil
	}

	return m.matchDocs(doc, query)
}

func (m *Matcher) nonDocMatch(val any, qry any) (bool, error) {
	valDoc := &data.M{}
	qryDoc := &data.M{}
	valDoc.Set("needAKey", val)
	qryDoc.Set("needAKey", qry)
	return m.matchDocs(valDoc, qryDoc)
}

func (m *Matcher) matchDocs(obj, qry domain.Document) (bool, error) {
	for field, value := range qry.Iter() {
		var matches bool
		var err error
		if strings.HasPrefix(field, "$") {
			matches, err = m.matchDollarField(obj, field, value)
		} else {
			matches, err = m.matchSimpleField(obj, field, value)
		}
		if err != nil || !matches {
			return false, err
		}
	}
	return true, nil
}

func (m *Matcher) matchDollarField(obj domain.Document, field string, value any) (bool, error) {
	if reason, ok := unsupported[field]; ok {
		return false, &domain.UnsupportedOperationError{Operation: field, Reason: reason}
	}
	fn, ok := m.logicOps[field]
	if !ok {
		return false, fmt.Errorf("unknown top level operator %s", field)
	}
	return fn(obj, value)
}

func (m *Matcher) matchSimpleField(obj domain.Document, field string, value any) (bool, error) {
	addr := m.fieldNavigator.GetAddress(field)

	cond, ok := value.(domain.Document)
	if !ok {
		return m.eq(obj, addr, value, nil)
	}
	hasOps, err := m.hasOperators(cond)
	if err != nil {
		return false, err
	}
	if !hasOps {
		return m.eq(obj, addr, value, nil)
	}
	return m.matchOperators(obj, addr, cond)
}

func (m *Matcher) matchOperators(obj domain.Document, addr []string, cond domain.Document) (bool, error) {
	for op := range cond.Keys() {
		if reason, ok := unsupported[op]; ok {
			return false, &domain.UnsupportedOperationError{Operation: op, Reason: reason}
		}
		if _, ok := m.compFuncs[op]; !ok {
			return false, fmt.Errorf("unknown operator %s", op)
		}
	}

	for op, arg := range cond.Iter() {
		matches, err := m.compFuncs[op](obj, addr, arg, cond)
		if err != nil || !matches {
			return false, err
		}
	}
	return true, nil
}

// hasOperators tells whether every key of cond is an operator.
func (m *Matcher) hasOperators(cond domain.Document) (bool, error) {
	totalFields := 0
	dollarFields := 0
	for field := range cond.Keys() {
		totalFields++
		if strings.HasPrefix(field, "$") {
			dollarFields++
		}
		if dollarFields > 0 && totalFields != dollarFields {
			return false, fmt.Errorf("you cannot mix operators and normal fields")
		}
	}
	return dollarFields != 0, nil
}

func (m *Matcher) subQueries(op string, value any) ([]any, error) {
	arr, ok := value.([]any)
	if !ok || len(arr) == 0 {
		return nil, fmt.Errorf("%s operator needs a nonempty array", op)
	}
	return arr, nil
}

func (m *Matcher) and(obj domain.Document, value any) (bool, error) {
	arr, err := m.subQueries("$and", value)
	if err != nil {
		return false, err
	}
	for _, item := range arr {
		matches, err := m.Match(obj, item)
		if err != nil || !matches {
			return false, err
		}
	}
	return true, nil
}

func (m *Matcher) or(obj domain.Document, value any) (bool, error) {
	arr, err := m.subQueries("$or", value)
	if err != nil {
		return false, err
	}
	for _, item := range arr {
		matches, err := m.Match(obj, item)
		if err != nil || matches {
			return matches, err
		}
	}
	return false, nil
}

func (m *Matcher) nor(obj domain.Document, value any) (bool, error) {
	if _, err := m.subQueries("$nor", value); err != nil {
		return false, err
	}
	matches, err := m.or(obj, value)
	return !matches && err == nil, err
}

// candidates returns every value addressed by addr plus the elements of the
// arrays among them. Undefined values are returned as nil.
func (m *Matcher) candidates(obj domain.Document, addr []string) []any {
	fields, _ := m.fieldNavigator.GetField(obj, addr...)
	res := make([]any, 0, len(fields))
	for _, field := range fields {
		v, _ := field.Get()
		res = append(res, v)
		if arr, ok := v.([]any); ok {
			res = append(res, arr...)
		}
	}
	return res
}

func (m *Matcher) matchAny(obj domain.Document, addr []string, fn func(v any) (bool, error)) (bool, error) {
	for _, v := range m.candidates(obj, addr) {
		matches, err := fn(v)
		if err != nil || matches {
			return matches, err
		}
	}
	return false, nil
}

func (m *Matcher) equals(v, arg any) (bool, error) {
	if rgx, ok := arg.(bson.Regex); ok {
		if _, isRegex := v.(bson.Regex); !isRegex {
			return m.regexValues(v, rgx.Pattern, rgx.Options)
		}
	}
	return m.comparer.Compare(v, arg) == 0, nil
}

func (m *Matcher) eq(obj domain.Document, addr []string, arg any, _ domain.Document) (bool, error) {
	return m.matchAny(obj, addr, func(v any) (bool, error) { return m.equals(v, arg) })
}

func (m *Matcher) ne(obj domain.Document, addr []string, arg any, cond domain.Document) (bool, error) {
	matches, err := m.eq(obj, addr, arg, cond)
	return !matches && err == nil, err
}

func (m *Matcher) compareWith(test func(int) bool) oper {
	return func(obj domain.Document, addr []string, arg any, _ domain.Document) (bool, error) {
		return m.matchAny(obj, addr, func(v any) (bool, error) {
			if !m.comparer.Comparable(v, arg) {
				return false, nil
			}
			return test(m.comparer.Compare(v, arg)), nil
		})
	}
}

func (m *Matcher) lt(obj domain.Document, addr []string, arg any, cond domain.Document) (bool, error) {
	return m.compareWith(func(c int) bool { return c < 0 })(obj, addr, arg, cond)
}

func (m *Matcher) lte(obj domain.Document, addr []string, arg any, cond domain.Document) (bool, error) {
	return m.compareWith(func(c int) bool { return c <= 0 })(obj, addr, arg, cond)
}

func (m *Matcher) gt(obj domain.Document, addr []string, arg any, cond domain.Document) (bool, error) {
	return m.compareWith(func(c int) bool { return c > 0 })(obj, addr, arg, cond)
}

func (m *Matcher) gte(obj domain.Document, addr []string, arg any, cond domain.Document) (bool, error) {
	return m.compareWith(func(c int) bool { return c >= 0 })(obj, addr, arg, cond)
}

func (m *Matcher) in(obj domain.Document, addr []string, arg any, _ domain.Document) (bool, error) {
	arr, ok := arg.([]any)
	if !ok {
		return false, fmt.Errorf("$in operator called with a non-array")
	}
	return m.matchAny(obj, addr, func(v any) (bool, error) {
		for _, item := range arr {
			matches, err := m.equals(v, item)
			if err != nil || matches {
				return matches, err
			}
		}
		return false, nil
	})
}

func (m *Matcher) nin(obj domain.Document, addr []string, arg any, cond domain.Document) (bool, error) {
	if _, ok := arg.([]any); !ok {
		return false, fmt.Errorf("$nin operator called with a non-array")
	}
	matches, err := m.in(obj, addr, arg, cond)
	return !matches && err == nil, err
}

func (m *Matcher) exists(obj domain.Document, addr []string, arg any, _ domain.Document) (bool, error) {
	fields, _ := m.fieldNavigator.GetField(obj, addr...)
	wantExistent := m.isTruthy(arg)
	for _, field := range fields {
		if _, defined := field.Get(); defined {
			return wantExistent, nil
		}
	}
	return !wantExistent, nil
}

func (m *Matcher) isTruthy(value any) bool {
	switch t := value.(type) {
	case nil, bson.Null, bson.Undefined:
		return false
	case bool:
		return t
	}
	if f, ok := m.asFloat(value); ok {
		return f != 0
	}
	return true
}

func (m *Matcher) typeOf(obj domain.Document, addr []string, arg any, _ domain.Document) (bool, error) {
	wanted, ok := arg.([]any)
	if !ok {
		wanted = []any{arg}
	}
	codes := make([]int, 0, len(wanted))
	for _, w := range wanted {
		cs, err := m.typeCodes(w)
		if err != nil {
			return false, err
		}
		codes = append(codes, cs...)
	}

	fields, _ := m.fieldNavigator.GetField(obj, addr...)
	for _, field := range fields {
		v, defined := field.Get()
		if !defined {
			continue
		}
		values := []any{v}
		if arr, ok := v.([]any); ok {
			values = append(values, arr...)
		}
		for _, item := range values {
			code := bsonType(item)
			for _, c := range codes {
				if c == code {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

var typeAliases = map[string][]int{
	"double":              {1},
	"string":              {2},
	"object":              {3},
	"array":               {4},
	"binData":             {5},
	"undefined":           {6},
	"objectId":            {7},
	"bool":                {8},
	"date":                {9},
	"null":                {10},
	"regex":               {11},
	"javascript":          {13},
	"symbol":              {14},
	"javascriptWithScope": {15},
	"int":                 {16},
	"timestamp":           {17},
	"long":                {18},
	"decimal":             {19},
	"minKey":              {-1},
	"maxKey":              {127},
	"number":              {1, 16, 18, 19},
}

func (m *Matcher) typeCodes(w any) ([]int, error) {
	if s, ok := w.(string); ok {
		codes, ok := typeAliases[s]
		if !ok {
			return nil, fmt.Errorf("unknown type name alias: %s", s)
		}
		return codes, nil
	}
	n, ok := m.asInt(w)
	if !ok {
		return nil, fmt.Errorf("type must be represented as a number or a string")
	}
	return []int{int(n)}, nil
}

func bsonType(v any) int {
	switch t := v.(type) {
	case float32, float64:
		return 1
	case string:
		return 2
	case domain.Document:
		return 3
	case []any:
		return 4
	case bson.Binary, []byte:
		return 5
	case bson.Undefined:
		return 6
	case bson.ObjectID:
		return 7
	case bool:
		return 8
	case bson.DateTime, time.Time:
		return 9
	case nil, bson.Null:
		return 10
	case bson.Regex:
		return 11
	case bson.JavaScript:
		return 13
	case bson.Symbol:
		return 14
	case bson.CodeWithScope:
		return 15
	case int8, int16, int32, uint8, uint16:
		return 16
	case bson.Timestamp:
		return 17
	case int:
		if t >= math.MinInt32 && t <= math.MaxInt32 {
			return 16
		}
		return 18
	case int64, uint, uint32, uint64:
		return 18
	case bson.Decimal128:
		return 19
	case bson.MinKey:
		return -1
	case bson.MaxKey:
		return 127
	default:
		return 0
	}
}

func (m *Matcher) size(obj domain.Document, addr []string, arg any, _ domain.Document) (bool, error) {
	num, ok := m.asInt(arg)
	if !ok || num < 0 {
		return false, fmt.Errorf("$size operator called without a non negative integer")
	}

	fields, _ := m.fieldNavigator.GetField(obj, addr...)
	for _, field := range fields {
		value, _ := field.Get()
		if arr, ok := value.([]any); ok && int64(len(arr)) == num {
			return true, nil
		}
	}
	return false, nil
}

func (m *Matcher) all(obj domain.Document, addr []string, arg any, cond domain.Document) (bool, error) {
	arr, ok := arg.([]any)
	if !ok {
		return false, fmt.Errorf("$all operator called with a non-array")
	}
	if len(arr) == 0 {
		return false, nil
	}
	for _, item := range arr {
		var matches bool
		var err error
		if sub, ok := item.(domain.Document); ok && sub.Len() == 1 && sub.Has("$elemMatch") {
			matches, err = m.elemMatch(obj, addr, sub.Get("$elemMatch"), cond)
		} else {
			matches, err = m.eq(obj, addr, item, cond)
		}
		if err != nil || !matches {
			return false, err
		}
	}
	return true, nil
}

func (m *Matcher) elemMatch(obj domain.Document, addr []string, arg any, _ domain.Document) (bool, error) {
	qry, ok := arg.(domain.Document)
	if !ok {
		return false, fmt.Errorf("$elemMatch needs an object")
	}
	valueOps, err := m.isValueCondition(qry)
	if err != nil {
		return false, err
	}

	fields, _ := m.fieldNavigator.GetField(obj, addr...)
	for _, field := range fields {
		value, _ := field.Get()
		arr, ok := value.([]any)
		if !ok {
			continue
		}
		for _, item := range arr {
			var matches bool
			var err error
			switch {
			case valueOps:
				matches, err = m.nonDocMatch(item, qry)
			default:
				doc, isDoc := item.(domain.Document)
				if !isDoc {
					continue
				}
				matches, err = m.matchDocs(doc, qry)
			}
			if err != nil || matches {
				return matches, err
			}
		}
	}
	return false, nil
}

// isValueCondition tells whether qry applies to the elements themselves
// rather than to their fields.
func (m *Matcher) isValueCondition(qry domain.Document) (bool, error) {
	if qry.Len() == 0 {
		return false, nil
	}
	for k := range qry.Keys() {
		if _, logic := m.logicOps[k]; logic {
			return false, nil
		}
	}
	return m.hasOperators(qry)
}

func (m *Matcher) regex(obj domain.Document, addr []string, arg any, cond domain.Document) (bool, error) {
	var pattern, options string
	switch t := arg.(type) {
	case string:
		pattern = t
	case bson.Regex:
		pattern, options = t.Pattern, t.Options
	default:
		return false, fmt.Errorf("$regex has to be a string")
	}
	if o, ok := cond.Get("$options").(string); ok {
		options = o
	}
	rgx, err := m.compile(pattern, options)
	if err != nil {
		return false, err
	}
	return m.matchAny(obj, addr, func(v any) (bool, error) {
		return m.matchString(v, rgx), nil
	})
}

func (m *Matcher) options(_ domain.Document, _ []string, arg any, cond domain.Document) (bool, error) {
	if !cond.Has("$regex") {
		return false, fmt.Errorf("$options needs a $regex")
	}
	if _, ok := arg.(string); !ok {
		return false, fmt.Errorf("$options has to be a string")
	}
	return true, nil
}

func (m *Matcher) regexValues(v any, pattern, options string) (bool, error) {
	rgx, err := m.compile(pattern, options)
	if err != nil {
		return false, err
	}
	return m.matchString(v, rgx), nil
}

func (m *Matcher) matchString(v any, rgx *regexp.Regexp) bool {
	switch t := v.(type) {
	case string:
		return rgx.MatchString(t)
	case bson.Symbol:
		return rgx.MatchString(string(t))
	default:
		return false
	}
}

func (m *Matcher) compile(pattern, options string) (*regexp.Regexp, error) {
	var flags string
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			flags += string(o)
		case 'u':
		case 'x':
			return nil, &domain.UnsupportedOperationError{
				Operation: "$regex",
				Reason:    "extended patterns are not supported",
			}
		default:
			return nil, fmt.Errorf("invalid flag in regex options: %c", o)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	return regexp.Compile(pattern)
}

func (m *Matcher) mod(obj domain.Document, addr []string, arg any, _ domain.Document) (bool, error) {
	arr, ok := arg.([]any)
	if !ok || len(arr) != 2 {
		return false, fmt.Errorf("malformed mod, needs to be an array of two numbers")
	}
	div, okDiv := m.asFloat(arr[0])
	rem, okRem := m.asFloat(arr[1])
	if !okDiv || !okRem {
		return false, fmt.Errorf("malformed mod, divisor and remainder must be numbers")
	}
	divisor, remainder := int64(div), int64(rem)
	if divisor == 0 {
		return false, fmt.Errorf("divisor cannot be 0")
	}
	return m.matchAny(obj, addr, func(v any) (bool, error) {
		f, ok := m.asFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return false, nil
		}
		return int64(f)%divisor == remainder, nil
	})
}

func (m *Matcher) not(obj domain.Document, addr []string, arg any, _ domain.Document) (bool, error) {
	var matches bool
	var err error
	switch t := arg.(type) {
	case bson.Regex:
		matches, err = m.eq(obj, addr, t, nil)
	case domain.Document:
		hasOps, hErr := m.hasOperators(t)
		if hErr != nil {
			return false, hErr
		}
		if !hasOps {
			return false, fmt.Errorf("$not needs a regex or a document of operators")
		}
		matches, err = m.matchOperators(obj, addr, t)
	default:
		return false, fmt.Errorf("$not needs a regex or a document")
	}
	return !matches && err == nil, err
}

// bits builds a bitwise operator. test receives how many of the positions of
// the mask are set in a value and how many positions the mask has.
func (m *Matcher) bits(test func(set, total int) bool) oper {
	return func(obj domain.Document, addr []string, arg any, _ domain.Document) (bool, error) {
		positions, err := m.bitPositions(arg)
		if err != nil {
			return false, err
		}
		return m.matchAny(obj, addr, func(v any) (bool, error) {
			bit, ok := m.bitReader(v)
			if !ok {
				return false, nil
			}
			set := 0
			for _, p := range positions {
				if bit(p) {
					set++
				}
			}
			return test(set, len(positions)), nil
		})
	}
}

func (m *Matcher) bitPositions(arg any) ([]int, error) {
	switch t := arg.(type) {
	case []any:
		res := make([]int, 0, len(t))
		for _, item := range t {
			n, ok := m.asInt(item)
			if !ok || n < 0 {
				return nil, fmt.Errorf("bit positions must be non negative integers")
			}
			res = append(res, int(n))
		}
		return res, nil
	case bson.Binary:
		return m.setBits(t.Data), nil
	case []byte:
		return m.setBits(t), nil
	}
	n, ok := m.asInt(arg)
	if !ok || n < 0 {
		return nil, fmt.Errorf("bit mask must be a non negative integer, an array of positions or binary data")
	}
	var res []int
	for p := range 63 {
		if n&(1<<p) != 0 {
			res = append(res, p)
		}
	}
	return res, nil
}

func (m *Matcher) setBits(b []byte) []int {
	var res []int
	for i, by := range b {
		for p := range 8 {
			if by&(1<<p) != 0 {
				res = append(res, i*8+p)
			}
		}
	}
	return res
}

// bitReader returns the bits of integral numbers and binary data. Positions
// past 63 repeat the sign of numbers.
func (m *Matcher) bitReader(v any) (func(int) bool, bool) {
	var b []byte
	switch t := v.(type) {
	case bson.Binary:
		b = t.Data
	case []byte:
		b = t
	default:
		n, ok := m.asInt(v)
		if !ok {
			return nil, false
		}
		return func(p int) bool {
			if p > 63 {
				return n < 0
			}
			return uint64(n)&(1<<p) != 0
		}, true
	}
	return func(p int) bool {
		if p/8 >= len(b) {
			return false
		}
		return b[p/8]&(1<<(p%8)) != 0
	}, true
}

func (m *Matcher) asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// asInt returns v when it is a number holding an integer that fits int64.
func (m *Matcher) asInt(v any) (int64, bool) {
	r := big.NewFloat(0)
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
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			return 0, false
		}
		r.SetFloat64(float64(n))
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		r.SetFloat64(n)
	default:
		return 0, false
	}
	if !r.IsInt() {
		return 0, false
	}
	i64, acc := r.Int64()
	return i64, acc == big.Exact
}
