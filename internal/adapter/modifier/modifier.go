// Package modifier applies update documents to in-memory documents.
package modifier

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"slices"
	"strings"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/data"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrImmutableID is returned when an update would change the _id of a
// document.
var ErrImmutableID = errors.New("the _id field cannot be changed")

type modFunc func(doc domain.Document, addr []string, arg any, mc *modContext) error

type modContext struct {
	domain.ModifyContext
	filter domain.ArrayFilter
}

// Modifier implements [domain.Modifier].
type Modifier struct {
	comp           domain.Comparer
	fieldNavigator domain.FieldNavigator
	matcher        domain.Matcher
	timeGetter     domain.TimeGetter
	mods           map[string]modFunc
}

// NewModifier returns a new implementation of [domain.Modifier].
func NewModifier(comp domain.Comparer, fn domain.FieldNavigator, matcher domain.Matcher, tg domain.TimeGetter) domain.Modifier {
	m := &Modifier{
		comp:           comp,
		fieldNavigator: fn,
		matcher:        matcher,
		timeGetter:     tg,
	}

	m.mods = map[string]modFunc{
		"$set":         m.set,
		"$setOnInsert": m.setOnInsert,
		"$unset":       m.unset,
		"$inc":         m.inc,
		"$mul":         m.mul,
		"$min":         m.minMax(func(c int) bool { return c < 0 }),
		"$max":         m.minMax(func(c int) bool { return c > 0 }),
		"$rename":      m.rename,
		"$currentDate": m.currentDate,
		"$push":        m.push,
		"$addToSet":    m.addToSet,
		"$pop":         m.pop,
		"$pull":        m.pull,
		"$pullAll":     m.pullAll,
	}

	return m
}

// Modify implements [domain.Modifier].
func (m *Modifier) Modify(obj domain.Document, update domain.Document, mc domain.ModifyContext) (domain.Document, error) {
	replace, err := m.isReplacement(update)
	if err != nil {
		return nil, err
	}
	if replace {
		return m.replaceMod(obj, update)
	}
	return m.dollarMod(obj, update, mc)
}

func (m *Modifier) isReplacement(update domain.Document) (bool, error) {
	dollarFields, total := 0, 0
	for k := range update.Keys() {
		total++
		if strings.HasPrefix(k, "$") {
			dollarFields++
		}
		if dollarFields != 0 && dollarFields != total {
			return false, fmt.Errorf("you cannot mix modifiers and normal fields")
		}
	}
	return dollarFields == 0, nil
}

func (m *Modifier) replaceMod(obj, update domain.Document) (domain.Document, error) {
	if obj.Has("_id") && update.Has("_id") && m.comp.Compare(obj.ID(), update.ID()) != 0 {
		return nil, ErrImmutableID
	}

	newDoc := &data.M{}
	switch {
	case obj.Has("_id"):
		newDoc.Set("_id", obj.ID())
	case update.Has("_id"):
		newDoc.Set("_id", data.Clone(update.ID()))
	}
	for k, v := range update.Iter() {
		if k == "_id" {
			continue
		}
		newDoc.Set(k, data.Clone(v))
	}
	return newDoc, nil
}

func (m *Modifier) dollarMod(obj, update domain.Document, mc domain.ModifyContext) (domain.Document, error) {
	type modCall struct {
		fn   modFunc
		args domain.Document
	}

	calls := make([]modCall, 0, update.Len())
	var paths []string
	for modName, arg := range update.Iter() {
		mod, ok := m.mods[modName]
		if !ok {
			return nil, fmt.Errorf("unknown modifier %s", modName)
		}
		d, ok := arg.(domain.Document)
		if !ok {
			return nil, fmt.Errorf("modifier %s's argument must be an object", modName)
		}
		for k, v := range d.Iter() {
			paths = append(paths, k)
			if modName == "$rename" {
				to, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("the 'to' field for $rename must be a string: %s", k)
				}
				if to == k {
					return nil, fmt.Errorf("the source and target field for $rename must differ: %s", k)
				}
				paths = append(paths, to)
			}
		}
		calls = append(calls, modCall{fn: mod, args: d})
	}
	if err := m.checkConflicts(paths); err != nil {
		return nil, err
	}

	filter, err := m.arrayFilter(mc.ArrayFilters)
	if err != nil {
		return nil, err
	}
	mctx := &modContext{ModifyContext: mc, filter: filter}

	docCopy := data.Clone(obj).(domain.Document)
	for _, call := range calls {
		for key, arg := range call.args.Iter() {
			addr := m.fieldNavigator.GetAddress(key)
			if err := call.fn(docCopy, addr, arg, mctx); err != nil {
				return nil, err
			}
		}
	}

	if obj.Has("_id") != docCopy.Has("_id") || m.comp.Compare(obj.ID(), docCopy.ID()) != 0 {
		return nil, ErrImmutableID
	}

	return docCopy, nil
}

// checkConflicts rejects updates touching a path twice or a path and one of
// its parents.
func (m *Modifier) checkConflicts(paths []string) error {
	for i, a := range paths {
		for _, b := range paths[i+1:] {
			if a == b || strings.HasPrefix(b, a+".") || strings.HasPrefix(a, b+".") {
				return fmt.Errorf("updating the path '%s' would create a conflict at '%s'", b, a)
			}
		}
	}
	return nil
}

// arrayFilter selects the elements of $[identifier] segments. Every filter
// names a single identifier as the first segment of its fields.
func (m *Modifier) arrayFilter(filters []domain.Document) (domain.ArrayFilter, error) {
	byID := make(map[string][]domain.Document, len(filters))
	for _, f := range filters {
		var id string
		for k := range f.Keys() {
			first, _, _ := strings.Cut(k, ".")
			if id != "" && first != id {
				return nil, fmt.Errorf("array filters must use a single identifier, found %s and %s", id, first)
			}
			id = first
		}
		if id == "" {
			return nil, fmt.Errorf("cannot use an expression without a top-level field name in arrayFilters")
		}
		byID[id] = append(byID[id], f)
	}

	return func(id string, element any) (bool, error) {
		fs, ok := byID[id]
		if !ok {
			return false, fmt.Errorf("no array filter found for identifier '%s'", id)
		}
		wrapper := &data.M{}
		wrapper.Set(id, element)
		for _, f := range fs {
			matches, err := m.matcher.Match(wrapper, f)
			if err != nil || !matches {
				return false, err
			}
		}
		return true, nil
	}, nil
}

func (m *Modifier) ensure(obj domain.Document, addr []string, mc *modContext) ([]domain.GetSetter, error) {
	return m.fieldNavigator.EnsureField(obj, mc.filter, addr...)
}

func (m *Modifier) locate(obj domain.Document, addr []string, mc *modContext) ([]domain.GetSetter, error) {
	return m.fieldNavigator.Locate(obj, mc.filter, addr...)
}

func (m *Modifier) set(obj domain.Document, addr []string, arg any, mc *modContext) error {
	fields, err := m.ensure(obj, addr, mc)
	if err != nil {
		return err
	}
	for _, field := range fields {
		field.Set(data.Clone(arg))
	}
	return nil
}

func (m *Modifier) setOnInsert(obj domain.Document, addr []string, arg any, mc *modContext) error {
	if !mc.Insert {
		return nil
	}
	return m.set(obj, addr, arg, mc)
}

func (m *Modifier) unset(obj domain.Document, addr []string, _ any, mc *modContext) error {
	fields, err := m.locate(obj, addr, mc)
	if err != nil {
		return err
	}
	for _, field := range fields {
		if _, defined := field.Get(); defined {
			field.Unset()
		}
	}
	return nil
}

func (m *Modifier) inc(obj domain.Document, addr []string, arg any, mc *modContext) error {
	if _, ok := kindOf(arg); !ok {
		return fmt.Errorf("cannot increment with non-numeric argument: %v", arg)
	}
	fields, err := m.ensure(obj, addr, mc)
	if err != nil {
		return err
	}
	for _, field := range fields {
		value, defined := field.Get()
		if !defined {
			field.Set(arg)
			continue
		}
		res, err := arith(value, arg, false)
		if err != nil {
			return fmt.Errorf("cannot apply $inc to %s: %w", strings.Join(addr, "."), err)
		}
		field.Set(res)
	}
	return nil
}

func (m *Modifier) mul(obj domain.Document, addr []string, arg any, mc *modContext) error {
	if _, ok := kindOf(arg); !ok {
		return fmt.Errorf("cannot multiply with non-numeric argument: %v", arg)
	}
	fields, err := m.ensure(obj, addr, mc)
	if err != nil {
		return err
	}
	for _, field := range fields {
		value, defined := field.Get()
		if !defined {
			value = int32(0)
		}
		res, err := arith(value, arg, true)
		if err != nil {
			return fmt.Errorf("cannot apply $mul to %s: %w", strings.Join(addr, "."), err)
		}
		field.Set(res)
	}
	return nil
}

func (m *Modifier) minMax(replace func(c int) bool) modFunc {
	return func(obj domain.Document, addr []string, arg any, mc *modContext) error {
		fields, err := m.ensure(obj, addr, mc)
		if err != nil {
			return err
		}
		for _, field := range fields {
			value, defined := field.Get()
			if !defined || replace(m.comp.Compare(arg, value)) {
				field.Set(data.Clone(arg))
			}
		}
		return nil
	}
}

func (m *Modifier) rename(obj domain.Document, addr []string, arg any, mc *modContext) error {
	from, err := m.locate(obj, addr, mc)
	if err != nil {
		return err
	}
	for _, field := range from {
		value, defined := field.Get()
		if !defined {
			continue
		}
		field.Unset()
		to, err := m.ensure(obj, m.fieldNavigator.GetAddress(arg.(string)), mc)
		if err != nil {
			return err
		}
		for _, target := range to {
			target.Set(value)
		}
	}
	return nil
}

func (m *Modifier) currentDate(obj domain.Document, addr []string, arg any, mc *modContext) error {
	now := m.timeGetter.GetTime()
	var value any = bson.NewDateTimeFromTime(now)

	switch t := arg.(type) {
	case bool:
		if !t {
			return fmt.Errorf("$currentDate needs true or a $type document")
		}
	case domain.Document:
		switch t.Get("$type") {
		case "date":
		case "timestamp":
			value = bson.Timestamp{T: uint32(now.Unix()), I: 1}
		default:
			return fmt.Errorf("the '$type' string field is required to be 'date' or 'timestamp'")
		}
	default:
		return fmt.Errorf("%v is not valid type for $currentDate", arg)
	}
	return m.set(obj, addr, value, mc)
}

// arrays returns the arrays addressed by addr. Missing fields are created as
// empty arrays when create is set and skipped otherwise.
func (m *Modifier) arrays(op string, obj domain.Document, addr []string, mc *modContext, create bool, fn func([]any) ([]any, error)) error {
	var fields []domain.GetSetter
	var err error
	if create {
		fields, err = m.ensure(obj, addr, mc)
	} else {
		fields, err = m.locate(obj, addr, mc)
	}
	if err != nil {
		return err
	}
	for _, field := range fields {
		value, defined := field.Get()
		if !defined {
			if !create {
				continue
			}
			value = []any{}
		}
		array, ok := value.([]any)
		if !ok {
			return fmt.Errorf("the field '%s' must be an array to use %s", strings.Join(addr, "."), op)
		}
		res, err := fn(array)
		if err != nil {
			return err
		}
		field.Set(res)
	}
	return nil
}

type pushProps struct {
	each     []any
	position *int
	slice    *int
	sort     any
}

func (m *Modifier) pushProperties(arg any) (*pushProps, error) {
	d, ok := arg.(domain.Document)
	if !ok || !d.Has("$each") {
		return &pushProps{each: []any{arg}}, nil
	}

	res := &pushProps{}
	for k, v := range d.Iter() {
		switch k {
		case "$each":
			if res.each, ok = v.([]any); !ok {
				return nil, fmt.Errorf("$each requires an array value")
			}
		case "$position":
			n, ok := asInt(v)
			if !ok {
				return nil, fmt.Errorf("$position requires an integer")
			}
			res.position = &n
		case "$slice":
			n, ok := asInt(v)
			if !ok {
				return nil, fmt.Errorf("$slice requires an integer")
			}
			res.slice = &n
		case "$sort":
			res.sort = v
		default:
			return nil, fmt.Errorf("unrecognized clause in $push: %s", k)
		}
	}
	return res, nil
}

func (m *Modifier) push(obj domain.Document, addr []string, arg any, mc *modContext) error {
	props, err := m.pushProperties(arg)
	if err != nil {
		return err
	}
	return m.arrays("$push", obj, addr, mc, true, func(array []any) ([]any, error) {
		each := data.Clone(props.each).([]any)

		pos := len(array)
		if props.position != nil {
			pos = *props.position
			if pos < 0 {
				pos = max(0, len(array)+pos)
			}
			pos = min(pos, len(array))
		}
		res := slices.Concat(array[:pos], each, array[pos:])

		if props.sort != nil {
			if err := m.sortArray(res, props.sort); err != nil {
				return nil, err
			}
		}

		if props.slice != nil {
			if s := *props.slice; s >= 0 {
				res = res[:min(s, len(res))]
			} else {
				res = res[len(res)+max(s, -len(res)):]
			}
		}
		return res, nil
	})
}

func (m *Modifier) sortArray(arr []any, spec any) error {
	if d, ok := spec.(domain.Document); ok {
		type key struct {
			addr []string
			dir  int
		}
		keys := make([]key, 0, d.Len())
		for k, v := range d.Iter() {
			dir, ok := asInt(v)
			if !ok || (dir != 1 && dir != -1) {
				return fmt.Errorf("the $sort element value must be either 1 or -1")
			}
			keys = append(keys, key{addr: m.fieldNavigator.GetAddress(k), dir: dir})
		}
		slices.SortStableFunc(arr, func(a, b any) int {
			for _, k := range keys {
				fa, _ := m.fieldNavigator.GetField(a, k.addr...)
				fb, _ := m.fieldNavigator.GetField(b, k.addr...)
				if c := m.comp.Compare(fa[0], fb[0]); c != 0 {
					return c * k.dir
				}
			}
			return 0
		})
		return nil
	}

	dir, ok := asInt(spec)
	if !ok || (dir != 1 && dir != -1) {
		return fmt.Errorf("the $sort is invalid: use 1/-1 to sort the whole element, or {field:1/-1} to sort embedded fields")
	}
	slices.SortStableFunc(arr, func(a, b any) int {
		return m.comp.Compare(a, b) * dir
	})
	return nil
}

func (m *Modifier) addToSet(obj domain.Document, addr []string, arg any, mc *modContext) error {
	values := []any{arg}
	if d, ok := arg.(domain.Document); ok && d.Has("$each") {
		if d.Len() > 1 {
			return fmt.Errorf("can't use another field in conjunction with $each")
		}
		if values, ok = d.Get("$each").([]any); !ok {
			return fmt.Errorf("$each requires an array value")
		}
	}

	return m.arrays("$addToSet", obj, addr, mc, true, func(array []any) ([]any, error) {
		for _, value := range values {
			if !slices.ContainsFunc(array, func(item any) bool { return m.comp.Compare(value, item) == 0 }) {
				array = append(array, data.Clone(value))
			}
		}
		return array, nil
	})
}

func (m *Modifier) pop(obj domain.Document, addr []string, arg any, mc *modContext) error {
	num, ok := asInt(arg)
	if !ok || (num != 1 && num != -1) {
		return fmt.Errorf("$pop expects 1 or -1, found: %v", arg)
	}
	return m.arrays("$pop", obj, addr, mc, false, func(array []any) ([]any, error) {
		if len(array) == 0 {
			return array, nil
		}
		if num < 0 {
			return array[1:], nil
		}
		return array[:len(array)-1], nil
	})
}

func (m *Modifier) pull(obj domain.Document, addr []string, arg any, mc *modContext) error {
	return m.arrays("$pull", obj, addr, mc, false, func(array []any) ([]any, error) {
		res := make([]any, 0, len(array))
		for _, item := range array {
			matches, err := m.matcher.Match(item, arg)
			if err != nil {
				return nil, err
			}
			if !matches {
				res = append(res, item)
			}
		}
		return res, nil
	})
}

func (m *Modifier) pullAll(obj domain.Document, addr []string, arg any, mc *modContext) error {
	values, ok := arg.([]any)
	if !ok {
		return fmt.Errorf("$pullAll requires an array argument")
	}
	return m.arrays("$pullAll", obj, addr, mc, false, func(array []any) ([]any, error) {
		return slices.DeleteFunc(slices.Clone(array), func(item any) bool {
			return slices.ContainsFunc(values, func(v any) bool { return m.comp.Compare(item, v) == 0 })
		}), nil
	})
}

type numKind int

const (
	kindInt32 numKind = iota
	kindInt64
	kindDouble
	kindDecimal
)

func kindOf(v any) (numKind, bool) {
	switch v.(type) {
	case int8, int16, int32, uint8, uint16:
		return kindInt32, true
	case int, int64, uint, uint32, uint64:
		return kindInt64, true
	case float32, float64:
		return kindDouble, true
	case bson.Decimal128:
		return kindDecimal, true
	default:
		return 0, false
	}
}

// arith adds or multiplies two numbers. The result takes the widest kind of
// the operands, an int32 overflow widening to int64.
func arith(a, b any, mul bool) (any, error) {
	ka, okA := kindOf(a)
	kb, okB := kindOf(b)
	if !okA || !okB {
		return nil, fmt.Errorf("cannot apply arithmetic to a value of non-numeric type %T", a)
	}

	switch max(ka, kb) {
	case kindDouble:
		fa, fb := asFloat(a), asFloat(b)
		if mul {
			return fa * fb, nil
		}
		return fa + fb, nil

	case kindDecimal:
		fa, fb := asBigFloat(a), asBigFloat(b)
		if fa == nil || fb == nil {
			return bson.ParseDecimal128("NaN")
		}
		var r big.Float
		if mul {
			r.Mul(fa, fb)
		} else {
			r.Add(fa, fb)
		}
		return bson.ParseDecimal128(r.Text('g', 34))

	default:
		ia, ib := asBigInt(a), asBigInt(b)
		var r big.Int
		if mul {
			r.Mul(ia, ib)
		} else {
			r.Add(ia, ib)
		}
		if !r.IsInt64() {
			return nil, fmt.Errorf("integer overflow")
		}
		n := r.Int64()
		if max(ka, kb) == kindInt32 && n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n), nil
		}
		return n, nil
	}
}

func asBigInt(v any) *big.Int {
	switch n := v.(type) {
	case uint:
		return new(big.Int).SetUint64(uint64(n))
	case uint32:
		return new(big.Int).SetUint64(uint64(n))
	case uint64:
		return new(big.Int).SetUint64(n)
	}
	i, _ := asInt64(v)
	return big.NewInt(i)
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		return int64(n), n <= math.MaxInt64
	case uint64:
		return int64(n), n <= math.MaxInt64
	default:
		return 0, false
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	case uint:
		return float64(n)
	case uint64:
		return float64(n)
	}
	i, _ := asInt64(v)
	return float64(i)
}

// asBigFloat returns nil for NaN.
func asBigFloat(v any) *big.Float {
	switch n := v.(type) {
	case bson.Decimal128:
		f, ok := new(big.Float).SetString(n.String())
		if !ok {
			return nil
		}
		return f
	case float32, float64:
		f := asFloat(n)
		if math.IsNaN(f) {
			return nil
		}
		return big.NewFloat(f)
	}
	return new(big.Float).SetInt(asBigInt(v))
}

// asInt returns integral numbers as int.
func asInt(v any) (int, bool) {
	if i, ok := asInt64(v); ok {
		return int(i), true
	}
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}
