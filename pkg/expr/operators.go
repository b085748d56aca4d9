package expr

import "github.com/vinicius-lino-figueiredo/gedm/domain"

// Arithmetic operators.

func Abs(v any) OperatorExpr { return op1("$abs", v) }
func Add(vs ...any) OperatorExpr { return opN("$add", vs...) }
func Ceil(v any) OperatorExpr { return op1("$ceil", v) }
func Divide(a, b any) OperatorExpr { return opN("$divide", a, b) }
func Exp(v any) OperatorExpr { return op1("$exp", v) }
func Floor(v any) OperatorExpr { return op1("$floor", v) }
func Ln(v any) OperatorExpr { return op1("$ln", v) }
func Log(v, base any) OperatorExpr { return opN("$log", v, base) }
func Log10(v any) OperatorExpr { return op1("$log10", v) }
func Mod(a, b any) OperatorExpr { return opN("$mod", a, b) }
func Multiply(vs ...any) OperatorExpr { return opN("$multiply", vs...) }
func Pow(v, exponent any) OperatorExpr { return opN("$pow", v, exponent) }
func Round(v, place any) OperatorExpr { return opN("$round", trimNil(v, place)...) }
func Sqrt(v any) OperatorExpr { return op1("$sqrt", v) }
func Subtract(a, b any) OperatorExpr { return opN("$subtract", a, b) }
func Trunc(v, place any) OperatorExpr { return opN("$trunc", trimNil(v, place)...) }
func BitAnd(vs ...any) OperatorExpr { return opN("$bitAnd", vs...) }
func BitOr(vs ...any) OperatorExpr { return opN("$bitOr", vs...) }
func BitXor(vs ...any) OperatorExpr { return opN("$bitXor", vs...) }
func BitNot(v any) OperatorExpr { return op1("$bitNot", v) }
func Rand() OperatorExpr { return op0("$rand") }
func Sin(v any) OperatorExpr { return op1("$sin", v) }
func Cos(v any) OperatorExpr { return op1("$cos", v) }
func Tan(v any) OperatorExpr { return op1("$tan", v) }
func DegreesToRadians(v any) OperatorExpr { return op1("$degreesToRadians", v) }
func RadiansToDegrees(v any) OperatorExpr { return op1("$radiansToDegrees", v) }

// Comparison operators.

func Cmp(a, b any) OperatorExpr { return opN("$cmp", a, b) }
func Eq(a, b any) OperatorExpr { return opN("$eq", a, b) }
func Ne(a, b any) OperatorExpr { return opN("$ne", a, b) }
func Gt(a, b any) OperatorExpr { return opN("$gt", a, b) }
func Gte(a, b any) OperatorExpr { return opN("$gte", a, b) }
func Lt(a, b any) OperatorExpr { return opN("$lt", a, b) }
func Lte(a, b any) OperatorExpr { return opN("$lte", a, b) }

// Boolean operators.

func And(vs ...any) OperatorExpr { return opN("$and", vs...) }
func Or(vs ...any) OperatorExpr { return opN("$or", vs...) }

// Not negates v. It always renders an array operand.
func Not(v any) OperatorExpr { return opN("$not", v) }

// Conditional operators.

// Cond returns then when cond is true and otherwise els.
func Cond(cond, then, els any) OperatorExpr {
	return opNamed("$cond", As("if", cond), As("then", then), As("else", els))
}

// IfNull returns the first operand that is not null or missing, or the last
// one.
func IfNull(vs ...any) OperatorExpr { return opN("$ifNull", vs...) }

// Case is one branch of [Switch].
type Case struct {
	Case any
	Then any
}

// Switch returns the Then of the first Case evaluating to true, or def.
func Switch(def any, cases ...Case) OperatorExpr {
	branches := make([]any, len(cases))
	for i, c := range cases {
		branches[i] = Document(As("case", c.Case), As("then", c.Then))
	}
	return opNamed("$switch", As("branches", Array(branches...)), As("default", def))
}

// String operators.

func Concat(vs ...any) OperatorExpr { return opN("$concat", vs...) }
func IndexOfBytes(s, sub any) OperatorExpr { return opN("$indexOfBytes", s, sub) }
func IndexOfCP(s, sub any) OperatorExpr { return opN("$indexOfCP", s, sub) }
func Ltrim(input, chars any) OperatorExpr { return trim("$ltrim", input, chars) }
func Rtrim(input, chars any) OperatorExpr { return trim("$rtrim", input, chars) }
func Trim(input, chars any) OperatorExpr { return trim("$trim", input, chars) }
func Split(s, delimiter any) OperatorExpr { return opN("$split", s, delimiter) }
func StrLenBytes(v any) OperatorExpr { return op1("$strLenBytes", v) }
func StrLenCP(v any) OperatorExpr { return op1("$strLenCP", v) }
func Strcasecmp(a, b any) OperatorExpr { return opN("$strcasecmp", a, b) }
func Substr(s, start, length any) OperatorExpr { return opN("$substr", s, start, length) }
func SubstrBytes(s, start, length any) OperatorExpr { return opN("$substrBytes", s, start, length) }
func SubstrCP(s, start, length any) OperatorExpr { return opN("$substrCP", s, start, length) }
func ToLower(v any) OperatorExpr { return op1("$toLower", v) }
func ToUpper(v any) OperatorExpr { return op1("$toUpper", v) }

// ReplaceOne replaces the first occurrence of find in input.
func ReplaceOne(input, find, replacement any) OperatorExpr {
	return opNamed("$replaceOne", As("input", input), As("find", find), As("replacement", replacement))
}

// ReplaceAll replaces every occurrence of find in input.
func ReplaceAll(input, find, replacement any) OperatorExpr {
	return opNamed("$replaceAll", As("input", input), As("find", find), As("replacement", replacement))
}

// RegexMatch reports whether input matches regex.
func RegexMatch(input, regex, options any) OperatorExpr {
	return opNamed("$regexMatch", As("input", input), As("regex", regex), As("options", options))
}

// RegexFind returns the first match of regex in input.
func RegexFind(input, regex, options any) OperatorExpr {
	return opNamed("$regexFind", As("input", input), As("regex", regex), As("options", options))
}

// RegexFindAll returns every match of regex in input.
func RegexFindAll(input, regex, options any) OperatorExpr {
	return opNamed("$regexFindAll", As("input", input), As("regex", regex), As("options", options))
}

func trim(name string, input, chars any) OperatorExpr {
	return opNamed(name, As("input", input), As("chars", chars))
}

// Array operators.

func ArrayElemAt(array, index any) OperatorExpr { return opN("$arrayElemAt", array, index) }
func ArrayToObject(v any) OperatorExpr { return opN("$arrayToObject", v) }
func ConcatArrays(vs ...any) OperatorExpr { return opN("$concatArrays", vs...) }
func First(v any) OperatorExpr { return op1("$first", v) }
func Last(v any) OperatorExpr { return op1("$last", v) }
func In(v, array any) OperatorExpr { return opN("$in", v, array) }
func IndexOfArray(array, v any) OperatorExpr { return opN("$indexOfArray", array, v) }
func IsArray(v any) OperatorExpr { return opN("$isArray", v) }
func ObjectToArray(v any) OperatorExpr { return op1("$objectToArray", v) }
func Range(start, end, step any) OperatorExpr { return opN("$range", trimNil(start, end, step)...) }
func ReverseArray(v any) OperatorExpr { return op1("$reverseArray", v) }
func Size(v any) OperatorExpr { return op1("$size", v) }
func Slice(array, n any) OperatorExpr { return opN("$slice", array, n) }
func Zip(inputs ...any) OperatorExpr { return opNamed("$zip", As("inputs", Array(inputs...))) }

// SliceFrom returns n elements of array starting at position.
func SliceFrom(array, position, n any) OperatorExpr { return opN("$slice", array, position, n) }

// Filter keeps the elements of input for which cond is true. The current
// element is bound to the variable named as, "this" when empty.
func Filter(input any, as string, cond any) OperatorExpr {
	return opNamed("$filter", As("input", input), asName(as), As("cond", cond))
}

// Map applies in to each element of input.
func Map(input any, as string, in any) OperatorExpr {
	return opNamed("$map", As("input", input), asName(as), As("in", in))
}

// Reduce folds input into one value, starting with initial. The variables
// $$value and $$this hold the accumulated value and the current element.
func Reduce(input, initial, in any) OperatorExpr {
	return opNamed("$reduce", As("input", input), As("initialValue", initial), As("in", in))
}

// SortArray sorts input by sortBy, which is 1, -1 or a sort document.
func SortArray(input, sortBy any) OperatorExpr {
	return opNamed("$sortArray", As("input", input), As("sortBy", sortBy))
}

// MaxN returns the n largest values of input.
func MaxN(input, n any) OperatorExpr {
	return opNamed("$maxN", As("input", input), As("n", n))
}

// MinN returns the n smallest values of input.
func MinN(input, n any) OperatorExpr {
	return opNamed("$minN", As("input", input), As("n", n))
}

func asName(as string) Named {
	if as == "" {
		return Named{Name: "as"}
	}
	return As("as", as)
}

// Set operators.

func AllElementsTrue(v any) OperatorExpr { return opN("$allElementsTrue", v) }
func AnyElementTrue(v any) OperatorExpr { return opN("$anyElementTrue", v) }
func SetDifference(a, b any) OperatorExpr { return opN("$setDifference", a, b) }
func SetEquals(vs ...any) OperatorExpr { return opN("$setEquals", vs...) }
func SetIntersection(vs ...any) OperatorExpr { return opN("$setIntersection", vs...) }
func SetIsSubset(a, b any) OperatorExpr { return opN("$setIsSubset", a, b) }
func SetUnion(vs ...any) OperatorExpr { return opN("$setUnion", vs...) }

// Object operators.

func MergeObjects(vs ...any) OperatorExpr { return opN("$mergeObjects", vs...) }

// GetField returns field of input, or of the current document when input is
// nil.
func GetField(field string, input any) OperatorExpr {
	return opNamed("$getField", As("field", field), As("input", input))
}

// SetField returns input with field set to value.
func SetField(field string, input, value any) OperatorExpr {
	return opNamed("$setField", As("field", field), As("input", input), As("value", value))
}

// UnsetField returns input without field.
func UnsetField(field string, input any) OperatorExpr {
	return opNamed("$unsetField", As("field", field), As("input", input))
}

// Misc operators.

// Meta returns request metadata such as "textScore" or "indexKey".
func Meta(keyword string) OperatorExpr { return op1("$meta", keyword) }

// TextScore is {$meta: "textScore"}.
func TextScore() OperatorExpr { return Meta("textScore") }

func BSONSize(v any) OperatorExpr { return op1("$bsonSize", v) }
func BinarySize(v any) OperatorExpr { return op1("$binarySize", v) }
func SampleRate(r float64) OperatorExpr { return op1("$sampleRate", r) }

// Function runs a javascript function with args.
func Function(body string, args ...any) OperatorExpr {
	return opNamed("$function", As("body", body), As("args", Array(args...)), As("lang", "js"))
}

// trimNil drops trailing optional operands left nil.
func trimNil(args ...any) []any {
	for len(args) > 1 && args[len(args)-1] == nil {
		args = args[:len(args)-1]
	}
	return args
}

var _ domain.Expression = OperatorExpr{}
