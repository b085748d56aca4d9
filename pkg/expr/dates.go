package expr

// DatePart selects a date field extracted by [Extract].
type DatePart string

// Date parts.
const (
	Year         DatePart = "$year"
	Month        DatePart = "$month"
	DayOfMonth   DatePart = "$dayOfMonth"
	DayOfWeek    DatePart = "$dayOfWeek"
	DayOfYear    DatePart = "$dayOfYear"
	Hour         DatePart = "$hour"
	Minute       DatePart = "$minute"
	Second       DatePart = "$second"
	Millisecond  DatePart = "$millisecond"
	Week         DatePart = "$week"
	IsoWeek      DatePart = "$isoWeek"
	IsoWeekYear  DatePart = "$isoWeekYear"
	IsoDayOfWeek DatePart = "$isoDayOfWeek"
)

// Extract returns part of date, in timezone when not nil.
func Extract(part DatePart, date, timezone any) OperatorExpr {
	if timezone == nil {
		return op1(string(part), date)
	}
	return opNamed(string(part), As("date", date), As("timezone", timezone))
}

// DateToString formats date.
func DateToString(date any, format string, timezone, onNull any) OperatorExpr {
	var f any
	if format != "" {
		f = format
	}
	return opNamed("$dateToString", As("date", date), As("format", f), As("timezone", timezone), As("onNull", onNull))
}

// DateFromString parses s.
func DateFromString(s any, format string, timezone any) OperatorExpr {
	var f any
	if format != "" {
		f = format
	}
	return opNamed("$dateFromString", As("dateString", s), As("format", f), As("timezone", timezone))
}

// DateAdd adds amount units to start.
func DateAdd(start any, unit string, amount any) OperatorExpr {
	return opNamed("$dateAdd", As("startDate", start), As("unit", unit), As("amount", amount))
}

// DateSubtract subtracts amount units from start.
func DateSubtract(start any, unit string, amount any) OperatorExpr {
	return opNamed("$dateSubtract", As("startDate", start), As("unit", unit), As("amount", amount))
}

// DateDiff returns the number of unit boundaries between start and end.
func DateDiff(start, end any, unit string) OperatorExpr {
	return opNamed("$dateDiff", As("startDate", start), As("endDate", end), As("unit", unit))
}

// DateTrunc truncates date to unit.
func DateTrunc(date any, unit string) OperatorExpr {
	return opNamed("$dateTrunc", As("date", date), As("unit", unit))
}

// DateFromParts builds a date from named parts such as "year" and "month".
func DateFromParts(parts ...Named) OperatorExpr {
	return opNamed("$dateFromParts", parts...)
}

// DateToParts splits date into a document of parts.
func DateToParts(date, timezone any) OperatorExpr {
	return opNamed("$dateToParts", As("date", date), As("timezone", timezone))
}

// Type conversion operators.

func ToBool(v any) OperatorExpr { return op1("$toBool", v) }
func ToDate(v any) OperatorExpr { return op1("$toDate", v) }
func ToDecimal(v any) OperatorExpr { return op1("$toDecimal", v) }
func ToDouble(v any) OperatorExpr { return op1("$toDouble", v) }
func ToInt(v any) OperatorExpr { return op1("$toInt", v) }
func ToLong(v any) OperatorExpr { return op1("$toLong", v) }
func ToObjectID(v any) OperatorExpr { return op1("$toObjectId", v) }
func ToString(v any) OperatorExpr { return op1("$toString", v) }
func Type(v any) OperatorExpr { return op1("$type", v) }
func IsNumber(v any) OperatorExpr { return op1("$isNumber", v) }

// Convert converts input to the type to, returning onError or onNull when
// they are set and conversion fails or input is null.
func Convert(input, to, onError, onNull any) OperatorExpr {
	return opNamed("$convert", As("input", input), As("to", to), As("onError", onError), As("onNull", onNull))
}
