// Package queryfilter turns raw query-string parameters into typed field
// predicates and applies them to dataset records.
//
// The predicate language is deliberately small: one comparison per query
// parameter, combined with logical AND. Operators are chosen by a leading
// marker on the parameter value (`!`, `>=`, `<=`, `>`, `<`); a value with no
// marker is an equality check. Values are expected to be percent-decoded
// before they reach this package, which is what net/url and echo already do.
package queryfilter

import (
	"strconv"
	"strings"
)

// Record is one row of a dataset: field name to scalar value (string, number,
// bool, or nil), as produced by decoding a JSON array of objects.
type Record = map[string]any

type Op string

const (
	OpEq  Op = "="
	OpNe  Op = "!="
	OpGt  Op = ">"
	OpLt  Op = "<"
	OpGte Op = ">="
	OpLte Op = "<="
)

// Predicate is a single field comparison derived from one query parameter.
//
// Equality and not-equal always compare against Str, preserving exact string
// matching. Ordering operators compare against Num when the operand parsed as
// a number, and fall back to lexical comparison of Str otherwise.
type Predicate struct {
	Op      Op
	Str     string
	Num     float64
	Numeric bool
}

// Predicates maps a field name to the comparison for that field.
type Predicates map[string]Predicate

// ParsePredicates inspects each parameter value's leading characters to pick
// an operator, strips the marker, and parses the remainder. When a parameter
// is repeated only the first value is used. Values must already be
// percent-decoded, so a raw `%3E5` arrives here as `>5` and becomes a
// greater-than predicate.
func ParsePredicates(params map[string][]string) Predicates {
	preds := make(Predicates, len(params))
	for field, vals := range params {
		if field == "" || len(vals) == 0 {
			continue
		}
		preds[field] = parseOne(vals[0])
	}
	return preds
}

func parseOne(val string) Predicate {
	op := OpEq
	switch {
	case strings.HasPrefix(val, ">="):
		op, val = OpGte, val[2:]
	case strings.HasPrefix(val, "<="):
		op, val = OpLte, val[2:]
	case strings.HasPrefix(val, ">"):
		op, val = OpGt, val[1:]
	case strings.HasPrefix(val, "<"):
		op, val = OpLt, val[1:]
	case strings.HasPrefix(val, "!"):
		op, val = OpNe, val[1:]
	}

	p := Predicate{Op: op, Str: val}
	if op == OpEq || op == OpNe {
		// equality keeps the operand as the decoded string
		return p
	}
	if n, err := strconv.ParseFloat(val, 64); err == nil {
		p.Num = n
		p.Numeric = true
	}
	return p
}

// Apply returns the records matching every predicate, preserving their
// original relative order. A record with no predicates against it always
// matches. Comparisons are total functions: malformed or mismatched values
// evaluate to "does not match" rather than failing the request.
func Apply(records []Record, preds Predicates) []Record {
	if len(preds) == 0 {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if matches(rec, preds) {
			out = append(out, rec)
		}
	}
	return out
}

func matches(rec Record, preds Predicates) bool {
	for field, p := range preds {
		if !matchOne(rec, field, p) {
			return false
		}
	}
	return true
}

// Comparison rules, per field-value/operand-type pair:
//
//   - `=` / `!=`: the field value's canonical string form is compared against
//     the operand. Missing fields and nulls equal nothing, so `=` is false
//     and `!=` is true.
//   - ordering: numeric comparison when the operand is numeric and the field
//     is a number (or a string that parses as one); lexical comparison when
//     the operand is non-numeric and the field is a string; anything else
//     (bool, null, missing, type mismatch) does not match.
func matchOne(rec Record, field string, p Predicate) bool {
	v, ok := rec[field]
	if !ok || v == nil {
		return p.Op == OpNe
	}

	switch p.Op {
	case OpEq:
		return CanonicalString(v) == p.Str
	case OpNe:
		return CanonicalString(v) != p.Str
	}

	if p.Numeric {
		n, ok := numericValue(v)
		if !ok {
			return false
		}
		return ordered(p.Op, compareFloat(n, p.Num))
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	return ordered(p.Op, strings.Compare(s, p.Str))
}

func ordered(op Op, cmp int) bool {
	switch op {
	case OpGt:
		return cmp > 0
	case OpLt:
		return cmp < 0
	case OpGte:
		return cmp >= 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

func compareFloat(a, b float64) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// CanonicalString renders a scalar field value in the form used for equality
// comparison: numbers without a trailing `.0`, bools as `true`/`false`. Also
// used by the gateway when rendering CSV cells.
func CanonicalString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}
