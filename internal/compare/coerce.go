package compare

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// valueKind is the coercion domain a value normalizes into.
type valueKind int

const (
	kindNull valueKind = iota
	kindNumber
	kindTemporal
	kindBool
	kindString
	kindOpaque // no defined coercion (structs, slices of non-bytes, ...)
)

// canonical holds a value normalized for comparison and hashing.
type canonical struct {
	kind valueKind
	str  string  // canonical string form (temporal, bool, string)
	num  float64 // numeric value when kind == kindNumber
}

// canonicalize normalizes a raw driver value into its coercion domain.
// Engines disagree on how they hand back numbers, decimals and dates, so
// equality and hashing both go through this single normalization.
func canonicalize(v any) canonical {
	switch x := v.(type) {
	case nil:
		return canonical{kind: kindNull}
	case bool:
		return canonical{kind: kindBool, str: strconv.FormatBool(x)}
	case int:
		return canonical{kind: kindNumber, num: float64(x)}
	case int8:
		return canonical{kind: kindNumber, num: float64(x)}
	case int16:
		return canonical{kind: kindNumber, num: float64(x)}
	case int32:
		return canonical{kind: kindNumber, num: float64(x)}
	case int64:
		return canonical{kind: kindNumber, num: float64(x)}
	case uint64:
		return canonical{kind: kindNumber, num: float64(x)}
	case float32:
		return canonical{kind: kindNumber, num: float64(x)}
	case float64:
		return canonical{kind: kindNumber, num: x}
	case time.Time:
		return canonical{kind: kindTemporal, str: canonicalTime(x)}
	case []byte:
		return canonicalizeString(string(x))
	case string:
		return canonicalizeString(x)
	case fmt.Stringer:
		return canonicalizeString(x.String())
	default:
		return canonical{kind: kindOpaque, str: fmt.Sprint(v)}
	}
}

// canonicalizeString classifies a string value: numeric strings normalize
// into the number domain ("18.20" equals 18.2) and timestamp strings into
// the temporal domain ("2020-10-04 00:00:00.0000000" equals "2020-10-04").
func canonicalizeString(s string) canonical {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return canonical{kind: kindString, str: trimmed}
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return canonical{kind: kindNumber, num: f}
	}
	if t, ok := parseTemporal(trimmed); ok {
		return canonical{kind: kindTemporal, str: canonicalTime(t)}
	}
	return canonical{kind: kindString, str: trimmed}
}

var temporalLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTemporal(s string) (time.Time, bool) {
	for _, layout := range temporalLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// canonicalTime renders a timestamp with a midnight time component as a bare
// date, so DATE and DATETIME representations of the same day compare equal.
func canonicalTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:04:05.999999999")
}

// equal compares two canonical values within a common domain. The second
// return is false when the domains are incompatible and no coercion is
// defined.
func (a canonical) equal(b canonical) (eq bool, ok bool) {
	if a.kind != b.kind {
		// A bool column may arrive as 0/1 from engines without a native
		// boolean type.
		if a.kind == kindBool && b.kind == kindNumber {
			return (a.str == "true") == (b.num != 0), true
		}
		if a.kind == kindNumber && b.kind == kindBool {
			return b.equal(a)
		}
		return false, false
	}
	switch a.kind {
	case kindNumber:
		return a.num == b.num, true
	case kindOpaque:
		return false, false
	default:
		return a.str == b.str, true
	}
}

// CanonicalString renders a value in its canonical comparison form. Used by
// the row hash and by sinks that persist values as text.
func CanonicalString(v any) string {
	c := canonicalize(v)
	switch c.kind {
	case kindNull:
		return ""
	case kindNumber:
		return strconv.FormatFloat(c.num, 'g', -1, 64)
	default:
		return c.str
	}
}

// IsNull reports whether a raw value is null (or an empty []byte from a NULL
// column).
func IsNull(v any) bool {
	return v == nil
}
