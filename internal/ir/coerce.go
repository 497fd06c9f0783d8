package ir

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// dateLayouts are tried in order when a string is coerced to a date.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

// ToNumber coerces v to a float64.
//
//   - Number: as is
//   - String: "$" and "," are stripped, then parsed; unparseable text is 0
//   - Date: epoch milliseconds
//   - Bool: 1 or 0
//   - anything else: 0
func ToNumber(v Value) float64 {
	switch val := v.(type) {
	case Number:
		return float64(val)
	case String:
		f, ok := parseNumeric(string(val))
		if !ok {
			return 0
		}
		return f
	case Date:
		return float64(time.Time(val).UnixMilli())
	case Bool:
		if val {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// parseNumeric parses money-style text such as "$1,250.00".
func parseNumeric(s string) (float64, bool) {
	cleaned := strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(s))
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// AsNumber interprets v as a number without defaulting: Numbers, numeric
// strings, bools and dates succeed; everything else reports false.
func AsNumber(v Value) (float64, bool) {
	switch val := v.(type) {
	case Number:
		return float64(val), true
	case String:
		return parseNumeric(string(val))
	case Bool, Date:
		return ToNumber(val), true
	default:
		return 0, false
	}
}

// IsNumber reports whether v is a Number.
func IsNumber(v Value) bool {
	_, ok := v.(Number)
	return ok
}

// ToString coerces v to a string. Undefined and null become "".
// Lists join their elements with ",".
func ToString(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return ""
	case String:
		return string(val)
	case Number:
		return strconv.FormatFloat(float64(val), 'f', -1, 64)
	case Bool:
		return strconv.FormatBool(bool(val))
	case Date:
		return time.Time(val).UTC().Format(time.RFC3339Nano)
	case List:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = ToString(elem)
		}
		return strings.Join(parts, ",")
	case Object:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return ""
	}
}

// AsDate interprets v as a date only when it already is one or is a string
// in a recognised date layout. Numbers are not dates here.
func AsDate(v Value) (time.Time, bool) {
	switch val := v.(type) {
	case Date:
		return time.Time(val), true
	case String:
		return ParseDate(string(val))
	default:
		return time.Time{}, false
	}
}

// ToDate coerces v to a date. In addition to AsDate, numbers are read as
// epoch milliseconds.
func ToDate(v Value) (time.Time, bool) {
	if t, ok := AsDate(v); ok {
		return t, true
	}
	if n, ok := v.(Number); ok {
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(f)).UTC(), true
	}
	return time.Time{}, false
}

// ParseDate parses s using the supported date layouts. Layouts without a
// zone are read as UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Fold returns the case-folded form of s for case-insensitive comparison.
func Fold(s string) string {
	// cases.Caser is stateful; a fresh one per call keeps Fold goroutine-safe.
	return cases.Fold().String(s)
}
