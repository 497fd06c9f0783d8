package funcs

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/roach88/rcmflow/internal/ir"
)

// FuncMap returns the helpers under their template names, bound to now.
// Arguments may be dates, date strings, epoch milliseconds or lists of
// plain values as produced by ir.ToAny.
func FuncMap(now time.Time) template.FuncMap {
	return template.FuncMap{
		"now": func() time.Time { return now },
		"daysSince": func(date any) (int, error) {
			t, err := dateArg("daysSince", date)
			if err != nil {
				return 0, err
			}
			return DaysSince(t, now), nil
		},
		"daysUntil": func(date any) (int, error) {
			t, err := dateArg("daysUntil", date)
			if err != nil {
				return 0, err
			}
			return DaysUntil(t, now), nil
		},
		"businessDaysSince": func(date any) (int, error) {
			t, err := dateArg("businessDaysSince", date)
			if err != nil {
				return 0, err
			}
			return BusinessDaysSince(t, now), nil
		},
		"businessDaysUntil": func(date any) (int, error) {
			t, err := dateArg("businessDaysUntil", date)
			if err != nil {
				return 0, err
			}
			return BusinessDaysUntil(t, now), nil
		},
		"sum":     func(values any) (float64, error) { return aggregate("sum", values, Sum) },
		"average": func(values any) (float64, error) { return aggregate("average", values, Average) },
		"min":     func(values any) (float64, error) { return aggregate("min", values, Min) },
		"max":     func(values any) (float64, error) { return aggregate("max", values, Max) },
		"count": func(values any) (int, error) {
			l, err := listArg("count", values)
			if err != nil {
				return 0, err
			}
			return Count(l), nil
		},
		"isDateInRange": func(date, start, end any) (bool, error) {
			d, err := dateArg("isDateInRange", date)
			if err != nil {
				return false, err
			}
			s, err := dateArg("isDateInRange", start)
			if err != nil {
				return false, err
			}
			e, err := dateArg("isDateInRange", end)
			if err != nil {
				return false, err
			}
			return IsDateInRange(d, s, e), nil
		},
		"formatDate": func(date any, format string) (string, error) {
			t, err := dateArg("formatDate", date)
			if err != nil {
				return "", err
			}
			return FormatDate(t, format), nil
		},
	}
}

// Render executes tmpl against data with the helpers available.
// Text without template actions is returned unchanged.
func Render(tmpl string, data any, now time.Time) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("param").Funcs(FuncMap(now)).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return sb.String(), nil
}

func dateArg(fn string, v any) (time.Time, error) {
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	val, err := ir.FromAny(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", fn, err)
	}
	t, ok := ir.ToDate(val)
	if !ok {
		return time.Time{}, fmt.Errorf("%s: %s is not a date", fn, ir.Describe(val))
	}
	return t, nil
}

func listArg(fn string, v any) (ir.List, error) {
	val, err := ir.FromAny(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	l, ok := val.(ir.List)
	if !ok {
		return nil, fmt.Errorf("%s: expected list, got %s", fn, ir.KindOf(val))
	}
	return l, nil
}

func aggregate(fn string, v any, f func(ir.List) float64) (float64, error) {
	l, err := listArg(fn, v)
	if err != nil {
		return 0, err
	}
	return f(l), nil
}
