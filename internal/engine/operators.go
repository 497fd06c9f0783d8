package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/rcmflow/internal/funcs"
	"github.com/roach88/rcmflow/internal/ir"
)

// operatorFunc computes the un-negated outcome of a leaf condition.
// A non-nil error marks the condition as failed with a diagnostic; malformed
// but recognised inputs (bad regex, bad between shape, non-dates) return
// (false, nil).
type operatorFunc func(ev *Evaluator, actual ir.Value, c ir.RuleCondition) (bool, error)

// operators maps every supported operator to its implementation.
var operators = map[ir.Operator]operatorFunc{
	ir.OpEquals: func(_ *Evaluator, actual ir.Value, c ir.RuleCondition) (bool, error) {
		return looseEqual(actual, c.Value, c.CaseInsensitive), nil
	},
	ir.OpNotEquals: func(_ *Evaluator, actual ir.Value, c ir.RuleCondition) (bool, error) {
		return !looseEqual(actual, c.Value, c.CaseInsensitive), nil
	},
	ir.OpGreaterThan:         compareNumbers(func(a, e float64) bool { return a > e }),
	ir.OpLessThan:            compareNumbers(func(a, e float64) bool { return a < e }),
	ir.OpGreaterThanOrEquals: compareNumbers(func(a, e float64) bool { return a >= e }),
	ir.OpLessThanOrEquals:    compareNumbers(func(a, e float64) bool { return a <= e }),
	ir.OpContains:            compareStrings(strings.Contains),
	ir.OpNotContains: compareStrings(func(s, sub string) bool {
		return !strings.Contains(s, sub)
	}),
	ir.OpStartsWith: compareStrings(strings.HasPrefix),
	ir.OpEndsWith:   compareStrings(strings.HasSuffix),
	ir.OpInList: func(_ *Evaluator, actual ir.Value, c ir.RuleCondition) (bool, error) {
		list, ok := c.Value.(ir.List)
		if !ok {
			return false, nil
		}
		return listContains(list, actual, c.CaseInsensitive), nil
	},
	ir.OpNotInList: func(_ *Evaluator, actual ir.Value, c ir.RuleCondition) (bool, error) {
		list, ok := c.Value.(ir.List)
		if !ok {
			return false, nil
		}
		return !listContains(list, actual, c.CaseInsensitive), nil
	},
	ir.OpBetween: func(_ *Evaluator, actual ir.Value, c ir.RuleCondition) (bool, error) {
		return inRange(actual, c.Value), nil
	},
	ir.OpIsNull: func(_ *Evaluator, actual ir.Value, _ ir.RuleCondition) (bool, error) {
		return ir.IsNullish(actual), nil
	},
	ir.OpIsNotNull: func(_ *Evaluator, actual ir.Value, _ ir.RuleCondition) (bool, error) {
		return !ir.IsNullish(actual), nil
	},
	ir.OpRegex: func(ev *Evaluator, actual ir.Value, c ir.RuleCondition) (bool, error) {
		pattern, ok := c.Value.(ir.String)
		if !ok {
			return false, nil
		}
		re, err := ev.regexes.compile(string(pattern))
		if err != nil {
			ev.logger.Debug("regex condition uses an invalid pattern",
				"field", c.Field,
				"error", err)
			return false, nil
		}
		return re.MatchString(ir.ToString(actual)), nil
	},
	ir.OpDaysSinceGreaterThan: compareDays(funcs.DaysSince, func(d, n float64) bool { return d > n }),
	ir.OpDaysSinceLessThan:    compareDays(funcs.DaysSince, func(d, n float64) bool { return d < n }),
	ir.OpBusinessDaysSinceGreaterThan: compareDays(funcs.BusinessDaysSince,
		func(d, n float64) bool { return d > n }),
	ir.OpBusinessDaysSinceLessThan: compareDays(funcs.BusinessDaysSince,
		func(d, n float64) bool { return d < n }),
}

// SupportedOperator reports whether op has an implementation.
func SupportedOperator(op ir.Operator) bool {
	_, ok := operators[op]
	return ok
}

// looseEqual implements equals: dates compare by instant, then numbers by
// value, then strings case-folded when requested, then strict equality.
func looseEqual(actual, expected ir.Value, caseInsensitive bool) bool {
	if ir.IsNullish(actual) || ir.IsNullish(expected) {
		return ir.Equal(actual, expected)
	}

	if ad, ok := ir.AsDate(actual); ok {
		if ed, ok := ir.AsDate(expected); ok {
			return ad.Equal(ed)
		}
	}

	if ir.IsNumber(actual) || ir.IsNumber(expected) {
		a, aok := ir.AsNumber(actual)
		e, eok := ir.AsNumber(expected)
		return aok && eok && a == e
	}

	if caseInsensitive {
		as, aok := actual.(ir.String)
		es, eok := expected.(ir.String)
		if aok && eok {
			return ir.Fold(string(as)) == ir.Fold(string(es))
		}
	}

	return ir.Equal(actual, expected)
}

func compareNumbers(cmp func(actual, expected float64) bool) operatorFunc {
	return func(_ *Evaluator, actual ir.Value, c ir.RuleCondition) (bool, error) {
		return cmp(ir.ToNumber(actual), ir.ToNumber(c.Value)), nil
	}
}

func compareStrings(cmp func(s, operand string) bool) operatorFunc {
	return func(_ *Evaluator, actual ir.Value, c ir.RuleCondition) (bool, error) {
		s, operand := ir.ToString(actual), ir.ToString(c.Value)
		if c.CaseInsensitive {
			s, operand = ir.Fold(s), ir.Fold(operand)
		}
		return cmp(s, operand), nil
	}
}

func listContains(list ir.List, actual ir.Value, caseInsensitive bool) bool {
	as, actualIsString := actual.(ir.String)
	for _, elem := range list {
		if caseInsensitive && actualIsString {
			if es, ok := elem.(ir.String); ok && ir.Fold(string(es)) == ir.Fold(string(as)) {
				return true
			}
		}
		if ir.Equal(elem, actual) {
			return true
		}
	}
	return false
}

// inRange is the between check: expected must be an object holding both
// min and max; the bounds are inclusive. A missing actual coerces to 0 like
// the other numeric operators.
func inRange(actual, expected ir.Value) bool {
	bounds, ok := expected.(ir.Object)
	if !ok {
		return false
	}
	lo, hasLo := bounds["min"]
	hi, hasHi := bounds["max"]
	if !hasLo || !hasHi {
		return false
	}
	n := ir.ToNumber(actual)
	return n >= ir.ToNumber(lo) && n <= ir.ToNumber(hi)
}

func compareDays(count func(date, now time.Time) int, cmp func(days, threshold float64) bool) operatorFunc {
	return func(ev *Evaluator, actual ir.Value, c ir.RuleCondition) (bool, error) {
		date, ok := ir.ToDate(actual)
		if !ok {
			return false, nil
		}
		days := count(date, ev.clock.Now())
		return cmp(float64(days), ir.ToNumber(c.Value)), nil
	}
}

func unknownOperatorError(op ir.Operator) error {
	return fmt.Errorf("unknown operator: %q", op)
}
