package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/rcmflow/internal/ir"
	"github.com/roach88/rcmflow/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			switch event.Type {
			case EventRule:
				fmt.Fprintf(&buf, "  [%d] rule %s triggered=%t conditionsPassed=%t\n",
					event.Seq, event.Rule, event.Triggered, event.ConditionsPassed)
			case EventAction:
				status := "ok"
				if !event.Success {
					status = "failed: " + event.Error
				}
				fmt.Fprintf(&buf, "  [%d]   %s %s\n", event.Seq, event.Action, status)
			}
		}
	}

	return buf.String()
}

// assertRulesEvaluated checks that exactly the listed rules produced a
// result, in that order.
func assertRulesEvaluated(result *Result, assertion Assertion) error {
	var actual []string
	for _, event := range result.Trace {
		if event.Type == EventRule {
			actual = append(actual, event.Rule)
		}
	}

	if !slices.Equal(actual, assertion.Rules) {
		return &AssertionError{
			Type:     AssertRulesEvaluated,
			Expected: fmt.Sprintf("rules %v", assertion.Rules),
			Actual:   fmt.Sprintf("rules %v", actual),
			Trace:    result.Trace,
		}
	}
	return nil
}

// findRule returns the result for the named rule.
func findRule(result *Result, name string) (ir.RuleExecutionResult, bool) {
	for _, res := range result.Results {
		if res.Rule != nil && res.Rule.Name == name {
			return res, true
		}
	}
	return ir.RuleExecutionResult{}, false
}

// assertRuleOutcome checks the flags of one rule's result.
func assertRuleOutcome(result *Result, assertion Assertion) error {
	res, ok := findRule(result, assertion.Rule)
	if !ok {
		return &AssertionError{
			Type:     AssertRuleOutcome,
			Expected: fmt.Sprintf("rule %s to be evaluated", assertion.Rule),
			Actual:   "rule not evaluated",
			Trace:    result.Trace,
		}
	}

	actual := map[string]bool{
		"triggered":         res.Triggered,
		"conditionsPassed":  res.ConditionsPassed,
		"actionsExecuted":   res.ActionsExecuted,
		"stoppedProcessing": res.StoppedProcessing(),
	}

	for _, key := range sortedKeys(assertion.Expect) {
		want, isBool := assertion.Expect[key].(bool)
		if !isBool {
			return fmt.Errorf("rule_outcome %s: expect.%s must be a bool", assertion.Rule, key)
		}
		if actual[key] != want {
			return &AssertionError{
				Type:     AssertRuleOutcome,
				Expected: fmt.Sprintf("rule %s %s=%t", assertion.Rule, key, want),
				Actual:   fmt.Sprintf("%s=%t", key, actual[key]),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

// assertActionResult checks the first result of an action type within a
// rule. "error" is a substring match; "result" is a subset match.
func assertActionResult(result *Result, assertion Assertion) error {
	res, ok := findRule(result, assertion.Rule)
	if !ok {
		return &AssertionError{
			Type:     AssertActionResult,
			Expected: fmt.Sprintf("rule %s to be evaluated", assertion.Rule),
			Actual:   "rule not evaluated",
			Trace:    result.Trace,
		}
	}

	idx := slices.IndexFunc(res.ActionResults, func(ar ir.ActionExecutionResult) bool {
		return string(ar.Action.Type) == assertion.Action
	})
	if idx < 0 {
		return &AssertionError{
			Type:     AssertActionResult,
			Expected: fmt.Sprintf("action %s in rule %s", assertion.Action, assertion.Rule),
			Actual:   "action not dispatched",
			Trace:    result.Trace,
		}
	}
	ar := res.ActionResults[idx]

	if want, present := assertion.Expect["success"]; present {
		b, isBool := want.(bool)
		if !isBool {
			return fmt.Errorf("action_result %s: expect.success must be a bool", assertion.Action)
		}
		if ar.Success != b {
			return &AssertionError{
				Type:     AssertActionResult,
				Expected: fmt.Sprintf("action %s success=%t", assertion.Action, b),
				Actual:   fmt.Sprintf("success=%t error=%q", ar.Success, ar.Error),
				Trace:    result.Trace,
			}
		}
	}

	if want, present := assertion.Expect["error"]; present {
		s, isString := want.(string)
		if !isString {
			return fmt.Errorf("action_result %s: expect.error must be a string", assertion.Action)
		}
		if !strings.Contains(ar.Error, s) {
			return &AssertionError{
				Type:     AssertActionResult,
				Expected: fmt.Sprintf("action %s error containing %q", assertion.Action, s),
				Actual:   fmt.Sprintf("error %q", ar.Error),
				Trace:    result.Trace,
			}
		}
	}

	if want, present := assertion.Expect["result"]; present {
		fields, isMap := want.(map[string]any)
		if !isMap {
			return fmt.Errorf("action_result %s: expect.result must be a map", assertion.Action)
		}
		if err := matchFields(ar.Result, fields); err != nil {
			return &AssertionError{
				Type:     AssertActionResult,
				Expected: fmt.Sprintf("action %s result matching %v", assertion.Action, fields),
				Actual:   err.Error(),
				Trace:    result.Trace,
			}
		}
	}

	return nil
}

// assertActionCount checks how many times an action type was dispatched
// across all rules, successful or not.
func assertActionCount(result *Result, assertion Assertion) error {
	count := 0
	for _, event := range result.Trace {
		if event.Type == EventAction && string(event.Action) == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertActionCount,
			Expected: fmt.Sprintf("%d dispatches of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d dispatches", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertEntity checks fields of the final entity by dot-path.
func assertEntity(result *Result, assertion Assertion) error {
	if err := matchFields(result.Entity, assertion.Expect); err != nil {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("entity matching %v", assertion.Expect),
			Actual:   err.Error(),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertHistoryCount checks how many execution records the store holds for
// a rule.
func assertHistoryCount(ctx context.Context, st *store.Store, assertion Assertion) error {
	records, err := st.ListExecutions(ctx, store.ExecutionFilter{RuleName: assertion.Rule})
	if err != nil {
		return &AssertionError{
			Type:     AssertHistoryCount,
			Expected: fmt.Sprintf("history for rule %s", assertion.Rule),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	if len(records) != assertion.Count {
		return &AssertionError{
			Type:     AssertHistoryCount,
			Expected: fmt.Sprintf("%d executions of %s", assertion.Count, assertion.Rule),
			Actual:   fmt.Sprintf("%d executions", len(records)),
		}
	}
	return nil
}

// matchFields checks that every dot-path in expected resolves in actual to
// an equal value (subset semantics). A null expectation matches a missing
// or null field.
func matchFields(actual ir.Value, expected map[string]any) error {
	for _, path := range sortedKeys(expected) {
		want, err := ir.FromAny(expected[path])
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		got, found := ir.GetPath(actual, path)
		if _, isNull := want.(ir.Null); isNull {
			if found && !ir.IsNullish(got) {
				return fmt.Errorf("%s = %s, want null", path, ir.Describe(got))
			}
			continue
		}
		if !found {
			return fmt.Errorf("%s is missing, want %s", path, ir.Describe(want))
		}
		if !ir.Equal(got, want) {
			return fmt.Errorf("%s = %s, want %s", path, ir.Describe(got), ir.Describe(want))
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for history assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRulesEvaluated:
			err = assertRulesEvaluated(result, assertion)
		case AssertRuleOutcome:
			err = assertRuleOutcome(result, assertion)
		case AssertActionResult:
			err = assertActionResult(result, assertion)
		case AssertActionCount:
			err = assertActionCount(result, assertion)
		case AssertEntity:
			err = assertEntity(result, assertion)
		case AssertHistoryCount:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: history_count requires database context", i)
			} else {
				err = assertHistoryCount(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
