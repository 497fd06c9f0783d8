package engine

import (
	"fmt"
	"log/slog"

	"github.com/roach88/rcmflow/internal/ir"
)

// Evaluator evaluates leaf conditions and condition groups against an
// execution context. It never panics and never returns an error: every
// failure is captured in the returned ConditionEvaluationResult.
//
// Thread-safety: an Evaluator is safe for concurrent use.
type Evaluator struct {
	clock   Clock
	regexes *regexCache
	logger  *slog.Logger
}

// NewEvaluator creates an Evaluator that reads "now" from clock.
// A nil clock means SystemClock.
func NewEvaluator(clock Clock) *Evaluator {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Evaluator{
		clock:   clock,
		regexes: newRegexCache(DefaultRegexCacheSize),
		logger:  slog.New(slog.DiscardHandler),
	}
}

// Evaluate evaluates one leaf condition.
//
// The actual value is read from the entity at c.Field (undefined when the
// path does not resolve). Negate flips the outcome of a successfully
// evaluated condition; a condition that errored stays failed.
func (ev *Evaluator) Evaluate(c ir.RuleCondition, ec *ir.ExecutionContext) (result ir.ConditionEvaluationResult) {
	result = ir.ConditionEvaluationResult{
		Condition:     c,
		ExpectedValue: c.Value,
	}

	defer func() {
		if r := recover(); r != nil {
			result.Passed = false
			result.Error = fmt.Sprintf("condition evaluation panicked: %v", r)
		}
	}()

	actual := resolveField(ec, c.Field)
	result.ActualValue = actual

	op, ok := operators[c.Operator]
	if !ok {
		result.Error = unknownOperatorError(c.Operator).Error()
		return result
	}

	passed, err := op(ev, actual, c)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	if c.Negate {
		passed = !passed
	}
	result.Passed = passed
	return result
}

// EvaluateGroup evaluates every member of a group, then combines them.
// Members are never short-circuited: the nested result list always holds
// one entry per member, in declaration order.
func (ev *Evaluator) EvaluateGroup(g ir.RuleConditionGroup, ec *ir.ExecutionContext) ir.ConditionEvaluationResult {
	passed, results, err := ev.evaluateList(g.Conditions, g.LogicalOperator, ec)

	result := ir.ConditionEvaluationResult{
		Condition: g,
		Passed:    passed,
		Results:   results,
	}
	if err != nil {
		result.Passed = false
		result.Error = err.Error()
	}
	return result
}

// EvaluateCondition dispatches on the condition variant.
func (ev *Evaluator) EvaluateCondition(c ir.Condition, ec *ir.ExecutionContext) ir.ConditionEvaluationResult {
	switch cond := c.(type) {
	case ir.RuleCondition:
		return ev.Evaluate(cond, ec)
	case *ir.RuleCondition:
		return ev.Evaluate(*cond, ec)
	case ir.RuleConditionGroup:
		return ev.EvaluateGroup(cond, ec)
	case *ir.RuleConditionGroup:
		return ev.EvaluateGroup(*cond, ec)
	default:
		return ir.ConditionEvaluationResult{
			Condition: c,
			Error:     fmt.Sprintf("unsupported condition type %T", c),
		}
	}
}

// EvaluateAll evaluates a rule's top-level condition list combined with op.
// An empty list passes.
func (ev *Evaluator) EvaluateAll(conds ir.ConditionList, op ir.LogicalOperator, ec *ir.ExecutionContext) (bool, []ir.ConditionEvaluationResult) {
	if len(conds) == 0 {
		return true, []ir.ConditionEvaluationResult{}
	}
	passed, results, err := ev.evaluateList(conds, op, ec)
	if err != nil {
		ev.logger.Warn("conditions not combined", "error", err)
		return false, results
	}
	return passed, results
}

// evaluateList evaluates every member and combines the outcomes with AND
// (every) or OR (some). An empty operator means AND.
func (ev *Evaluator) evaluateList(conds ir.ConditionList, op ir.LogicalOperator, ec *ir.ExecutionContext) (bool, []ir.ConditionEvaluationResult, error) {
	results := make([]ir.ConditionEvaluationResult, 0, len(conds))
	for _, c := range conds {
		results = append(results, ev.EvaluateCondition(c, ec))
	}

	switch op {
	case ir.LogicAnd, "":
		for _, r := range results {
			if !r.Passed {
				return false, results, nil
			}
		}
		return true, results, nil
	case ir.LogicOr:
		for _, r := range results {
			if r.Passed {
				return true, results, nil
			}
		}
		return false, results, nil
	default:
		return false, results, fmt.Errorf("unknown logical operator: %q", op)
	}
}

// resolveField reads a dot-path from the context's entity.
func resolveField(ec *ir.ExecutionContext, field string) ir.Value {
	if ec == nil {
		return nil
	}
	v, ok := ec.Entity.Get(field)
	if !ok {
		return nil
	}
	return v
}
