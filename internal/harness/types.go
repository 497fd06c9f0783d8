package harness

import (
	"github.com/roach88/rcmflow/internal/ir"
)

// Trace event types.
const (
	EventRule   = "rule"
	EventAction = "action"
)

// TraceEvent is one step of a rule pass: a rule evaluation or an action
// dispatch. Events are numbered from 1 in execution order.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Type string `json:"type"`
	Rule string `json:"rule"`

	// Rule events.
	Triggered        bool             `json:"triggered,omitempty"`
	ConditionsPassed bool             `json:"conditions_passed,omitempty"`
	Conditions       []ConditionTrace `json:"conditions,omitempty"`

	// Action events.
	Action  ir.ActionType `json:"action,omitempty"`
	Success bool          `json:"success,omitempty"`
	Error   string        `json:"error,omitempty"`
	Result  ir.Value      `json:"result,omitempty"`
}

// ConditionTrace is the outcome of one leaf condition. Leaves inside
// groups are flattened in declaration order.
type ConditionTrace struct {
	Field    string      `json:"field"`
	Operator ir.Operator `json:"operator"`
	Passed   bool        `json:"passed"`
	Actual   ir.Value    `json:"actual,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds rule and action events in execution order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`

	// Results are the raw engine results, one per evaluated rule.
	Results []ir.RuleExecutionResult `json:"-"`

	// Entity is the entity after every action ran.
	Entity ir.Object `json:"entity"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Entity: ir.Object{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddRuleTrace records a rule evaluation and its action dispatches.
func (r *Result) AddRuleTrace(res ir.RuleExecutionResult) {
	name := ""
	if res.Rule != nil {
		name = res.Rule.Name
	}

	r.Trace = append(r.Trace, TraceEvent{
		Seq:              int64(len(r.Trace) + 1),
		Type:             EventRule,
		Rule:             name,
		Triggered:        res.Triggered,
		ConditionsPassed: res.ConditionsPassed,
		Conditions:       flattenConditions(res.ConditionResults, nil),
	})

	for _, ar := range res.ActionResults {
		r.Trace = append(r.Trace, TraceEvent{
			Seq:     int64(len(r.Trace) + 1),
			Type:    EventAction,
			Rule:    name,
			Action:  ar.Action.Type,
			Success: ar.Success,
			Error:   ar.Error,
			Result:  ar.Result,
		})
	}
}

func flattenConditions(results []ir.ConditionEvaluationResult, out []ConditionTrace) []ConditionTrace {
	for _, cr := range results {
		switch c := cr.Condition.(type) {
		case ir.RuleCondition:
			out = append(out, conditionTrace(c, cr))
		case *ir.RuleCondition:
			out = append(out, conditionTrace(*c, cr))
		default:
			out = flattenConditions(cr.Results, out)
		}
	}
	return out
}

func conditionTrace(c ir.RuleCondition, cr ir.ConditionEvaluationResult) ConditionTrace {
	return ConditionTrace{
		Field:    c.Field,
		Operator: c.Operator,
		Passed:   cr.Passed,
		Actual:   cr.ActualValue,
		Error:    cr.Error,
	}
}

// toValue renders the event for canonical serialization. Unset optional
// fields are omitted so golden files stay small.
func (e TraceEvent) toValue() ir.Object {
	obj := ir.Object{
		"seq":  ir.Number(e.Seq),
		"type": ir.String(e.Type),
		"rule": ir.String(e.Rule),
	}

	switch e.Type {
	case EventRule:
		obj["triggered"] = ir.Bool(e.Triggered)
		obj["conditions_passed"] = ir.Bool(e.ConditionsPassed)
		if len(e.Conditions) > 0 {
			conds := make(ir.List, len(e.Conditions))
			for i, c := range e.Conditions {
				cond := ir.Object{
					"field":    ir.String(c.Field),
					"operator": ir.String(c.Operator),
					"passed":   ir.Bool(c.Passed),
				}
				if c.Actual != nil {
					cond["actual"] = c.Actual
				}
				if c.Error != "" {
					cond["error"] = ir.String(c.Error)
				}
				conds[i] = cond
			}
			obj["conditions"] = conds
		}
	case EventAction:
		obj["action"] = ir.String(e.Action)
		obj["success"] = ir.Bool(e.Success)
		if e.Error != "" {
			obj["error"] = ir.String(e.Error)
		}
		if e.Result != nil {
			obj["result"] = e.Result
		}
	}

	return obj
}
