package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/rcmflow/internal/engine"
	"github.com/roach88/rcmflow/internal/ir"
)

// Rule validation error codes (E200-E299)
const (
	// Document errors (E200)
	ErrMalformedRule = "E200" // document does not decode into a rule

	// Rule structure errors (E201-E212)
	ErrNameRequired         = "E201" // name is required
	ErrTriggerRequired      = "E202" // trigger is required
	ErrTriggerTypeRequired  = "E203" // trigger.type is required
	ErrScheduleRequired     = "E204" // scheduled trigger needs a schedule
	ErrConditionField       = "E205" // leaf condition missing field
	ErrConditionOperator    = "E206" // leaf condition missing operator
	ErrConditionValue       = "E207" // operator needs a value
	ErrPriorityNotNumber    = "E208" // priority must be a number
	ErrActionsRequired      = "E209" // at least one action required
	ErrActionTypeRequired   = "E210" // action missing type
	ErrActionParamsRequired = "E211" // action missing parameters
)

// Rule validation warning codes (W200-W299)
const (
	WarnNoConditions           = "W201" // rule always matches once triggered
	WarnIsActiveNotBool        = "W202" // isActive missing or not a bool, defaults to false
	WarnUnknownOperator        = "W203" // operator fails at evaluation time
	WarnUnknownLogicalOperator = "W204" // group operator fails at evaluation time
	WarnEmptyWindow            = "W205" // effectiveFrom after effectiveTo, never applicable
)

// Action parameter error codes (E300-E399)
const (
	ErrMissingParameter = "E301" // required parameter absent or empty
)

// ValidationError represents one validation finding. Field is the path of
// the offending element, e.g. "conditions[0].operator", and serializes as
// "path".
type ValidationError struct {
	Field   string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationResult is the outcome of validating one rule.
// IsValid is true exactly when Errors is empty; warnings never invalidate.
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
}

// newResult builds a result from collected findings.
func newResult(errs, warnings []ValidationError) ValidationResult {
	if errs == nil {
		errs = []ValidationError{}
	}
	if warnings == nil {
		warnings = []ValidationError{}
	}
	return ValidationResult{
		IsValid:  len(errs) == 0,
		Errors:   errs,
		Warnings: warnings,
	}
}

// Merge appends other's findings to r.
func (r ValidationResult) Merge(other ValidationResult) ValidationResult {
	return newResult(
		append(slices.Clone(r.Errors), other.Errors...),
		append(slices.Clone(r.Warnings), other.Warnings...),
	)
}

// ValidateRule checks the structure of a rule before it may be activated.
// Returns all findings (does not fail-fast).
//
// Shape problems the typed model cannot hold (a non-numeric priority, a
// non-boolean isActive) are reported by the Decode functions instead.
func ValidateRule(rule *ir.WorkflowRule) ValidationResult {
	if rule == nil {
		return newResult([]ValidationError{{
			Field:   "rule",
			Message: "rule is required",
			Code:    ErrMalformedRule,
		}}, nil)
	}

	var errs, warnings []ValidationError

	// E201: name is required
	if strings.TrimSpace(rule.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "name is required and must be non-empty",
			Code:    ErrNameRequired,
		})
	}

	errs = append(errs, validateTrigger(rule.Trigger)...)

	// W201: no conditions
	if len(rule.Conditions) == 0 {
		warnings = append(warnings, ValidationError{
			Field:   "conditions",
			Message: "rule has no conditions and will match every triggering event",
			Code:    WarnNoConditions,
		})
	}
	if !validLogicalOperator(rule.ConditionsOperator) {
		warnings = append(warnings, ValidationError{
			Field:   "conditionsOperator",
			Message: fmt.Sprintf("unknown logical operator %q, conditions will not match", rule.ConditionsOperator),
			Code:    WarnUnknownLogicalOperator,
		})
	}
	condErrs, condWarnings := validateConditions(rule.Conditions, "conditions")
	errs = append(errs, condErrs...)
	warnings = append(warnings, condWarnings...)

	// E209: at least one action
	if len(rule.Actions) == 0 {
		errs = append(errs, ValidationError{
			Field:   "actions",
			Message: "at least one action is required",
			Code:    ErrActionsRequired,
		})
	}
	for i, action := range rule.Actions {
		// E210: action type
		if strings.TrimSpace(string(action.Type)) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("actions[%d].type", i),
				Message: "action type is required",
				Code:    ErrActionTypeRequired,
			})
		}
		// E211: parameters
		if action.Parameters == nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("actions[%d].parameters", i),
				Message: "action parameters are required",
				Code:    ErrActionParamsRequired,
			})
		}
	}

	// W205: empty effective window
	if rule.EffectiveFrom != nil && rule.EffectiveTo != nil && rule.EffectiveFrom.After(*rule.EffectiveTo) {
		warnings = append(warnings, ValidationError{
			Field:   "effectiveTo",
			Message: "effectiveTo is before effectiveFrom, the rule can never apply",
			Code:    WarnEmptyWindow,
		})
	}

	return newResult(errs, warnings)
}

func validateTrigger(trigger *ir.RuleTrigger) []ValidationError {
	// E202: trigger is required
	if trigger == nil {
		return []ValidationError{{
			Field:   "trigger",
			Message: "trigger is required",
			Code:    ErrTriggerRequired,
		}}
	}

	// E203: trigger type is required
	if strings.TrimSpace(string(trigger.Type)) == "" {
		return []ValidationError{{
			Field:   "trigger.type",
			Message: "trigger type is required",
			Code:    ErrTriggerTypeRequired,
		}}
	}

	// E204: scheduled triggers need a schedule
	if trigger.Type == ir.TriggerScheduled && strings.TrimSpace(trigger.Schedule) == "" {
		return []ValidationError{{
			Field:   "trigger.schedule",
			Message: "scheduled trigger requires a schedule",
			Code:    ErrScheduleRequired,
		}}
	}

	return nil
}

// validateConditions walks leaves and groups recursively.
func validateConditions(conds ir.ConditionList, prefix string) (errs, warnings []ValidationError) {
	for i, c := range conds {
		path := fmt.Sprintf("%s[%d]", prefix, i)

		switch cond := c.(type) {
		case ir.RuleCondition:
			e, w := validateLeaf(cond, path)
			errs = append(errs, e...)
			warnings = append(warnings, w...)
		case *ir.RuleCondition:
			e, w := validateLeaf(*cond, path)
			errs = append(errs, e...)
			warnings = append(warnings, w...)
		case ir.RuleConditionGroup:
			e, w := validateGroup(cond, path)
			errs = append(errs, e...)
			warnings = append(warnings, w...)
		case *ir.RuleConditionGroup:
			e, w := validateGroup(*cond, path)
			errs = append(errs, e...)
			warnings = append(warnings, w...)
		default:
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("unsupported condition type %T", c),
				Code:    ErrMalformedRule,
			})
		}
	}
	return errs, warnings
}

func validateLeaf(c ir.RuleCondition, path string) (errs, warnings []ValidationError) {
	// E205: field
	if strings.TrimSpace(c.Field) == "" {
		errs = append(errs, ValidationError{
			Field:   path + ".field",
			Message: "condition field is required",
			Code:    ErrConditionField,
		})
	}

	// E206: operator
	if strings.TrimSpace(string(c.Operator)) == "" {
		errs = append(errs, ValidationError{
			Field:   path + ".operator",
			Message: "condition operator is required",
			Code:    ErrConditionOperator,
		})
		return errs, warnings
	}

	// E207: value, unless the operator ignores it
	if !c.Operator.ValueFree() && c.Value == nil {
		errs = append(errs, ValidationError{
			Field:   path + ".value",
			Message: fmt.Sprintf("operator %q requires a value", c.Operator),
			Code:    ErrConditionValue,
		})
	}

	// W203: operator the evaluator does not know
	if !engine.SupportedOperator(c.Operator) {
		warnings = append(warnings, ValidationError{
			Field:   path + ".operator",
			Message: fmt.Sprintf("unknown operator %q, condition will always fail", c.Operator),
			Code:    WarnUnknownOperator,
		})
	}

	return errs, warnings
}

func validateGroup(g ir.RuleConditionGroup, path string) (errs, warnings []ValidationError) {
	if !validLogicalOperator(g.LogicalOperator) {
		warnings = append(warnings, ValidationError{
			Field:   path + ".logicalOperator",
			Message: fmt.Sprintf("unknown logical operator %q, group will always fail", g.LogicalOperator),
			Code:    WarnUnknownLogicalOperator,
		})
	}
	return validateConditions(g.Conditions, path+".conditions")
}

// validLogicalOperator accepts AND, OR and the empty default.
func validLogicalOperator(op ir.LogicalOperator) bool {
	return op == "" || op == ir.LogicAnd || op == ir.LogicOr
}

// requiredParameters lists the parameter keys each action type needs.
// Types absent from the map have no required parameters.
var requiredParameters = map[ir.ActionType][]string{
	ir.ActionAssignQueue:      {"queueId"},
	ir.ActionAssignUser:       {"userId"},
	ir.ActionSendNotification: {"recipientType", "message"},
	ir.ActionUpdateField:      {"fieldPath"},
	ir.ActionCreateTask:       {"taskType", "title"},
	ir.ActionEscalate:         {"escalationType", "reason"},
	ir.ActionTriggerWebhook:   {"url"},
	ir.ActionSendEmail:        {"to", "subject"},
	ir.ActionAddNote:          {"content"},
	ir.ActionSetPriority:      {"priority"},
}

// RequiredParameters returns the required parameter keys for an action type.
func RequiredParameters(actionType ir.ActionType) []string {
	return slices.Clone(requiredParameters[actionType])
}

// ValidateActionParameters checks that an action carries the parameters its
// type requires. A parameter that is absent, null or an empty string is
// missing.
func ValidateActionParameters(action ir.RuleAction) ValidationResult {
	var errs []ValidationError
	for _, key := range requiredParameters[action.Type] {
		if hasParameter(action, key) {
			continue
		}
		errs = append(errs, ValidationError{
			Field:   "parameters." + key,
			Message: fmt.Sprintf("%s requires parameter %q", action.Type, key),
			Code:    ErrMissingParameter,
		})
	}
	return newResult(errs, nil)
}

func hasParameter(action ir.RuleAction, key string) bool {
	v, ok := action.Param(key)
	if !ok || ir.IsNullish(v) {
		return false
	}
	if s, isString := v.(ir.String); isString && strings.TrimSpace(string(s)) == "" {
		return false
	}
	return true
}

// ValidateForActivation runs ValidateRule and ValidateRuleActions.
func ValidateForActivation(rule *ir.WorkflowRule) ValidationResult {
	result := ValidateRule(rule)
	if rule == nil {
		return result
	}
	return result.Merge(ValidateRuleActions(rule))
}

// ValidateRuleActions runs ValidateActionParameters for every action,
// prefixing findings with the action's path.
func ValidateRuleActions(rule *ir.WorkflowRule) ValidationResult {
	result := newResult(nil, nil)
	if rule == nil {
		return result
	}
	for i, action := range rule.Actions {
		params := ValidateActionParameters(action)
		for j := range params.Errors {
			params.Errors[j].Field = fmt.Sprintf("actions[%d].%s", i, params.Errors[j].Field)
		}
		result = result.Merge(params)
	}
	return result
}
