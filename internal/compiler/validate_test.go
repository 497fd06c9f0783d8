package compiler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rcmflow/internal/ir"
)

// =============================================================================
// Rule Validation Tests
// =============================================================================

func validRule() *ir.WorkflowRule {
	return &ir.WorkflowRule{
		Name:     "High charge claims",
		Trigger:  &ir.RuleTrigger{Type: ir.TriggerOnCreate, EntityType: "claim"},
		IsActive: true,
		Conditions: ir.ConditionList{
			ir.RuleCondition{Field: "totalCharges", Operator: ir.OpGreaterThan, Value: ir.Number(10000)},
		},
		Actions: []ir.RuleAction{{
			Type:       ir.ActionAssignQueue,
			Parameters: ir.Object{"queueId": ir.String("senior_billing")},
		}},
	}
}

func codes(findings []ValidationError) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = f.Code
	}
	return out
}

func TestValidateRuleValid(t *testing.T) {
	result := ValidateRule(validRule())

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.NotNil(t, result.Errors, "empty slices encode as []")
}

func TestValidateRuleErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *ir.WorkflowRule)
		code   string
		field  string
	}{
		{
			name:   "missing name",
			mutate: func(r *ir.WorkflowRule) { r.Name = "" },
			code:   ErrNameRequired,
			field:  "name",
		},
		{
			name:   "whitespace name",
			mutate: func(r *ir.WorkflowRule) { r.Name = "   " },
			code:   ErrNameRequired,
			field:  "name",
		},
		{
			name:   "missing trigger",
			mutate: func(r *ir.WorkflowRule) { r.Trigger = nil },
			code:   ErrTriggerRequired,
			field:  "trigger",
		},
		{
			name:   "missing trigger type",
			mutate: func(r *ir.WorkflowRule) { r.Trigger = &ir.RuleTrigger{EntityType: "claim"} },
			code:   ErrTriggerTypeRequired,
			field:  "trigger.type",
		},
		{
			name:   "scheduled without schedule",
			mutate: func(r *ir.WorkflowRule) { r.Trigger = &ir.RuleTrigger{Type: ir.TriggerScheduled} },
			code:   ErrScheduleRequired,
			field:  "trigger.schedule",
		},
		{
			name: "condition missing field",
			mutate: func(r *ir.WorkflowRule) {
				r.Conditions = ir.ConditionList{ir.RuleCondition{Operator: ir.OpEquals, Value: ir.String("x")}}
			},
			code:  ErrConditionField,
			field: "conditions[0].field",
		},
		{
			name: "condition missing operator",
			mutate: func(r *ir.WorkflowRule) {
				r.Conditions = ir.ConditionList{ir.RuleCondition{Field: "status", Value: ir.String("x")}}
			},
			code:  ErrConditionOperator,
			field: "conditions[0].operator",
		},
		{
			name: "condition missing value",
			mutate: func(r *ir.WorkflowRule) {
				r.Conditions = ir.ConditionList{ir.RuleCondition{Field: "status", Operator: ir.OpEquals}}
			},
			code:  ErrConditionValue,
			field: "conditions[0].value",
		},
		{
			name: "nested condition missing value",
			mutate: func(r *ir.WorkflowRule) {
				r.Conditions = ir.ConditionList{
					ir.RuleCondition{Field: "status", Operator: ir.OpIsNotNull},
					ir.RuleConditionGroup{
						LogicalOperator: ir.LogicOr,
						Conditions: ir.ConditionList{
							ir.RuleCondition{Field: "payer", Operator: ir.OpContains},
						},
					},
				}
			},
			code:  ErrConditionValue,
			field: "conditions[1].conditions[0].value",
		},
		{
			name:   "no actions",
			mutate: func(r *ir.WorkflowRule) { r.Actions = nil },
			code:   ErrActionsRequired,
			field:  "actions",
		},
		{
			name: "action missing type",
			mutate: func(r *ir.WorkflowRule) {
				r.Actions = []ir.RuleAction{{Parameters: ir.Object{}}}
			},
			code:  ErrActionTypeRequired,
			field: "actions[0].type",
		},
		{
			name: "action missing parameters",
			mutate: func(r *ir.WorkflowRule) {
				r.Actions = append(r.Actions, ir.RuleAction{Type: ir.ActionStopProcessing})
			},
			code:  ErrActionParamsRequired,
			field: "actions[1].parameters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(rule)

			result := ValidateRule(rule)

			assert.False(t, result.IsValid)
			require.Len(t, result.Errors, 1, "errors: %v", result.Errors)
			assert.Equal(t, tt.code, result.Errors[0].Code)
			assert.Equal(t, tt.field, result.Errors[0].Field)
		})
	}
}

func TestValidateRuleValueFreeOperators(t *testing.T) {
	rule := validRule()
	rule.Conditions = ir.ConditionList{
		ir.RuleCondition{Field: "denialCode", Operator: ir.OpIsNull},
		ir.RuleCondition{Field: "payer", Operator: ir.OpIsNotNull},
	}

	result := ValidateRule(rule)
	assert.True(t, result.IsValid, "errors: %v", result.Errors)
}

func TestValidateRuleExplicitNullValueIsPresent(t *testing.T) {
	rule := validRule()
	rule.Conditions = ir.ConditionList{
		ir.RuleCondition{Field: "payer", Operator: ir.OpEquals, Value: ir.Null{}},
	}

	assert.True(t, ValidateRule(rule).IsValid)
}

func TestValidateRuleCollectsAllErrors(t *testing.T) {
	rule := &ir.WorkflowRule{
		Conditions: ir.ConditionList{ir.RuleCondition{}},
	}

	result := ValidateRule(rule)

	assert.False(t, result.IsValid)
	assert.Equal(t, []string{
		ErrNameRequired,
		ErrTriggerRequired,
		ErrConditionField,
		ErrConditionOperator,
		ErrActionsRequired,
	}, codes(result.Errors))
}

func TestValidateRuleWarnings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *ir.WorkflowRule)
		code   string
	}{
		{
			name:   "no conditions",
			mutate: func(r *ir.WorkflowRule) { r.Conditions = nil },
			code:   WarnNoConditions,
		},
		{
			name: "unknown operator",
			mutate: func(r *ir.WorkflowRule) {
				r.Conditions = ir.ConditionList{ir.RuleCondition{Field: "x", Operator: "sounds_like", Value: ir.String("y")}}
			},
			code: WarnUnknownOperator,
		},
		{
			name:   "unknown top-level logical operator",
			mutate: func(r *ir.WorkflowRule) { r.ConditionsOperator = "XOR" },
			code:   WarnUnknownLogicalOperator,
		},
		{
			name: "unknown group logical operator",
			mutate: func(r *ir.WorkflowRule) {
				r.Conditions = ir.ConditionList{ir.RuleConditionGroup{
					LogicalOperator: "NAND",
					Conditions:      ir.ConditionList{ir.RuleCondition{Field: "x", Operator: ir.OpIsNull}},
				}}
			},
			code: WarnUnknownLogicalOperator,
		},
		{
			name: "empty effective window",
			mutate: func(r *ir.WorkflowRule) {
				from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
				to := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
				r.EffectiveFrom, r.EffectiveTo = &from, &to
			},
			code: WarnEmptyWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(rule)

			result := ValidateRule(rule)

			assert.True(t, result.IsValid, "warnings never invalidate")
			assert.Equal(t, []string{tt.code}, codes(result.Warnings))
		})
	}
}

func TestValidateRuleNil(t *testing.T) {
	result := ValidateRule(nil)

	assert.False(t, result.IsValid)
	assert.Equal(t, []string{ErrMalformedRule}, codes(result.Errors))
}

// =============================================================================
// Action Parameter Validation Tests
// =============================================================================

func TestValidateActionParameters(t *testing.T) {
	tests := []struct {
		actionType ir.ActionType
		params     ir.Object
		missing    []string
	}{
		{ir.ActionAssignQueue, ir.Object{"queueId": ir.String("q")}, nil},
		{ir.ActionAssignQueue, ir.Object{}, []string{"parameters.queueId"}},
		{ir.ActionSendNotification, ir.Object{"recipientType": ir.String("user")}, []string{"parameters.message"}},
		{ir.ActionSendNotification, nil, []string{"parameters.recipientType", "parameters.message"}},
		{ir.ActionUpdateField, ir.Object{"fieldPath": ir.String("")}, []string{"parameters.fieldPath"}},
		{ir.ActionCreateTask, ir.Object{"taskType": ir.String("appeal"), "title": ir.String("Appeal")}, nil},
		{ir.ActionCreateTask, ir.Object{"title": ir.Null{}}, []string{"parameters.taskType", "parameters.title"}},
		{ir.ActionEscalate, ir.Object{"escalationType": ir.String("manager")}, []string{"parameters.reason"}},
		{ir.ActionTriggerWebhook, ir.Object{"url": ir.String("https://example.test/hook")}, nil},
		{ir.ActionSendEmail, ir.Object{"to": ir.List{ir.String("a@example.test")}}, []string{"parameters.subject"}},
		{ir.ActionSetPriority, ir.Object{"priority": ir.Number(1)}, nil},
		{ir.ActionStopProcessing, nil, nil},
		{"custom_action", nil, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.actionType), func(t *testing.T) {
			result := ValidateActionParameters(ir.RuleAction{Type: tt.actionType, Parameters: tt.params})

			var fields []string
			for _, e := range result.Errors {
				assert.Equal(t, ErrMissingParameter, e.Code)
				fields = append(fields, e.Field)
			}
			assert.Equal(t, tt.missing, fields)
			assert.Equal(t, len(tt.missing) == 0, result.IsValid)
		})
	}
}

func TestRequiredParametersReturnsCopy(t *testing.T) {
	keys := RequiredParameters(ir.ActionSendEmail)
	require.Equal(t, []string{"to", "subject"}, keys)

	keys[0] = "mutated"
	assert.Equal(t, []string{"to", "subject"}, RequiredParameters(ir.ActionSendEmail))
	assert.Empty(t, RequiredParameters(ir.ActionStopProcessing))
}

func TestValidateForActivation(t *testing.T) {
	rule := validRule()
	rule.Actions = append(rule.Actions, ir.RuleAction{
		Type:       ir.ActionSendEmail,
		Parameters: ir.Object{"to": ir.String("billing@example.test")},
	})

	assert.True(t, ValidateRule(rule).IsValid)

	result := ValidateForActivation(rule)
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "actions[1].parameters.subject", result.Errors[0].Field)
	assert.Equal(t, ErrMissingParameter, result.Errors[0].Code)
}

func TestValidateRuleActions(t *testing.T) {
	assert.True(t, ValidateRuleActions(nil).IsValid)

	rule := validRule()
	rule.Name = ""
	rule.Actions = []ir.RuleAction{
		{Type: ir.ActionAssignQueue, Parameters: ir.Object{"queueId": ir.String("  ")}},
		{Type: ir.ActionStopProcessing},
	}

	result := ValidateRuleActions(rule)
	require.Len(t, result.Errors, 1, "rule-level problems are not reported here")
	assert.Equal(t, "actions[0].parameters.queueId", result.Errors[0].Field)
	assert.NotNil(t, result.Warnings)
}

func TestValidationErrorFormat(t *testing.T) {
	err := ValidationError{Field: "name", Message: "name is required", Code: ErrNameRequired}
	assert.Equal(t, "[E201] name: name is required", err.Error())

	err.Line = 4
	assert.Equal(t, "[E201] line 4: name: name is required", err.Error())
}

func TestValidationErrorJSONShape(t *testing.T) {
	data, err := json.Marshal(ValidationError{
		Field:   "conditions[0].operator",
		Message: "operator is required",
		Code:    ErrConditionOperator,
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, map[string]any{
		"path":    "conditions[0].operator",
		"message": "operator is required",
		"code":    ErrConditionOperator,
	}, got)
}
