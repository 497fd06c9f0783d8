package ir

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nestedRuleJSON = `{
  "name": "Texas or Florida denials",
  "trigger": {"type": "on_status_change", "entityType": "claim", "toStatus": ["denied"]},
  "conditions": [
    {"field": "totalCharges", "operator": "between", "value": {"min": 100, "max": 5000}},
    {
      "logicalOperator": "OR",
      "conditions": [
        {"field": "patient.state", "operator": "equals", "value": "TX"},
        {"field": "patient.state", "operator": "equals", "value": "FL", "caseInsensitive": true},
        {"logicalOperator": "AND", "conditions": [
          {"field": "denialCode", "operator": "is_not_null"}
        ]}
      ]
    }
  ],
  "actions": [{"type": "add_note", "parameters": {"content": "review"}, "order": 1, "continueOnError": true}],
  "priority": 5,
  "isActive": true,
  "effectiveFrom": "2024-01-01",
  "effectiveTo": "2024-12-31T23:59:59Z",
  "tags": ["denials"]
}`

func TestWorkflowRuleUnmarshalNestedConditions(t *testing.T) {
	var rule WorkflowRule
	require.NoError(t, json.Unmarshal([]byte(nestedRuleJSON), &rule))

	assert.Equal(t, "Texas or Florida denials", rule.Name)
	require.NotNil(t, rule.Trigger)
	assert.Equal(t, TriggerOnStatusChange, rule.Trigger.Type)
	assert.Equal(t, []string{"denied"}, rule.Trigger.ToStatus)
	require.Len(t, rule.Conditions, 2)

	leaf, ok := rule.Conditions[0].(RuleCondition)
	require.True(t, ok)
	assert.Equal(t, OpBetween, leaf.Operator)
	assert.Equal(t, Object{"min": Number(100), "max": Number(5000)}, leaf.Value)

	group, ok := rule.Conditions[1].(RuleConditionGroup)
	require.True(t, ok)
	assert.Equal(t, LogicOr, group.LogicalOperator)
	require.Len(t, group.Conditions, 3)
	assert.True(t, group.Conditions[1].(RuleCondition).CaseInsensitive)

	inner, ok := group.Conditions[2].(RuleConditionGroup)
	require.True(t, ok)
	assert.Nil(t, inner.Conditions[0].(RuleCondition).Value, "missing value stays undefined")

	require.NotNil(t, rule.EffectiveFrom)
	assert.True(t, rule.EffectiveFrom.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, rule.EffectiveTo)
	assert.True(t, rule.Actions[0].ContinueOnError)
}

func TestWorkflowRuleJSONRoundTrip(t *testing.T) {
	var rule WorkflowRule
	require.NoError(t, json.Unmarshal([]byte(nestedRuleJSON), &rule))

	data, err := json.Marshal(rule)
	require.NoError(t, err)

	var again WorkflowRule
	require.NoError(t, json.Unmarshal(data, &again))
	assert.Equal(t, rule, again)
}

func TestRuleConditionExplicitNullValue(t *testing.T) {
	var c RuleCondition
	require.NoError(t, json.Unmarshal([]byte(`{"field":"x","operator":"equals","value":null}`), &c))
	assert.Equal(t, Null{}, c.Value)
}

func TestWorkflowRuleBadDate(t *testing.T) {
	var rule WorkflowRule
	err := json.Unmarshal([]byte(`{"name":"x","effectiveFrom":"someday"}`), &rule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "effectiveFrom")
}

func TestConditionListRejectsNonObject(t *testing.T) {
	var l ConditionList
	err := json.Unmarshal([]byte(`[42]`), &l)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conditions[0]")
}

func TestExecutionContextUnmarshal(t *testing.T) {
	var ec ExecutionContext
	require.NoError(t, json.Unmarshal([]byte(`{
		"entity": {"totalCharges": 15000},
		"trigger": "on_create",
		"entityType": "claim",
		"timestamp": "2024-06-01",
		"userId": "u-1"
	}`), &ec))

	assert.Equal(t, Number(15000), ec.Entity["totalCharges"])
	assert.Equal(t, TriggerOnCreate, ec.Trigger)
	assert.True(t, ec.Timestamp.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, ec.PreviousEntity)
}

func TestRuleActionParams(t *testing.T) {
	a := RuleAction{
		Type:       ActionUpdateField,
		Parameters: Object{"fieldPath": String("status"), "value": Number(3), "nested": Object{"k": Bool(true)}},
	}

	assert.Equal(t, "status", a.StringParam("fieldPath"))
	assert.Equal(t, "3", a.StringParam("value"))
	assert.Equal(t, "", a.StringParam("missing"))
	v, ok := a.Param("nested.k")
	assert.True(t, ok)
	assert.Equal(t, Bool(true), v)

	var empty RuleAction
	_, ok = empty.Param("x")
	assert.False(t, ok)
}

func TestStoppedProcessing(t *testing.T) {
	r := RuleExecutionResult{ActionResults: []ActionExecutionResult{
		{Action: RuleAction{Type: ActionStopProcessing}, Success: false},
	}}
	assert.False(t, r.StoppedProcessing(), "failed stop does not stop")

	r.ActionResults = append(r.ActionResults, ActionExecutionResult{
		Action: RuleAction{Type: ActionStopProcessing}, Success: true,
	})
	assert.True(t, r.StoppedProcessing())
}

func TestOperatorValueFree(t *testing.T) {
	assert.True(t, OpIsNull.ValueFree())
	assert.True(t, OpIsNotNull.ValueFree())
	assert.False(t, OpEquals.ValueFree())
}
