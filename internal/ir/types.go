package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TriggerType is the class of event that makes a rule eligible.
// The set is open: domain pipelines may fire their own trigger types.
type TriggerType string

const (
	TriggerOnCreate          TriggerType = "on_create"
	TriggerOnUpdate          TriggerType = "on_update"
	TriggerOnStatusChange    TriggerType = "on_status_change"
	TriggerOnFieldChange     TriggerType = "on_field_change"
	TriggerOnDenialReceived  TriggerType = "on_denial_received"
	TriggerOnPaymentPosted   TriggerType = "on_payment_posted"
	TriggerOnClaimSubmitted  TriggerType = "on_claim_submitted"
	TriggerOnEligibilityDone TriggerType = "on_eligibility_checked"
	TriggerScheduled         TriggerType = "scheduled"
	TriggerManual            TriggerType = "manual"
)

// Operator is a condition operator.
type Operator string

const (
	OpEquals                       Operator = "equals"
	OpNotEquals                    Operator = "not_equals"
	OpGreaterThan                  Operator = "greater_than"
	OpLessThan                     Operator = "less_than"
	OpGreaterThanOrEquals          Operator = "greater_than_or_equals"
	OpLessThanOrEquals             Operator = "less_than_or_equals"
	OpContains                     Operator = "contains"
	OpNotContains                  Operator = "not_contains"
	OpStartsWith                   Operator = "starts_with"
	OpEndsWith                     Operator = "ends_with"
	OpInList                       Operator = "in_list"
	OpNotInList                    Operator = "not_in_list"
	OpBetween                      Operator = "between"
	OpIsNull                       Operator = "is_null"
	OpIsNotNull                    Operator = "is_not_null"
	OpRegex                        Operator = "regex"
	OpDaysSinceGreaterThan         Operator = "days_since_greater_than"
	OpDaysSinceLessThan            Operator = "days_since_less_than"
	OpBusinessDaysSinceGreaterThan Operator = "business_days_since_greater_than"
	OpBusinessDaysSinceLessThan    Operator = "business_days_since_less_than"
)

// ValueFree reports whether the operator ignores the condition value.
func (op Operator) ValueFree() bool {
	return op == OpIsNull || op == OpIsNotNull
}

// LogicalOperator combines condition results.
type LogicalOperator string

const (
	LogicAnd LogicalOperator = "AND"
	LogicOr  LogicalOperator = "OR"
)

// ActionType names an action handler.
type ActionType string

const (
	ActionAssignQueue      ActionType = "assign_queue"
	ActionAssignUser       ActionType = "assign_user"
	ActionSendNotification ActionType = "send_notification"
	ActionUpdateField      ActionType = "update_field"
	ActionCreateTask       ActionType = "create_task"
	ActionEscalate         ActionType = "escalate"
	ActionTriggerWebhook   ActionType = "trigger_webhook"
	ActionSendEmail        ActionType = "send_email"
	ActionAddNote          ActionType = "add_note"
	ActionSetPriority      ActionType = "set_priority"
	ActionStopProcessing   ActionType = "stop_processing"
)

// WorkflowRule is a data-defined trigger + conditions + actions unit.
// Rules are read-only inputs; the engine never mutates one.
type WorkflowRule struct {
	ID                 string          `json:"id,omitempty"`
	Name               string          `json:"name"`
	Description        string          `json:"description,omitempty"`
	Trigger            *RuleTrigger    `json:"trigger,omitempty"`
	Conditions         ConditionList   `json:"conditions"`
	ConditionsOperator LogicalOperator `json:"conditionsOperator,omitempty"`
	Actions            []RuleAction    `json:"actions"`
	Priority           int             `json:"priority"`
	IsActive           bool            `json:"isActive"`
	EffectiveFrom      *time.Time      `json:"effectiveFrom,omitempty"`
	EffectiveTo        *time.Time      `json:"effectiveTo,omitempty"`
	Tags               []string        `json:"tags,omitempty"`
	Category           string          `json:"category,omitempty"`
	Version            int             `json:"version,omitempty"`
}

// UnmarshalJSON accepts effective dates in any layout ParseDate understands.
func (r *WorkflowRule) UnmarshalJSON(data []byte) error {
	type plain WorkflowRule
	var aux struct {
		plain
		EffectiveFrom *string `json:"effectiveFrom,omitempty"`
		EffectiveTo   *string `json:"effectiveTo,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = WorkflowRule(aux.plain)

	var err error
	if r.EffectiveFrom, err = parseOptionalDate("effectiveFrom", aux.EffectiveFrom); err != nil {
		return err
	}
	if r.EffectiveTo, err = parseOptionalDate("effectiveTo", aux.EffectiveTo); err != nil {
		return err
	}
	return nil
}

func parseOptionalDate(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, ok := ParseDate(*s)
	if !ok {
		return nil, fmt.Errorf("%s: invalid date %q", field, *s)
	}
	return &t, nil
}

// RuleTrigger describes which events a rule responds to.
type RuleTrigger struct {
	Type        TriggerType `json:"type"`
	EntityType  string      `json:"entityType,omitempty"`
	FromStatus  []string    `json:"fromStatus,omitempty"`
	ToStatus    []string    `json:"toStatus,omitempty"`
	WatchFields []string    `json:"watchFields,omitempty"`
	Schedule    string      `json:"schedule,omitempty"`
}

// Condition is a sum type: RuleCondition (leaf) or RuleConditionGroup.
type Condition interface {
	isCondition()
}

// RuleCondition is a leaf predicate on one entity field.
// A nil Value means the value was not supplied.
type RuleCondition struct {
	Field           string   `json:"field"`
	Operator        Operator `json:"operator"`
	Value           Value    `json:"value,omitempty"`
	CaseInsensitive bool     `json:"caseInsensitive,omitempty"`
	Negate          bool     `json:"negate,omitempty"`
}

func (RuleCondition) isCondition() {}

// UnmarshalJSON decodes the dynamic value into a Value.
func (c *RuleCondition) UnmarshalJSON(data []byte) error {
	var aux struct {
		Field           string          `json:"field"`
		Operator        Operator        `json:"operator"`
		Value           json.RawMessage `json:"value"`
		CaseInsensitive bool            `json:"caseInsensitive"`
		Negate          bool            `json:"negate"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*c = RuleCondition{
		Field:           aux.Field,
		Operator:        aux.Operator,
		CaseInsensitive: aux.CaseInsensitive,
		Negate:          aux.Negate,
	}
	if len(aux.Value) > 0 {
		v, err := UnmarshalValue(aux.Value)
		if err != nil {
			return fmt.Errorf("condition %q value: %w", aux.Field, err)
		}
		c.Value = v
	}
	return nil
}

// RuleConditionGroup combines conditions with AND/OR. Groups nest.
type RuleConditionGroup struct {
	LogicalOperator LogicalOperator `json:"logicalOperator"`
	Conditions      ConditionList   `json:"conditions"`
}

func (RuleConditionGroup) isCondition() {}

// ConditionList is an ordered list of leaves and groups.
type ConditionList []Condition

// UnmarshalJSON decodes each element as a group when it carries a
// logicalOperator key, otherwise as a leaf condition.
func (l *ConditionList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = nil
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(ConditionList, 0, len(raw))
	for i, elem := range raw {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(elem, &probe); err != nil {
			return fmt.Errorf("conditions[%d]: %w", i, err)
		}

		if _, isGroup := probe["logicalOperator"]; isGroup {
			var g RuleConditionGroup
			if err := json.Unmarshal(elem, &g); err != nil {
				return fmt.Errorf("conditions[%d]: %w", i, err)
			}
			out = append(out, g)
			continue
		}

		var c RuleCondition
		if err := json.Unmarshal(elem, &c); err != nil {
			return fmt.Errorf("conditions[%d]: %w", i, err)
		}
		out = append(out, c)
	}

	*l = out
	return nil
}

// RuleAction is one parameterised side effect.
type RuleAction struct {
	Type            ActionType `json:"type"`
	Parameters      Object     `json:"parameters"`
	Order           int        `json:"order,omitempty"`
	DelayMs         int64      `json:"delayMs,omitempty"`
	ContinueOnError bool       `json:"continueOnError,omitempty"`
}

// Param returns the parameter at a dot-path below Parameters.
func (a RuleAction) Param(path string) (Value, bool) {
	if a.Parameters == nil {
		return nil, false
	}
	return a.Parameters.Get(path)
}

// StringParam returns a parameter coerced to string, or "" when absent.
func (a RuleAction) StringParam(path string) string {
	v, ok := a.Param(path)
	if !ok || IsNullish(v) {
		return ""
	}
	return ToString(v)
}

// ExecutionContext is the per-event bundle passed through one pass.
// Entity is owned by the caller and mutated in place by actions.
type ExecutionContext struct {
	Entity         Object      `json:"entity"`
	PreviousEntity Object      `json:"previousEntity,omitempty"`
	Trigger        TriggerType `json:"trigger"`
	EntityType     string      `json:"entityType"`
	ChangedFields  []string    `json:"changedFields,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	UserID         string      `json:"userId,omitempty"`
}

// UnmarshalJSON accepts the timestamp in any layout ParseDate understands.
func (c *ExecutionContext) UnmarshalJSON(data []byte) error {
	type plain ExecutionContext
	var aux struct {
		plain
		Timestamp *string `json:"timestamp,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = ExecutionContext(aux.plain)

	ts, err := parseOptionalDate("timestamp", aux.Timestamp)
	if err != nil {
		return err
	}
	if ts != nil {
		c.Timestamp = *ts
	}
	return nil
}

// ConditionEvaluationResult records the outcome of one leaf or group.
// For groups, Results holds every member's result in declaration order.
type ConditionEvaluationResult struct {
	Condition     Condition                   `json:"condition"`
	Passed        bool                        `json:"passed"`
	ActualValue   Value                       `json:"actualValue,omitempty"`
	ExpectedValue Value                       `json:"expectedValue,omitempty"`
	Error         string                      `json:"error,omitempty"`
	Results       []ConditionEvaluationResult `json:"results,omitempty"`
}

// ActionExecutionResult records the outcome of one action.
type ActionExecutionResult struct {
	Action          RuleAction `json:"action"`
	Success         bool       `json:"success"`
	Result          Value      `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
	ExecutionTimeMs int64      `json:"executionTimeMs"`
}

// RuleExecutionResult records one rule's pass through the orchestrator.
type RuleExecutionResult struct {
	Rule             *WorkflowRule               `json:"rule"`
	Triggered        bool                        `json:"triggered"`
	ConditionsPassed bool                        `json:"conditionsPassed"`
	ConditionResults []ConditionEvaluationResult `json:"conditionResults"`
	ActionsExecuted  bool                        `json:"actionsExecuted"`
	ActionResults    []ActionExecutionResult     `json:"actionResults"`
	ExecutionTimeMs  int64                       `json:"executionTimeMs"`
	Timestamp        time.Time                   `json:"timestamp"`
}

// StoppedProcessing reports whether a stop_processing action succeeded.
func (r RuleExecutionResult) StoppedProcessing() bool {
	for _, ar := range r.ActionResults {
		if ar.Action.Type == ActionStopProcessing && ar.Success {
			return true
		}
	}
	return false
}
