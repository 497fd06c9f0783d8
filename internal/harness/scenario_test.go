package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rcmflow/internal/ir"
)

const minimalRule = `
rules:
  - name: route-claim
    trigger: {type: on_create}
    conditions: []
    actions:
      - type: assign_queue
        parameters: {queueId: billing}
    isActive: true
`

// createRuleFile writes a rule file into dir/rules and returns its path.
func createRuleFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	rulesDir := filepath.Join(dir, "rules")
	require.NoError(t, os.MkdirAll(rulesDir, 0755))
	path := filepath.Join(rulesDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeScenario(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	rulePath := createRuleFile(t, dir, "claims.yaml", minimalRule)

	scenarioPath := writeScenario(t, dir, `
name: test_scenario
description: "Test scenario for validation"
rule_files:
  - rules/claims.yaml
context:
  trigger: on_create
  entity_type: claim
  entity:
    id: CLM-1
    totalCharges: 1200
assertions:
  - type: rule_outcome
    rule: route-claim
    expect: {triggered: true}
`)

	scenario, err := LoadScenario(scenarioPath)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, "Test scenario for validation", scenario.Description)
	assert.Equal(t, []string{rulePath}, scenario.RuleFiles)
	assert.Equal(t, "on_create", scenario.Context.Trigger)
	assert.Equal(t, "CLM-1", scenario.Context.Entity["id"])
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, `
name: typo
description: misspelled key
rules: [{name: r}]
context: {trigger: on_create}
assertion:
  - type: entity
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenarioWithBasePath(t *testing.T) {
	dir := t.TempDir()
	rulePath := createRuleFile(t, dir, "claims.yaml", minimalRule)

	scenarioDir := filepath.Join(dir, "scenarios")
	require.NoError(t, os.MkdirAll(scenarioDir, 0755))
	scenarioPath := writeScenario(t, scenarioDir, `
name: based
description: rule paths resolve against the base path
rule_files: [rules/claims.yaml]
context: {trigger: on_create}
assertions:
  - {type: action_count, action: assign_queue, count: 1}
`)

	scenario, err := LoadScenarioWithBasePath(scenarioPath, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{rulePath}, scenario.RuleFiles)

	_, err = LoadScenario(scenarioPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule file not found")
}

func TestValidateScenario(t *testing.T) {
	valid := func() Scenario {
		return Scenario{
			Name:        "s",
			Description: "d",
			Rules:       []map[string]any{{"name": "r"}},
			Context:     ContextSpec{Trigger: "on_create"},
			Assertions:  []Assertion{{Type: AssertActionCount, Action: "add_note"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(s *Scenario)
		wantErr string
	}{
		{name: "valid", mutate: func(*Scenario) {}},
		{name: "missing name", mutate: func(s *Scenario) { s.Name = "" }, wantErr: "name is required"},
		{name: "missing description", mutate: func(s *Scenario) { s.Description = "" }, wantErr: "description is required"},
		{name: "no rules", mutate: func(s *Scenario) { s.Rules = nil }, wantErr: "rule_files or rules"},
		{name: "bad now", mutate: func(s *Scenario) { s.Now = "yesterday" }, wantErr: "now: invalid date"},
		{name: "missing trigger", mutate: func(s *Scenario) { s.Context.Trigger = "" }, wantErr: "context.trigger is required"},
		{name: "bad timestamp", mutate: func(s *Scenario) { s.Context.Timestamp = "soon" }, wantErr: "context.timestamp"},
		{name: "no assertions", mutate: func(s *Scenario) { s.Assertions = nil }, wantErr: "assertions list is required"},
		{
			name: "stub with result and error",
			mutate: func(s *Scenario) {
				s.Handlers = map[string]HandlerStub{"escalate": {Error: "x", Result: map[string]any{"a": 1}}}
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "assertion without type",
			mutate:  func(s *Scenario) { s.Assertions = []Assertion{{}} },
			wantErr: "type is required",
		},
		{
			name:    "unknown assertion type",
			mutate:  func(s *Scenario) { s.Assertions = []Assertion{{Type: "trace_contains"}} },
			wantErr: `unknown assertion type "trace_contains"`,
		},
		{
			name:    "rules_evaluated without rules",
			mutate:  func(s *Scenario) { s.Assertions = []Assertion{{Type: AssertRulesEvaluated}} },
			wantErr: "rules list is required",
		},
		{
			name:    "rule_outcome without rule",
			mutate:  func(s *Scenario) { s.Assertions = []Assertion{{Type: AssertRuleOutcome}} },
			wantErr: "rule is required for rule_outcome",
		},
		{
			name: "rule_outcome unknown key",
			mutate: func(s *Scenario) {
				s.Assertions = []Assertion{{Type: AssertRuleOutcome, Rule: "r", Expect: map[string]any{"passed": true}}}
			},
			wantErr: `unknown expect key "passed"`,
		},
		{
			name:    "action_result without action",
			mutate:  func(s *Scenario) { s.Assertions = []Assertion{{Type: AssertActionResult, Rule: "r"}} },
			wantErr: "rule and action are required",
		},
		{
			name:    "negative action_count",
			mutate:  func(s *Scenario) { s.Assertions = []Assertion{{Type: AssertActionCount, Action: "a", Count: -1}} },
			wantErr: "count must be non-negative",
		},
		{
			name:    "entity without expect",
			mutate:  func(s *Scenario) { s.Assertions = []Assertion{{Type: AssertEntity}} },
			wantErr: "expect is required for entity",
		},
		{
			name:    "history_count without rule",
			mutate:  func(s *Scenario) { s.Assertions = []Assertion{{Type: AssertHistoryCount}} },
			wantErr: "rule is required for history_count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)

			err := validateScenario(&s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestScenario_LoadRules(t *testing.T) {
	dir := t.TempDir()
	rulePath := createRuleFile(t, dir, "claims.yaml", minimalRule)

	s := &Scenario{
		RuleFiles: []string{rulePath},
		Rules: []map[string]any{{
			"name":       "inline",
			"trigger":    map[string]any{"type": "manual"},
			"conditions": []any{},
			"actions":    []any{map[string]any{"type": "stop_processing", "parameters": map[string]any{}}},
			"priority":   3,
			"isActive":   true,
		}},
	}

	rules, err := s.LoadRules()
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "route-claim", rules[0].Name)
	assert.Equal(t, "inline", rules[1].Name)
	assert.Equal(t, 3, rules[1].Priority)
}

func TestScenario_LoadRules_InvalidRule(t *testing.T) {
	s := &Scenario{
		Rules: []map[string]any{{"name": "no-trigger", "actions": []any{}}},
	}

	_, err := s.LoadRules()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rules[0]")
	assert.Contains(t, err.Error(), "trigger")
}

func TestContextSpec_ExecutionContext(t *testing.T) {
	spec := ContextSpec{
		Trigger:        "on_status_change",
		EntityType:     "claim",
		Entity:         map[string]any{"status": "denied", "lines": []any{map[string]any{"code": "99213"}}},
		PreviousEntity: map[string]any{"status": "submitted"},
		ChangedFields:  []string{"status"},
		Timestamp:      "2024-06-30",
		UserID:         "u-1",
	}

	ec, err := spec.ExecutionContext()
	require.NoError(t, err)

	assert.Equal(t, ir.TriggerOnStatusChange, ec.Trigger)
	assert.Equal(t, "claim", ec.EntityType)
	assert.Equal(t, ir.String("denied"), ec.Entity["status"])
	code, ok := ec.Entity.Get("lines[0].code")
	require.True(t, ok)
	assert.Equal(t, ir.String("99213"), code)
	assert.Equal(t, ir.String("submitted"), ec.PreviousEntity["status"])
	assert.Equal(t, []string{"status"}, ec.ChangedFields)
	assert.Equal(t, "2024-06-30T00:00:00Z", ec.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	assert.Equal(t, "u-1", ec.UserID)
}

func TestContextSpec_ExecutionContext_EmptyEntity(t *testing.T) {
	ec, err := ContextSpec{Trigger: "manual"}.ExecutionContext()
	require.NoError(t, err)
	assert.NotNil(t, ec.Entity)
	assert.Empty(t, ec.Entity)
	assert.Nil(t, ec.PreviousEntity)
	assert.True(t, ec.Timestamp.IsZero())
}
