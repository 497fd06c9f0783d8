package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/rcmflow/internal/ir"
	"github.com/roach88/rcmflow/internal/testutil"
)

// createTestStore creates a new file-backed store in a temp dir for testing.
// The store clock is pinned to testutil.DefaultNow.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s.now = func() time.Time { return testutil.DefaultNow }
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRule creates a rule with one condition and one action.
func createTestRule(name string, priority int, active bool) ir.WorkflowRule {
	return ir.WorkflowRule{
		Name:    name,
		Trigger: &ir.RuleTrigger{Type: ir.TriggerOnCreate, EntityType: "claim"},
		Conditions: ir.ConditionList{
			ir.RuleCondition{Field: "totalCharges", Operator: ir.OpGreaterThan, Value: ir.Number(10000)},
		},
		Actions: []ir.RuleAction{
			{Type: ir.ActionAddNote, Parameters: ir.Object{"content": ir.String("high value")}},
		},
		Priority: priority,
		IsActive: active,
		Category: "billing",
	}
}

// createTestContext creates an on_create claim context.
func createTestContext(entity ir.Object) ir.ExecutionContext {
	return ir.ExecutionContext{
		Entity:     entity,
		Trigger:    ir.TriggerOnCreate,
		EntityType: "claim",
		Timestamp:  testutil.DefaultNow,
	}
}

// createTestResult creates a successful execution result for rule.
func createTestResult(rule ir.WorkflowRule) ir.RuleExecutionResult {
	return ir.RuleExecutionResult{
		Rule:             &rule,
		Triggered:        true,
		ConditionsPassed: true,
		ActionsExecuted:  true,
		ActionResults: []ir.ActionExecutionResult{
			{Action: rule.Actions[0], Success: true, Result: ir.Object{"noteId": ir.String("note-1")}},
		},
		ExecutionTimeMs: 3,
		Timestamp:       testutil.DefaultNow,
	}
}
