package engine

import (
	"testing"

	"github.com/roach88/rcmflow/internal/ir"
	"github.com/roach88/rcmflow/internal/testutil"
)

// newTestEngine creates an engine on a fixed clock with sequential ids.
func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	base := []EngineOption{
		WithClock(testutil.NewFixedClock(testutil.DefaultNow)),
		WithIDGenerator(testutil.NewSequentialIDs("note")),
	}
	return New(NewRegistry(), append(base, opts...)...)
}

// newTestEngineWith registers handlers before building the engine.
func newTestEngineWith(t *testing.T, handlers map[ir.ActionType]HandlerFunc, opts ...EngineOption) *Engine {
	t.Helper()
	reg := NewRegistry()
	for typ, h := range handlers {
		reg.MustRegister(typ, h)
	}
	base := []EngineOption{
		WithClock(testutil.NewFixedClock(testutil.DefaultNow)),
		WithIDGenerator(testutil.NewSequentialIDs("note")),
	}
	return New(reg, append(base, opts...)...)
}

func claimContext(entity ir.Object) *ir.ExecutionContext {
	return &ir.ExecutionContext{
		Entity:     entity,
		Trigger:    ir.TriggerOnCreate,
		EntityType: "claim",
		Timestamp:  testutil.DefaultNow,
	}
}

func leaf(field string, op ir.Operator, value ir.Value) ir.RuleCondition {
	return ir.RuleCondition{Field: field, Operator: op, Value: value}
}
