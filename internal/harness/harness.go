package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/rcmflow/internal/engine"
	"github.com/roach88/rcmflow/internal/ir"
	"github.com/roach88/rcmflow/internal/store"
	"github.com/roach88/rcmflow/internal/testutil"
)

// Harness is the test execution engine.
// It runs scenarios with a fixed clock and sequential ids.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	clock  *testutil.FixedClock
	ids    *testutil.SequentialIDs
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Load rules and build the execution context
// 2. Create a fresh in-memory store and save the rules into it
// 3. Build an engine with scripted and recording handlers
// 4. Execute the rules and record each result in the store
// 5. Evaluate assertions against the trace, entity and store
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context. Cancelling ctx ends
// the rule pass early; the partial trace is still asserted on.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	rules, err := scenario.LoadRules()
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	ec, err := scenario.Context.ExecutionContext()
	if err != nil {
		return nil, fmt.Errorf("failed to build context: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	// Store writes outlive a cancelled pass so the partial run is recorded.
	storeCtx := context.WithoutCancel(ctx)
	if err := st.SaveRules(storeCtx, rules); err != nil {
		return nil, fmt.Errorf("failed to save rules: %w", err)
	}

	h, err := newHarness(st, scenario)
	if err != nil {
		return nil, err
	}

	before := ec
	before.Entity = ir.Clone(ec.Entity).(ir.Object)

	results := h.engine.ExecuteRules(ctx, rules, &ec)

	if _, err := st.WriteExecutions(storeCtx, before, results); err != nil {
		return nil, fmt.Errorf("failed to record executions: %w", err)
	}

	result := NewResult()
	result.Results = results
	result.Entity = ec.Entity
	for _, res := range results {
		result.AddRuleTrace(res)
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   storeCtx,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

func newHarness(st *store.Store, scenario *Scenario) (*Harness, error) {
	h := &Harness{
		store:  st,
		clock:  testutil.NewFixedClock(scenario.clockStart()),
		ids:    testutil.NewSequentialIDs("note"),
		logger: slog.New(slog.DiscardHandler), // Suppress logs in tests
	}

	registry := engine.NewRegistry()
	for _, actionType := range slices.Sorted(maps.Keys(scenario.Handlers)) {
		stub := scenario.Handlers[actionType]
		if err := registry.Register(ir.ActionType(actionType), stubHandler(stub)); err != nil {
			return nil, fmt.Errorf("handlers[%s]: %w", actionType, err)
		}
	}
	if err := engine.RegisterRecordingHandlers(registry, h.logger); err != nil {
		return nil, fmt.Errorf("failed to register recording handlers: %w", err)
	}

	h.engine = engine.New(registry,
		engine.WithClock(h.clock),
		engine.WithIDGenerator(h.ids),
		engine.WithLogger(h.logger),
	)
	return h, nil
}

// stubHandler turns a scripted outcome into a handler.
func stubHandler(stub HandlerStub) engine.HandlerFunc {
	return func(context.Context, ir.RuleAction, *ir.ExecutionContext) (ir.Value, error) {
		if stub.Error != "" {
			return nil, errors.New(stub.Error)
		}
		if stub.Result == nil {
			return ir.Object{}, nil
		}
		return ir.ObjectFromMap(stub.Result)
	}
}
