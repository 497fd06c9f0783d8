package engine

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/rcmflow/internal/ir"
)

// DefaultMaxDelay caps an action's delayMs so a mistyped rule cannot park
// an evaluation pass indefinitely.
const DefaultMaxDelay = 5 * time.Minute

// Engine evaluates workflow rules against execution contexts and dispatches
// their actions.
//
// Thread-safety model:
//   - The registry is frozen by New; dispatch is read-only afterwards
//   - Execute* methods are safe to call from many goroutines, each with its
//     own ExecutionContext
//   - Within one call, actions and rules run strictly sequentially because
//     actions mutate the shared entity
//
// INVARIANTS:
//   - Rules run in Priority order, ties in declaration order
//   - Actions run in Order, ties in declaration order
//   - The engine never mutates a rule and performs no I/O of its own
type Engine struct {
	registry      *Registry
	evaluator     *Evaluator
	clock         Clock
	ids           IDGenerator
	logger        *slog.Logger
	actionTimeout time.Duration
	maxDelay      time.Duration
	builtins      bool
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock sets the clock used for "now" in date operators, note
// timestamps and result timestamps.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithIDGenerator sets the generator for note ids.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		if g != nil {
			e.ids = g
		}
	}
}

// WithLogger sets the structured logger. Per-rule decisions log at Debug,
// action failures at Warn. Entity payloads are never logged.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithActionTimeout bounds each handler invocation.
// Zero (the default) means no per-action deadline.
// Timeouts are cooperative: handlers observe them through ctx.
func WithActionTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.actionTimeout = d
	}
}

// WithMaxDelay caps delayMs waits. Zero or negative disables the cap.
//
// Default: 5 minutes (DefaultMaxDelay)
func WithMaxDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.maxDelay = d
	}
}

// WithoutBuiltins skips registering the built-in update_field, add_note,
// set_priority and stop_processing handlers.
func WithoutBuiltins() EngineOption {
	return func(e *Engine) {
		e.builtins = false
	}
}

// New creates an Engine that dispatches through registry.
//
// Built-in handlers are added for any built-in type the registry does not
// already cover, then the registry is frozen. A nil registry gets a fresh
// one holding only the built-ins.
//
// Options can be passed to configure the engine (e.g., WithClock).
func New(registry *Registry, opts ...EngineOption) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}

	e := &Engine{
		registry: registry,
		clock:    SystemClock{},
		ids:      UUIDv7Generator{},
		logger:   slog.New(slog.DiscardHandler),
		maxDelay: DefaultMaxDelay,
		builtins: true,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.evaluator = NewEvaluator(e.clock)
	e.evaluator.logger = e.logger

	if e.builtins {
		e.registerBuiltins()
	}
	registry.freeze()

	return e
}

// Registry returns the engine's (frozen) handler registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Evaluator returns the engine's condition evaluator.
func (e *Engine) Evaluator() *Evaluator {
	return e.evaluator
}

// Clock returns the engine's clock.
func (e *Engine) Clock() Clock {
	return e.clock
}

// ShouldTrigger reports whether rule applies to the event in ec.
// A zero ec.Timestamp is read as the engine clock's now.
func (e *Engine) ShouldTrigger(rule *ir.WorkflowRule, ec *ir.ExecutionContext) bool {
	return matchTrigger(rule, ec, e.eventTime(ec))
}

// ExecuteRule runs one rule: trigger check, condition evaluation, then
// actions.
//
// A rule that does not apply returns Triggered=false with empty results.
// A rule whose conditions fail returns ConditionsPassed=false and runs no
// actions. Otherwise every attempted action has a result.
func (e *Engine) ExecuteRule(ctx context.Context, rule ir.WorkflowRule, ec *ir.ExecutionContext) (result ir.RuleExecutionResult) {
	start := time.Now()
	result = ir.RuleExecutionResult{
		Rule:             &rule,
		ConditionResults: []ir.ConditionEvaluationResult{},
		ActionResults:    []ir.ActionExecutionResult{},
		Timestamp:        e.clock.Now(),
	}
	defer func() {
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
	}()

	log := e.logger.With("rule", rule.Name)

	if !e.ShouldTrigger(&rule, ec) {
		log.Debug("rule not applicable")
		return result
	}
	result.Triggered = true

	passed, condResults := e.evaluator.EvaluateAll(rule.Conditions, rule.ConditionsOperator, ec)
	result.ConditionResults = condResults
	result.ConditionsPassed = passed
	if !passed {
		log.Debug("rule conditions not met", "conditions", len(condResults))
		return result
	}

	result.ActionResults = e.ExecuteActions(withRule(ctx, &rule), rule.Actions, ec)
	result.ActionsExecuted = len(result.ActionResults) > 0
	log.Debug("rule executed", "actions", len(result.ActionResults))

	return result
}

// ExecuteRules runs rules in Priority order (ties keep declaration order)
// and returns one result per rule evaluated.
//
// A successful stop_processing action ends the pass: later rules are not
// evaluated and have no result. A cancelled ctx also ends the pass.
func (e *Engine) ExecuteRules(ctx context.Context, rules []ir.WorkflowRule, ec *ir.ExecutionContext) []ir.RuleExecutionResult {
	results := make([]ir.RuleExecutionResult, 0, len(rules))

	for _, rule := range sortRules(rules) {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("rule pass cancelled", "evaluated", len(results), "error", err)
			break
		}

		res := e.ExecuteRule(ctx, rule, ec)
		results = append(results, res)

		if res.StoppedProcessing() {
			e.logger.Debug("rule pass stopped", "rule", rule.Name)
			break
		}
	}

	return results
}

// sortRules returns a copy of rules stably sorted by Priority.
func sortRules(rules []ir.WorkflowRule) []ir.WorkflowRule {
	sorted := slices.Clone(rules)
	slices.SortStableFunc(sorted, func(a, b ir.WorkflowRule) int {
		return cmp.Compare(a.Priority, b.Priority)
	})
	return sorted
}

func (e *Engine) eventTime(ec *ir.ExecutionContext) time.Time {
	if ec != nil && !ec.Timestamp.IsZero() {
		return ec.Timestamp
	}
	return e.clock.Now()
}

type ruleKey struct{}

func withRule(ctx context.Context, rule *ir.WorkflowRule) context.Context {
	return context.WithValue(ctx, ruleKey{}, rule)
}

// RuleFromContext returns the rule whose actions are being executed.
// Handlers use it to attribute side effects.
func RuleFromContext(ctx context.Context) (*ir.WorkflowRule, bool) {
	rule, ok := ctx.Value(ruleKey{}).(*ir.WorkflowRule)
	return rule, ok && rule != nil
}
