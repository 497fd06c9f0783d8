// Package engine implements the rcmflow rule evaluation and execution engine.
//
// The engine takes workflow rules (data, not code) and an execution context
// describing one domain event, decides which rules apply, evaluates their
// conditions against the entity, and dispatches their actions.
//
// ARCHITECTURE:
//
// Evaluation Flow:
// 1. ExecuteRules sorts rules by priority (stable)
// 2. ExecuteRule checks the trigger (active flag, window, type, status/field change)
// 3. The Evaluator runs every condition; groups never short-circuit
// 4. ExecuteActions dispatches actions in order through the Registry
// 5. A successful stop_processing ends both the action list and the pass
//
// Failure Model:
// Nothing here panics or returns an error to the caller. Unknown operators,
// handler errors, handler panics, timeouts and cancellation are all captured
// in the result types. A failed action stops its rule's remaining actions
// unless it sets continueOnError; it never stops other rules.
//
// CRITICAL PATTERNS:
//
// Deterministic Scheduling
// Rules run in priority then declaration order; actions in order then
// declaration order. No two actions for one context ever run concurrently.
//
// Instance-scoped Registry
// Handlers live on a Registry owned by the host and frozen when the Engine
// is built, so dispatch is lock-light and race-free.
package engine
