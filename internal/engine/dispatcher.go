package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/rcmflow/internal/ir"
)

// ExecuteAction dispatches one action to its registered handler.
//
// Steps:
// 1. Wait DelayMs (capped by the engine's max delay), honouring ctx
// 2. Look up the handler; an unregistered type is a failed result
// 3. Invoke the handler under the per-action timeout, recovering panics
//
// The returned result always carries the measured ExecutionTimeMs.
// ExecuteAction never panics and never returns an error.
func (e *Engine) ExecuteAction(ctx context.Context, action ir.RuleAction, ec *ir.ExecutionContext) ir.ActionExecutionResult {
	start := time.Now()
	result := ir.ActionExecutionResult{Action: action}

	value, err := e.dispatch(ctx, action, ec)
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	if err != nil {
		result.Error = err.Error()
		e.logger.Warn("action failed",
			"action_type", action.Type,
			"code", actionErrorCode(err),
			"error", err)
		return result
	}

	result.Success = true
	result.Result = value
	e.logger.Debug("action executed",
		"action_type", action.Type,
		"duration_ms", result.ExecutionTimeMs)
	return result
}

// ExecuteActions runs actions sequentially in Order, ties keeping their
// declaration order.
//
// The loop stops after the first failed action whose ContinueOnError is
// unset, or after a stop_processing action succeeds. The returned slice
// holds one result per attempted action.
func (e *Engine) ExecuteActions(ctx context.Context, actions []ir.RuleAction, ec *ir.ExecutionContext) []ir.ActionExecutionResult {
	results := make([]ir.ActionExecutionResult, 0, len(actions))

	for _, action := range sortActions(actions) {
		res := e.ExecuteAction(ctx, action, ec)
		results = append(results, res)

		if !res.Success && !action.ContinueOnError {
			break
		}
		if action.Type == ir.ActionStopProcessing && res.Success {
			break
		}
	}

	return results
}

// sortActions returns a copy of actions stably sorted by Order.
func sortActions(actions []ir.RuleAction) []ir.RuleAction {
	sorted := slices.Clone(actions)
	slices.SortStableFunc(sorted, func(a, b ir.RuleAction) int {
		return cmp.Compare(a.Order, b.Order)
	})
	return sorted
}

func (e *Engine) dispatch(ctx context.Context, action ir.RuleAction, ec *ir.ExecutionContext) (ir.Value, error) {
	if action.DelayMs > 0 {
		if err := e.wait(ctx, action); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, contextError(action.Type, err)
	}

	handler, ok := e.registry.Lookup(action.Type)
	if !ok {
		return nil, NewNoHandlerError(action.Type)
	}

	actx := ctx
	if e.actionTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, e.actionTimeout)
		defer cancel()
	}

	value, err := invokeHandler(actx, handler, action, ec)
	if err == nil {
		return value, nil
	}

	var ae *ActionError
	switch {
	case errors.As(err, &ae):
		return nil, err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return nil, contextError(action.Type, err)
	default:
		return nil, &ActionError{
			Code:       ErrCodeHandlerFailed,
			ActionType: action.Type,
			Message:    "handler returned an error",
			Err:        err,
		}
	}
}

// wait suspends for the action's delay. Cancellation ends the wait early
// and fails the action.
func (e *Engine) wait(ctx context.Context, action ir.RuleAction) error {
	delay := time.Duration(action.DelayMs) * time.Millisecond
	if e.maxDelay > 0 && delay > e.maxDelay {
		e.logger.Debug("action delay capped",
			"action_type", action.Type,
			"requested_ms", action.DelayMs,
			"max_ms", e.maxDelay.Milliseconds())
		delay = e.maxDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return contextError(action.Type, ctx.Err())
	}
}

// invokeHandler calls the handler, converting a panic into an ActionError.
func invokeHandler(ctx context.Context, h ActionHandler, action ir.RuleAction, ec *ir.ExecutionContext) (value ir.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = &ActionError{
				Code:       ErrCodeHandlerPanic,
				ActionType: action.Type,
				Message:    fmt.Sprintf("handler panicked: %v", r),
			}
		}
	}()

	return h.Execute(ctx, action, ec)
}

func contextError(actionType ir.ActionType, err error) *ActionError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ActionError{
			Code:       ErrCodeTimeout,
			ActionType: actionType,
			Message:    "action timed out",
			Err:        err,
		}
	}
	return &ActionError{
		Code:       ErrCodeCancelled,
		ActionType: actionType,
		Message:    "action cancelled",
		Err:        err,
	}
}
