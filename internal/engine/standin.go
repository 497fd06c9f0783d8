package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/rcmflow/internal/ir"
)

// ExternalActionTypes are the action types whose effects live outside the
// engine (queues, users, messaging, tasks, webhooks).
var ExternalActionTypes = []ir.ActionType{
	ir.ActionAssignQueue,
	ir.ActionAssignUser,
	ir.ActionSendNotification,
	ir.ActionCreateTask,
	ir.ActionEscalate,
	ir.ActionTriggerWebhook,
	ir.ActionSendEmail,
}

// RecordingHandler returns a handler that logs the request and reports it
// back as the action result instead of performing it. Hosts without real
// integrations register it for ExternalActionTypes.
//
// The result is {"recorded": true, "actionType", "parameters"} plus
// "entityId" and "ruleName" when known.
func RecordingHandler(logger *slog.Logger) HandlerFunc {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(ctx context.Context, action ir.RuleAction, ec *ir.ExecutionContext) (ir.Value, error) {
		params := action.Parameters
		if params == nil {
			params = ir.Object{}
		}

		result := ir.Object{
			"recorded":   ir.Bool(true),
			"actionType": ir.String(action.Type),
			"parameters": ir.Clone(params),
		}

		attrs := []any{"action_type", action.Type}
		if ec != nil {
			if id, ok := ec.Entity["id"]; ok && !ir.IsNullish(id) {
				result["entityId"] = id
				attrs = append(attrs, "entity_id", ir.ToString(id))
			}
		}
		if rule, ok := RuleFromContext(ctx); ok && rule.Name != "" {
			result["ruleName"] = ir.String(rule.Name)
			attrs = append(attrs, "rule", rule.Name)
		}

		logger.InfoContext(ctx, "external action recorded", attrs...)
		return result, nil
	}
}

// RegisterRecordingHandlers registers RecordingHandler for every external
// action type that has no handler yet.
func RegisterRecordingHandlers(r *Registry, logger *slog.Logger) error {
	h := RecordingHandler(logger)
	for _, t := range ExternalActionTypes {
		if r.Has(t) {
			continue
		}
		if err := r.Register(t, h); err != nil {
			return err
		}
	}
	return nil
}
