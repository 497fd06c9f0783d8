package engine

import (
	"context"
	"slices"
	"time"

	"github.com/roach88/rcmflow/internal/funcs"
	"github.com/roach88/rcmflow/internal/ir"
)

// Update operations supported by update_field.
const (
	UpdateSet       = "set"
	UpdateIncrement = "increment"
	UpdateDecrement = "decrement"
	UpdateAppend    = "append"
	UpdateRemove    = "remove"
)

// Entity fields written by the built-in handlers.
const (
	notesField     = "notes"
	priorityField  = "priority"
	completedState = "completed"
	systemAuthor   = "system"
)

// registerBuiltins installs the built-in handlers without overriding any
// handler the host registered for the same type.
func (e *Engine) registerBuiltins() {
	e.registry.registerDefault(ir.ActionUpdateField, HandlerFunc(e.updateField))
	e.registry.registerDefault(ir.ActionAddNote, HandlerFunc(e.addNote))
	e.registry.registerDefault(ir.ActionSetPriority, HandlerFunc(setPriority))
	e.registry.registerDefault(ir.ActionStopProcessing, HandlerFunc(stopProcessing))
}

// updateField applies an operation to the value at parameters.fieldPath.
//
//   - set: replace with value (null when absent)
//   - increment / decrement: add / subtract value (default 1) numerically
//   - append: add value to the list at the path, creating it if missing
//   - remove: drop list elements equal to value, or delete the field when
//     no value is given
//
// Returns {fieldPath, operation, oldValue, newValue}.
func (e *Engine) updateField(_ context.Context, action ir.RuleAction, ec *ir.ExecutionContext) (ir.Value, error) {
	path := action.StringParam("fieldPath")
	if path == "" {
		return nil, NewInvalidParametersError(action.Type, "fieldPath is required")
	}
	op := action.StringParam("operation")
	if op == "" {
		op = UpdateSet
	}
	if ec == nil || ec.Entity == nil {
		return nil, NewInvalidParametersError(action.Type, "execution context has no entity")
	}

	old, _ := ec.Entity.Get(path)
	value, hasValue := action.Param("value")

	var next ir.Value
	switch op {
	case UpdateSet:
		if !hasValue {
			value = ir.Null{}
		}
		next = ir.Clone(value)

	case UpdateIncrement, UpdateDecrement:
		amount := 1.0
		if hasValue {
			amount = ir.ToNumber(value)
		}
		if op == UpdateDecrement {
			amount = -amount
		}
		next = ir.Number(ir.ToNumber(old) + amount)

	case UpdateAppend:
		if !hasValue {
			return nil, NewInvalidParametersError(action.Type, "value is required for append")
		}
		var list ir.List
		switch cur := old.(type) {
		case nil, ir.Null:
		case ir.List:
			list = cur
		default:
			return nil, NewInvalidParametersError(action.Type,
				"cannot append to %s at %q", ir.KindOf(old), path)
		}
		next = append(slices.Clone(list), ir.Clone(value))

	case UpdateRemove:
		if !hasValue {
			ir.DeletePath(ec.Entity, path)
			return updateResult(path, op, old, nil), nil
		}
		list, ok := old.(ir.List)
		if !ok {
			return nil, NewInvalidParametersError(action.Type,
				"cannot remove from %s at %q", ir.KindOf(old), path)
		}
		kept := make(ir.List, 0, len(list))
		for _, elem := range list {
			if !ir.Equal(elem, value) {
				kept = append(kept, elem)
			}
		}
		next = kept

	default:
		return nil, NewInvalidParametersError(action.Type, "unknown operation %q", op)
	}

	if err := ec.Entity.Set(path, next); err != nil {
		return nil, NewInvalidParametersError(action.Type, "%v", err)
	}
	return updateResult(path, op, old, next), nil
}

func updateResult(path, op string, old, next ir.Value) ir.Object {
	return ir.Object{
		"fieldPath": ir.String(path),
		"operation": ir.String(op),
		"oldValue":  orNull(old),
		"newValue":  orNull(next),
	}
}

// addNote appends a note to entity.notes. The content parameter is a
// template rendered against the entity and event metadata.
//
// Returns the note that was appended.
func (e *Engine) addNote(ctx context.Context, action ir.RuleAction, ec *ir.ExecutionContext) (ir.Value, error) {
	content := action.StringParam("content")
	if content == "" {
		return nil, NewInvalidParametersError(action.Type, "content is required")
	}
	if ec == nil || ec.Entity == nil {
		return nil, NewInvalidParametersError(action.Type, "execution context has no entity")
	}

	now := e.clock.Now()
	rendered, err := funcs.Render(content, templateData(ec), now)
	if err != nil {
		return nil, NewInvalidParametersError(action.Type, "content: %v", err)
	}

	author := action.StringParam("author")
	if author == "" {
		author = ec.UserID
	}
	if author == "" {
		author = systemAuthor
	}

	note := ir.Object{
		"id":        ir.String(e.ids.Generate()),
		"content":   ir.String(rendered),
		"author":    ir.String(author),
		"timestamp": ir.String(now.UTC().Format(time.RFC3339Nano)),
	}
	if noteType := action.StringParam("noteType"); noteType != "" {
		note["noteType"] = ir.String(noteType)
	}
	if rule, ok := RuleFromContext(ctx); ok && rule.Name != "" {
		note["ruleName"] = ir.String(rule.Name)
	}

	var notes ir.List
	switch cur := ec.Entity[notesField].(type) {
	case ir.List:
		notes = cur
	case nil, ir.Null:
	default:
		return nil, NewInvalidParametersError(action.Type, "entity.notes is a %s, not a list", ir.KindOf(cur))
	}
	ec.Entity[notesField] = append(notes, note)

	return note, nil
}

// templateData is the data a parameter template is rendered against.
func templateData(ec *ir.ExecutionContext) map[string]any {
	return map[string]any{
		"entity":         ir.ToAny(ec.Entity),
		"previousEntity": ir.ToAny(ec.PreviousEntity),
		"entityType":     ec.EntityType,
		"trigger":        string(ec.Trigger),
		"userId":         ec.UserID,
	}
}

// setPriority overwrites entity.priority.
// Returns {oldPriority, newPriority}.
func setPriority(_ context.Context, action ir.RuleAction, ec *ir.ExecutionContext) (ir.Value, error) {
	priority, ok := action.Param("priority")
	if !ok || ir.IsNullish(priority) {
		return nil, NewInvalidParametersError(action.Type, "priority is required")
	}
	if ec == nil || ec.Entity == nil {
		return nil, NewInvalidParametersError(action.Type, "execution context has no entity")
	}

	old := ec.Entity[priorityField]
	ec.Entity[priorityField] = ir.Clone(priority)

	return ir.Object{
		"oldPriority": orNull(old),
		"newPriority": priority,
	}, nil
}

// stopProcessing is a signal: its success ends the action list and the
// rule pass. With markComplete it also sets entity.status to "completed".
func stopProcessing(_ context.Context, action ir.RuleAction, ec *ir.ExecutionContext) (ir.Value, error) {
	markComplete := false
	if v, ok := action.Param("markComplete"); ok {
		b, isBool := v.(ir.Bool)
		markComplete = isBool && bool(b)
	}

	if markComplete {
		if ec == nil || ec.Entity == nil {
			return nil, NewInvalidParametersError(action.Type, "execution context has no entity")
		}
		ec.Entity[statusField] = ir.String(completedState)
	}

	result := ir.Object{
		"stopped":        ir.Bool(true),
		"markedComplete": ir.Bool(markComplete),
	}
	if reason := action.StringParam("reason"); reason != "" {
		result["reason"] = ir.String(reason)
	}
	return result, nil
}

func orNull(v ir.Value) ir.Value {
	if v == nil {
		return ir.Null{}
	}
	return v
}
