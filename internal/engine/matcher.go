package engine

import (
	"slices"
	"time"

	"github.com/roach88/rcmflow/internal/ir"
)

// statusField is the entity field status-change triggers compare.
const statusField = "status"

// matchTrigger checks whether a rule applies to an event at time at.
//
// The match is determined, in order, by:
// 1. Active flag: rule.IsActive must be true
// 2. Effective window: at must lie within [EffectiveFrom, EffectiveTo] when set
// 3. Trigger type: rule.Trigger.Type must equal ec.Trigger
// 4. Entity type: rule.Trigger.EntityType, if set, must equal ec.EntityType
// 5. Status change: FromStatus / ToStatus, if set, must contain the
// previous / current entity status
// 6. Field change: WatchFields, if set, must share a path with ec.ChangedFields
//
// Returns false at the first failed check.
func matchTrigger(rule *ir.WorkflowRule, ec *ir.ExecutionContext, at time.Time) bool {
	if rule == nil || ec == nil || !rule.IsActive {
		return false
	}

	if rule.EffectiveFrom != nil && at.Before(*rule.EffectiveFrom) {
		return false
	}
	if rule.EffectiveTo != nil && at.After(*rule.EffectiveTo) {
		return false
	}

	trigger := rule.Trigger
	if trigger == nil || trigger.Type != ec.Trigger {
		return false
	}

	if trigger.EntityType != "" && trigger.EntityType != ec.EntityType {
		return false
	}

	switch trigger.Type {
	case ir.TriggerOnStatusChange:
		if len(trigger.FromStatus) > 0 && !statusIn(ec.PreviousEntity, trigger.FromStatus) {
			return false
		}
		if len(trigger.ToStatus) > 0 && !statusIn(ec.Entity, trigger.ToStatus) {
			return false
		}
	case ir.TriggerOnFieldChange:
		if len(trigger.WatchFields) > 0 && !anyWatched(trigger.WatchFields, ec.ChangedFields) {
			return false
		}
	}

	return true
}

// statusIn reports whether entity's status is one of statuses.
// A missing entity or status never matches.
func statusIn(entity ir.Object, statuses []string) bool {
	v, ok := entity.Get(statusField)
	if !ok || ir.IsNullish(v) {
		return false
	}
	return slices.Contains(statuses, ir.ToString(v))
}

func anyWatched(watch, changed []string) bool {
	for _, f := range changed {
		if slices.Contains(watch, f) {
			return true
		}
	}
	return false
}
