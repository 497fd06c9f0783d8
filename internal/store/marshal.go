package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/rcmflow/internal/ir"
)

// timeLayout is used for every TEXT timestamp column. Fixed-width
// fractional seconds keep lexical and chronological order aligned.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// marshalRule converts a rule to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON so that equal rules store identical text.
func marshalRule(rule ir.WorkflowRule) (string, error) {
	data, err := ir.CanonicalJSON(rule)
	if err != nil {
		return "", fmt.Errorf("marshal rule: %w", err)
	}
	return string(data), nil
}

// unmarshalRule parses a stored definition back into a rule.
func unmarshalRule(data string) (ir.WorkflowRule, error) {
	var rule ir.WorkflowRule
	if err := json.Unmarshal([]byte(data), &rule); err != nil {
		return ir.WorkflowRule{}, fmt.Errorf("unmarshal rule: %w", err)
	}
	return rule, nil
}

// marshalResult converts an execution result to canonical JSON TEXT.
func marshalResult(res ir.RuleExecutionResult) (string, error) {
	data, err := ir.CanonicalJSON(res)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
