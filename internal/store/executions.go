package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/rcmflow/internal/ir"
)

// DefaultHistoryLimit bounds ListExecutions when the filter sets no limit.
const DefaultHistoryLimit = 100

// ExecutionRecord is one stored rule execution.
//
// Result holds the full RuleExecutionResult as canonical JSON; the scalar
// columns duplicate the fields history queries filter on.
type ExecutionRecord struct {
	Seq               int64           `json:"seq"`
	ID                string          `json:"id"`
	RuleName          string          `json:"ruleName"`
	RuleHash          string          `json:"ruleHash"`
	ContextHash       string          `json:"contextHash"`
	EntityType        string          `json:"entityType"`
	Trigger           ir.TriggerType  `json:"trigger"`
	Triggered         bool            `json:"triggered"`
	ConditionsPassed  bool            `json:"conditionsPassed"`
	ActionsExecuted   bool            `json:"actionsExecuted"`
	StoppedProcessing bool            `json:"stoppedProcessing"`
	ExecutionTimeMs   int64           `json:"executionTimeMs"`
	ExecutedAt        time.Time       `json:"executedAt"`
	Result            json.RawMessage `json:"result"`
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	RuleName    string
	ContextHash string
	Limit       int
}

// WriteExecution records one rule execution and returns the stored record.
//
// The record id is a fresh UUIDv7. The rule hash identifies the exact rule
// definition that ran, and the context hash the event it ran against
// (computed from ec, which should be the context as it was before the pass).
func (s *Store) WriteExecution(ctx context.Context, ec ir.ExecutionContext, res ir.RuleExecutionResult) (ExecutionRecord, error) {
	return s.writeExecution(ctx, s.db, ec, res)
}

func (s *Store) writeExecution(ctx context.Context, ex execer, ec ir.ExecutionContext, res ir.RuleExecutionResult) (ExecutionRecord, error) {
	if res.Rule == nil {
		return ExecutionRecord{}, fmt.Errorf("write execution: result has no rule")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return ExecutionRecord{}, fmt.Errorf("write execution: %w", err)
	}
	ruleHash, err := ir.RuleHash(*res.Rule)
	if err != nil {
		return ExecutionRecord{}, fmt.Errorf("write execution: %w", err)
	}
	contextHash, err := ir.ContextHash(ec)
	if err != nil {
		return ExecutionRecord{}, fmt.Errorf("write execution: %w", err)
	}
	resultJSON, err := marshalResult(res)
	if err != nil {
		return ExecutionRecord{}, fmt.Errorf("write execution: %w", err)
	}

	executedAt := res.Timestamp
	if executedAt.IsZero() {
		executedAt = s.now()
	}

	rec := ExecutionRecord{
		ID:                id.String(),
		RuleName:          res.Rule.Name,
		RuleHash:          ruleHash,
		ContextHash:       contextHash,
		EntityType:        ec.EntityType,
		Trigger:           ec.Trigger,
		Triggered:         res.Triggered,
		ConditionsPassed:  res.ConditionsPassed,
		ActionsExecuted:   res.ActionsExecuted,
		StoppedProcessing: res.StoppedProcessing(),
		ExecutionTimeMs:   res.ExecutionTimeMs,
		ExecutedAt:        executedAt.UTC(),
		Result:            json.RawMessage(resultJSON),
	}

	result, err := ex.ExecContext(ctx, `
		INSERT INTO rule_executions
		(id, rule_name, rule_hash, context_hash, entity_type, trigger_type,
		 triggered, conditions_passed, actions_executed, stopped_processing,
		 result, execution_time_ms, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.RuleName,
		rec.RuleHash,
		rec.ContextHash,
		rec.EntityType,
		string(rec.Trigger),
		boolToInt(rec.Triggered),
		boolToInt(rec.ConditionsPassed),
		boolToInt(rec.ActionsExecuted),
		boolToInt(rec.StoppedProcessing),
		resultJSON,
		rec.ExecutionTimeMs,
		formatTime(rec.ExecutedAt),
	)
	if err != nil {
		return ExecutionRecord{}, fmt.Errorf("write execution: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return ExecutionRecord{}, fmt.Errorf("write execution: %w", err)
	}
	rec.Seq = seq

	return rec, nil
}

// WriteExecutions records the results of one pass in order, in a single
// transaction: either every result is recorded or none is.
func (s *Store) WriteExecutions(ctx context.Context, ec ir.ExecutionContext, results []ir.RuleExecutionResult) ([]ExecutionRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("write executions: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	records := make([]ExecutionRecord, 0, len(results))
	for _, res := range results {
		rec, err := s.writeExecution(ctx, tx, ec, res)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("write executions: commit: %w", err)
	}
	return records, nil
}

// ListExecutions returns stored executions newest first.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]ExecutionRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `
		SELECT seq, id, rule_name, rule_hash, context_hash, entity_type, trigger_type,
		       triggered, conditions_passed, actions_executed, stopped_processing,
		       result, execution_time_ms, executed_at
		FROM rule_executions
		WHERE 1 = 1
	`
	var args []any
	if filter.RuleName != "" {
		query += " AND rule_name = ?"
		args = append(args, filter.RuleName)
	}
	if filter.ContextHash != "" {
		query += " AND context_hash = ?"
		args = append(args, filter.ContextHash)
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}

	// Return empty slice instead of nil
	if records == nil {
		records = []ExecutionRecord{}
	}
	return records, nil
}

func scanExecution(row rowScanner) (ExecutionRecord, error) {
	var (
		rec                                                   ExecutionRecord
		trigger, result, executedAt                           string
		triggered, conditionsPassed, actionsExecuted, stopped int
	)
	err := row.Scan(
		&rec.Seq,
		&rec.ID,
		&rec.RuleName,
		&rec.RuleHash,
		&rec.ContextHash,
		&rec.EntityType,
		&trigger,
		&triggered,
		&conditionsPassed,
		&actionsExecuted,
		&stopped,
		&result,
		&rec.ExecutionTimeMs,
		&executedAt,
	)
	if err != nil {
		return ExecutionRecord{}, fmt.Errorf("scan execution: %w", err)
	}

	rec.ExecutedAt, err = parseTime(executedAt)
	if err != nil {
		return ExecutionRecord{}, fmt.Errorf("scan execution: %w", err)
	}
	rec.Trigger = ir.TriggerType(trigger)
	rec.Triggered = triggered != 0
	rec.ConditionsPassed = conditionsPassed != 0
	rec.ActionsExecuted = actionsExecuted != 0
	rec.StoppedProcessing = stopped != 0
	rec.Result = json.RawMessage(result)

	return rec, nil
}
