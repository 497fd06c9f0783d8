package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/rcmflow/internal/ir"
)

// StoredRule is a rule definition together with its storage metadata.
type StoredRule struct {
	Rule      ir.WorkflowRule `json:"rule"`
	Hash      string          `json:"ruleHash"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// SaveRule inserts or replaces the rule with the same name and returns the
// rule hash of the stored definition. Saving an unchanged definition keeps
// the previous updated_at.
func (s *Store) SaveRule(ctx context.Context, rule ir.WorkflowRule) (string, error) {
	return s.upsertRule(ctx, s.db, rule)
}

// SaveRules stores every rule in one transaction. Either all rules are
// stored or none are.
func (s *Store) SaveRules(ctx context.Context, rules []ir.WorkflowRule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, rule := range rules {
		if _, err := s.upsertRule(ctx, tx, rule); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save rules: commit: %w", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsertRule(ctx context.Context, ex execer, rule ir.WorkflowRule) (string, error) {
	if strings.TrimSpace(rule.Name) == "" {
		return "", fmt.Errorf("save rule: name is required")
	}

	hash, err := ir.RuleHash(rule)
	if err != nil {
		return "", fmt.Errorf("save rule %q: %w", rule.Name, err)
	}
	definition, err := marshalRule(rule)
	if err != nil {
		return "", fmt.Errorf("save rule %q: %w", rule.Name, err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO rules (name, rule_hash, definition, priority, is_active, category, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			rule_hash  = excluded.rule_hash,
			definition = excluded.definition,
			priority   = excluded.priority,
			is_active  = excluded.is_active,
			category   = excluded.category,
			updated_at = excluded.updated_at
		WHERE rules.rule_hash != excluded.rule_hash
	`,
		rule.Name,
		hash,
		definition,
		rule.Priority,
		boolToInt(rule.IsActive),
		rule.Category,
		formatTime(s.now()),
	)
	if err != nil {
		return "", fmt.Errorf("save rule %q: %w", rule.Name, err)
	}

	return hash, nil
}

// GetRule returns the stored rule with the given name, or ErrNotFound.
func (s *Store) GetRule(ctx context.Context, name string) (StoredRule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT definition, rule_hash, updated_at
		FROM rules
		WHERE name = ?
	`, name)

	stored, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredRule{}, fmt.Errorf("rule %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return StoredRule{}, err
	}
	return stored, nil
}

// ListRules returns every stored rule ordered by priority, then name.
// Returns an empty slice (not nil) when no rules are stored.
func (s *Store) ListRules(ctx context.Context) ([]StoredRule, error) {
	return s.listRules(ctx, false)
}

// ListActiveRules returns the active rules as an ordered rule set ready for
// Engine.ExecuteRules.
func (s *Store) ListActiveRules(ctx context.Context) ([]ir.WorkflowRule, error) {
	stored, err := s.listRules(ctx, true)
	if err != nil {
		return nil, err
	}
	rules := make([]ir.WorkflowRule, len(stored))
	for i, sr := range stored {
		rules[i] = sr.Rule
	}
	return rules, nil
}

func (s *Store) listRules(ctx context.Context, activeOnly bool) ([]StoredRule, error) {
	query := `
		SELECT definition, rule_hash, updated_at
		FROM rules
	`
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY priority ASC, name COLLATE BINARY ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []StoredRule
	for rows.Next() {
		sr, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}

	// Return empty slice instead of nil
	if rules == nil {
		rules = []StoredRule{}
	}
	return rules, nil
}

// DeleteRule removes a rule. Execution history for the rule is kept.
// Returns ErrNotFound when no rule has that name.
func (s *Store) DeleteRule(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM rules WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete rule %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rule %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("rule %q: %w", name, ErrNotFound)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (StoredRule, error) {
	var definition, hash, updatedAt string
	if err := row.Scan(&definition, &hash, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredRule{}, err
		}
		return StoredRule{}, fmt.Errorf("scan rule: %w", err)
	}

	rule, err := unmarshalRule(definition)
	if err != nil {
		return StoredRule{}, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return StoredRule{}, fmt.Errorf("scan rule: %w", err)
	}
	return StoredRule{Rule: rule, Hash: hash, UpdatedAt: updated}, nil
}
