// Package store provides SQLite-backed storage for rule definitions and
// rule execution history.
//
// Two tables are kept:
//   - rules: one row per rule name holding the canonical JSON definition
//     and its content hash
//   - rule_executions: append-only history of RuleExecutionResults,
//     each tagged with the hash of the rule version that produced it
//
// # Ordering
//
// History is ordered by the seq column (insertion order), never by wall
// clock, so two executions recorded in the same millisecond still list
// deterministically. Rules list by priority, then name.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Rule hashes are computed by ir.RuleHash using RFC 8785 canonical JSON and
// SHA-256 with domain separation.
package store
