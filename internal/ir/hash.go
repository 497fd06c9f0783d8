package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainRule    = "rcmflow/rule/v1"
	DomainContext = "rcmflow/context/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RuleHash fingerprints a rule definition. Two rules with the same
// canonical JSON hash identically regardless of field or key order.
// The ID field is excluded so a rule keeps its hash across stores.
func RuleHash(rule WorkflowRule) (string, error) {
	rule.ID = ""
	canonical, err := CanonicalJSON(rule)
	if err != nil {
		return "", fmt.Errorf("RuleHash: %w", err)
	}
	return hashWithDomain(DomainRule, canonical), nil
}

// ContextHash fingerprints the entity state an execution started from.
func ContextHash(ec ExecutionContext) (string, error) {
	canonical, err := CanonicalJSON(ec)
	if err != nil {
		return "", fmt.Errorf("ContextHash: %w", err)
	}
	return hashWithDomain(DomainContext, canonical), nil
}

// MustRuleHash is like RuleHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustRuleHash(rule WorkflowRule) string {
	h, err := RuleHash(rule)
	if err != nil {
		panic(err)
	}
	return h
}
