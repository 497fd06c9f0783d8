package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/rcmflow/internal/compiler"
	"github.com/roach88/rcmflow/internal/ir"
	"github.com/roach88/rcmflow/internal/store"
)

// EvaluateRequest is the body of POST /api/v1/evaluate.
//
// When Rules is empty the active rules from the store are evaluated.
// Persist records each result in the execution history.
type EvaluateRequest struct {
	Context ir.ExecutionContext `json:"context"`
	Rules   []json.RawMessage   `json:"rules,omitempty"`
	Persist bool                `json:"persist,omitempty"`
}

// EvaluateResponse is returned by POST /api/v1/evaluate.
// Entity is the entity after every action ran.
type EvaluateResponse struct {
	Results        []ir.RuleExecutionResult `json:"results"`
	Entity         ir.Object                `json:"entity"`
	ExecutionIDs   []string                 `json:"executionIds,omitempty"`
	EvaluationTime string                   `json:"evaluationTime"`
}

// RuleDocumentResult reports one inline rule that failed validation.
type RuleDocumentResult struct {
	Index  int                       `json:"index"`
	Result compiler.ValidationResult `json:"result"`
}

// SaveRuleResponse is returned by POST /api/v1/rules.
type SaveRuleResponse struct {
	Name     string                    `json:"name"`
	RuleHash string                    `json:"ruleHash"`
	Result   compiler.ValidationResult `json:"result"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":      "healthy",
		"actionTypes": s.engine.Registry().Types(),
		"store":       s.store != nil,
	}
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Context.Entity == nil {
		respondError(w, http.StatusBadRequest, "context.entity is required", nil)
		return
	}
	if req.Context.Trigger == "" {
		respondError(w, http.StatusBadRequest, "context.trigger is required", nil)
		return
	}
	if req.Persist && s.store == nil {
		respondError(w, http.StatusBadRequest, "persist requires a rule store", nil)
		return
	}

	var rules []ir.WorkflowRule
	switch {
	case len(req.Rules) > 0:
		decoded, failures := decodeInlineRules(req.Rules)
		if len(failures) > 0 {
			respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error": "invalid rules",
				"rules": failures,
			})
			return
		}
		rules = decoded
	case s.store != nil:
		active, err := s.store.ListActiveRules(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to load rules", err)
			return
		}
		rules = active
	default:
		respondError(w, http.StatusBadRequest, "rules are required when no rule store is configured", nil)
		return
	}

	// History records the event as it arrived, before actions mutate it.
	before := req.Context
	before.Entity = ir.Clone(req.Context.Entity).(ir.Object)

	start := time.Now()
	ec := req.Context
	results := s.engine.ExecuteRules(r.Context(), rules, &ec)

	resp := EvaluateResponse{
		Results:        results,
		Entity:         ec.Entity,
		EvaluationTime: time.Since(start).String(),
	}

	if req.Persist {
		records, err := s.store.WriteExecutions(r.Context(), before, results)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to record executions", err)
			return
		}
		for _, rec := range records {
			resp.ExecutionIDs = append(resp.ExecutionIDs, rec.ID)
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// decodeInlineRules decodes and validates each rule document. Rules must
// pass activation checks to be evaluated.
func decodeInlineRules(docs []json.RawMessage) ([]ir.WorkflowRule, []RuleDocumentResult) {
	var rules []ir.WorkflowRule
	var failures []RuleDocumentResult
	for i, doc := range docs {
		rule, result, err := compiler.DecodeRuleJSON(doc)
		if err == nil {
			result = result.Merge(compiler.ValidateRuleActions(rule))
		}
		if err != nil || !result.IsValid {
			failures = append(failures, RuleDocumentResult{Index: i, Result: result})
			continue
		}
		rules = append(rules, *rule)
	}
	return rules, failures
}

// handleValidate validates one rule document. Invalid rules are a normal
// 200 response; ?activation=true adds the action parameter checks.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, result, err := compiler.DecodeRuleJSON(body)
	if err == nil && r.URL.Query().Get("activation") == "true" {
		result = result.Merge(compiler.ValidateRuleActions(rule))
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.ListRules(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	rule, err := s.store.GetRule(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// handleSaveRule stores a rule that passes activation checks.
func (s *Server) handleSaveRule(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, result, err := compiler.DecodeRuleJSON(body)
	if err == nil {
		result = result.Merge(compiler.ValidateRuleActions(rule))
	}
	if err != nil || !result.IsValid {
		respondJSON(w, http.StatusUnprocessableEntity, result)
		return
	}

	hash, err := s.store.SaveRule(r.Context(), *rule)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, SaveRuleResponse{
		Name:     rule.Name,
		RuleHash: hash,
		Result:   result,
	})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	err := s.store.DeleteRule(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "rule not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	filter := store.ExecutionFilter{
		RuleName:    r.URL.Query().Get("rule"),
		ContextHash: r.URL.Query().Get("context"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		filter.Limit = limit
	}

	records, err := s.store.ListExecutions(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list executions", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"executions": records})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	return body, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck // client went away
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}
