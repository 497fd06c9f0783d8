package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rcmflow/internal/compiler"
	"github.com/roach88/rcmflow/internal/engine"
	"github.com/roach88/rcmflow/internal/ir"
	"github.com/roach88/rcmflow/internal/store"
	"github.com/roach88/rcmflow/internal/testutil"
)

const highValueRule = `{
  "name": "High value claims",
  "trigger": {"type": "on_create", "entityType": "claim"},
  "conditions": [
    {"field": "totalCharges", "operator": "greater_than", "value": 10000}
  ],
  "actions": [
    {"type": "assign_queue", "parameters": {"queueId": "senior_billing"}, "order": 2},
    {"type": "add_note", "parameters": {"content": "Routed {{.entity.id}}"}, "order": 1}
  ],
  "priority": 10,
  "isActive": true
}`

const stopRule = `{
  "name": "Stop early",
  "trigger": {"type": "on_create"},
  "actions": [{"type": "stop_processing", "parameters": {"reason": "done"}}],
  "priority": 1,
  "isActive": true
}`

const claimContext = `{
  "entity": {"id": "CLM-1", "totalCharges": 15000},
  "trigger": "on_create",
  "entityType": "claim",
  "timestamp": "2024-07-01T12:00:00Z"
}`

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	reg := engine.NewRegistry()
	require.NoError(t, engine.RegisterRecordingHandlers(reg, nil))
	return engine.New(reg,
		engine.WithClock(testutil.NewFixedClock(testutil.DefaultNow)),
		engine.WithIDGenerator(testutil.NewSequentialIDs("note")),
	)
}

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(newTestEngine(t), WithStore(st)), st
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// evaluateResult is the subset of EvaluateResponse the tests inspect.
// ir results hold interface values that only decode through the rule
// decoders, so tests read them back loosely.
type evaluateResult struct {
	Results []struct {
		Rule struct {
			Name string `json:"name"`
		} `json:"rule"`
		ActionsExecuted bool `json:"actionsExecuted"`
	} `json:"results"`
	ExecutionIDs []string `json:"executionIds"`
}

func evaluateBody(t *testing.T, rules []string, persist bool) string {
	t.Helper()
	body := map[string]any{"context": json.RawMessage(claimContext)}
	if len(rules) > 0 {
		raw := make([]json.RawMessage, len(rules))
		for i, r := range rules {
			raw[i] = json.RawMessage(r)
		}
		body["rules"] = raw
	}
	if persist {
		body["persist"] = true
	}
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return string(data)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", got["status"])
	assert.Equal(t, true, got["store"])
	assert.Contains(t, got["actionTypes"], "add_note")
	assert.Contains(t, got["actionTypes"], "assign_queue")
}

func TestHealth_StoreClosed(t *testing.T) {
	srv, st := newTestServer(t)
	require.NoError(t, st.Close())

	rec := do(t, srv, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEvaluate_InlineRules(t *testing.T) {
	srv := New(newTestEngine(t))

	rec := do(t, srv, http.MethodPost, "/api/v1/evaluate", evaluateBody(t, []string{highValueRule}, false))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Results []struct {
			Triggered        bool `json:"triggered"`
			ConditionsPassed bool `json:"conditionsPassed"`
			ActionResults    []struct {
				Action  struct{ Type string } `json:"action"`
				Success bool                  `json:"success"`
				Result  map[string]any        `json:"result"`
			} `json:"actionResults"`
		} `json:"results"`
		Entity map[string]any `json:"entity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Len(t, resp.Results, 1)
	res := resp.Results[0]
	assert.True(t, res.Triggered)
	assert.True(t, res.ConditionsPassed)
	require.Len(t, res.ActionResults, 2)
	assert.Equal(t, "add_note", res.ActionResults[0].Action.Type, "order 1 runs first")
	assert.Equal(t, "assign_queue", res.ActionResults[1].Action.Type)
	assert.Equal(t, true, res.ActionResults[1].Result["recorded"])

	notes, ok := resp.Entity["notes"].([]any)
	require.True(t, ok, "entity should carry the appended note")
	require.Len(t, notes, 1)
	assert.Equal(t, "Routed CLM-1", notes[0].(map[string]any)["content"])
}

func TestEvaluate_StopProcessingEndsPass(t *testing.T) {
	srv := New(newTestEngine(t))

	rec := do(t, srv, http.MethodPost, "/api/v1/evaluate", evaluateBody(t, []string{highValueRule, stopRule}, false))
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[evaluateResult](t, rec)
	require.Len(t, got.Results, 1, "priority 1 stop rule runs first and ends the pass")
	assert.Equal(t, "Stop early", got.Results[0].Rule.Name)
}

func TestEvaluate_BadRequests(t *testing.T) {
	srv := New(newTestEngine(t))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty body", "", http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
		{"missing entity", `{"context": {"trigger": "on_create"}, "rules": [` + stopRule + `]}`, http.StatusBadRequest},
		{"missing trigger", `{"context": {"entity": {}}, "rules": [` + stopRule + `]}`, http.StatusBadRequest},
		{"no rules and no store", evaluateBody(t, nil, false), http.StatusBadRequest},
		{"persist without store", evaluateBody(t, []string{stopRule}, true), http.StatusBadRequest},
		{"invalid rule", evaluateBody(t, []string{`{"name": "", "isActive": true}`}, false), http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/v1/evaluate", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestEvaluate_StoredRulesAndHistory(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/rules", highValueRule)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/v1/evaluate", evaluateBody(t, nil, true))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	evaluated := decode[evaluateResult](t, rec)
	require.Len(t, evaluated.Results, 1)
	require.Len(t, evaluated.ExecutionIDs, 1)

	rec = do(t, srv, http.MethodGet, "/api/v1/executions?rule=High+value+claims", "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[struct {
		Executions []store.ExecutionRecord `json:"executions"`
	}](t, rec)
	require.Len(t, history.Executions, 1)
	got := history.Executions[0]
	assert.Equal(t, evaluated.ExecutionIDs[0], got.ID)
	assert.True(t, got.ActionsExecuted)
	assert.NotEmpty(t, got.RuleHash)

	// History fingerprints the event as it arrived, before add_note ran.
	var original ir.ExecutionContext
	require.NoError(t, json.Unmarshal([]byte(claimContext), &original))
	wantHash, err := ir.ContextHash(original)
	require.NoError(t, err)
	assert.Equal(t, wantHash, got.ContextHash)

	var result map[string]any
	require.NoError(t, json.Unmarshal(got.Result, &result))
	assert.Equal(t, "High value claims", result["rule"].(map[string]any)["name"])
}

func TestValidate(t *testing.T) {
	srv := New(newTestEngine(t))

	tests := []struct {
		name      string
		path      string
		body      string
		wantValid bool
		wantCodes []string
	}{
		{"valid", "/api/v1/validate", highValueRule, true, nil},
		{"missing name", "/api/v1/validate", `{"trigger": {"type": "manual"}, "actions": [{"type": "escalate"}], "isActive": true}`, false, []string{compiler.ErrNameRequired}},
		{"malformed", "/api/v1/validate", `[1, 2]`, false, []string{compiler.ErrMalformedRule}},
		{"parameters ignored", "/api/v1/validate", `{"name": "r", "trigger": {"type": "manual"}, "actions": [{"type": "escalate"}], "isActive": true}`, true, nil},
		{"activation checks parameters", "/api/v1/validate?activation=true", `{"name": "r", "trigger": {"type": "manual"}, "actions": [{"type": "escalate"}], "isActive": true}`, false, []string{compiler.ErrMissingParameter, compiler.ErrMissingParameter}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusOK, rec.Code)

			got := decode[compiler.ValidationResult](t, rec)
			assert.Equal(t, tt.wantValid, got.IsValid)
			var codes []string
			for _, e := range got.Errors {
				codes = append(codes, e.Code)
			}
			assert.Equal(t, tt.wantCodes, codes)
		})
	}
}

func TestRules_CRUD(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/rules", highValueRule)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decode[SaveRuleResponse](t, rec)
	assert.Equal(t, "High value claims", saved.Name)
	assert.Len(t, saved.RuleHash, 64)

	rec = do(t, srv, http.MethodPost, "/api/v1/rules", stopRule)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Rules []store.StoredRule `json:"rules"`
	}](t, rec)
	require.Len(t, list.Rules, 2)
	assert.Equal(t, "Stop early", list.Rules[0].Rule.Name, "lower priority first")

	rec = do(t, srv, http.MethodGet, "/api/v1/rules/High%20value%20claims", "")
	require.Equal(t, http.StatusOK, rec.Code)
	one := decode[store.StoredRule](t, rec)
	assert.Equal(t, saved.RuleHash, one.Hash)

	rec = do(t, srv, http.MethodDelete, "/api/v1/rules/High%20value%20claims", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/rules/High%20value%20claims", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/v1/rules/High%20value%20claims", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRules_RejectsInvalid(t *testing.T) {
	srv, st := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/rules",
		`{"name": "r", "trigger": {"type": "manual"}, "actions": [{"type": "send_email", "parameters": {"to": "a@b.test"}}], "isActive": true}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	got := decode[compiler.ValidationResult](t, rec)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "actions[0].parameters.subject", got.Errors[0].Field)

	rules, err := st.ListRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestStoreEndpoints_WithoutStore(t *testing.T) {
	srv := New(newTestEngine(t))

	for _, path := range []string{"/api/v1/rules", "/api/v1/executions"} {
		rec := do(t, srv, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestExecutions_BadLimit(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, limit := range []string{"0", "-1", "ten"} {
		rec := do(t, srv, http.MethodGet, "/api/v1/executions?limit="+limit, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, limit)
	}
}

func TestListenAndServe_Shutdown(t *testing.T) {
	srv := New(newTestEngine(t))
	ctx, cancel := context.WithCancel(context.Background())

	addrCh := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- srv.ListenAndServe(ctx, "127.0.0.1:0", func(a net.Addr) { addrCh <- a })
	}()

	addr := <-addrCh
	resp, err := http.Get("http://" + addr.String() + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
