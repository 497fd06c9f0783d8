package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rcmflow/internal/compiler"
	"github.com/roach88/rcmflow/internal/ir"
)

// Scenario defines a conformance test scenario: a rule set, one event and
// the outcomes the engine must produce for it.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now is the instant the scenario clock is frozen at (RFC 3339 or any
	// supported date layout). Defaults to testutil.DefaultNow.
	Now string `yaml:"now,omitempty"`

	// RuleFiles lists JSON, YAML or CUE rule files.
	// Paths are relative to the scenario file location.
	RuleFiles []string `yaml:"rule_files,omitempty"`

	// Rules are inline rule documents, evaluated after RuleFiles.
	Rules []map[string]any `yaml:"rules,omitempty"`

	// Handlers script the outcome of specific action types.
	Handlers map[string]HandlerStub `yaml:"handlers,omitempty"`

	// Context is the event the rules are executed against.
	Context ContextSpec `yaml:"context"`

	// Assertions validate the trace, the final entity and the history.
	Assertions []Assertion `yaml:"assertions"`
}

// ContextSpec is the YAML form of ir.ExecutionContext.
type ContextSpec struct {
	Trigger        string         `yaml:"trigger"`
	EntityType     string         `yaml:"entity_type"`
	Entity         map[string]any `yaml:"entity"`
	PreviousEntity map[string]any `yaml:"previous_entity,omitempty"`
	ChangedFields  []string       `yaml:"changed_fields,omitempty"`
	Timestamp      string         `yaml:"timestamp,omitempty"`
	UserID         string         `yaml:"user_id,omitempty"`
}

// HandlerStub replaces the handler for one action type. A non-empty Error
// fails the action with that message; otherwise Result is returned.
type HandlerStub struct {
	Result map[string]any `yaml:"result,omitempty"`
	Error  string         `yaml:"error,omitempty"`
}

// Assertion validates one aspect of the run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "rules_evaluated": exactly these rules produced a result, in order
	// - "rule_outcome": flags of one rule's result
	// - "action_result": outcome of one rule's action
	// - "action_count": number of dispatches of an action type
	// - "entity": field values of the final entity
	// - "history_count": execution records stored for a rule
	Type string `yaml:"type"`

	// Rule names the rule (rule_outcome, action_result, history_count).
	Rule string `yaml:"rule,omitempty"`

	// Rules is the expected evaluation order (rules_evaluated).
	Rules []string `yaml:"rules,omitempty"`

	// Action is the action type (action_result, action_count).
	Action string `yaml:"action,omitempty"`

	// Expect holds the expected values. Subset match: only listed keys are
	// checked. Keys are dot-paths for entity assertions.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number (action_count, history_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRulesEvaluated = "rules_evaluated"
	AssertRuleOutcome    = "rule_outcome"
	AssertActionResult   = "action_result"
	AssertActionCount    = "action_count"
	AssertEntity         = "entity"
	AssertHistoryCount   = "history_count"
)

// Keys accepted in rule_outcome and action_result expectations.
var (
	outcomeKeys = []string{"triggered", "conditionsPassed", "actionsExecuted", "stoppedProcessing"}
	actionKeys  = []string{"success", "error", "result"}
)

// LoadScenario reads and parses a scenario YAML file. Rule file paths are
// resolved relative to the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving rule file paths relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve rule paths BEFORE validation
	for i, rulePath := range scenario.RuleFiles {
		if !filepath.IsAbs(rulePath) && basePath != "" {
			scenario.RuleFiles[i] = filepath.Join(basePath, rulePath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.RuleFiles) == 0 && len(s.Rules) == 0 {
		return fmt.Errorf("rule_files or rules is required and must be non-empty")
	}

	if s.Now != "" {
		if _, ok := ir.ParseDate(s.Now); !ok {
			return fmt.Errorf("now: invalid date %q", s.Now)
		}
	}

	for _, rulePath := range s.RuleFiles {
		if _, err := os.Stat(rulePath); os.IsNotExist(err) {
			return fmt.Errorf("rule file not found: %s", rulePath)
		}
	}

	for actionType, stub := range s.Handlers {
		if strings.TrimSpace(actionType) == "" {
			return fmt.Errorf("handlers: action type is required")
		}
		if stub.Error != "" && stub.Result != nil {
			return fmt.Errorf("handlers[%s]: result and error are mutually exclusive", actionType)
		}
	}

	if s.Context.Trigger == "" {
		return fmt.Errorf("context.trigger is required")
	}
	if s.Context.Timestamp != "" {
		if _, ok := ir.ParseDate(s.Context.Timestamp); !ok {
			return fmt.Errorf("context.timestamp: invalid date %q", s.Context.Timestamp)
		}
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRulesEvaluated:
		if a.Rules == nil {
			return fmt.Errorf("assertions[%d]: rules list is required for rules_evaluated", index)
		}
	case AssertRuleOutcome:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for rule_outcome", index)
		}
		if err := checkExpectKeys(index, a, outcomeKeys); err != nil {
			return err
		}
	case AssertActionResult:
		if a.Rule == "" || a.Action == "" {
			return fmt.Errorf("assertions[%d]: rule and action are required for action_result", index)
		}
		if err := checkExpectKeys(index, a, actionKeys); err != nil {
			return err
		}
	case AssertActionCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for action_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for action_count", index)
		}
	case AssertEntity:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for entity", index)
		}
	case AssertHistoryCount:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for history_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for history_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

func checkExpectKeys(index int, a *Assertion, allowed []string) error {
	if len(a.Expect) == 0 {
		return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
	}
	for key := range a.Expect {
		if !slices.Contains(allowed, key) {
			return fmt.Errorf("assertions[%d]: unknown expect key %q for %s (want one of %s)",
				index, key, a.Type, strings.Join(allowed, ", "))
		}
	}
	return nil
}

// LoadRules decodes the scenario's rule files and inline rules, in that
// order. Any rule with validation errors fails the load.
func (s *Scenario) LoadRules() ([]ir.WorkflowRule, error) {
	var docs []compiler.Document
	for _, path := range s.RuleFiles {
		fileDocs, err := compiler.DecodeFile(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, fileDocs...)
	}

	for i, raw := range s.Rules {
		value, err := ir.FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rule, result, _ := compiler.DecodeRuleValue(value)
		docs = append(docs, compiler.Document{
			Source: fmt.Sprintf("rules[%d]", i),
			Rule:   rule,
			Result: result,
		})
	}

	rules := make([]ir.WorkflowRule, 0, len(docs))
	for _, doc := range docs {
		if !doc.Result.IsValid || doc.Rule == nil {
			return nil, fmt.Errorf("%s: %s", doc.Source, describeFindings(doc.Result.Errors))
		}
		rules = append(rules, *doc.Rule)
	}
	return rules, nil
}

func describeFindings(errs []compiler.ValidationError) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// ExecutionContext converts the context spec into the engine's form.
func (c ContextSpec) ExecutionContext() (ir.ExecutionContext, error) {
	ec := ir.ExecutionContext{
		Trigger:       ir.TriggerType(c.Trigger),
		EntityType:    c.EntityType,
		ChangedFields: c.ChangedFields,
		UserID:        c.UserID,
		Entity:        ir.Object{},
	}

	if c.Entity != nil {
		entity, err := ir.ObjectFromMap(c.Entity)
		if err != nil {
			return ir.ExecutionContext{}, fmt.Errorf("context.entity: %w", err)
		}
		ec.Entity = entity
	}
	if c.PreviousEntity != nil {
		prev, err := ir.ObjectFromMap(c.PreviousEntity)
		if err != nil {
			return ir.ExecutionContext{}, fmt.Errorf("context.previous_entity: %w", err)
		}
		ec.PreviousEntity = prev
	}
	if c.Timestamp != "" {
		ts, ok := ir.ParseDate(c.Timestamp)
		if !ok {
			return ir.ExecutionContext{}, fmt.Errorf("context.timestamp: invalid date %q", c.Timestamp)
		}
		ec.Timestamp = ts
	}

	return ec, nil
}

// clockStart returns the instant the scenario clock starts at; zero means
// the default.
func (s *Scenario) clockStart() time.Time {
	if s.Now == "" {
		return time.Time{}
	}
	t, _ := ir.ParseDate(s.Now)
	return t
}
