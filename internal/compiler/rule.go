package compiler

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/rcmflow/internal/ir"
)

// Format names a rule document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatFromPath infers the document format from a file extension.
// Returns "" for unrecognised extensions.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	case ".cue":
		return FormatCUE
	default:
		return ""
	}
}

// Document is one decoded rule together with its validation findings.
// Rule is nil when the document could not be decoded at all.
type Document struct {
	Source string           `json:"source"`
	Rule   *ir.WorkflowRule `json:"rule,omitempty"`
	Result ValidationResult `json:"result"`
}

// DecodeRuleJSON decodes a single rule from JSON.
func DecodeRuleJSON(data []byte) (*ir.WorkflowRule, ValidationResult, error) {
	doc, err := ir.UnmarshalValue(data)
	if err != nil {
		return malformed(fmt.Errorf("parse JSON: %w", err))
	}
	return DecodeRuleValue(doc)
}

// DecodeRuleYAML decodes a single rule from YAML.
func DecodeRuleYAML(data []byte) (*ir.WorkflowRule, ValidationResult, error) {
	doc, err := parseYAML(data)
	if err != nil {
		return malformed(err)
	}
	return DecodeRuleValue(doc)
}

func parseYAML(data []byte) (ir.Value, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	doc, err := ir.FromAny(raw)
	if err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return doc, nil
}

// DecodeRuleValue decodes a rule from a dynamic document.
//
// Shape problems the typed rule cannot represent are reported here and the
// offending keys are dropped before decoding:
//   - priority present but not an integer number: E208 (priority defaults to 0)
//   - isActive missing or not a bool: W202 (isActive defaults to false)
//
// The remaining findings come from ValidateRule. A non-nil error means the
// document could not be decoded; the result then holds a single E200.
func DecodeRuleValue(doc ir.Value) (*ir.WorkflowRule, ValidationResult, error) {
	obj, ok := doc.(ir.Object)
	if !ok {
		return malformed(fmt.Errorf("rule document must be an object, got %s", ir.KindOf(doc)))
	}
	obj = ir.Clone(obj).(ir.Object)

	var errs, warnings []ValidationError

	// E208: priority must be a number
	if p, present := obj["priority"]; present {
		n, isNumber := p.(ir.Number)
		if !isNumber || float64(n) != math.Trunc(float64(n)) || math.IsInf(float64(n), 0) {
			errs = append(errs, ValidationError{
				Field:   "priority",
				Message: fmt.Sprintf("priority must be an integer number, got %s", ir.Describe(p)),
				Code:    ErrPriorityNotNumber,
			})
			delete(obj, "priority")
		}
	}

	// W202: isActive should be a boolean
	if a, present := obj["isActive"]; !present {
		warnings = append(warnings, ValidationError{
			Field:   "isActive",
			Message: "isActive is missing, rule defaults to inactive",
			Code:    WarnIsActiveNotBool,
		})
	} else if _, isBool := a.(ir.Bool); !isBool {
		warnings = append(warnings, ValidationError{
			Field:   "isActive",
			Message: fmt.Sprintf("isActive must be a boolean, got %s; rule defaults to inactive", ir.Describe(a)),
			Code:    WarnIsActiveNotBool,
		})
		delete(obj, "isActive")
	}

	data, err := ir.MarshalValue(obj)
	if err != nil {
		return malformed(fmt.Errorf("encode rule document: %w", err))
	}

	var rule ir.WorkflowRule
	if err := json.Unmarshal(data, &rule); err != nil {
		return malformed(fmt.Errorf("decode rule: %w", err))
	}

	result := newResult(errs, warnings).Merge(ValidateRule(&rule))
	return &rule, result, nil
}

func malformed(err error) (*ir.WorkflowRule, ValidationResult, error) {
	return nil, newResult([]ValidationError{{
		Field:   "rule",
		Message: err.Error(),
		Code:    ErrMalformedRule,
	}}, nil), err
}

// DecodeDocuments decodes every rule in a JSON or YAML file. The top level
// may be a single rule, a list of rules, or an object with a "rules" list.
// Rules that fail to decode are returned as Documents with a nil Rule; the
// error is reserved for files that do not parse.
func DecodeDocuments(data []byte, format Format, source string) ([]Document, error) {
	var doc ir.Value
	var err error
	switch format {
	case FormatJSON:
		doc, err = ir.UnmarshalValue(data)
	case FormatYAML:
		doc, err = parseYAML(data)
	default:
		return nil, fmt.Errorf("%s: unsupported format %q", source, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	var entries ir.List
	switch v := doc.(type) {
	case ir.List:
		entries = v
	case ir.Object:
		if list, ok := v["rules"].(ir.List); ok {
			entries = list
		} else {
			entries = ir.List{v}
		}
	default:
		return nil, fmt.Errorf("%s: expected a rule, a list of rules or {rules: [...]}, got %s", source, ir.KindOf(doc))
	}

	docs := make([]Document, 0, len(entries))
	for i, entry := range entries {
		rule, result, _ := DecodeRuleValue(entry)
		src := source
		if len(entries) > 1 {
			src = fmt.Sprintf("%s[%d]", source, i)
		}
		docs = append(docs, Document{Source: src, Rule: rule, Result: result})
	}
	return docs, nil
}

// CompileRule decodes a CUE value into a rule. Uses the CUE SDK's Go API
// directly (not a CLI subprocess).
//
// The CUE value should be the rule struct itself; its label names the rule
// when it has no name field:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`rule: "high-charge": { trigger: type: "on_create", ... }`)
//	rule, result, err := CompileRule(v.LookupPath(cue.ParsePath(`rule."high-charge"`)))
//
// Findings carry the CUE source line of the offending field when known.
func CompileRule(v cue.Value) (*ir.WorkflowRule, ValidationResult, error) {
	if err := v.Err(); err != nil {
		return malformed(FormatCUEError(err))
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return malformed(FormatCUEError(err))
	}

	data, err := v.MarshalJSON()
	if err != nil {
		return malformed(FormatCUEError(err))
	}
	doc, err := ir.UnmarshalValue(data)
	if err != nil {
		return malformed(err)
	}

	if obj, ok := doc.(ir.Object); ok {
		if _, named := obj["name"]; !named {
			if label := ruleLabel(v); label != "" {
				obj["name"] = ir.String(label)
			}
		}
	}

	rule, result, err := DecodeRuleValue(doc)
	annotateLines(v, result.Errors)
	annotateLines(v, result.Warnings)
	return rule, result, err
}

// CompileRules decodes every rule declared under the top-level "rule" field.
func CompileRules(root cue.Value) ([]Document, error) {
	rulesVal := root.LookupPath(cue.ParsePath("rule"))
	if !rulesVal.Exists() {
		return nil, nil
	}

	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, FormatCUEError(err)
	}

	var docs []Document
	for iter.Next() {
		rule, result, _ := CompileRule(iter.Value())
		docs = append(docs, Document{
			Source: "rule." + iter.Label(),
			Rule:   rule,
			Result: result,
		})
	}
	return docs, nil
}

// ruleLabel returns the last path selector of v, unquoted.
func ruleLabel(v cue.Value) string {
	labels := v.Path().Selectors()
	if len(labels) == 0 {
		return ""
	}
	return strings.Trim(labels[len(labels)-1].String(), `"`)
}

// annotateLines sets Line on findings whose field resolves inside v.
func annotateLines(v cue.Value, findings []ValidationError) {
	for i := range findings {
		pos := fieldPos(v, findings[i].Field)
		if pos.IsValid() {
			findings[i].Line = pos.Line()
		}
	}
}

// fieldPos finds the position of the deepest existing prefix of field.
func fieldPos(v cue.Value, field string) token.Pos {
	pos := v.Pos()
	segs := strings.Split(field, ".")
	for n := len(segs); n > 0; n-- {
		p := cue.ParsePath(strings.Join(segs[:n], "."))
		if p.Err() != nil {
			continue
		}
		if fv := v.LookupPath(p); fv.Exists() && fv.Pos().IsValid() {
			return fv.Pos()
		}
	}
	return pos
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// FormatCUEError converts the first of a set of CUE errors into a
// CompileError carrying its source position.
func FormatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
