package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rcmflow/internal/compiler"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Strict bool // treat warnings as errors
}

// Finding is one validation finding attributed to the rule document it
// came from.
type Finding struct {
	Source  string `json:"source"`
	Rule    string `json:"rule,omitempty"`
	Code    string `json:"code"`
	Field   string `json:"path"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool      `json:"valid"`
	Files    int       `json:"files"`
	Rules    int       `json:"rules"`
	Errors   []Finding `json:"errors,omitempty"`
	Warnings []Finding `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <rules-dir>",
		Short: "Validate rule files",
		Long: `Validate every rule file (.cue, .json, .yaml, .yml) below a directory.

Each rule is decoded and checked the way it would be before activation:
required fields, trigger shape, condition operators and values, and the
parameters each action type needs. Warnings are reported but do not fail
validation unless --strict is set.

Exit codes:
  0 - All rules valid
  1 - One or more rules invalid
  2 - Command error (directory not found, unparseable file, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "treat warnings as errors")

	return cmd
}

func runValidate(opts *ValidateOptions, rulesDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	// Collect every load error; a broken file should not hide the others.
	loadResult, loadErrors := LoadRules(rulesDir, LoadModeCollectAll)

	// Handle load errors (directory not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		code, message := loadErrorInfo(loadErrors[0])
		return outputValidateError(formatter, code, message, nil)
	}
	if len(loadErrors) > 0 {
		return outputLoadErrors(formatter, loadErrors)
	}

	formatter.VerboseLog("Found %d rule file(s) in %s", loadResult.FileCount, rulesDir)

	result := validateDocuments(loadResult.Documents, formatter)
	result.Files = loadResult.FileCount
	if opts.Strict && len(result.Warnings) > 0 {
		result.Errors = append(result.Errors, result.Warnings...)
		result.Warnings = nil
	}
	result.Valid = len(result.Errors) == 0

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}

	// Output success
	return outputValidateSuccess(formatter, result)
}

// validateDocuments runs activation checks on every decoded document.
// Structural findings were gathered while decoding; action parameter
// checks are added here.
func validateDocuments(docs []compiler.Document, formatter *OutputFormatter) ValidationResult {
	result := ValidationResult{Rules: len(docs)}

	for _, doc := range docs {
		name := ""
		findings := doc.Result
		if doc.Rule != nil {
			name = doc.Rule.Name
			findings = findings.Merge(compiler.ValidateRuleActions(doc.Rule))
		}
		formatter.VerboseLog("Validating %s (%d error(s), %d warning(s))", doc.Source, len(findings.Errors), len(findings.Warnings))

		result.Errors = append(result.Errors, toFindings(doc.Source, name, findings.Errors)...)
		result.Warnings = append(result.Warnings, toFindings(doc.Source, name, findings.Warnings)...)
	}

	return result
}

func toFindings(source, rule string, errs []compiler.ValidationError) []Finding {
	out := make([]Finding, 0, len(errs))
	for _, e := range errs {
		out = append(out, Finding{
			Source:  source,
			Rule:    rule,
			Code:    e.Code,
			Field:   e.Field,
			Message: e.Message,
			Line:    e.Line,
		})
	}
	return out
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	for _, warn := range result.Warnings {
		printFinding(formatter, "warning", warn)
	}
	fmt.Fprintf(w, "\u2713 All rules valid (%d rule(s) in %d file(s))\n", result.Rules, result.Files)
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string, details interface{}) error {
	_ = formatter.Error(code, message, details)
	// Load errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputLoadErrors reports every load error: unreadable files and rule
// names declared twice.
func outputLoadErrors(formatter *OutputFormatter, errs []error) error {
	messages := make([]string, len(errs))
	for i, err := range errs {
		_, messages[i] = loadErrorInfo(err)
	}
	code, _ := loadErrorInfo(errs[0])

	if formatter.Format == "json" {
		_ = formatter.Error(code, fmt.Sprintf("%d load error(s)", len(errs)), messages)
	} else {
		fmt.Fprintln(formatter.Writer, "\u2717 Load failed")
		fmt.Fprintln(formatter.Writer)
		for _, msg := range messages {
			fmt.Fprintf(formatter.Writer, "  %s\n", msg)
		}
	}
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %d load error(s)", code, len(errs)))
}

// outputValidationErrors outputs all findings of a failed validation.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		first := result.Errors[0]
		if err := formatter.Failure(first.Code, first.Message, result); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "\u2717 Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, f := range result.Errors {
		printFinding(formatter, "error", f)
	}
	for _, f := range result.Warnings {
		printFinding(formatter, "warning", f)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}

func printFinding(formatter *OutputFormatter, severity string, f Finding) {
	w := formatter.Writer
	if f.Line > 0 {
		fmt.Fprintf(w, "%s line %d\n", f.Source, f.Line)
	} else {
		fmt.Fprintln(w, f.Source)
	}
	fmt.Fprintf(w, "  %s %s: %s: %s\n\n", severity, f.Code, f.Field, f.Message)
}

// ValidateRulesDir validates all rules in a directory.
// This is a helper function for external callers.
func ValidateRulesDir(rulesDir string) (ValidationResult, error) {
	loadResult, loadErrors := LoadRules(rulesDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return ValidationResult{}, loadErrors[0]
	}

	// Create a silent formatter for validateDocuments
	silentFormatter := &OutputFormatter{Format: "text", Verbose: false}
	result := validateDocuments(loadResult.Documents, silentFormatter)
	result.Files = loadResult.FileCount
	result.Valid = len(result.Errors) == 0
	return result, nil
}
