package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/rcmflow/internal/compiler"
	"github.com/roach88/rcmflow/internal/ir"
)

// LoadMode controls how errors are handled during rule loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the rules decoded from a directory.
type LoadResult struct {
	// Documents holds one entry per rule found, in file order, together
	// with its decode and structural validation findings.
	Documents []compiler.Document
	FileCount int // Number of rule files found
}

// Rules returns the decoded rules whose documents have no errors.
func (r *LoadResult) Rules() []ir.WorkflowRule {
	rules := make([]ir.WorkflowRule, 0, len(r.Documents))
	for _, doc := range r.Documents {
		if doc.Rule != nil && doc.Result.IsValid {
			rules = append(rules, *doc.Rule)
		}
	}
	return rules
}

// LoadError represents an error that occurred while loading rule files.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadRules decodes every rule file below dir.
//
// JSON and YAML files are decoded one by one. CUE files are loaded per
// directory as a single package instance, so rules in one directory may
// share definitions across files.
//
// Documents that decode but fail validation are returned in the result,
// not as errors; errors are reserved for files that cannot be read or
// parsed and for rule names declared twice.
func LoadRules(dir string, mode LoadMode) (*LoadResult, []error) {
	var errs []error

	// Verify directory exists
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("rules directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing rules directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindRuleFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no rule files found in %s", dir)}}
	}

	result := &LoadResult{FileCount: len(files)}
	cueDirs := map[string]bool{}

	for _, path := range files {
		if compiler.FormatFromPath(path) == compiler.FormatCUE {
			pkgDir := filepath.Dir(path)
			if cueDirs[pkgDir] {
				continue
			}
			cueDirs[pkgDir] = true

			docs, loadErr := loadCUEPackage(pkgDir)
			if loadErr != nil {
				errs = append(errs, loadErr)
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			result.Documents = append(result.Documents, docs...)
			continue
		}

		docs, decodeErr := compiler.DecodeFile(path)
		if decodeErr != nil {
			errs = append(errs, &LoadError{Code: ErrCodeLoadFailed, Message: decodeErr.Error()})
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		result.Documents = append(result.Documents, docs...)
	}

	for _, dupErr := range duplicateNames(result.Documents) {
		errs = append(errs, dupErr)
		if mode == LoadModeFailFast {
			return result, errs
		}
	}

	if len(result.Documents) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no rules declared in %s", dir)})
	}

	return result, errs
}

// loadCUEPackage loads the CUE package in dir and decodes its rules.
func loadCUEPackage(dir string) ([]compiler.Document, *LoadError) {
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("%s: no CUE instances loaded", dir)}
	}

	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files in %s: %v", dir, inst.Err)}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, convertCompileError(compiler.FormatCUEError(err), ErrCodeBuildFailed, dir)
	}

	docs, err := compiler.CompileRules(value)
	if err != nil {
		return nil, convertCompileError(err, ErrCodeBuildFailed, dir)
	}
	for i := range docs {
		docs[i].Source = dir + ":" + docs[i].Source
	}
	return docs, nil
}

// duplicateNames reports rule names declared by more than one document.
// Stored rules are keyed by name, so a second declaration would silently
// replace the first.
func duplicateNames(docs []compiler.Document) []error {
	first := map[string]string{}
	var errs []error
	for _, doc := range docs {
		if doc.Rule == nil || doc.Rule.Name == "" {
			continue
		}
		if prev, seen := first[doc.Rule.Name]; seen {
			errs = append(errs, &LoadError{
				Code:    ErrCodeDuplicateRule,
				Message: fmt.Sprintf("rule %q declared in both %s and %s", doc.Rule.Name, prev, doc.Source),
			})
			continue
		}
		first[doc.Rule.Name] = doc.Source
	}
	return errs
}

// ruleExtensions lists the file extensions LoadRules decodes.
var ruleExtensions = []string{".cue", ".json", ".yaml", ".yml"}

// FindRuleFiles walks the directory and returns all rule file paths.
// Directories named testdata or starting with "." are skipped.
func FindRuleFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := info.Name()
			if path != dir && (name == "testdata" || (len(name) > 1 && name[0] == '.')) {
				return filepath.SkipDir
			}
			return nil
		}
		if slices.Contains(ruleExtensions, filepath.Ext(path)) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, code, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    code,
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    code,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// loadErrorInfo extracts the code and message of a loader error.
func loadErrorInfo(err error) (code, message string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Error()
	}
	return ErrCodeGeneric, err.Error()
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeScanError     = "E002" // Directory scan error
	ErrCodeNoFiles       = "E003" // No rule files found
	ErrCodeLoadFailed    = "E004" // Rule file could not be read or parsed
	ErrCodeNotFound      = "E005" // Path not found
	ErrCodeBuildFailed   = "E006" // CUE build failed
	ErrCodeWriteFailed   = "E007" // File or database write error
	ErrCodeDuplicateRule = "E008" // Rule name declared twice
	ErrCodeInvalidEvent  = "E009" // Event file missing or malformed
	ErrCodeStore         = "E010" // Database open or query failed
	ErrCodeInvalidRules  = "E011" // Rules failed validation
)
