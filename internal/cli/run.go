package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/rcmflow/internal/compiler"
	"github.com/roach88/rcmflow/internal/engine"
	"github.com/roach88/rcmflow/internal/ir"
	"github.com/roach88/rcmflow/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Event    string
	Database string

	// Clock and IDs allow overriding time and generated ids (for testing).
	// If nil, the engine defaults apply.
	Clock engine.Clock
	IDs   engine.IDGenerator
}

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	Results      []ir.RuleExecutionResult `json:"results"`
	Entity       ir.Object                `json:"entity"`
	ExecutionIDs []string                 `json:"executionIds,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <rules-dir>",
		Short: "Evaluate rules against one event",
		Long: `Evaluate the rules in a directory against one event.

The event file (YAML or JSON) holds an execution context: the trigger, the
entity type, the entity and optionally the previous entity, changed fields,
timestamp and user id. Rules run in priority order; external actions
(notifications, tasks, webhooks...) are recorded rather than performed.

With --db the rules and their execution results are stored in a SQLite
database (created if it doesn't exist) for later inspection with history.

Example:
  rcmflow run ./rules --event ./events/claim-created.yaml
  rcmflow run ./rules --event ./event.json --db ./rcmflow.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Event, "event", "e", "", "path to the event file (required)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (records executions)")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}

func runRules(opts *RunOptions, rulesDir string, cmd *cobra.Command) error {
	logger := opts.logger()
	cfg := opts.settings()

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	rules, err := loadActivationRules(rulesDir)
	if err != nil {
		return err
	}
	logger.Info("rules loaded", "dir", rulesDir, "rules", len(rules))

	ec, err := LoadEvent(opts.Event)
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeInvalidEvent+": invalid event", err)
	}

	registry := engine.NewRegistry()
	if err := engine.RegisterRecordingHandlers(registry, logger); err != nil {
		return WrapExitError(ExitCommandError, "failed to register handlers", err)
	}
	engineOpts := []engine.EngineOption{
		engine.WithLogger(logger),
		engine.WithActionTimeout(cfg.ActionTimeout),
		engine.WithMaxDelay(cfg.MaxDelay),
	}
	if opts.Clock != nil {
		engineOpts = append(engineOpts, engine.WithClock(opts.Clock))
	}
	if opts.IDs != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(opts.IDs))
	}
	eng := engine.New(registry, engineOpts...)

	// Setup signal handling so Ctrl-C abandons remaining rules and delays.
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// History records the event as it arrived, before actions mutate it.
	before := ec
	before.Entity = ir.Clone(ec.Entity).(ir.Object)

	results := eng.ExecuteRules(ctx, rules, &ec)
	logger.Info("rules evaluated", "evaluated", len(results), "entity_type", ec.EntityType, "trigger", ec.Trigger)

	out := RunOutput{Results: results, Entity: ec.Entity}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Database
	}
	if dbPath != "" {
		ids, err := recordExecutions(context.WithoutCancel(ctx), dbPath, rules, before, results)
		if err != nil {
			return err
		}
		out.ExecutionIDs = ids
		logger.Info("executions recorded", "db", dbPath, "count", len(ids))
	}

	if opts.Format == "json" {
		return formatter.Success(out)
	}
	return outputRunText(formatter, out)
}

// loadActivationRules loads a rules directory and refuses to run unless
// every rule passes activation checks.
func loadActivationRules(rulesDir string) ([]ir.WorkflowRule, error) {
	loadResult, loadErrors := LoadRules(rulesDir, LoadModeFailFast)
	if len(loadErrors) > 0 {
		code, message := loadErrorInfo(loadErrors[0])
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
	}

	var invalid []string
	for _, doc := range loadResult.Documents {
		result := doc.Result
		if doc.Rule != nil {
			result = result.Merge(compiler.ValidateRuleActions(doc.Rule))
		}
		for _, e := range result.Errors {
			invalid = append(invalid, fmt.Sprintf("%s: %s", doc.Source, e.Error()))
		}
	}
	if len(invalid) > 0 {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("%s: %d rule error(s), run validate for details: %s",
			ErrCodeInvalidRules, len(invalid), invalid[0]))
	}

	return loadResult.Rules(), nil
}

// recordExecutions stores the rules and one history record per result.
func recordExecutions(ctx context.Context, dbPath string, rules []ir.WorkflowRule, before ir.ExecutionContext, results []ir.RuleExecutionResult) ([]string, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeStore+": failed to open database", err)
	}
	defer st.Close()

	if err := st.SaveRules(ctx, rules); err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeWriteFailed+": failed to save rules", err)
	}
	records, err := st.WriteExecutions(ctx, before, results)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeWriteFailed+": failed to record executions", err)
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	return ids, nil
}

// LoadEvent reads an execution context from a YAML or JSON file. Keys
// follow the JSON form of ir.ExecutionContext (entity, entityType,
// trigger, previousEntity, changedFields, timestamp, userId).
func LoadEvent(path string) (ir.ExecutionContext, error) {
	var ec ir.ExecutionContext

	data, err := os.ReadFile(path)
	if err != nil {
		return ec, fmt.Errorf("read event file: %w", err)
	}

	if compiler.FormatFromPath(path) == compiler.FormatYAML {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return ec, fmt.Errorf("parse event YAML: %w", err)
		}
		v, err := ir.FromAny(raw)
		if err != nil {
			return ec, fmt.Errorf("convert event: %w", err)
		}
		if data, err = ir.MarshalValue(v); err != nil {
			return ec, fmt.Errorf("encode event: %w", err)
		}
	}

	if err := json.Unmarshal(data, &ec); err != nil {
		return ec, fmt.Errorf("decode event: %w", err)
	}
	if ec.Trigger == "" {
		return ec, fmt.Errorf("event: trigger is required")
	}
	if ec.Entity == nil {
		return ec, fmt.Errorf("event: entity is required")
	}
	return ec, nil
}

// outputRunText prints one line per rule and one per attempted action.
func outputRunText(formatter *OutputFormatter, out RunOutput) error {
	w := formatter.Writer

	for _, res := range out.Results {
		name := ""
		if res.Rule != nil {
			name = res.Rule.Name
		}
		switch {
		case !res.Triggered:
			fmt.Fprintf(w, "- %s: not triggered\n", name)
			continue
		case !res.ConditionsPassed:
			fmt.Fprintf(w, "- %s: conditions not met\n", name)
			for _, cr := range res.ConditionResults {
				if cr.Error != "" {
					fmt.Fprintf(w, "    error: %s\n", cr.Error)
				}
			}
			continue
		}

		fmt.Fprintf(w, "\u2713 %s: %d action(s)\n", name, len(res.ActionResults))
		for _, ar := range res.ActionResults {
			if ar.Success {
				fmt.Fprintf(w, "    \u2713 %s\n", ar.Action.Type)
			} else {
				fmt.Fprintf(w, "    \u2717 %s: %s\n", ar.Action.Type, ar.Error)
			}
		}
		if res.StoppedProcessing() {
			fmt.Fprintf(w, "  processing stopped by %s\n", name)
		}
	}

	entity, err := json.MarshalIndent(out.Entity, "", "  ")
	if err != nil {
		return fmt.Errorf("encode entity: %w", err)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Evaluated %d rule(s)\n", len(out.Results))
	if len(out.ExecutionIDs) > 0 {
		fmt.Fprintf(w, "Recorded %d execution(s)\n", len(out.ExecutionIDs))
	}
	fmt.Fprintln(w, "Entity:")
	fmt.Fprintln(w, string(entity))
	return nil
}
