package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rcmflow/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database    string
	Rule        string
	ContextHash string
	Limit       int
}

// HistoryOutput is the JSON payload of the history command.
type HistoryOutput struct {
	Executions []store.ExecutionRecord `json:"executions"`
	Count      int                     `json:"count"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded rule executions",
		Long: `Show rule executions recorded by run --db or the HTTP API.

Executions are listed newest first. Filter by rule name or by the hash of
the event context to see every rule that ran against one event.

Examples:
  rcmflow history --db ./rcmflow.db
  rcmflow history --db ./rcmflow.db --rule high-value-claim --limit 10
  rcmflow history --db ./rcmflow.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Rule, "rule", "", "only executions of this rule")
	cmd.Flags().StringVar(&opts.ContextHash, "context", "", "only executions against this context hash")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", store.DefaultHistoryLimit, "maximum number of executions")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = opts.settings().Database
	}
	if dbPath == "" {
		_ = formatter.Error(ErrCodeStore, "no database given: use --db or set database in the config", nil)
		return NewExitError(ExitCommandError, ErrCodeStore+": no database given")
	}
	if opts.Limit <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --limit %d: must be positive", opts.Limit))
	}

	// Opening would create an empty database
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("database not found: %s", dbPath), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: database not found: %s", ErrCodeNotFound, dbPath))
	}

	st, err := store.Open(dbPath)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, ErrCodeStore+": failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	records, err := st.ListExecutions(ctx, store.ExecutionFilter{
		RuleName:    opts.Rule,
		ContextHash: opts.ContextHash,
		Limit:       opts.Limit,
	})
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, ErrCodeStore+": failed to list executions", err)
	}
	opts.logger().Debug("history listed", "db", dbPath, "count", len(records))

	if opts.Format == "json" {
		return formatter.Success(HistoryOutput{Executions: records, Count: len(records)})
	}

	w := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(w, "No executions recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EXECUTED\tRULE\tTRIGGER\tOUTCOME\tID")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.ExecutedAt.UTC().Format(time.RFC3339), rec.RuleName, rec.Trigger, outcome(rec), rec.ID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d execution(s)\n", len(records))
	return nil
}

// outcome summarises how far a rule got.
func outcome(rec store.ExecutionRecord) string {
	switch {
	case !rec.Triggered:
		return "not triggered"
	case !rec.ConditionsPassed:
		return "conditions not met"
	case rec.StoppedProcessing:
		return "executed, stopped"
	case rec.ActionsExecuted:
		return "executed"
	default:
		return "no actions"
	}
}
