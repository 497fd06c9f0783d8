package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rcmflow/internal/engine"
	"github.com/roach88/rcmflow/internal/server"
	"github.com/roach88/rcmflow/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr           string
	Database       string
	RulesDir       string
	RequestTimeout time.Duration

	// Ready, when set, receives the bound address once the server
	// listens (for testing with port 0).
	Ready func(net.Addr)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the rule engine over HTTP",
		Long: `Serve the rule engine over HTTP until interrupted.

Rules and execution history live in the SQLite database given by --db
(an in-memory database when none is configured). When the rules directory
exists its rules are validated and stored at startup, replacing stored
rules of the same name.

Routes:
  GET    /api/v1/health
  POST   /api/v1/evaluate
  POST   /api/v1/validate
  GET    /api/v1/rules
  POST   /api/v1/rules
  GET    /api/v1/rules/{name}
  DELETE /api/v1/rules/{name}
  GET    /api/v1/executions

Example:
  rcmflow serve --addr :8080 --db ./rcmflow.db --rules ./rules`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config, :8080)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: in-memory)")
	cmd.Flags().StringVar(&opts.RulesDir, "rules", "", "rules directory loaded at startup (default from config, ./rules)")
	cmd.Flags().DurationVar(&opts.RequestTimeout, "request-timeout", 60*time.Second, "per-request timeout (0 disables)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := opts.logger()
	cfg := opts.settings()

	addr := firstNonEmpty(opts.Addr, cfg.ListenAddr)
	dbPath := firstNonEmpty(opts.Database, cfg.Database, ":memory:")
	rulesDir := firstNonEmpty(opts.RulesDir, cfg.RulesDir)

	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, ErrCodeStore+": failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()
	logger.Info("database ready", "path", dbPath)

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A rules directory named explicitly must exist; the configured
	// default is only used when present.
	explicit := cmd.Flags().Changed("rules")
	if _, statErr := os.Stat(rulesDir); rulesDir != "" && (explicit || statErr == nil) {
		rules, err := loadActivationRules(rulesDir)
		if err != nil {
			return err
		}
		if err := st.SaveRules(ctx, rules); err != nil {
			return WrapExitError(ExitCommandError, ErrCodeWriteFailed+": failed to save rules", err)
		}
		logger.Info("rules loaded", "dir", rulesDir, "rules", len(rules))
	}

	registry := engine.NewRegistry()
	if err := engine.RegisterRecordingHandlers(registry, logger); err != nil {
		return WrapExitError(ExitCommandError, "failed to register handlers", err)
	}
	eng := engine.New(registry,
		engine.WithLogger(logger),
		engine.WithActionTimeout(cfg.ActionTimeout),
		engine.WithMaxDelay(cfg.MaxDelay),
	)

	srv := server.New(eng,
		server.WithStore(st),
		server.WithLogger(logger),
		server.WithRequestTimeout(opts.RequestTimeout),
	)

	ready := func(a net.Addr) {
		fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", a)
		fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
		if opts.Ready != nil {
			opts.Ready(a)
		}
	}

	if err := srv.ListenAndServe(ctx, addr, ready); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
