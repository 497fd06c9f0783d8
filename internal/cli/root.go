package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roach88/rcmflow/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string
	LogLevel   string
	LogFormat  string

	// Config and Logger are resolved before any subcommand runs. Commands
	// built on their own (as in tests) fall back to the defaults.
	Config *config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the rcmflow CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rcmflow",
		Short: "rcmflow - revenue-cycle workflow rules",
		Long: `A rule engine for revenue-cycle workflows.

Rules are data: each names the event that triggers it, the conditions an
entity must meet and the actions to run. rcmflow validates rule files,
evaluates them against events, replays test scenarios and serves the
engine over HTTP.

Configuration is read from rcmflow.yaml (in the working directory or
$HOME/.rcmflow), RCMFLOW_* environment variables and flags, in
increasing precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.resolve(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default: rcmflow.yaml in . or $HOME/.rcmflow)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")

	// Add subcommands
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// configFlags maps config keys to the flags that override them. Flags a
// command does not declare are skipped.
var configFlags = map[string]string{
	config.KeyLogLevel:   "log-level",
	config.KeyLogFormat:  "log-format",
	config.KeyDatabase:   "db",
	config.KeyRulesDir:   "rules",
	config.KeyListenAddr: "addr",
}

// resolve loads the configuration for cmd and builds the logger.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	flags := make(map[string]*pflag.Flag, len(configFlags))
	for key, name := range configFlags {
		if f := cmd.Flags().Lookup(name); f != nil {
			flags[key] = f
		}
	}

	cfg, err := config.Load(config.Options{File: o.ConfigFile, Flags: flags})
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}
	o.Config = &cfg
	o.Logger = newLogger(cmd.ErrOrStderr(), cfg, o.Verbose)

	if cfg.File != "" {
		o.Logger.Debug("config loaded", "file", cfg.File)
	}
	return nil
}

// settings returns the resolved configuration, or the defaults.
func (o *RootOptions) settings() config.Config {
	if o.Config != nil {
		return *o.Config
	}
	return config.Default()
}

// logger returns the resolved logger, or one that discards everything.
func (o *RootOptions) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// newLogger builds the structured logger for diagnostics. Logs always go
// to w (stderr) so they never mix with command output.
func newLogger(w io.Writer, cfg config.Config, verbose bool) *slog.Logger {
	level := cfg.Level()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
