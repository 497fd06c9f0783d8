// Package config loads rcmflow settings from a config file, RCMFLOW_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// AppName is the config file base name and home directory suffix.
	AppName = "rcmflow"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "RCMFLOW"
)

// Keys understood by Load.
const (
	KeyLogLevel      = "log_level"
	KeyLogFormat     = "log_format"
	KeyDatabase      = "database"
	KeyRulesDir      = "rules_dir"
	KeyListenAddr    = "listen_addr"
	KeyActionTimeout = "action_timeout"
	KeyMaxDelay      = "max_delay"
)

// Config holds the application configuration.
type Config struct {
	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
	Database      string        `mapstructure:"database"`
	RulesDir      string        `mapstructure:"rules_dir"`
	ListenAddr    string        `mapstructure:"listen_addr"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`

	// File is the config file that was read, or "" when none was found.
	File string `mapstructure:"-"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		LogLevel:      "info",
		LogFormat:     "text",
		Database:      "",
		RulesDir:      "rules",
		ListenAddr:    ":8080",
		ActionTimeout: 30 * time.Second,
		MaxDelay:      5 * time.Minute,
	}
}

// Options controls where Load looks.
type Options struct {
	// File is an explicit config file. When empty, rcmflow.yaml is searched
	// for in SearchPaths.
	File string

	// SearchPaths defaults to "." and $HOME/.rcmflow.
	SearchPaths []string

	// Flags maps config keys to command-line flags. A flag only overrides
	// the file and environment when it was set explicitly.
	Flags map[string]*pflag.Flag
}

// Load resolves the configuration.
func Load(opts Options) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if opts.File != "" {
		v.SetConfigFile(opts.File)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		for _, p := range searchPaths(opts.SearchPaths) {
			v.AddConfigPath(p)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, flag := range opts.Flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return Config{}, fmt.Errorf("bind flag %q: %w", key, err)
		}
	}

	file := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		file = v.ConfigFileUsed()
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.File = file

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values viper cannot type-check.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: %s must be text or json, got %q", KeyLogFormat, c.LogFormat)
	}
	if c.ActionTimeout < 0 {
		return fmt.Errorf("config: %s must not be negative", KeyActionTimeout)
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("config: %s must not be negative", KeyMaxDelay)
	}
	return nil
}

// Level returns the configured slog level.
func (c Config) Level() slog.Level {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// ParseLevel parses debug, info, warn or error (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("config: invalid %s %q", KeyLogLevel, s)
	}
	return level, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
	v.SetDefault(KeyDatabase, d.Database)
	v.SetDefault(KeyRulesDir, d.RulesDir)
	v.SetDefault(KeyListenAddr, d.ListenAddr)
	v.SetDefault(KeyActionTimeout, d.ActionTimeout)
	v.SetDefault(KeyMaxDelay, d.MaxDelay)
}

func searchPaths(paths []string) []string {
	if len(paths) > 0 {
		return paths
	}
	out := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, "."+AppName))
	}
	return out
}
