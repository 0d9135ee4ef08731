package knode

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Option is a function that configures an App
type Option func(*App)

// WithWorkersCount sets how many runs RunAll executes concurrently
var WithWorkersCount = func(n int) Option {
	return func(s *App) {
		s.numWorkers = n
	}
}

// WithLog sets the logger for the application
var WithLog = func(log *slog.Logger) Option {
	return func(s *App) {
		s.log = log
	}
}

// WithScratchDir sets the directory files allocated by nodes are created in.
// Each run gets its own sub-directory. Without it a temporary directory is
// used and removed on Close.
var WithScratchDir = func(dir string) Option {
	return func(s *App) {
		s.scratchDir = dir
	}
}

// NullWriter is a writer that discards all data
type NullWriter struct{}

func (NullWriter) Write(p []byte) (int, error) { return len(p), nil }

// NullLogger creates a logger that discards all output
func NullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(NullWriter{}, nil))
}

// Config is the file representation of App options.
type Config struct {
	Workers    int    `yaml:"workers"`
	ScratchDir string `yaml:"scratch_dir"`
	LogLevel   string `yaml:"log_level"`

	// Inputs holds input overrides keyed by input name, for commands that
	// clone their target nodes from configuration.
	Inputs map[string]any `yaml:"inputs"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML config document.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if _, err := cfg.Level(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Level returns the configured log level, Info if unset.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Options returns the App options the config sets.
func (c *Config) Options() []Option {
	var opts []Option
	if c.Workers > 0 {
		opts = append(opts, WithWorkersCount(c.Workers))
	}
	if c.ScratchDir != "" {
		opts = append(opts, WithScratchDir(c.ScratchDir))
	}
	return opts
}
