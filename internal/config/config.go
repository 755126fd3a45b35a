package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coffersTech/callspy/internal/engine"
	"github.com/coffersTech/callspy/internal/value"
)

// Config is the on-disk session configuration.
type Config struct {
	// Capacity is the number of log lines kept before the oldest is evicted.
	Capacity int `yaml:"capacity"`
	// MaxDepth bounds nested table rendering in argument text.
	MaxDepth int `yaml:"max_depth"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	ExcludeNames []string `yaml:"exclude_names,omitempty"`
	BlockNames   []string `yaml:"block_names,omitempty"`

	// SnapshotPath is where `dump` and SaveSnapshot write by default.
	// Empty means a per-session file in the working directory.
	SnapshotPath string `yaml:"snapshot_path,omitempty"`
}

var ErrInvalid = errors.New("invalid config")

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Capacity: engine.DefaultCapacity,
		MaxDepth: value.DefaultMaxDepth,
		LogLevel: "info",
	}
}

// WithDefaults fills the unset numeric fields and log level from Default,
// keeping everything else.
func (c Config) WithDefaults() Config {
	d := Default()
	if c.Capacity == 0 {
		c.Capacity = d.Capacity
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	return c
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Save writes cfg as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalid, c.Capacity)
	}
	if c.MaxDepth <= 0 {
		return fmt.Errorf("%w: max_depth must be positive, got %d", ErrInvalid, c.MaxDepth)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level returns the slog level for LogLevel, falling back to info.
func (c Config) Level() slog.Level {
	l, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: unknown log_level %q", ErrInvalid, s)
}
