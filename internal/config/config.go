// Package config holds the settings of the antidebug command.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Action is what the monitor does on detection.
type Action string

const (
	ActionLog  Action = "log"
	ActionExit Action = "exit"
)

// Duration wraps time.Duration so config files can say "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler (TOML, JSON).
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

type MonitorConfig struct {
	MinInterval  Duration `yaml:"min_interval" toml:"min_interval" json:"min_interval"`
	MaxInterval  Duration `yaml:"max_interval" toml:"max_interval" json:"max_interval"`
	NotifyEvery  Duration `yaml:"notify_every" toml:"notify_every" json:"notify_every"`
	Action       Action   `yaml:"action" toml:"action" json:"action"`
	ExitCode     int      `yaml:"exit_code" toml:"exit_code" json:"exit_code"`
	ExitMaxDelay Duration `yaml:"exit_max_delay" toml:"exit_max_delay" json:"exit_max_delay"`
}

type Config struct {
	Log     LogConfig     `yaml:"log" toml:"log" json:"log"`
	Monitor MonitorConfig `yaml:"monitor" toml:"monitor" json:"monitor"`
	// DenyOnStart calls DenyAttach before any command runs.
	DenyOnStart bool `yaml:"deny_on_start" toml:"deny_on_start" json:"deny_on_start"`
	// Harden calls Harden after a successful startup denial.
	Harden  bool   `yaml:"harden" toml:"harden" json:"harden"`
	Version string `yaml:"-" toml:"-" json:"-"` // set from ldflags at build time; empty in dev builds
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Monitor: MonitorConfig{
			MinInterval:  Duration{5 * time.Second},
			MaxInterval:  Duration{10 * time.Second},
			NotifyEvery:  Duration{30 * time.Second},
			Action:       ActionLog,
			ExitCode:     137,
			ExitMaxDelay: Duration{60 * time.Second},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// ApplyEnv overrides fields from ANTIDEBUG_* variables. ANTI_DEBUG, when set
// to anything, enables DenyOnStart.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("ANTIDEBUG_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("ANTIDEBUG_LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
	if v, ok := lookup("ANTIDEBUG_MONITOR_ACTION"); ok && v != "" {
		c.Monitor.Action = Action(v)
	}
	if v, ok := lookup("ANTIDEBUG_MONITOR_EXIT_CODE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ANTIDEBUG_MONITOR_EXIT_CODE: %w", err)
		}
		c.Monitor.ExitCode = n
	}
	if v, ok := lookup("ANTIDEBUG_DENY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ANTIDEBUG_DENY: %w", err)
		}
		c.DenyOnStart = b
	}
	if _, ok := lookup("ANTI_DEBUG"); ok {
		c.DenyOnStart = true
	}
	if v, ok := lookup("ANTIDEBUG_HARDEN"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ANTIDEBUG_HARDEN: %w", err)
		}
		c.Harden = b
	}
	return nil
}

// Validate checks the configuration. Fails fast on the first error.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	m := c.Monitor
	if m.MinInterval.Duration <= 0 {
		return errors.New("monitor min_interval must be positive")
	}
	if m.MaxInterval.Duration < m.MinInterval.Duration {
		return errors.New("monitor max_interval must not be below min_interval")
	}
	if m.NotifyEvery.Duration <= 0 {
		return errors.New("monitor notify_every must be positive")
	}
	switch m.Action {
	case ActionLog:
	case ActionExit:
		if m.ExitCode < 0 || m.ExitCode > 255 {
			return fmt.Errorf("monitor exit_code %d out of range", m.ExitCode)
		}
		if m.ExitMaxDelay.Duration < 0 {
			return errors.New("monitor exit_max_delay must not be negative")
		}
	default:
		return fmt.Errorf("unknown monitor action %q", m.Action)
	}

	if c.Harden && !c.DenyOnStart {
		return errors.New("harden requires deny_on_start")
	}
	return nil
}
