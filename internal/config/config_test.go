package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "antidebug.yaml", `
log:
  level: debug
  format: json
monitor:
  min_interval: 1s
  max_interval: 3s
  action: exit
  exit_code: 9
deny_on_start: true
harden: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, time.Second, cfg.Monitor.MinInterval.Duration)
	assert.Equal(t, 3*time.Second, cfg.Monitor.MaxInterval.Duration)
	assert.Equal(t, ActionExit, cfg.Monitor.Action)
	assert.Equal(t, 9, cfg.Monitor.ExitCode)
	assert.True(t, cfg.DenyOnStart)
	assert.True(t, cfg.Harden)
	// Untouched fields keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Monitor.NotifyEvery.Duration)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "antidebug.toml", `
deny_on_start = true

[log]
level = "warn"

[monitor]
min_interval = "2s"
max_interval = "4s"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 2*time.Second, cfg.Monitor.MinInterval.Duration)
	assert.True(t, cfg.DenyOnStart)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "antidebug.ini", "x=1"))
	assert.ErrorContains(t, err, "unsupported config format")

	_, err = Load(writeFile(t, "bad.yaml", "monitor:\n  min_interval: soon\n"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(env(map[string]string{
		"ANTIDEBUG_LOG_LEVEL":         "debug",
		"ANTIDEBUG_MONITOR_ACTION":    "exit",
		"ANTIDEBUG_MONITOR_EXIT_CODE": "3",
		"ANTI_DEBUG":                  "",
	})))
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ActionExit, cfg.Monitor.Action)
	assert.Equal(t, 3, cfg.Monitor.ExitCode)
	assert.True(t, cfg.DenyOnStart)

	cfg = Default()
	require.NoError(t, cfg.ApplyEnv(noEnv))
	assert.False(t, cfg.DenyOnStart)

	assert.Error(t, Default().ApplyEnv(env(map[string]string{"ANTIDEBUG_DENY": "maybe"})))
	assert.Error(t, Default().ApplyEnv(env(map[string]string{"ANTIDEBUG_MONITOR_EXIT_CODE": "x"})))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.Log.Level = "trace" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"zero interval", func(c *Config) { c.Monitor.MinInterval.Duration = 0 }},
		{"inverted interval", func(c *Config) { c.Monitor.MaxInterval.Duration = time.Second }},
		{"action", func(c *Config) { c.Monitor.Action = "explode" }},
		{"exit code", func(c *Config) {
			c.Monitor.Action = ActionExit
			c.Monitor.ExitCode = 300
		}},
		{"harden without deny", func(c *Config) { c.Harden = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
