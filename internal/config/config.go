package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ConfigFileName is the TOML config file for user preferences.
const ConfigFileName = "config.toml"

// Config represents user-facing configuration in TOML format.
// All fields are optional; zero values fall back to defaults.
type Config struct {
	// DB defines persistence settings
	DB DBSettings `toml:"db"`

	// Daemon defines the periodic poll driver settings
	Daemon DaemonSettings `toml:"daemon"`

	// Notify defines the change-signal settings
	Notify NotifySettings `toml:"notify"`

	// Log defines structured logging settings
	Log LogSettings `toml:"log"`

	// Status defines activity state detection settings
	Status StatusSettings `toml:"status"`
}

// DBSettings configures the SQLite store.
type DBSettings struct {
	// Path overrides the database location (default ~/.claude/claude-status.db)
	Path string `toml:"path"`
}

// DaemonSettings configures the poll loop.
type DaemonSettings struct {
	// IntervalSecs is the seconds between full passes (default 10)
	IntervalSecs int `toml:"interval_secs"`

	// WatchCatalog enables the fsnotify trigger on the projects directory
	WatchCatalog *bool `toml:"watch_catalog"`
}

// NotifySettings configures the UDP change signal.
type NotifySettings struct {
	// Addr is the UDP target (default 127.0.0.1:25283)
	Addr string `toml:"addr"`
}

// LogSettings configures the rotating debug log.
type LogSettings struct {
	// Level is "debug", "info", "warn", or "error" (default "info")
	Level string `toml:"level"`

	// MaxSizeMB is the rotation threshold (default 10)
	MaxSizeMB int `toml:"max_size_mb"`
}

// StatusSettings configures working/idle inference.
type StatusSettings struct {
	// ActivityThresholdSecs is how fresh a session log must be to count
	// as working (default 5)
	ActivityThresholdSecs int `toml:"activity_threshold_secs"`
}

// Defaults applied when the config file is absent or fields are zero.
const (
	DefaultIntervalSecs          = 10
	DefaultNotifyAddr            = "127.0.0.1:25283"
	DefaultActivityThresholdSecs = 5
)

// StatusDir returns the base claude-status directory (~/.claude-status).
func StatusDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: home directory: %w", err)
	}
	return filepath.Join(homeDir, ".claude-status"), nil
}

// ClaudeConfigDir returns the Claude Code config directory, respecting
// the CLAUDE_CONFIG_DIR env var (default ~/.claude).
func ClaudeConfigDir() string {
	if envDir := os.Getenv("CLAUDE_CONFIG_DIR"); envDir != "" {
		return ExpandTilde(envDir)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".claude")
}

// ProjectsDir returns the Claude Code session catalog root.
func ProjectsDir() string {
	return filepath.Join(ClaudeConfigDir(), "projects")
}

// DBPath resolves the database path. Priority: CLAUDE_STATUS_DB env var,
// [db] path config key, default ~/.claude/claude-status.db.
func (c *Config) DBPath() string {
	if env := os.Getenv("CLAUDE_STATUS_DB"); env != "" {
		return env
	}
	if c != nil && c.DB.Path != "" {
		return ExpandTilde(c.DB.Path)
	}
	return filepath.Join(ClaudeConfigDir(), "claude-status.db")
}

// PollInterval returns the configured daemon interval.
func (c *Config) PollInterval() time.Duration {
	secs := DefaultIntervalSecs
	if c != nil && c.Daemon.IntervalSecs > 0 {
		secs = c.Daemon.IntervalSecs
	}
	return time.Duration(secs) * time.Second
}

// CatalogWatchEnabled reports whether the fsnotify catalog trigger is on.
func (c *Config) CatalogWatchEnabled() bool {
	if c == nil || c.Daemon.WatchCatalog == nil {
		return true
	}
	return *c.Daemon.WatchCatalog
}

// NotifyAddr returns the UDP change-signal target.
func (c *Config) NotifyAddr() string {
	if c != nil && c.Notify.Addr != "" {
		return c.Notify.Addr
	}
	return DefaultNotifyAddr
}

// ActivityThreshold returns how fresh a session log must be for "working".
func (c *Config) ActivityThreshold() time.Duration {
	secs := DefaultActivityThresholdSecs
	if c != nil && c.Status.ActivityThresholdSecs > 0 {
		secs = c.Status.ActivityThresholdSecs
	}
	return time.Duration(secs) * time.Second
}

// Load reads ~/.claude-status/config.toml. A missing file returns a zero
// Config without error; a malformed file returns the error so the CLI can
// report it, but callers on the hook path treat it as a zero Config.
func Load() (*Config, error) {
	dir, err := StatusDir()
	if err != nil {
		return &Config{}, nil
	}
	return LoadFrom(filepath.Join(dir, ConfigFileName))
}

// LoadFrom reads a config file from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return &Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ExpandTilde expands a leading ~/ to the user's home directory.
func ExpandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
