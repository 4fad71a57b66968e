// Package config provides configuration loading and validation for the
// statefile command and for programs embedding a store.
package config

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// unsetCount marks a backup count that neither the file nor the environment
// provided, since 0 is meaningful.
const unsetCount = -1 << 31

// Config is the root configuration structure.
type Config struct {
	State   StateConfig   `yaml:"state"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StateConfig locates the state file and its backups.
type StateConfig struct {
	Path        string `yaml:"path"`
	BackupDir   string `yaml:"backup_dir"`
	BackupCount int    `yaml:"backup_count"`
	FileMode    string `yaml:"file_mode"` // octal permissions of the written file
}

// Mode returns the parsed FileMode, or 0644 when it is not valid octal.
func (c StateConfig) Mode() fs.FileMode {
	m, err := parseMode(c.FileMode)
	if err != nil {
		return 0o644
	}
	return m
}

func parseMode(s string) (fs.FileMode, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "0o"), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal mode %q", s)
	}
	if n > 0o777 {
		return 0, fmt.Errorf("mode %q has bits outside 0777", s)
	}
	return fs.FileMode(n), nil
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file. ${VAR} references are expanded
// before parsing and STATEFILE_* variables override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	cfg := Config{State: StateConfig{BackupCount: unsetCount}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	STATEFILE_PATH            - State file path (required)
//	STATEFILE_BACKUP_DIR      - Backup directory (default: <dir of path>/backups)
//	STATEFILE_BACKUP_COUNT    - Backups to keep, 0 disables (default: 5)
//	STATEFILE_FILE_MODE       - Octal permissions of the state file (default: 0644)
//	STATEFILE_LOG_LEVEL       - Log level: debug, info, warn, error (default: info)
//	STATEFILE_LOG_FORMAT      - Log format: json or console (default: console)
//	STATEFILE_METRICS_ENABLED - Serve /metrics while watching (default: false)
//	STATEFILE_METRICS_ADDR    - Metrics listen address (default: 127.0.0.1:9464)
func LoadFromEnv() (*Config, error) {
	cfg := Config{State: StateConfig{BackupCount: unsetCount}}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadWithFallback loads path when it exists and falls back to the
// environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	if os.Getenv("STATEFILE_PATH") != "" {
		return LoadFromEnv()
	}
	return nil, fmt.Errorf("no configuration found: provide a config file or set STATEFILE_PATH")
}

// Default returns the configuration for the state file at path with every
// other setting at its default.
func Default(path string) *Config {
	cfg := Config{State: StateConfig{Path: path, BackupCount: unsetCount}}
	setDefaults(&cfg)
	return &cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STATEFILE_PATH"); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv("STATEFILE_BACKUP_DIR"); v != "" {
		cfg.State.BackupDir = v
	}
	if v := os.Getenv("STATEFILE_BACKUP_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.State.BackupCount = n
		}
	}
	if v := os.Getenv("STATEFILE_FILE_MODE"); v != "" {
		cfg.State.FileMode = v
	}

	if v := os.Getenv("STATEFILE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STATEFILE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("STATEFILE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("STATEFILE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.State.BackupDir == "" && cfg.State.Path != "" {
		cfg.State.BackupDir = defaultBackupDir(cfg.State.Path)
	}
	if cfg.State.BackupCount == unsetCount {
		cfg.State.BackupCount = 5
	}
	if cfg.State.FileMode == "" {
		cfg.State.FileMode = "0644"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9464"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// defaultBackupDir places backups next to the state file.
func defaultBackupDir(path string) string {
	return filepath.Join(filepath.Dir(path), "backups")
}

func validate(cfg *Config) error {
	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.State.BackupCount < 0 {
		return fmt.Errorf("state.backup_count must be >= 0, got %d", cfg.State.BackupCount)
	}
	if _, err := parseMode(cfg.State.FileMode); err != nil {
		return fmt.Errorf("state.file_mode: %w", err)
	}
	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", cfg.Metrics.Path)
	}
	return nil
}

// NewLogger builds a logger writing to w according to c. An unknown level
// falls back to info.
func NewLogger(c LoggingConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if c.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
