package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/reoring/statefile/config"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
state:
  path: "/var/lib/bot/state.json"
  backup_dir: "/var/lib/bot/old"
  backup_count: 3
  file_mode: "0600"

logging:
  level: debug
  format: json

metrics:
  enabled: true
  addr: ":9100"
`
	cfg := writeAndLoad(t, content)

	if cfg.State.Path != "/var/lib/bot/state.json" {
		t.Errorf("State.Path = %s", cfg.State.Path)
	}
	if cfg.State.BackupDir != "/var/lib/bot/old" {
		t.Errorf("State.BackupDir = %s", cfg.State.BackupDir)
	}
	if cfg.State.BackupCount != 3 {
		t.Errorf("State.BackupCount = %d, want 3", cfg.State.BackupCount)
	}
	if cfg.State.Mode() != 0o600 {
		t.Errorf("State.Mode() = %o, want 600", cfg.State.Mode())
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %s, want /metrics", cfg.Metrics.Path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := writeAndLoad(t, "state:\n  path: data/state.json\n")

	if cfg.State.BackupDir != filepath.Join("data", "backups") {
		t.Errorf("State.BackupDir = %s, want data/backups", cfg.State.BackupDir)
	}
	if cfg.State.BackupCount != 5 {
		t.Errorf("State.BackupCount = %d, want 5", cfg.State.BackupCount)
	}
	if cfg.State.FileMode != "0644" || cfg.State.Mode() != 0o644 {
		t.Errorf("State.FileMode = %q, want 0644", cfg.State.FileMode)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should default to false")
	}
	if cfg.Metrics.Addr != "127.0.0.1:9464" {
		t.Errorf("Metrics.Addr = %s", cfg.Metrics.Addr)
	}
}

func TestLoad_ZeroBackupCountKept(t *testing.T) {
	cfg := writeAndLoad(t, "state:\n  path: s.json\n  backup_count: 0\n")
	if cfg.State.BackupCount != 0 {
		t.Errorf("State.BackupCount = %d, want 0", cfg.State.BackupCount)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("BOT_HOME", "/srv/bot")
	cfg := writeAndLoad(t, "state:\n  path: ${BOT_HOME}/state.json\n")
	if cfg.State.Path != "/srv/bot/state.json" {
		t.Errorf("State.Path = %s", cfg.State.Path)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STATEFILE_PATH", "/tmp/other.json")
	t.Setenv("STATEFILE_BACKUP_COUNT", "9")
	t.Setenv("STATEFILE_LOG_LEVEL", "warn")
	t.Setenv("STATEFILE_METRICS_ENABLED", "yes")

	cfg := writeAndLoad(t, "state:\n  path: s.json\n  backup_count: 2\n")

	if cfg.State.Path != "/tmp/other.json" {
		t.Errorf("State.Path = %s", cfg.State.Path)
	}
	if cfg.State.BackupCount != 9 {
		t.Errorf("State.BackupCount = %d, want 9", cfg.State.BackupCount)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %s", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be set from env")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing path", "logging:\n  level: info\n", "state.path is required"},
		{"negative count", "state:\n  path: s.json\n  backup_count: -2\n", "backup_count"},
		{"bad mode", "state:\n  path: s.json\n  file_mode: rw\n", "state.file_mode"},
		{"mode too wide", "state:\n  path: s.json\n  file_mode: \"01777\"\n", "outside 0777"},
		{"bad level", "state:\n  path: s.json\nlogging:\n  level: loud\n", "logging.level"},
		{"bad format", "state:\n  path: s.json\nlogging:\n  format: xml\n", "logging.format"},
		{"bad metrics path", "state:\n  path: s.json\nmetrics:\n  path: metrics\n", "metrics.path"},
		{"bad yaml", "state: [\n", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := writeAndLoadErr(t, tt.content)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadWithFallback(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	t.Setenv("STATEFILE_PATH", "")
	if _, err := config.LoadWithFallback(missing); err == nil {
		t.Error("expected error without file or env")
	}

	t.Setenv("STATEFILE_PATH", "/tmp/s.json")
	cfg, err := config.LoadWithFallback(missing)
	if err != nil {
		t.Fatalf("LoadWithFallback error: %v", err)
	}
	if cfg.State.Path != "/tmp/s.json" || cfg.State.BackupCount != 5 {
		t.Errorf("State = %+v", cfg.State)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := config.NewLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message should be filtered: %s", out)
	}
	if !strings.Contains(out, `"message":"shown"`) {
		t.Errorf("warn message missing: %s", out)
	}
}

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := writeAndLoadErr(t, content)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return cfg
}

func writeAndLoadErr(t *testing.T, content string) (*config.Config, error) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return config.Load(path)
}

func TestDefault(t *testing.T) {
	cfg := config.Default("/srv/state.json")
	if cfg.State.BackupDir != "/srv/backups" || cfg.State.BackupCount != 5 {
		t.Errorf("State = %+v", cfg.State)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %s", cfg.Logging.Level)
	}
}
