package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestDefaults verifies the built-in values when no file or overrides exist.
func TestDefaults(t *testing.T) {
	t.Setenv("PLENARIO_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Server.Addr != ":4000" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":4000")
	}
	if cfg.Collector.MaxPages != 50 {
		t.Errorf("Collector.MaxPages = %d, want 50", cfg.Collector.MaxPages)
	}
	if cfg.Collector.MaxRetries != 3 {
		t.Errorf("Collector.MaxRetries = %d, want 3", cfg.Collector.MaxRetries)
	}
	if cfg.Collector.BaseBackoff != "1s" {
		t.Errorf("Collector.BaseBackoff = %q, want %q", cfg.Collector.BaseBackoff, "1s")
	}
	if cfg.Collector.FetchTimeout != "30s" {
		t.Errorf("Collector.FetchTimeout = %q, want %q", cfg.Collector.FetchTimeout, "30s")
	}
	if cfg.Collector.Parallelism != 4 {
		t.Errorf("Collector.Parallelism = %d, want 4", cfg.Collector.Parallelism)
	}
	if cfg.Metrics.AnomalyThreshold != 2.0 {
		t.Errorf("Metrics.AnomalyThreshold = %v, want 2.0", cfg.Metrics.AnomalyThreshold)
	}
	if filepath.Base(cfg.Storage.DataDir) != "plenario" && cfg.Storage.DataDir != "plenario-data" {
		t.Errorf("Storage.DataDir = %q, want a plenario directory", cfg.Storage.DataDir)
	}
	if len(cfg.Cities) != 0 {
		t.Errorf("Cities = %v, want none", cfg.Cities)
	}
}

// TestLoadYAMLFile verifies file values replace defaults.
func TestLoadYAMLFile(t *testing.T) {
	path := writeTempConfig(t, `log:
  level: debug
server:
  addr: ":8080"
storage:
  data_dir: /var/lib/plenario
collector:
  max_pages: 10
  fetch_timeout: 5s
metrics:
  anomaly_threshold: 2.5
cities:
  - name: florianopolis
    token: override-token
    timeout: 20s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("Server.Addr = %q, want %q", cfg.Server.Addr, ":8080")
	}
	if cfg.Storage.DataDir != "/var/lib/plenario" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/var/lib/plenario")
	}
	if cfg.Collector.MaxPages != 10 {
		t.Errorf("Collector.MaxPages = %d, want 10", cfg.Collector.MaxPages)
	}
	if cfg.Collector.FetchTimeout != "5s" {
		t.Errorf("Collector.FetchTimeout = %q, want %q", cfg.Collector.FetchTimeout, "5s")
	}
	// Untouched keys keep their defaults.
	if cfg.Collector.MaxRetries != 3 {
		t.Errorf("Collector.MaxRetries = %d, want default 3", cfg.Collector.MaxRetries)
	}
	if cfg.Metrics.AnomalyThreshold != 2.5 {
		t.Errorf("Metrics.AnomalyThreshold = %v, want 2.5", cfg.Metrics.AnomalyThreshold)
	}

	city, ok := cfg.City("Florianopolis")
	if !ok {
		t.Fatal("City(Florianopolis) not found, want case-insensitive match")
	}
	if city.Token != "override-token" {
		t.Errorf("city.Token = %q, want %q", city.Token, "override-token")
	}
	if city.Timeout != "20s" {
		t.Errorf("city.Timeout = %q, want %q", city.Timeout, "20s")
	}
	if _, ok := cfg.City("porto-alegre"); ok {
		t.Error("City(porto-alegre) found, want absent")
	}
}

// TestEnvOverridesBeatFile verifies environment variables win over file values.
func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeTempConfig(t, `collector:
  max_pages: 10
`)

	t.Setenv("PLENARIO_COLLECTOR_MAX_PAGES", "7")
	t.Setenv("PLENARIO_LOG_LEVEL", "warn")
	t.Setenv("PLENARIO_METRICS_ANOMALY_THRESHOLD", "1.5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Collector.MaxPages != 7 {
		t.Errorf("Collector.MaxPages = %d, want 7 from env", cfg.Collector.MaxPages)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q from env", cfg.Log.Level, "warn")
	}
	if cfg.Metrics.AnomalyThreshold != 1.5 {
		t.Errorf("Metrics.AnomalyThreshold = %v, want 1.5 from env", cfg.Metrics.AnomalyThreshold)
	}
}

// TestMalformedEnvValueIgnored verifies unparseable numeric overrides keep
// the previous value instead of failing the load.
func TestMalformedEnvValueIgnored(t *testing.T) {
	t.Setenv("PLENARIO_CONFIG", "")
	t.Setenv("PLENARIO_COLLECTOR_MAX_PAGES", "plenty")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Collector.MaxPages != 50 {
		t.Errorf("Collector.MaxPages = %d, want default 50", cfg.Collector.MaxPages)
	}
}

// TestDotEnvFileSeedsEnvironment verifies a .env file in the working
// directory feeds the override layer.
func TestDotEnvFileSeedsEnvironment(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PLENARIO_SERVER_ADDR=:9999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PLENARIO_CONFIG", "")
	oldwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(oldwd) })
	os.Unsetenv("PLENARIO_SERVER_ADDR")
	defer os.Unsetenv("PLENARIO_SERVER_ADDR")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("Server.Addr = %q, want %q from .env", cfg.Server.Addr, ":9999")
	}
}

func TestUnknownLogLevelRejected(t *testing.T) {
	path := writeTempConfig(t, `log:
  level: verbose
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown log level")
	}
	if !strings.Contains(err.Error(), "log level") {
		t.Errorf("error = %v, want mention of log level", err)
	}
}

func TestCityNameRequired(t *testing.T) {
	path := writeTempConfig(t, `cities:
  - base_url: https://example.test
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for city without name")
	}
	if !strings.Contains(err.Error(), "name is required") {
		t.Errorf("error = %v, want mention of required name", err)
	}
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestStorageAccessors(t *testing.T) {
	sc := StorageConfig{DataDir: "/var/lib/plenario"}
	if got := sc.DBPath(); got != filepath.Join("/var/lib/plenario", "plenario.db") {
		t.Errorf("DBPath() = %q", got)
	}
	if got := sc.RawPath(); got != filepath.Join("/var/lib/plenario", "raw") {
		t.Errorf("RawPath() = %q, want data_dir/raw", got)
	}

	sc.RawDir = "/srv/raw"
	if got := sc.RawPath(); got != "/srv/raw" {
		t.Errorf("RawPath() = %q, want explicit raw_dir", got)
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for name, want := range cases {
		if got := (LogConfig{Level: name}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", name, got, want)
		}
	}
}
