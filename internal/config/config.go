// Package config loads plenario settings in layers: built-in defaults, an
// optional YAML file, a .env file in the working directory, and PLENARIO_*
// environment variables. Later layers win.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Collector CollectorConfig `yaml:"collector"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Cities    []CityConfig    `yaml:"cities"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	RawDir  string `yaml:"raw_dir"`
}

// CollectorConfig tunes fetching. Durations are Go duration strings
// ("1s", "500ms") parsed where they are consumed.
type CollectorConfig struct {
	MaxPages     int    `yaml:"max_pages"`
	MaxRetries   int    `yaml:"max_retries"`
	BaseBackoff  string `yaml:"base_backoff"`
	FetchTimeout string `yaml:"fetch_timeout"`
	Parallelism  int    `yaml:"parallelism"`
}

type MetricsConfig struct {
	AnomalyThreshold float64 `yaml:"anomaly_threshold"`
}

// CityConfig overrides the built-in transport settings of a registered
// source adapter. Only Name is required; empty fields keep the adapter's
// published defaults.
type CityConfig struct {
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	Token     string `yaml:"token"`
	UserAgent string `yaml:"user_agent"`
	Timeout   string `yaml:"timeout"`
}

func defaults() Config {
	return Config{
		Log:    LogConfig{Level: "info"},
		Server: ServerConfig{Addr: ":4000"},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Collector: CollectorConfig{
			MaxPages:     50,
			MaxRetries:   3,
			BaseBackoff:  "1s",
			FetchTimeout: "30s",
			Parallelism:  4,
		},
		Metrics: MetricsConfig{AnomalyThreshold: 2.0},
	}
}

// Load reads configuration for the given YAML path. An empty path falls
// back to $PLENARIO_CONFIG; when neither is set only defaults, .env and
// environment overrides apply.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("PLENARIO_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	// .env seeds the environment without clobbering variables already set.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not load .env file: %v\n", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q (want debug, info, warn or error)", c.Log.Level)
	}
	for i, city := range c.Cities {
		if city.Name == "" {
			return fmt.Errorf("cities[%d]: name is required", i)
		}
	}
	return nil
}

// City returns the override block for a source name, if one is configured.
func (c Config) City(name string) (CityConfig, bool) {
	for _, ct := range c.Cities {
		if strings.EqualFold(ct.Name, name) {
			return ct, true
		}
	}
	return CityConfig{}, false
}

// SlogLevel maps the configured level name onto slog's scale. Unknown
// names fall back to info; validate rejects them at load time.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DBPath returns the SQLite database location under the data directory.
func (c StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "plenario.db")
}

// RawPath returns where the collector keeps raw payload copies. An
// explicit raw_dir wins over the default data_dir/raw.
func (c StorageConfig) RawPath() string {
	if c.RawDir != "" {
		return c.RawDir
	}
	return filepath.Join(c.DataDir, "raw")
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "plenario-data"
		}
	}
	return filepath.Join(dir, "plenario")
}
