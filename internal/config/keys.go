package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	typ   keyType
	env   string
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		typ: kString, env: "PLENARIO_LOG_LEVEL",
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
	{
		typ: kString, env: "PLENARIO_SERVER_ADDR",
		apply: func(cfg *Config, v any) { cfg.Server.Addr = v.(string) },
	},
	{
		typ: kString, env: "PLENARIO_STORAGE_DATA_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		typ: kString, env: "PLENARIO_STORAGE_RAW_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.RawDir = v.(string) },
	},
	{
		typ: kInt, env: "PLENARIO_COLLECTOR_MAX_PAGES",
		apply: func(cfg *Config, v any) { cfg.Collector.MaxPages = v.(int) },
	},
	{
		typ: kInt, env: "PLENARIO_COLLECTOR_MAX_RETRIES",
		apply: func(cfg *Config, v any) { cfg.Collector.MaxRetries = v.(int) },
	},
	{
		typ: kString, env: "PLENARIO_COLLECTOR_BASE_BACKOFF",
		apply: func(cfg *Config, v any) { cfg.Collector.BaseBackoff = v.(string) },
	},
	{
		typ: kString, env: "PLENARIO_COLLECTOR_FETCH_TIMEOUT",
		apply: func(cfg *Config, v any) { cfg.Collector.FetchTimeout = v.(string) },
	},
	{
		typ: kInt, env: "PLENARIO_COLLECTOR_PARALLELISM",
		apply: func(cfg *Config, v any) { cfg.Collector.Parallelism = v.(int) },
	},
	{
		typ: kFloat, env: "PLENARIO_METRICS_ANOMALY_THRESHOLD",
		apply: func(cfg *Config, v any) { cfg.Metrics.AnomalyThreshold = v.(float64) },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
