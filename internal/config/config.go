// Package config holds the run configuration of the migration and loads it
// from defaults, an optional YAML file, the environment and CLI flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Defaults.
const (
	DefaultOutputDir   = "output"
	DefaultBaseURL     = "https://api.hubapi.com"
	DefaultPageLimit   = 100
	DefaultMaxRetries  = 3
	DefaultStoreKind   = "sqlite"
	DefaultLogLevel    = "info"
	DefaultMetricsJob  = "hs2sf"
	DefaultMetricsKind = "none"
)

// EnvPrefix prefixes every environment override, e.g.
// HS2SF_HUBSPOT__PAGE_LIMIT sets hubspot.page_limit. A double underscore
// separates nesting levels.
const EnvPrefix = "HS2SF_"

// TokenEnv is read for the HubSpot token in addition to HS2SF_TOKEN.
const TokenEnv = "HUBSPOT_TOKEN"

// Config is the full run configuration.
type Config struct {
	// OutputDir receives the import files. It must be empty or absent.
	OutputDir string `koanf:"output_dir"`

	// Token is the HubSpot private app token. When empty the CLI prompts.
	Token string `koanf:"token"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// StrictRequired treats only null as a missing required value; an empty
	// string then passes.
	StrictRequired bool `koanf:"strict_required"`

	// KeepIntermediates skips removing the downloaded row files and the
	// local company store after the build.
	KeepIntermediates bool `koanf:"keep_intermediates"`

	HubSpot HubSpot `koanf:"hubspot"`
	Store   Store   `koanf:"store"`
	Metrics Metrics `koanf:"metrics"`
}

// HubSpot configures the API client.
type HubSpot struct {
	BaseURL        string        `koanf:"base_url"`
	PageLimit      int           `koanf:"page_limit"`
	MaxRetries     int           `koanf:"max_retries"`
	Timeout        time.Duration `koanf:"timeout"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

// Store selects the company store backend. An empty DSN with kind sqlite
// places the store inside the output directory.
type Store struct {
	Kind string `koanf:"kind"`
	DSN  string `koanf:"dsn"`
}

// Local reports whether the store is the sqlite file in the output
// directory.
func (s Store) Local() bool {
	return s.Kind == DefaultStoreKind && s.DSN == ""
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is none, prompush or datadog.
	Backend        string `koanf:"backend"`
	PushgatewayURL string `koanf:"pushgateway_url"`
	Job            string `koanf:"job"`
	DatadogAddr    string `koanf:"datadog_addr"`
	Namespace      string `koanf:"namespace"`
}

func defaults() map[string]any {
	return map[string]any{
		"output_dir":              DefaultOutputDir,
		"log_level":               DefaultLogLevel,
		"strict_required":         false,
		"keep_intermediates":      false,
		"hubspot.base_url":        DefaultBaseURL,
		"hubspot.page_limit":      DefaultPageLimit,
		"hubspot.max_retries":     DefaultMaxRetries,
		"hubspot.timeout":         "30s",
		"hubspot.initial_backoff": "1s",
		"hubspot.max_backoff":     "30s",
		"store.kind":              DefaultStoreKind,
		"metrics.backend":         DefaultMetricsKind,
		"metrics.job":             DefaultMetricsJob,
	}
}

// flagKeys maps flag names onto config keys where kebab-to-snake is not
// enough.
var flagKeys = map[string]string{
	"base-url":    "hubspot.base_url",
	"page-limit":  "hubspot.page_limit",
	"max-retries": "hubspot.max_retries",
	"timeout":     "hubspot.timeout",
	"store":       "store.kind",
	"store-dsn":   "store.dsn",
	"metrics":     "metrics.backend",
	"pushgateway": "metrics.pushgateway_url",
	"statsd-addr": "metrics.datadog_addr",
}

// Load builds a Config. Precedence, highest first: flags that were set,
// environment, the YAML file at path (skipped when empty), defaults.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	var cfg Config
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return cfg, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(TokenEnv, ".", func(s string) string {
		if s != TokenEnv {
			return ""
		}
		return "token"
	}), nil); err != nil {
		return cfg, fmt.Errorf("config: load %s: %w", TokenEnv, err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return cfg, fmt.Errorf("config: load env: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return cfg, fmt.Errorf("config: load flags: %w", err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// envKey turns HS2SF_HUBSPOT__PAGE_LIMIT into hubspot.page_limit.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
