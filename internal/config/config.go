// Package config loads daoforge settings from a TOML file and the
// environment. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"daoforge/internal/blob"
	"daoforge/internal/core"
	"daoforge/internal/logging"
)

// Metrics exporters.
const (
	MetricsNone       = ""
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
)

// Template holds the orchestration knobs.
type Template struct {
	CacheTTL           time.Duration `toml:"cache_ttl"`
	FinancePeriod      time.Duration `toml:"finance_period"`
	CouncilTokenName   string        `toml:"council_token_name"`
	CouncilTokenSymbol string        `toml:"council_token_symbol"`
	NameDomain         string        `toml:"name_domain"`
	Catalog            string        `toml:"catalog"`
}

// Observability selects metric and trace sinks. MetricsFile receives the
// Prometheus text exposition on exit, for a node exporter textfile collector.
type Observability struct {
	Metrics     string `toml:"metrics"`
	MetricsFile string `toml:"metrics_file"`
	TraceFile   string `toml:"trace_file"`
}

// Config is the full daoforge configuration.
type Config struct {
	Storage       core.StorageOptions `toml:"storage"`
	Blob          blob.Config         `toml:"blob"`
	Log           logging.Options     `toml:"log"`
	Template      Template            `toml:"template"`
	Observability Observability       `toml:"observability"`
}

// Default returns the built-in configuration: sqlite ledger, no receipt
// archive, info-level JSON logs.
func Default() Config {
	return Config{
		Storage: core.StorageOptions{Driver: core.StorageSQLite},
		Log:     logging.DefaultOptions(),
		Template: Template{
			FinancePeriod:      core.DefaultFinancePeriod,
			CouncilTokenName:   "Council Token",
			CouncilTokenSymbol: "CT",
			NameDomain:         core.DefaultNameDomain,
		},
	}
}

// Load reads path over the defaults, then applies the environment. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			return Config{}, fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields whose environment variables are set.
func (c *Config) ApplyEnv() error {
	storage := core.StorageOptionsFromEnv()
	setString((*string)(&c.Storage.Driver), string(storage.Driver))
	setString(&c.Storage.SQLitePath, storage.SQLitePath)
	setString(&c.Storage.PostgresDSN, storage.PostgresDSN)

	b := blob.ConfigFromEnv()
	setString((*string)(&c.Blob.Driver), string(b.Driver))
	setString(&c.Blob.FSRoot, b.FSRoot)
	setString(&c.Blob.S3.Bucket, b.S3.Bucket)
	setString(&c.Blob.S3.Region, b.S3.Region)
	setString(&c.Blob.S3.Prefix, b.S3.Prefix)
	setString(&c.Blob.S3.Endpoint, b.S3.Endpoint)
	if b.S3.PathStyle {
		c.Blob.S3.PathStyle = true
	}

	l := logging.OptionsFromEnv()
	setString(&c.Log.Level, l.Level)
	setString(&c.Log.Format, l.Format)

	setString(&c.Template.NameDomain, os.Getenv("DAOFORGE_NAME_DOMAIN"))
	setString(&c.Template.Catalog, os.Getenv("DAOFORGE_CATALOG"))
	setString(&c.Observability.Metrics, os.Getenv("DAOFORGE_METRICS"))
	setString(&c.Observability.MetricsFile, os.Getenv("DAOFORGE_METRICS_FILE"))
	setString(&c.Observability.TraceFile, os.Getenv("DAOFORGE_TRACE_FILE"))

	for name, dst := range map[string]*time.Duration{
		"DAOFORGE_CACHE_TTL":      &c.Template.CacheTTL,
		"DAOFORGE_FINANCE_PERIOD": &c.Template.FinancePeriod,
	} {
		raw := strings.TrimSpace(os.Getenv(name))
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		*dst = d
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "", core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "", blob.DriverMemory, blob.DriverFilesystem:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("config: blob.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("config: unknown blob driver %q", c.Blob.Driver)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Template.CacheTTL < 0 {
		return fmt.Errorf("config: template.cache_ttl must not be negative")
	}
	if c.Template.FinancePeriod != 0 && c.Template.FinancePeriod < core.MinFinancePeriod {
		return fmt.Errorf("config: template.finance_period %s is shorter than %s", c.Template.FinancePeriod, core.MinFinancePeriod)
	}
	switch c.Observability.Metrics {
	case MetricsNone, MetricsExpvar, MetricsPrometheus:
	default:
		return fmt.Errorf("config: unknown metrics exporter %q", c.Observability.Metrics)
	}
	return nil
}
