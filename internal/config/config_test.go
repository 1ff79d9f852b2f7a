package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"daoforge/internal/blob"
	"daoforge/internal/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daoforge.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != core.StorageSQLite || cfg.Blob.Enabled() {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Template.FinancePeriod != core.DefaultFinancePeriod || cfg.Template.NameDomain != core.DefaultNameDomain {
		t.Fatalf("template = %+v", cfg.Template)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[storage]
driver = "memory"

[blob]
driver = "s3"

[blob.s3]
bucket = "receipts"
region = "eu-west-1"
path_style = true

[log]
level = "debug"
format = "console"

[template]
cache_ttl = "1h"
finance_period = "720h"
council_token_symbol = "BRD"

[observability]
metrics = "prometheus"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != core.StorageMemory {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Blob.Driver != blob.DriverS3 || cfg.Blob.S3.Bucket != "receipts" || !cfg.Blob.S3.PathStyle {
		t.Fatalf("blob = %+v", cfg.Blob)
	}
	if cfg.Template.CacheTTL != time.Hour || cfg.Template.FinancePeriod != 720*time.Hour {
		t.Fatalf("template = %+v", cfg.Template)
	}
	if cfg.Template.CouncilTokenSymbol != "BRD" || cfg.Template.CouncilTokenName != "Council Token" {
		t.Fatalf("council token = %q/%q", cfg.Template.CouncilTokenName, cfg.Template.CouncilTokenSymbol)
	}
	if cfg.Log.Level != "debug" || cfg.Observability.Metrics != MetricsPrometheus {
		t.Fatalf("log = %+v, observability = %+v", cfg.Log, cfg.Observability)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[storage]
driver = "memory"
[template]
cache_ttl = "1h"
`)
	t.Setenv("DAOFORGE_STORAGE_DRIVER", "sqlite")
	t.Setenv("DAOFORGE_SQLITE_PATH", "/tmp/ledger.db")
	t.Setenv("DAOFORGE_CACHE_TTL", "5m")
	t.Setenv("DAOFORGE_BLOB_DRIVER", "fs")
	t.Setenv("DAOFORGE_BLOB_FS_ROOT", "/tmp/receipts")
	t.Setenv("DAOFORGE_LOG_LEVEL", "error")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != core.StorageSQLite || cfg.Storage.SQLitePath != "/tmp/ledger.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Template.CacheTTL != 5*time.Minute {
		t.Fatalf("cache ttl = %s", cfg.Template.CacheTTL)
	}
	if cfg.Blob.Driver != blob.DriverFilesystem || cfg.Blob.FSRoot != "/tmp/receipts" {
		t.Fatalf("blob = %+v", cfg.Blob)
	}
	if cfg.Log.Level != "error" {
		t.Fatalf("log = %+v", cfg.Log)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown key":          "[storage]\ndriverr = \"memory\"\n",
		"unknown driver":       "[storage]\ndriver = \"etcd\"\n",
		"postgres without dsn": "[storage]\ndriver = \"postgres\"\n",
		"s3 without bucket":    "[blob]\ndriver = \"s3\"\n",
		"short period":         "[template]\nfinance_period = \"1h\"\n",
		"bad metrics":          "[observability]\nmetrics = \"statsd\"\n",
		"bad log level":        "[log]\nlevel = \"loud\"\n",
		"malformed":            "[storage\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestBadEnvDuration(t *testing.T) {
	t.Setenv("DAOFORGE_FINANCE_PERIOD", "monthly")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "DAOFORGE_FINANCE_PERIOD") {
		t.Fatalf("expected duration parse error, got %v", err)
	}
}
