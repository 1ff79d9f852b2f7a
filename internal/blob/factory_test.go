package blob

import (
	"bytes"
	"context"
	"testing"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DAOFORGE_BLOB_DRIVER", "fs")
	t.Setenv("DAOFORGE_BLOB_FS_ROOT", "/tmp/receipts")
	t.Setenv("DAOFORGE_BLOB_S3_BUCKET", "bucket")
	cfg := ConfigFromEnv()
	if cfg.Driver != DriverFilesystem || cfg.FSRoot != "/tmp/receipts" || cfg.S3.Bucket != "bucket" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !cfg.Enabled() {
		t.Fatalf("expected enabled")
	}
	if (Config{}).Enabled() {
		t.Fatalf("zero config should be disabled")
	}
}

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	fsStore, err := Open(ctx, Config{Driver: DriverFilesystem, FSRoot: t.TempDir()})
	if err != nil || fsStore.Driver() != DriverFilesystem {
		t.Fatalf("fs: %v", err)
	}
	mem, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("memory: %v", err)
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected s3 error without bucket")
	}
	if _, err := Open(ctx, Config{}); err == nil {
		t.Fatalf("expected error for empty driver")
	}
	if _, err := Open(ctx, Config{Driver: "ftp"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestNewMockS3(t *testing.T) {
	ctx := context.Background()
	s, err := NewMockS3(ctx)
	if err != nil {
		t.Fatalf("mock: %v", err)
	}
	if _, err := s.Put(ctx, "k", bytes.NewReader([]byte("v")), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := NewMemory().Head(ctx, "k"); err == nil {
		t.Fatalf("memory stores are independent")
	}
}
