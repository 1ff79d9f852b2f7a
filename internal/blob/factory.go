package blob

import (
	"context"
	"fmt"
	"os"

	"daoforge/internal/infra/blob/fs"
	"daoforge/internal/infra/blob/memory"
	"daoforge/internal/infra/blob/s3"
)

// S3Config configures the S3 driver.
type S3Config = s3.Config

// Config selects and configures a backend. An empty Driver disables the
// archive.
type Config struct {
	Driver Driver   `toml:"driver"`
	FSRoot string   `toml:"fs_root"`
	S3     S3Config `toml:"s3"`
}

// ConfigFromEnv reads:
//
//	DAOFORGE_BLOB_DRIVER   fs|s3|memory (unset disables the archive)
//	DAOFORGE_BLOB_FS_ROOT  root directory for fs (default ./receipts)
//
// plus the DAOFORGE_BLOB_S3_* variables read by the S3 driver.
func ConfigFromEnv() Config {
	return Config{
		Driver: Driver(os.Getenv("DAOFORGE_BLOB_DRIVER")),
		FSRoot: os.Getenv("DAOFORGE_BLOB_FS_ROOT"),
		S3:     s3.ConfigFromEnv(),
	}
}

// Enabled reports whether cfg names a driver.
func (c Config) Enabled() bool { return c.Driver != "" }

// Open constructs the backend cfg selects.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return s3.New(ctx, cfg.S3)
	case DriverMemory:
		return memory.New(), nil
	case "":
		return nil, fmt.Errorf("blob: no driver configured")
	default:
		return nil, fmt.Errorf("blob: unknown driver %q", cfg.Driver)
	}
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store { return memory.New() }

// NewMockS3 returns an S3 store backed by an in-process fake bucket.
func NewMockS3(ctx context.Context) (Store, error) { return s3.NewMock(ctx, "") }
