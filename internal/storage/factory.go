package storage

import (
	"context"
	"fmt"

	"diffit/internal/config"
	"diffit/internal/diffit"
)

// NewStoreFromConfig creates an ArtifactStore implementation based on the
// storage config type.
func NewStoreFromConfig(ctx context.Context, cfg config.StorageConfig) (diffit.ArtifactStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem storage requires fs_root to be set")
		}
		return NewFileSystemStore(cfg.FSRoot)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 storage requires s3_bucket to be set")
		}
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
