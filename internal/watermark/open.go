package watermark

import (
	"context"
	"fmt"

	"github.com/openmined/remotesync/internal/config"
)

// Open builds the store selected by cfg.Watermark. cfg must already be validated.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	w := cfg.Watermark
	switch w.Backend {
	case config.WatermarkFile:
		return NewFileStore(cfg.StateDir)
	case config.WatermarkSQLite:
		return NewSQLiteStore(w.Path)
	case config.WatermarkBolt:
		return NewBoltStore(w.Path)
	case config.WatermarkS3:
		return NewS3Store(ctx, S3Options{
			Bucket:    w.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	case config.WatermarkMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown watermark backend %q", w.Backend)
	}
}
