package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openmined/remotesync/internal/config"
	"github.com/openmined/remotesync/internal/remote"
	"github.com/openmined/remotesync/internal/syncer"
	"github.com/openmined/remotesync/internal/utils"
	"github.com/openmined/remotesync/internal/watermark"
)

// newRunner wires rclone and the watermark store into a sync runner. The returned func
// closes the store.
func newRunner(ctx context.Context, cfg *config.Config) (*syncer.Runner, func(), error) {
	rc := remote.NewRclone(cfg)
	if cfg.Source.Type == config.ProtocolSFTP || cfg.Dest.Type == config.ProtocolSFTP {
		if err := rc.UseSFTPPassword(ctx, cfg.SFTP.Password); err != nil {
			return nil, nil, err
		}
	}

	store, err := watermark.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open watermark store: %w", err)
	}

	runner, err := syncer.New(cfg, rc, store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	slog.Debug("config",
		"source", cfg.Source.Type,
		"dest", cfg.Dest.Type,
		"syncPath", cfg.SyncPath,
		"scopes", cfg.Scopes,
		"strategyDeleted", cfg.DeleteStrategy,
		"strategySizeDifferent", cfg.SizeStrategy,
		"sftpPassword", utils.MaskSecret(cfg.SFTP.Password),
		"s3SecretKey", utils.MaskSecret(cfg.S3.SecretKey),
		"watermark", cfg.Watermark.Backend,
		"watermarkKey", cfg.Watermark.Key,
	)

	return runner, func() {
		if err := store.Close(); err != nil {
			slog.Warn("close watermark store", "error", err)
		}
	}, nil
}
