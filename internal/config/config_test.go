package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := Default()
	cfg.Source = EndpointConfig{Type: "SFTP"}
	cfg.Dest = EndpointConfig{Type: "gcs"}
	cfg.SyncPath = "data/"
	cfg.SFTP.Host = "sftp.example.com"
	cfg.SFTP.Password = "hunter2"
	cfg.GCS.BucketName = "bucket"
	cfg.StateDir = t.TempDir()
	return cfg
}

func TestConfig_Validate_NormalizesAndDefaults(t *testing.T) {
	cfg := validConfig(t)
	cfg.Scopes = []string{" reports/ ", "", "/invoices"}
	cfg.BatchConcurrency = 0

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/data", cfg.SyncPath)
	assert.Equal(t, "sftp", cfg.Source.Type)
	assert.Equal(t, "/data", cfg.Source.Path)
	assert.Equal(t, "/data", cfg.Dest.Path)
	assert.Equal(t, []string{"reports", "invoices"}, cfg.Scopes)
	assert.Equal(t, 1, cfg.BatchConcurrency)
	assert.Equal(t, StrategyMatchDest, cfg.DeleteStrategy)
	assert.Equal(t, StrategyMatchSource, cfg.SizeStrategy)
	assert.Equal(t, "data/.state", cfg.Watermark.Key)
	assert.Equal(t, DefaultSFTPPort, cfg.SFTP.Port)
}

func TestConfig_Validate_RootSyncPathKey(t *testing.T) {
	cfg := validConfig(t)
	cfg.SyncPath = ""

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/", cfg.SyncPath)
	assert.Equal(t, ".state", cfg.Watermark.Key)
}

func TestConfig_Validate_DeleteStrategyNone(t *testing.T) {
	cfg := validConfig(t)
	cfg.DeleteStrategy = "None"

	require.NoError(t, cfg.Validate())
	assert.Equal(t, StrategyNone, cfg.DeleteStrategy)
}

func TestConfig_Validate_ErrorsOnInvalidInputs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing source", func(c *Config) { c.Source.Type = "" }, "source.type"},
		{"unknown dest protocol", func(c *Config) { c.Dest.Type = "ftp" }, "dest.type"},
		{"unknown delete strategy", func(c *Config) { c.DeleteStrategy = "newest" }, "strategy_deleted"},
		{"missing size strategy", func(c *Config) { c.SizeStrategy = "" }, "strategy_size_different"},
		{"missing sftp host", func(c *Config) { c.SFTP.Host = "" }, "sftp.host"},
		{"missing sftp credential", func(c *Config) { c.SFTP.Password = "" }, "sftp.pass_plain"},
		{"missing gcs bucket", func(c *Config) { c.GCS.BucketName = "" }, "gcs.bucket_name"},
		{"negative min size", func(c *Config) { c.Rclone.MinSize = -1 }, "rclone.min_size"},
		{"file backend without state dir", func(c *Config) { c.StateDir = "" }, "state_dir"},
		{"sqlite backend without path", func(c *Config) { c.Watermark.Backend = WatermarkSQLite }, "watermark.path"},
		{"s3 backend without bucket", func(c *Config) { c.Watermark.Backend = WatermarkS3 }, "watermark.bucket"},
		{"unknown backend", func(c *Config) { c.Watermark.Backend = "etcd" }, "watermark.backend"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestConfig_Validate_S3WatermarkFallsBackToDataBucket(t *testing.T) {
	cfg := validConfig(t)
	cfg.Dest = EndpointConfig{Type: ProtocolS3}
	cfg.S3.BucketName = "data-bucket"
	cfg.Watermark.Backend = WatermarkS3

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "data-bucket", cfg.Watermark.Bucket)
}
