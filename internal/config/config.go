package config

import (
	"fmt"
	"path"
	"slices"
	"strings"
)

// Strategy names the side that wins a conflict.
type Strategy string

const (
	StrategyNone        Strategy = ""
	StrategyMatchSource Strategy = "match_source"
	StrategyMatchDest   Strategy = "match_dest"
)

const (
	ProtocolSFTP  = "sftp"
	ProtocolGCS   = "gcs"
	ProtocolS3    = "s3"
	ProtocolLocal = "local"
)

const (
	WatermarkFile   = "file"
	WatermarkSQLite = "sqlite"
	WatermarkBolt   = "bolt"
	WatermarkS3     = "s3"
	WatermarkMemory = "memory"
)

const (
	DefaultSyncPath           = "/"
	DefaultSFTPPort           = 22
	DefaultServiceAccountFile = "/config/gcs_sa.json"
	DefaultRcloneBinary       = "rclone"
	DefaultWatermarkName      = ".state"

	// GCS stores empty "directory" placeholder objects of 11 bytes.
	DefaultMinSize int64 = 12
)

var protocols = []string{ProtocolSFTP, ProtocolGCS, ProtocolS3, ProtocolLocal}

var watermarkBackends = []string{WatermarkFile, WatermarkSQLite, WatermarkBolt, WatermarkS3, WatermarkMemory}

type Config struct {
	Source EndpointConfig `mapstructure:"source" json:"source"`
	Dest   EndpointConfig `mapstructure:"dest" json:"dest"`

	// SyncPath is the root shared by both endpoints unless they set their own path.
	SyncPath string   `mapstructure:"sync_path" json:"sync_path"`
	Scopes   []string `mapstructure:"sync_dirs" json:"sync_dirs"`

	DeleteStrategy Strategy `mapstructure:"strategy_deleted" json:"strategy_deleted"`
	SizeStrategy   Strategy `mapstructure:"strategy_size_different" json:"strategy_size_different"`

	SFTP SFTPConfig `mapstructure:"sftp" json:"sftp"`
	GCS  GCSConfig  `mapstructure:"gcs" json:"gcs"`
	S3   S3Config   `mapstructure:"s3" json:"s3"`

	Rclone    RcloneConfig    `mapstructure:"rclone" json:"rclone"`
	Watermark WatermarkConfig `mapstructure:"watermark" json:"watermark"`

	StateDir         string   `mapstructure:"state_dir" json:"state_dir"`
	BatchConcurrency int      `mapstructure:"batch_concurrency" json:"batch_concurrency"`
	Ignore           []string `mapstructure:"ignore" json:"ignore"`

	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogFile  string `mapstructure:"log_file" json:"log_file"`
}

type EndpointConfig struct {
	Type string `mapstructure:"type" json:"type"`
	Path string `mapstructure:"path" json:"path"`
}

type SFTPConfig struct {
	Host     string `mapstructure:"host" json:"host"`
	Port     int    `mapstructure:"port" json:"port"`
	User     string `mapstructure:"user" json:"user"`
	Password string `mapstructure:"pass_plain" json:"-"`
	KeyFile  string `mapstructure:"key_file" json:"key_file"`
}

type GCSConfig struct {
	BucketName         string `mapstructure:"bucket_name" json:"bucket_name"`
	ServiceAccountFile string `mapstructure:"service_account_file" json:"service_account_file"`
}

type S3Config struct {
	BucketName string `mapstructure:"bucket_name" json:"bucket_name"`
	Region     string `mapstructure:"region" json:"region"`
	Endpoint   string `mapstructure:"endpoint" json:"endpoint"`
	Provider   string `mapstructure:"provider" json:"provider"`
	AccessKey  string `mapstructure:"access_key" json:"-"`
	SecretKey  string `mapstructure:"secret_key" json:"-"`
}

type RcloneConfig struct {
	Binary     string `mapstructure:"binary" json:"binary"`
	FilterFile string `mapstructure:"filter_file" json:"filter_file"`
	MinSize    int64  `mapstructure:"min_size" json:"min_size"`
}

type WatermarkConfig struct {
	Backend string `mapstructure:"backend" json:"backend"`
	// Key overrides the default "<sync_path>/.state" location.
	Key string `mapstructure:"key" json:"key"`
	// Path is the database file for the sqlite and bolt backends.
	Path string `mapstructure:"path" json:"path"`
	// Bucket holds the watermark object for the s3 backend. Credentials come from S3Config.
	Bucket string `mapstructure:"bucket" json:"bucket"`

	// Require makes a missing watermark fatal instead of a first-run bootstrap.
	Require bool `mapstructure:"require" json:"require"`
}

// Default returns a configuration populated with the defaults the sync has always used.
func Default() *Config {
	return &Config{
		SyncPath:         DefaultSyncPath,
		DeleteStrategy:   StrategyMatchDest,
		SizeStrategy:     StrategyMatchSource,
		SFTP:             SFTPConfig{Port: DefaultSFTPPort},
		GCS:              GCSConfig{ServiceAccountFile: DefaultServiceAccountFile},
		Rclone:           RcloneConfig{Binary: DefaultRcloneBinary, MinSize: DefaultMinSize},
		Watermark:        WatermarkConfig{Backend: WatermarkFile},
		BatchConcurrency: 1,
		LogLevel:         "info",
	}
}

// Validate checks the configuration and fills derived values. It must be called once,
// before any remote call is made.
func (c *Config) Validate() error {
	if c.SyncPath == "" {
		c.SyncPath = DefaultSyncPath
	}
	c.SyncPath = cleanRemotePath(c.SyncPath)

	for _, ep := range []struct {
		name string
		cfg  *EndpointConfig
	}{{"source", &c.Source}, {"dest", &c.Dest}} {
		ep.cfg.Type = strings.ToLower(strings.TrimSpace(ep.cfg.Type))
		if ep.cfg.Type == "" {
			return &ConfigError{Field: ep.name + ".type", Reason: "is required"}
		}
		if !slices.Contains(protocols, ep.cfg.Type) {
			return &ConfigError{Field: ep.name + ".type", Reason: fmt.Sprintf("unsupported protocol %q", ep.cfg.Type)}
		}
		if ep.cfg.Path == "" {
			ep.cfg.Path = c.SyncPath
		}
		ep.cfg.Path = cleanRemotePath(ep.cfg.Path)
	}

	c.DeleteStrategy = normalizeStrategy(c.DeleteStrategy)
	c.SizeStrategy = normalizeStrategy(c.SizeStrategy)
	if err := validateStrategy("strategy_deleted", c.DeleteStrategy, true); err != nil {
		return err
	}
	if err := validateStrategy("strategy_size_different", c.SizeStrategy, false); err != nil {
		return err
	}

	if c.uses(ProtocolSFTP) {
		if c.SFTP.Host == "" {
			return &ConfigError{Field: "sftp.host", Reason: "is required for sftp endpoints"}
		}
		if c.SFTP.Port == 0 {
			c.SFTP.Port = DefaultSFTPPort
		}
		if c.SFTP.Password == "" && c.SFTP.KeyFile == "" {
			return &ConfigError{Field: "sftp.pass_plain", Reason: "either a password or a key file is required"}
		}
	}
	if c.uses(ProtocolGCS) {
		if c.GCS.BucketName == "" {
			return &ConfigError{Field: "gcs.bucket_name", Reason: "is required for gcs endpoints"}
		}
		if c.GCS.ServiceAccountFile == "" {
			c.GCS.ServiceAccountFile = DefaultServiceAccountFile
		}
	}
	if c.uses(ProtocolS3) && c.S3.BucketName == "" {
		return &ConfigError{Field: "s3.bucket_name", Reason: "is required for s3 endpoints"}
	}

	if c.Rclone.Binary == "" {
		c.Rclone.Binary = DefaultRcloneBinary
	}
	if c.Rclone.MinSize < 0 {
		return &ConfigError{Field: "rclone.min_size", Reason: "must not be negative"}
	}

	scopes := make([]string, 0, len(c.Scopes))
	for _, s := range c.Scopes {
		s = strings.Trim(strings.TrimSpace(s), "/")
		if s == "" {
			continue
		}
		scopes = append(scopes, s)
	}
	c.Scopes = scopes

	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = 1
	}

	return c.validateWatermark()
}

func (c *Config) validateWatermark() error {
	w := &c.Watermark
	if w.Backend == "" {
		w.Backend = WatermarkFile
	}
	if !slices.Contains(watermarkBackends, w.Backend) {
		return &ConfigError{Field: "watermark.backend", Reason: fmt.Sprintf("unsupported backend %q", w.Backend)}
	}
	if w.Key == "" {
		w.Key = strings.TrimPrefix(path.Join(c.SyncPath, DefaultWatermarkName), "/")
	}
	switch w.Backend {
	case WatermarkFile:
		if c.StateDir == "" {
			return &ConfigError{Field: "state_dir", Reason: "is required for the file watermark backend"}
		}
	case WatermarkSQLite, WatermarkBolt:
		if w.Path == "" {
			return &ConfigError{Field: "watermark.path", Reason: "is required for the " + w.Backend + " watermark backend"}
		}
	case WatermarkS3:
		if w.Bucket == "" {
			w.Bucket = c.S3.BucketName
		}
		if w.Bucket == "" {
			return &ConfigError{Field: "watermark.bucket", Reason: "is required for the s3 watermark backend"}
		}
	}
	return nil
}

func (c *Config) uses(protocol string) bool {
	return c.Source.Type == protocol || c.Dest.Type == protocol
}

func validateStrategy(field string, s Strategy, allowNone bool) error {
	switch s {
	case StrategyMatchSource, StrategyMatchDest:
		return nil
	case StrategyNone:
		if allowNone {
			return nil
		}
		return &ConfigError{Field: field, Reason: "is required"}
	}
	return &ConfigError{Field: field, Reason: fmt.Sprintf("unknown strategy %q", s)}
}

func normalizeStrategy(s Strategy) Strategy {
	v := Strategy(strings.ToLower(strings.TrimSpace(string(s))))
	if v == "none" {
		return StrategyNone
	}
	return v
}

func cleanRemotePath(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}
