package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/openmined/remotesync/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "REMOTESYNC"
	configName     = "remotesync"
	defaultEnvFile = ".env"
)

// envAliases maps config keys to the variable names older deployments of the sync use.
var envAliases = map[string][]string{
	"source.type":              {"RCLONE_SOURCE_TYPE"},
	"dest.type":                {"RCLONE_DEST_TYPE"},
	"sync_path":                {"RCLONE_SYNC_PATH"},
	"sync_dirs":                {"RCLONE_SYNC_DIRS"},
	"strategy_deleted":         {"STRATEGY_DELETED"},
	"strategy_size_different":  {"STRATEGY_SIZE_DIFFERENT"},
	"sftp.host":                {"RCLONE_CONFIG_SFTP_HOST"},
	"sftp.port":                {"RCLONE_CONFIG_SFTP_PORT"},
	"sftp.user":                {"RCLONE_CONFIG_SFTP_USER"},
	"sftp.pass_plain":          {"RCLONE_CONFIG_SFTP_PASS_PLAIN"},
	"gcs.bucket_name":          {"RCLONE_CONFIG_GCS_BUCKET_NAME"},
	"gcs.service_account_file": {"RCLONE_CONFIG_GCS_SERVICE_ACCOUNT_FILE"},
	"s3.bucket_name":           {"RCLONE_CONFIG_S3_BUCKET_NAME"},
	"s3.region":                {"RCLONE_CONFIG_S3_REGION"},
	"s3.endpoint":              {"RCLONE_CONFIG_S3_ENDPOINT"},
	"s3.access_key":            {"RCLONE_CONFIG_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"},
	"s3.secret_key":            {"RCLONE_CONFIG_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"},
	"rclone.filter_file":       {"RCLONE_FILTER_FILE"},
}

// flagKeys binds persistent flags to config keys.
var flagKeys = map[string]string{
	"source-type":       "source.type",
	"dest-type":         "dest.type",
	"sync-path":         "sync_path",
	"sync-dirs":         "sync_dirs",
	"state-dir":         "state_dir",
	"watermark-backend": "watermark.backend",
	"concurrency":       "batch_concurrency",
	"log-level":         "log_level",
	"log-file":          "log_file",
}

// loadConfig reads and validates the configuration. Precedence, lowest first: defaults,
// config file, dotenv file, environment, flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := readConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readConfig is loadConfig without validation.
func readConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := loadEnvFile(cmd); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, config.Default())

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", configName))
		}
		v.AddConfigPath("/config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		envs := append([]string{envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	cfg := config.Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func loadEnvFile(cmd *cobra.Command) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile == "" {
		return nil
	}
	err := godotenv.Load(envFile)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load env file %s: %w", envFile, err)
	}
	return nil
}

// setDefaults registers every key so that AutomaticEnv can fill keys absent from the file.
func setDefaults(v *viper.Viper, d *config.Config) {
	defaults := map[string]any{
		"source.type":              d.Source.Type,
		"source.path":              d.Source.Path,
		"dest.type":                d.Dest.Type,
		"dest.path":                d.Dest.Path,
		"sync_path":                d.SyncPath,
		"sync_dirs":                d.Scopes,
		"strategy_deleted":         string(d.DeleteStrategy),
		"strategy_size_different":  string(d.SizeStrategy),
		"sftp.host":                d.SFTP.Host,
		"sftp.port":                d.SFTP.Port,
		"sftp.user":                d.SFTP.User,
		"sftp.pass_plain":          d.SFTP.Password,
		"sftp.key_file":            d.SFTP.KeyFile,
		"gcs.bucket_name":          d.GCS.BucketName,
		"gcs.service_account_file": d.GCS.ServiceAccountFile,
		"s3.bucket_name":           d.S3.BucketName,
		"s3.region":                d.S3.Region,
		"s3.endpoint":              d.S3.Endpoint,
		"s3.provider":              d.S3.Provider,
		"s3.access_key":            d.S3.AccessKey,
		"s3.secret_key":            d.S3.SecretKey,
		"rclone.binary":            d.Rclone.Binary,
		"rclone.filter_file":       d.Rclone.FilterFile,
		"rclone.min_size":          d.Rclone.MinSize,
		"watermark.backend":        d.Watermark.Backend,
		"watermark.key":            d.Watermark.Key,
		"watermark.path":           d.Watermark.Path,
		"watermark.bucket":         d.Watermark.Bucket,
		"watermark.require":        d.Watermark.Require,
		"state_dir":                d.StateDir,
		"batch_concurrency":        d.BatchConcurrency,
		"ignore":                   d.Ignore,
		"log_level":                d.LogLevel,
		"log_file":                 d.LogFile,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
