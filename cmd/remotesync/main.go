package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/remotesync/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var logLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:   "remotesync",
	Short: "Two-way sync of two remote file trees through rclone",
	Long: `remotesync lists the source and destination trees, classifies every difference
against the time of the last successful sync, removes files deleted on the authoritative
side and copies everything else in both directions.`,
	Version:      version.Detailed(),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		closeLog, err := setupLogging(cfg)
		if err != nil {
			return err
		}
		defer closeLog()

		runner, closeRunner, err := newRunner(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeRunner()

		if bootstrap, _ := cmd.Flags().GetBool("bootstrap"); bootstrap {
			_, err := runner.Bootstrap(cmd.Context())
			return err
		}

		_, err = runner.Run(cmd.Context())
		return err
	},
}

func init() {
	addConfigFlags(rootCmd.PersistentFlags())
	rootCmd.Flags().Bool("bootstrap", false, "record the current time as the watermark without syncing")
}

func addConfigFlags(flags *pflag.FlagSet) {
	flags.SortFlags = false
	flags.StringP("config", "c", "", "config file (json, yaml or toml)")
	flags.String("env-file", defaultEnvFile, "dotenv file loaded before reading the environment")
	flags.String("source-type", "", "source protocol: sftp, gcs, s3 or local")
	flags.String("dest-type", "", "destination protocol: sftp, gcs, s3 or local")
	flags.String("sync-path", "", "root path shared by both endpoints")
	flags.StringSlice("sync-dirs", nil, "scopes to sync, relative to the sync path")
	flags.String("state-dir", "", "directory for the lock file and the file watermark backend")
	flags.String("watermark-backend", "", "watermark store: file, sqlite, bolt, s3 or memory")
	flags.Int("concurrency", 0, "number of scope batches copied at the same time")
	flags.String("log-level", "", "debug, info, warn or error")
	flags.String("log-file", "", "also write logs to this file")
}

func main() {
	logLevel.Set(slog.LevelInfo)
	slog.SetDefault(slog.New(newConsoleHandler()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("remotesync failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newConsoleHandler() slog.Handler {
	return tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevel,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
}
