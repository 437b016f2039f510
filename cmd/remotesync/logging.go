package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/openmined/remotesync/internal/config"
	"github.com/openmined/remotesync/internal/utils"
)

// setupLogging applies the configured level and, when a log file is set, tees every record
// into it. The returned func closes the file.
func setupLogging(cfg *config.Config) (func(), error) {
	if cfg.LogLevel != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, &config.ConfigError{Field: "log_level", Reason: fmt.Sprintf("unknown level %q", cfg.LogLevel)}
		}
		logLevel.Set(level)
	}

	if cfg.LogFile == "" {
		return func() {}, nil
	}

	logFile, err := utils.ResolvePath(cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("resolve log file: %w", err)
	}
	if err := utils.EnsureParent(logFile); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(utils.NewFanoutHandler(newConsoleHandler(), fileHandler)))

	return func() { file.Close() }, nil
}
