// Package logging provides the shared structured logger. The report
// itself is written to stdout, so all logging goes to stderr.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug traces queries, pagination and per-record decisions.
	LevelDebug LogLevel = "debug"
	// LevelInfo announces each stat being searched.
	LevelInfo LogLevel = "info"
	// LevelWarn reports recoverable conditions such as rate-limit waits.
	LevelWarn LogLevel = "warn"
	// LevelError reports failed connectors.
	LevelError LogLevel = "error"
)

var defaultLogger *slog.Logger

// init configures the logger from WHATDID_LOG_LEVEL, defaulting to info.
// The --log-level flag overrides this later.
func init() {
	level := strings.ToLower(os.Getenv("WHATDID_LOG_LEVEL"))
	if level == "" {
		level = string(LevelInfo)
	}
	SetupLogger(os.Stderr, LogLevel(level))
}

// SetupLogger configures the logger with the given output and level.
// Unknown levels fall back to info.
func SetupLogger(w io.Writer, level LogLevel) {
	var logLevel slog.Level
	switch level {
	case LevelDebug:
		logLevel = slog.LevelDebug
	case LevelInfo:
		logLevel = slog.LevelInfo
	case LevelWarn:
		logLevel = slog.LevelWarn
	case LevelError:
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// Debug logs a message at debug level.
func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

// Info logs a message at info level.
func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

// Warn logs a message at warn level.
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Error logs a message at error level.
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

// GetLogger returns the default logger.
func GetLogger() *slog.Logger {
	return defaultLogger
}

// MaskSensitive masks tokens and passwords for logging.
func MaskSensitive(value string) string {
	if value == "" {
		return "<not set>"
	}
	if len(value) <= 4 {
		return "<set>"
	}
	return value[:4] + "..." + strings.Repeat("*", 3)
}
