package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log formats accepted by NewLogger.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// RotationConfig holds configuration for log file rotation
type RotationConfig struct {
	// MaxSize is the maximum size in megabytes before rotation
	MaxSize int `yaml:"max_size"`

	// MaxAge is the maximum age in days to keep rotated files (0 = keep all)
	MaxAge int `yaml:"max_age"`

	// MaxBackups is the maximum number of rotated files to retain (0 = retain all)
	MaxBackups int `yaml:"max_backups"`

	// Compress gzips rotated files
	Compress bool `yaml:"compress"`
}

// LoggerConfig describes where and how to log.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File sends output through a rotating writer instead of Output.
	File     string         `yaml:"file"`
	Rotation RotationConfig `yaml:"rotation"`

	// Output defaults to os.Stderr.
	Output io.Writer `yaml:"-"`
}

// ParseLogLevel parses a string log level
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// NewLogger builds a slog logger from config. The returned closer releases
// the log file and is a no-op when logging to Output.
func NewLogger(config LoggerConfig) (*slog.Logger, io.Closer, error) {
	level, err := ParseLogLevel(config.Level)
	if err != nil {
		return nil, nil, err
	}

	var output io.Writer = os.Stderr
	if config.Output != nil {
		output = config.Output
	}
	var closer io.Closer = nopCloser{}

	if config.File != "" {
		if err := ValidatePath(config.File, true); err != nil {
			return nil, nil, fmt.Errorf("invalid log file: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.Rotation.MaxSize,
			MaxAge:     config.Rotation.MaxAge,
			MaxBackups: config.Rotation.MaxBackups,
			Compress:   config.Rotation.Compress,
		}
		output = rotator
		closer = rotator
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(config.Format) {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, opts)
	case FormatText, "":
		handler = slog.NewTextHandler(output, opts)
	default:
		return nil, nil, fmt.Errorf("invalid log format: %s", config.Format)
	}

	return slog.New(handler), closer, nil
}

// SetupLogging installs a logger built from config as the slog default.
func SetupLogging(config LoggerConfig) (io.Closer, error) {
	logger, closer, err := NewLogger(config)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
