package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the level, format and destination of the diagnostic log.
type Config struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=console json"`
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// DefaultConfig logs info and above to stderr in console format.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stderr",
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// New creates a configured zerolog.Logger.
// The returned closer function should be deferred to flush/close file handles.
func New(cfg Config) (zerolog.Logger, func() error, error) {
	writer, closer, err := openOutput(cfg)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("open log output: %w", err)
	}

	if strings.ToLower(cfg.Format) != "json" {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.Output != "" && cfg.Output != "stderr" && cfg.Output != "stdout",
		}
	}

	logger := zerolog.New(writer).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	return logger, closer, nil
}

// parseLevel converts a string level to a zerolog.Level, defaulting to info.
func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// openOutput returns an io.Writer for the configured target. Files are
// rotated by lumberjack.
func openOutput(cfg Config) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	default:
		// Fail early on an unwritable path; lumberjack would only report it
		// on the first write.
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		_ = f.Close()

		lj := &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		return lj, lj.Close, nil
	}
}
