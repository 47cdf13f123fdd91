package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration.
type Config struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	TimeFormat  string `mapstructure:"time_format"`
	Caller      bool   `mapstructure:"caller"`
	PrettyPrint bool   `mapstructure:"pretty"`
	// File, when set, receives a JSON copy of every entry at FileLevel or above.
	File      string `mapstructure:"file"`
	FileLevel string `mapstructure:"file_level"`
}

// NewLogger constructs a zerolog logger from config. The returned closer releases the log file, if any.
func NewLogger(cfg Config) (zerolog.Logger, func() error, error) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level := parseLevel(cfg.Level, zerolog.InfoLevel)

	writer, closer, err := logWriter(cfg)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	logger := zerolog.New(writer).Level(level)
	builder := logger.With().Timestamp()
	if cfg.Caller {
		builder = builder.Caller()
	}

	return builder.Logger(), closer, nil
}

func parseLevel(raw string, fallback zerolog.Level) zerolog.Level {
	if raw == "" {
		return fallback
	}
	if parsed, err := zerolog.ParseLevel(strings.ToLower(raw)); err == nil {
		return parsed
	}
	return fallback
}

func logWriter(cfg Config) (io.Writer, func() error, error) {
	var console io.Writer = os.Stdout
	if cfg.PrettyPrint || strings.EqualFold(cfg.Format, "console") {
		console = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}
	if cfg.File == "" {
		return console, func() error { return nil }, nil
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	fileWriter := &zerolog.FilteredLevelWriter{
		Writer: zerolog.LevelWriterAdapter{Writer: file},
		Level:  parseLevel(cfg.FileLevel, zerolog.WarnLevel),
	}
	return zerolog.MultiLevelWriter(console, fileWriter), file.Close, nil
}
