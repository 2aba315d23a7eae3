// Package logger builds the zerolog logger shared by the engine, caches and CLI.
// Output is JSON by default and a human-readable console format when LOG_FORMAT=text.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/goflagship-rules/internal/config"
)

// ServiceName is attached to every log line.
const ServiceName = "flagship-rules"

// New creates a logger from cfg writing to os.Stderr.
func New(cfg *config.Config, version string) zerolog.Logger {
	return NewWithWriter(cfg, version, os.Stderr)
}

// NewWithWriter is New with an explicit destination, for tests and custom sinks.
func NewWithWriter(cfg *config.Config, version string, w io.Writer) zerolog.Logger {
	if cfg == nil {
		panic("logger: config cannot be nil")
	}

	out := w
	if cfg.LogFormat == "text" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: true}
	}

	return zerolog.New(out).
		Level(ParseLevel(cfg.LogLevel)).
		With().
		Timestamp().
		Str("service", ServiceName).
		Str("version", version).
		Str("env", cfg.AppEnv).
		Logger()
}

// ParseLevel converts a level name to zerolog.Level. Unknown names yield info.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return level
}
