// SPDX-License-Identifier: MIT

// Package log provides structured logging utilities.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level   string    // optional log level ("debug", "info", etc.)
	Output  io.Writer // optional writer (defaults to os.Stdout)
	Service string    // optional service name attached to every log entry
	Version string    // optional build version attached to every log entry
}

var (
	mu    sync.Mutex
	base  zerolog.Logger
	state Config
	ready bool
)

// Configure applies cfg to the global logger. It is called with safe
// defaults before the config is loaded and again once it is; level, service
// and version re-apply on every call, and the daemon calls it once more when
// a hot reload changes the log settings. Omitted fields keep their previous
// value, so a reload does not reset the writer.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	configureLocked(cfg)
}

func configureLocked(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = state.Output
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	if cfg.Level == "" {
		cfg.Level = os.Getenv("LOG_LEVEL")
	}
	if cfg.Level == "" {
		cfg.Level = state.Level
	}
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil && cfg.Level != "" {
		level = parsed
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.Service == "" {
		cfg.Service = os.Getenv("LOG_SERVICE")
	}
	if cfg.Service == "" {
		cfg.Service = state.Service
	}
	if cfg.Service == "" {
		cfg.Service = "attendanced"
	}
	if cfg.Version == "" {
		cfg.Version = state.Version
	}

	base = zerolog.New(cfg.Output).With().
		Timestamp().
		Str("service", cfg.Service).
		Str("version", cfg.Version).
		Logger()
	state = cfg
	ready = true
}

func logger() zerolog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if !ready {
		configureLocked(Config{})
	}
	return base
}

// Base returns the configured base logger instance.
func Base() zerolog.Logger {
	return logger()
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	l := logger().With().Str("component", component).Logger()
	return l
}

// Derive attaches arbitrary fields to a child logger using the provided builder function.
func Derive(build func(*zerolog.Context)) zerolog.Logger {
	ctx := logger().With()
	if build != nil {
		build(&ctx)
	}
	return ctx.Logger()
}
