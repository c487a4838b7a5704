// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudspb/hostbot/internal/config"
)

// New creates a zerolog.Logger for the given configuration.
// Unknown levels fall back to info.
func New(cfg config.LoggingConfig) zerolog.Logger {
	return NewWithWriter(cfg, outputFor(cfg.Output))
}

// NewWithWriter is like New but writes to w instead of cfg.Output.
func NewWithWriter(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = timeFormat

	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// WithComponent returns a sub-logger tagged with a service name.
func WithComponent(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("service", name).Logger()
}

func outputFor(name string) io.Writer {
	switch strings.ToLower(name) {
	case "stderr":
		return os.Stderr
	case "", "stdout":
		return os.Stdout
	default:
		fmt.Fprintf(os.Stderr, "unknown log output %q, using stdout\n", name)
		return os.Stdout
	}
}
