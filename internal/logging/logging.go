// Package logging sets up the process-wide zerolog configuration and hands
// out named child loggers for each long-lived component.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. When pretty is true output goes through
// zerolog's console writer (for local development); otherwise it emits
// newline-delimited JSON suitable for log aggregation.
func New(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out zerolog.Logger
	if pretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		out = zerolog.New(os.Stderr)
	}
	return out.With().Timestamp().Logger()
}

// Component returns a child logger tagged with the given component name,
// so every log line can be attributed to the scheduler, encoder, etc.
func Component(root zerolog.Logger, name string) zerolog.Logger {
	return root.With().Str("component", name).Logger()
}
