// Package logging constructs the process-wide structured logger. Unlike a
// package-level singleton, New returns a zerolog.Logger value that callers thread
// through explicitly, so tests can inject a silent or buffered logger.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a JSON logger writing to stdout at the given level name
// ("debug", "info", "warn", "error"; defaults to info on empty/unknown).
func New(levelName, serviceName string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(levelName)))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}
