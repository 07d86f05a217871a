// Package logging builds the zerolog logger shared by every component,
// following CrlsMrls-dummybox/server.New's construction style.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/signalzero/core/internal/config"
)

// New builds a zerolog.Logger at the configured level, writing to w (or
// stdout if nil).
func New(cfg config.LoggingConfig, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(w).With().Timestamp().Caller().Logger()
	if cfg.Development {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w})
	}
	return logger
}
