package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process logger. Production emits structured JSON at
// info level; every other environment gets debug level with a console writer.
// The service field distinguishes api and worker output in shared sinks.
func NewLogger(appEnv, service string) zerolog.Logger {
	level := zerolog.DebugLevel
	if appEnv == "production" {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()

	if appEnv != "production" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}
