// Package logger provides the process-wide structured logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the shared logger instance. It defaults to console output at the
// level named by HYBRIDCRYPTO_LOG_LEVEL (info when unset).
var Logger zerolog.Logger

func init() {
	level := zerolog.InfoLevel
	if v := os.Getenv("HYBRIDCRYPTO_LOG_LEVEL"); v != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(v)); err == nil {
			level = parsed
		}
	}

	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// SetOutput redirects log output, primarily for tests.
func SetOutput(w io.Writer) {
	Logger = Logger.Output(w)
}

// SetLevel adjusts the global log level.
func SetLevel(level zerolog.Level) {
	Logger = Logger.Level(level)
}
