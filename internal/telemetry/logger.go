// Package telemetry provides the logging, metrics, and tracing surface
// shared by the teacher server and student agent: structured logging via
// zerolog, request/operation counters via prometheus, and optional
// distributed tracing via OpenTelemetry.
package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with the fields every component attaches.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger builds a Logger for service/version, writing to output (stdout
// when nil).
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339

	zl := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", hostname()).
		Logger()

	return &Logger{zl: zl}
}

// With returns a Logger carrying an additional string field, for
// per-session/per-client scoping (e.g. clientId, transferId).
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

func (l *Logger) Debug(msg string)            { l.zl.Debug().Msg(msg) }
func (l *Logger) Info(msg string)             { l.zl.Info().Msg(msg) }
func (l *Logger) Warn(msg string)             { l.zl.Warn().Msg(msg) }
func (l *Logger) Error(err error, msg string) { l.zl.Error().Err(err).Msg(msg) }
func (l *Logger) Fatal(err error, msg string) { l.zl.Fatal().Err(err).Msg(msg) }

// Zerolog exposes the underlying zerolog.Logger for packages (e.g. echo's
// request logging middleware) that want direct access.
func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
