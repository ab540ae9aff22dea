// Package logger builds the process zerolog.Logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// DefaultLogFile is used by Init.
const DefaultLogFile = "switchboard.log"

// Init writes JSON logs to switchboard.log in the current directory.
// The level comes from LOG_LEVEL (trace, debug, info, warn, error).
func Init() (zerolog.Logger, error) {
	return InitWithOptions(DefaultLogFile, false)
}

// InitWithOptions builds a logger writing JSON to logFile, or to stderr when
// logFile is empty. pretty selects a human-readable console format on
// stderr and is ignored when logging to a file. Stdout is left to command
// output.
func InitWithOptions(logFile string, pretty bool) (zerolog.Logger, error) {
	level := parseLogLevel(os.Getenv("LOG_LEVEL"))

	var (
		out    io.Writer = os.Stderr
		target           = "stderr"
	)
	switch {
	case logFile != "":
		//nolint:gosec // G304: user-specified log path
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file %s: %w", logFile, err)
		}
		out, target = file, logFile
	case pretty:
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	log := New(out, level)
	log.Debug().Str("output", target).Bool("pretty", pretty && logFile == "").Str("level", level.String()).Msg("Logger initialized")
	return log, nil
}

// New returns a timestamped logger on w at level.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
