// Package logging wires the supervisor's debug logger. It mirrors the
// call sites the teacher repo (github.com/lxc/lxcri) exposes through its
// pkg/log package: a console logger for interactive/test use, and a file
// logger driven by CONMON_LOG_PATH / CONMON_LOG_LEVEL and --log-level.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Console returns a human-readable console logger, equivalent in spirit
// to the teacher's pkg/log.ConsoleLogger(debug bool).
func Console(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// OpenFile opens path for append and returns a structured JSON logger
// writing to it, equivalent to the teacher's
// pkg/log.OpenFile + pkg/log.NewLogger(f, level).Logger() pair used in
// cmd/lxcri-conmon/main.go.
func OpenFile(path string, level zerolog.Level) (zerolog.Logger, io.Closer, error) {
	if path == "" {
		return Discard(), nopCloser{}, nil
	}
	// #nosec G302 -- debug log files are operator-owned, 0640 matches the teacher's OpenFile mode.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("failed to open log file %q: %w", path, err)
	}
	logger := zerolog.New(f).Level(level).With().Timestamp().Caller().Logger()
	return logger, f, nil
}

// Discard returns a logger that drops everything, used when no log
// destination is configured.
func Discard() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// ParseLevel maps the --log-level / CONMON_LOG_LEVEL string to a zerolog
// level, defaulting to Info on an unrecognized value.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
