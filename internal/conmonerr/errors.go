// Package conmonerr defines the single structured error type used across
// the supervision session and the helpers for the fatal error category.
// The silent and swallowed categories have no helper here; they are
// handled where they occur (internal/syncpipe, internal/multiplex).
package conmonerr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Exit codes returned by the conmon-v3 process (see §6.6).
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// Error is the one structured error type produced at every failure site.
// Msg is a human-readable description; Code is a numeric exit code that
// the caller (typically cmd/conmon-v3) uses when it is the outermost
// failure.
type Error struct {
	Msg  string
	Code int
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.err }

// Fatal builds an *Error with the standard failure exit code. Input
// validation errors, fork/exec errors, and any other "surfaced to the
// caller" failure from §7 should be constructed with Fatal.
func Fatal(format string, args ...interface{}) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...), Code: ExitFailure}
}

// Wrap annotates err with a message and keeps it unwrappable, using
// github.com/pkg/errors for call sites that pre-date native error
// wrapping in this codebase (mirrors the teacher's cmd/seccomp.go, which
// reaches for pkg/errors rather than fmt.Errorf's %w).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, msg)
}

// IsFatal reports whether err is (or wraps) a conmonerr *Error.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
