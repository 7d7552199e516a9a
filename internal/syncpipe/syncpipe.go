// Package syncpipe implements the framed-JSON status channel the
// supervisor uses to report the container PID and exit code back to its
// caller over an inherited pipe fd (see spec §4.1).
package syncpipe

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// Pipe is an owned, write-only sync-pipe fd adopted from the caller's
// environment.
type Pipe struct {
	f      *os.File
	closed bool
}

// FromEnv reads the named environment variable, parses it as a signed
// 32-bit fd, adopts it with FD_CLOEXEC set, and returns a *Pipe. A
// missing variable returns (nil, nil): no fd was inherited.
func FromEnv(name string) (*Pipe, error) {
	val, ok := os.LookupEnv(name)
	if !ok {
		return nil, nil
	}
	n, err := strconv.ParseInt(val, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%s value %q is not an integer: %w", name, val, err)
	}
	fd := int(n)
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		return nil, fmt.Errorf("failed to set FD_CLOEXEC on %s fd %d: %w", name, fd, err)
	}
	return &Pipe{f: os.NewFile(uintptr(fd), name)}, nil
}

// Closed reports whether the pipe has already been dropped, either
// explicitly or because a previous write hit EPIPE.
func (p *Pipe) Closed() bool {
	return p == nil || p.closed
}

// File returns the underlying fd, e.g. to hand a still-open start-pipe
// to runtimeproc.Spawn for its second rendezvous read. Returns nil for a
// nil or already-closed *Pipe.
func (p *Pipe) File() *os.File {
	if p.Closed() {
		return nil
	}
	return p.f
}

// Close releases the underlying fd. Safe to call on a nil *Pipe.
func (p *Pipe) Close() error {
	if p == nil || p.closed {
		return nil
	}
	p.closed = true
	return p.f.Close()
}

// message is the wire shape of a single sync-pipe status line.
// value is emitted under key ("pid", "exit_code" or "data", see Key).
type message struct {
	key     string
	value   int
	message string
	hasMsg  bool
}

func (m message) MarshalJSON() ([]byte, error) {
	fields := map[string]interface{}{m.key: m.value}
	if m.hasMsg {
		fields["message"] = m.message
	}
	return json.Marshal(fields)
}

// Key selects the JSON integer key per §4.1: API version >= 1 always
// uses "data"; otherwise "exit_code" for exec sessions, else "pid".
func Key(apiVersion int, isExec bool) string {
	switch {
	case apiVersion >= 1:
		return "data"
	case isExec:
		return "exit_code"
	default:
		return "pid"
	}
}

// Write serializes {<key>: value[, "message": message]} as one
// newline-terminated JSON line and writes it to the pipe. A nil *Pipe or
// an already-closed pipe is a silent no-op success: there was nothing to
// report to. EPIPE is silent success too and drops the fd. Any other
// write error is fatal.
func (p *Pipe) Write(apiVersion int, isExec bool, value int, msg string) error {
	if p.Closed() {
		return nil
	}

	m := message{key: Key(apiVersion, isExec), value: value, message: msg, hasMsg: msg != ""}
	buf, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal sync-pipe message: %w", err)
	}
	buf = append(buf, '\n')

	if err := writeAll(p.f, buf); err != nil {
		if isBrokenPipe(err) {
			_ = p.Close()
			return nil
		}
		return fmt.Errorf("failed to write sync-pipe message: %w", err)
	}
	return nil
}

// writeAll writes the whole buffer, retrying on short writes and EINTR,
// as required by §4.1.
func writeAll(f *os.File, buf []byte) error {
	for len(buf) > 0 {
		n, err := f.Write(buf)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE)
}
