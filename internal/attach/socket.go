// Package attach implements the listening Unix domain socket that
// interactive clients connect to in order to deliver keystrokes to a
// container's stdin, or to relay sd-notify messages (see spec §4.2).
package attach

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// SocketType tags what an AttachSocket (and the RemoteSocket clients
// that connect to it) is used for.
type SocketType int

const (
	// Console relays interactive stdin bytes to the container.
	Console SocketType = iota
	// Notify relays sd-notify datagrams from the container's init.
	Notify
)

// maxSunPath is the usable length of sockaddr_un.sun_path minus the
// trailing NUL, matching the kernel's UNIX_PATH_MAX - 1 on Linux.
const maxSunPath = 107

// AttachSocket is a listening Unix domain socket bound to a deterministic
// filesystem path. Dropping it (Close) unlinks the path.
type AttachSocket struct {
	ln   *os.File
	path string
	typ  SocketType
}

// Path returns the filesystem path the socket is bound to.
func (a *AttachSocket) Path() string { return a.path }

// Type returns the socket's tag.
func (a *AttachSocket) Type() SocketType { return a.typ }

// FD returns the raw listening fd, for use in a poll set.
func (a *AttachSocket) FD() int { return int(a.ln.Fd()) }

// Options configures where Listen binds the socket, per the three-way
// fallback in §4.2.
type Options struct {
	// FullAttachPath, if set, is used verbatim as the parent directory:
	// the socket is created at <FullAttachPath>/attach, without truncation.
	FullAttachPath string
	// SocketDir is the base directory when FullAttachPath is unset; the
	// socket is created at <SocketDir>/<ContainerUUID>/attach.
	SocketDir string
	// ContainerUUID names the per-container subdirectory under SocketDir.
	ContainerUUID string
	// BundlePath is the symlink target used when the socket-dir path
	// would be truncated to fit sockaddr_un.sun_path.
	BundlePath string
	Type       SocketType
	Perms      os.FileMode
}

// Listen establishes a SOCK_SEQPACKET listening socket using the
// deterministic path resolution from §4.2 and returns the bound
// AttachSocket.
func Listen(opts Options) (*AttachSocket, error) {
	dir, base, err := resolveDir(opts)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, base)

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale attach socket %q: %w", path, err)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create attach socket: %w", err)
	}

	bindPath, dirFile, err := bindableAddr(dir, base)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if dirFile != nil {
		defer dirFile.Close()
	}

	// fchmod before bind, so the socket never has a wider mode exposed
	// even momentarily (§4.2).
	if err := unix.Fchmod(fd, uint32(opts.Perms)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to chmod attach socket fd: %w", err)
	}

	addr := &unix.SockaddrUnix{Name: bindPath}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind attach socket at %q: %w", bindPath, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to listen on attach socket: %w", err)
	}

	return &AttachSocket{
		ln:   os.NewFile(uintptr(fd), path),
		path: path,
		typ:  opts.Type,
	}, nil
}

// resolveDir implements the three-way fallback: verbatim bundle path,
// <socket_dir>/<uuid> with truncation+symlink, or a temp dir.
func resolveDir(opts Options) (dir, base string, err error) {
	const base0 = "attach"

	if opts.FullAttachPath != "" {
		return opts.FullAttachPath, base0, nil
	}

	if opts.SocketDir != "" && opts.ContainerUUID != "" {
		dir = filepath.Join(opts.SocketDir, opts.ContainerUUID)
		full := filepath.Join(dir, base0)
		if len(full) < maxSunPath {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return "", "", fmt.Errorf("failed to create attach socket dir %q: %w", dir, err)
			}
			return dir, base0, nil
		}

		// Path is too long for sockaddr_un.sun_path: truncate and
		// symlink the truncated path to the bundle, preserved verbatim
		// per the design's "open question" note.
		truncated := truncatePath(dir, maxSunPath-len(base0)-1)
		if err := os.MkdirAll(filepath.Dir(truncated), 0o700); err != nil {
			return "", "", fmt.Errorf("failed to create truncated attach socket dir: %w", err)
		}
		if opts.BundlePath != "" {
			if err := os.Remove(truncated); err != nil && !os.IsNotExist(err) {
				return "", "", fmt.Errorf("failed to remove stale attach symlink %q: %w", truncated, err)
			}
			if err := os.Symlink(opts.BundlePath, truncated); err != nil {
				return "", "", fmt.Errorf("failed to symlink %q -> %q: %w", truncated, opts.BundlePath, err)
			}
		}
		return truncated, base0, nil
	}

	tmp, err := os.MkdirTemp("", "conmon-attach-")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temporary attach socket dir: %w", err)
	}
	return tmp, base0, nil
}

// truncatePath implements the precise rule from the design notes: chop
// one byte at a time, then drop everything at/after the first NUL,
// until the path fits within limit bytes.
func truncatePath(p string, limit int) string {
	b := []byte(p)
	for len(b) > limit {
		b = b[:len(b)-1]
	}
	for i, c := range b {
		if c == 0 {
			b = b[:i]
			break
		}
	}
	return string(b)
}

// bindableAddr returns the address to pass to unix.Bind. When the parent
// directory can be opened, bind through /proc/self/fd/<dirfd>/<base> to
// avoid ambient-path races and to keep long paths within the kernel's
// sockaddr_un limit, as described in §4.2. The returned *os.File (if
// non-nil) must be kept open (and eventually closed by the caller) for
// as long as the bind is in flight.
func bindableAddr(dir, base string) (string, *os.File, error) {
	dirFile, err := os.Open(dir)
	if err != nil {
		// Fall back to the ambient path; bind will fail clearly if it
		// doesn't fit.
		return filepath.Join(dir, base), nil, nil
	}
	addr := fmt.Sprintf("/proc/self/fd/%d/%s", dirFile.Fd(), base)
	return addr, dirFile, nil
}

// Accept performs a single non-blocking accept. It returns (nil, nil) on
// EWOULDBLOCK/EAGAIN, a connected *RemoteSocket on success, and (nil, err)
// on any other error, which the caller logs and does not treat as fatal:
// accept errors must never be fatal to the session (§4.2, §7).
func (a *AttachSocket) Accept() (*RemoteSocket, error) {
	fd, _, err := unix.Accept4(a.FD(), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			return nil, nil
		}
		return nil, err
	}
	return &RemoteSocket{f: os.NewFile(uintptr(fd), "attach-client"), typ: a.typ}, nil
}

// Close unlinks the socket path and releases the listening fd.
func (a *AttachSocket) Close() error {
	if a == nil {
		return nil
	}
	cerr := a.ln.Close()
	rerr := os.Remove(a.path)
	if cerr != nil {
		return cerr
	}
	if rerr != nil && !os.IsNotExist(rerr) {
		return rerr
	}
	return nil
}

// RemoteSocket is a single connected attach client.
type RemoteSocket struct {
	f   *os.File
	typ SocketType
}

// Type returns the parent AttachSocket's SocketType.
func (r *RemoteSocket) Type() SocketType { return r.typ }

// FD returns the raw client fd, for use in a poll set.
func (r *RemoteSocket) FD() int { return int(r.f.Fd()) }

// Read performs a single recvfrom up to len(buf) bytes.
func (r *RemoteSocket) Read(buf []byte) (int, error) {
	n, _, _, _, err := unix.Recvmsg(r.FD(), buf, nil, 0)
	return n, err
}

// Close closes the client connection.
func (r *RemoteSocket) Close() error {
	return r.f.Close()
}
