// Package multiplex implements the single-threaded poll loop that
// relays a container's stdout/stderr to the log plugin and shuttles
// bytes between interactive attach clients and the container's stdin
// (see spec §4.4).
package multiplex

import (
	"os"

	"github.com/containers/conmon-v3/internal/attach"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const readBufSize = 8 * 1024

// LogWriter is the subset of the plugin host's invoke surface the
// multiplexer needs: forward stdout/stderr bytes, ignore the result.
type LogWriter interface {
	Write(isStdout bool, data []byte) error
}

// Config configures Run.
type Config struct {
	// Stdout, Stderr are the container's stdout/stderr read-ends. Stderr
	// may be nil in terminal mode, where the pty master carries both
	// streams merged and only Stdout is set.
	Stdout, Stderr *os.File
	// Stdin is the container's stdin write-end. May be nil if --stdin
	// was not requested; closing it cascades EOF to the container.
	Stdin *os.File
	// Attach is the listening socket accepting interactive clients; may
	// be nil when no attach socket was created.
	Attach *attach.AttachSocket
	// LeaveStdinOpen controls whether a Console client EOF closes Stdin.
	LeaveStdinOpen bool
	// OnConsoleAttach, if set, runs once for each newly accepted Console
	// client before it is added to the poll set — used in terminal mode
	// to hand the pty master fd to the client via SCM_RIGHTS (§4.2). A
	// client the hook rejects is closed and never polled.
	OnConsoleAttach func(*attach.RemoteSocket) error
	Log             LogWriter
	Logger          zerolog.Logger
}

// Run executes the poll loop, relaying container output to cfg.Log and
// remote attach traffic to/from cfg.Stdin. Per spec, the container's
// stdio is considered done — and Run returns success — as soon as
// either configured output stream (stdout, or stderr when present)
// reaches EOF; it does not wait for both.
func Run(cfg Config) error {
	fds := make([]unix.PollFd, 0, 4)

	stdoutIdx := -1
	if cfg.Stdout != nil {
		stdoutIdx = len(fds)
		fds = append(fds, unix.PollFd{Fd: int32(cfg.Stdout.Fd()), Events: unix.POLLIN})
	}
	stderrIdx := -1
	if cfg.Stderr != nil {
		stderrIdx = len(fds)
		fds = append(fds, unix.PollFd{Fd: int32(cfg.Stderr.Fd()), Events: unix.POLLIN})
	}
	attachIdx := -1
	if cfg.Attach != nil {
		attachIdx = len(fds)
		fds = append(fds, unix.PollFd{Fd: int32(cfg.Attach.FD()), Events: unix.POLLIN})
	}
	remoteBase := len(fds)

	clients := make([]*attach.RemoteSocket, 0)
	stdoutDone, stderrDone := false, false
	buf := make([]byte, readBufSize)

	for {
		n, err := unix.Poll(fds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		for i := 0; i < len(fds); i++ {
			pfd := &fds[i]
			if pfd.Revents == 0 {
				continue
			}

			switch {
			case i == attachIdx:
				if pfd.Revents&unix.POLLIN != 0 {
					client, err := cfg.Attach.Accept()
					if err != nil {
						cfg.Logger.Warn().Err(err).Msg("attach accept failed")
						break
					}
					if client != nil {
						if client.Type() == attach.Console && cfg.OnConsoleAttach != nil {
							if hookErr := cfg.OnConsoleAttach(client); hookErr != nil {
								cfg.Logger.Warn().Err(hookErr).Msg("console attach hook failed")
								_ = client.Close()
								break
							}
						}
						clients = append(clients, client)
						fds = append(fds, unix.PollFd{Fd: int32(client.FD()), Events: unix.POLLIN})
					}
				}

			case i == stdoutIdx || i == stderrIdx:
				isStdout := i == stdoutIdx
				if pfd.Revents&unix.POLLIN != 0 {
					f := cfg.Stdout
					if !isStdout {
						f = cfg.Stderr
					}
					read, rerr := f.Read(buf)
					if read > 0 && cfg.Log != nil {
						if werr := cfg.Log.Write(isStdout, buf[:read]); werr != nil {
							cfg.Logger.Warn().Err(werr).Bool("stdout", isStdout).Msg("log plugin write failed")
						}
					}
					if read == 0 || rerr != nil {
						if isStdout {
							stdoutDone = true
						} else {
							stderrDone = true
						}
					}
				} else if pfd.Revents&unix.POLLHUP != 0 {
					if isStdout {
						stdoutDone = true
					} else {
						stderrDone = true
					}
				}

			default:
				ci := i - remoteBase
				if ci < 0 || ci >= len(clients) {
					continue
				}
				client := clients[ci]

				remove := false
				if pfd.Revents&unix.POLLIN != 0 {
					read, rerr := client.Read(buf)
					switch {
					case read > 0 && client.Type() == attach.Console && cfg.Stdin != nil:
						_, _ = cfg.Stdin.Write(buf[:read])
					case read > 0 && client.Type() == attach.Notify:
						// consumed; nothing forwards.
					case read == 0 || rerr != nil:
						remove = true
					}
				} else if pfd.Revents&unix.POLLHUP != 0 {
					remove = true
				}

				if remove {
					wasConsole := client.Type() == attach.Console
					_ = client.Close()

					lastClient := len(clients) - 1
					clients[ci] = clients[lastClient]
					clients = clients[:lastClient]

					lastFd := len(fds) - 1
					fds[i] = fds[lastFd]
					fds = fds[:lastFd]
					i-- // re-examine this index: the swapped-in entry took its place

					if wasConsole && !cfg.LeaveStdinOpen && cfg.Stdin != nil {
						_ = cfg.Stdin.Close()
						cfg.Stdin = nil
					}
				}
			}
		}

		if (stdoutIdx >= 0 && stdoutDone) || (stderrIdx >= 0 && stderrDone) {
			return nil
		}
	}
}
