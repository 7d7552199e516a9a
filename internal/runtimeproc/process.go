// Package runtimeproc implements the fork/exec sequence that detaches the
// supervisor from its caller and launches the OCI runtime binary as the
// monitored grandchild process (see spec §4.3).
//
// Go's os/exec deliberately gives no hook to run Go code in a forked
// child before it execs (running arbitrary Go code in a raw, unexeced
// fork is unsafe with a multi-threaded, GC'd runtime). Both forks this
// package performs are therefore fork+exec. For the runtime spawn, setsid
// is applied by the fork itself (SysProcAttr.Setsid), and the rest of the
// "child-side" setup the design calls for (restore the previous signal
// mask; set umask) runs in a tiny re-exec stage of this same binary — a single
// extra exec the kernel performs atomically as part of the same
// clone+execve sequence, in the documented order, before the process
// finally becomes the runtime binary. This is the same technique
// reexec-based daemonizers in the ecosystem use (see DESIGN.md).
package runtimeproc

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/containers/conmon-v3/internal/conmonerr"
	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// ReexecStageArg is the hidden argv[0]-adjacent marker that tells main()
// to run RunReexecStage instead of the normal CLI.
const ReexecStageArg = "__conmon_v3_exec_runtime"

const envDaemonStage = "_CONMON_V3_DAEMON_STAGE"

// blockedSignals are blocked in the current process before the runtime is
// spawned, and restored in the re-exec stage before the runtime binary
// replaces it (§4.3 step 4-5).
var blockedSignals = []unix.Signal{unix.SIGTERM, unix.SIGQUIT, unix.SIGINT, unix.SIGHUP}

// Process holds the PID of the spawned runtime. New returns one with PID
// -1, matching the design's "unspawned" sentinel.
type Process struct {
	pid int
	pty *os.File
}

// New returns an unspawned Process.
func New() *Process { return &Process{pid: -1} }

// PID returns the runtime's PID, or -1 if Spawn has not been called.
func (p *Process) PID() int { return p.pid }

// PTY returns the pty master opened for a Terminal spawn, or nil if the
// runtime was not spawned with a terminal.
func (p *Process) PTY() *os.File { return p.pty }

// SpawnOptions configures Spawn.
type SpawnOptions struct {
	// RuntimeBinary is the path to the OCI runtime executable.
	RuntimeBinary string
	// Args are the runtime's arguments after its own name (argv[1:] of
	// the §6.2 vector); the runtime is exec'd with RuntimeBinary as
	// argv[0] followed by Args.
	Args []string
	// Stdin, Stdout, Stderr are the fds the runtime process inherits.
	// Stdin may be nil if no --stdin pipe was requested. Ignored when
	// Terminal is set: the pty slave takes their place.
	Stdin, Stdout, Stderr *os.File
	// Terminal allocates a pseudo-TTY for the runtime instead of using
	// Stdin/Stdout/Stderr; the master end is retrieved via Process.PTY
	// after Spawn returns and handed off through attach/console.go.
	Terminal bool
	// StartPipe, if non-nil, is read once (payload discarded) after
	// fork but before exec of the runtime, unblocking the caller's
	// rendezvous for attach sessions (§4.3 step 3, §4.6 step 4 note).
	StartPipe *os.File
}

// Spawn execs the runtime binary with the given argv and stdio, setsid'd
// into its own session, with SIGTERM/SIGQUIT/SIGINT/SIGHUP unblocked and
// umask 0o022, as required by §4.3.
func (p *Process) Spawn(opts SpawnOptions) error {
	if len(opts.Args) == 0 {
		return conmonerr.Fatal("empty runtime argument vector")
	}
	if opts.RuntimeBinary == "" {
		return conmonerr.Fatal("runtime binary path is empty")
	}

	if opts.StartPipe != nil {
		if err := blockReadDiscard(opts.StartPipe); err != nil {
			return conmonerr.Fatal("failed to read start-pipe rendezvous: %s", err)
		}
	}

	self, err := os.Executable()
	if err != nil {
		return conmonerr.Fatal("failed to resolve own executable path: %s", err)
	}

	// §4.3 step 4: block SIGTERM/SIGQUIT/SIGINT/SIGHUP here, remembering
	// the previous mask, before the fork that creates the re-exec stage.
	// The stage inherits this blocked mask and only unblocks it (step 5)
	// immediately before it execs the runtime, closing the race window
	// between fork and exec during which a signal could otherwise reach
	// a half-initialized runtime process.
	var blocked, prev unix.Sigset_t
	for _, sig := range blockedSignals {
		addSignal(&blocked, sig)
	}
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &blocked, &prev); err != nil {
		return conmonerr.Fatal("failed to block signals before spawning runtime: %s", err)
	}
	defer func() { _ = unix.PthreadSigmask(unix.SIG_SETMASK, &prev, nil) }()

	stageArgs := append([]string{ReexecStageArg, opts.RuntimeBinary}, opts.Args...)
	cmd := exec.Command(self, stageArgs...)
	cmd.Env = os.Environ()
	// Setsid here creates the new session for the re-exec stage process;
	// the stage then replaces itself with the runtime binary via
	// syscall.Exec, which preserves the session membership setsid just
	// established (§4.3 step 5 "Between fork and exec ... setsid").
	sysProcAttr := &syscall.SysProcAttr{Setsid: true}

	var master, slave *os.File
	if opts.Terminal {
		var ptyErr error
		master, slave, ptyErr = pty.Open()
		if ptyErr != nil {
			return conmonerr.Fatal("failed to open pty: %s", ptyErr)
		}
		defer slave.Close()
		cmd.Stdin, cmd.Stdout, cmd.Stderr = slave, slave, slave
		sysProcAttr.Setctty = true
		sysProcAttr.Ctty = 0 // child fd number: the slave is the child's stdin
	} else {
		cmd.Stdin = opts.Stdin
		cmd.Stdout = opts.Stdout
		cmd.Stderr = opts.Stderr
	}
	cmd.SysProcAttr = sysProcAttr

	if err := cmd.Start(); err != nil {
		if master != nil {
			master.Close()
		}
		return conmonerr.Fatal("failed to spawn runtime: %s", err)
	}
	p.pid = cmd.Process.Pid
	p.pty = master
	return nil
}

// Wait blocks until the runtime process exits and returns its exit code.
// Termination by signal is a fatal error describing the signal. EINTR
// retries; any other wait error triggers a best-effort SIGKILL of the
// runtime before surfacing.
func (p *Process) Wait() (int, error) {
	if p.pid <= 0 {
		return -1, conmonerr.Fatal("wait called on an unspawned process")
	}

	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(p.pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			_ = unix.Kill(p.pid, unix.SIGKILL)
			return -1, conmonerr.Fatal("waitpid(%d) failed: %s", p.pid, err)
		}
		break
	}

	if ws.Signaled() {
		return -1, conmonerr.Fatal("runtime process %d terminated by signal %s", p.pid, ws.Signal())
	}
	return ws.ExitStatus(), nil
}

func blockReadDiscard(f *os.File) error {
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// RunReexecStage is the entry point for the hidden re-exec stage started
// by Spawn. It unblocks the signals Spawn's caller blocked, sets the
// umask, and execs the runtime binary. args is os.Args[2:]: args[0] is
// the runtime binary path, the rest is its argv.
func RunReexecStage(args []string) error {
	if len(args) == 0 {
		return conmonerr.Fatal("re-exec stage called with no runtime binary")
	}

	var set unix.Sigset_t
	for _, sig := range blockedSignals {
		addSignal(&set, sig)
	}
	if err := unix.PthreadSigmask(unix.SIG_UNBLOCK, &set, nil); err != nil {
		return conmonerr.Fatal("failed to unblock signals before exec: %s", err)
	}

	unix.Umask(0o022)

	binary := args[0]
	if err := syscall.Exec(binary, args, os.Environ()); err != nil {
		return conmonerr.Fatal("failed to exec runtime binary %q: %s", binary, err)
	}
	return nil // unreachable on success
}

// addSignal sets bit (sig-1) in a Sigset_t, portable across the
// arch-specific layouts golang.org/x/sys/unix defines for Sigset_t.
func addSignal(set *unix.Sigset_t, sig unix.Signal) {
	_ = unix.SigaddSet(set, int(sig))
}

// Daemonize detaches the supervisor from its caller by re-exec'ing this
// same binary and exiting immediately (§4.3 steps 1-2). It must be
// called before any inherited fd is adopted (syncpipe.FromEnv sets
// FD_CLOEXEC on adoption): called early enough, the sync/attach/start
// pipe fds the caller handed down are plain inherited fds without
// FD_CLOEXEC and therefore survive this fork+exec unchanged, at the same
// descriptor numbers, with no explicit fd-passing required — the same
// property a real fork() (no exec) would have given the whole fd table
// for free.
//
// The freshly started continuation is not made a session leader here —
// guaranteeing it cannot itself become a process-group leader, so the
// later setsid in Spawn succeeds — matching the ordering rationale of
// the design.
//
// On the original process this function never returns: after starting
// the detached continuation it calls os.Exit(0). On the continuation
// process (recognized via an environment marker) it returns nil
// immediately.
func Daemonize() error {
	if os.Getenv(envDaemonStage) == "1" {
		return nil
	}

	if err := redirectStdioToDevNull(); err != nil {
		return conmonerr.Fatal("failed to redirect stdio to /dev/null: %s", err)
	}

	self, err := os.Executable()
	if err != nil {
		return conmonerr.Fatal("failed to resolve own executable path: %s", err)
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return conmonerr.Fatal("failed to open %s: %s", os.DevNull, err)
	}
	defer devnull.Close()

	cmd := exec.Command(self, os.Args[1:]...)
	cmd.Env = append(os.Environ(), envDaemonStage+"=1")
	cmd.Stdin, cmd.Stdout, cmd.Stderr = devnull, devnull, devnull
	cmd.SysProcAttr = &syscall.SysProcAttr{}

	if err := cmd.Start(); err != nil {
		return conmonerr.Fatal("failed to fork daemon continuation: %s", err)
	}

	// "fork once. The parent immediately _exit(0)."
	os.Exit(0)
	panic("unreachable")
}

func redirectStdioToDevNull() error {
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devnull.Close()

	for _, fd := range []int{0, 1, 2} {
		if err := unix.Dup2(int(devnull.Fd()), fd); err != nil {
			return err
		}
	}
	return nil
}
