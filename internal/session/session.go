// Package session composes the sync-pipe, attach socket, runtime
// process, multiplexer, and log plugin host into the eleven-step
// orchestration contract from spec §4.6.
package session

import (
	"os"

	"github.com/containers/conmon-v3/internal/attach"
	"github.com/containers/conmon-v3/internal/conmonerr"
	"github.com/containers/conmon-v3/internal/logplugin"
	"github.com/containers/conmon-v3/internal/multiplex"
	"github.com/containers/conmon-v3/internal/ociprocess"
	"github.com/containers/conmon-v3/internal/runtimeproc"
	"github.com/containers/conmon-v3/internal/syncpipe"
	"github.com/rs/zerolog"
)

// Config is the fully-validated configuration the CLI layer hands to
// Run, equivalent to the teacher's conmon struct plus lxcri.ContainerConfig
// fields, generalized to this supervisor's own domain.
type Config struct {
	APIVersion int
	Exec       bool
	ExecAttach bool

	ContainerID   string
	ContainerUUID string
	Bundle        string

	RuntimeBinary     string
	RuntimeArgs       []string
	RuntimeOpts       []string
	SystemdCgroup     bool
	NoPivot           bool
	NoNewKeyring      bool
	ExecProcessSpec   string
	RestoreFromBundle bool

	Stdin          bool
	Terminal       bool
	LeaveStdinOpen bool
	SingleFork     bool

	SocketDirPath  string
	FullAttachPath string

	ContainerPIDFile string
	ConmonPIDFile    string
	ExitDir          string

	LogPluginName string
	LogPluginArgs []logplugin.KV

	Logger zerolog.Logger
}

// Run executes the eleven-step orchestration contract and returns the
// process exit code this supervisor should exit with.
func Run(cfg Config) (int, error) {
	// §4.3 steps 1-2: detach from the caller before adopting any
	// inherited fd (adoption sets FD_CLOEXEC, which would otherwise
	// prevent the fds surviving this fork+exec). --sync keeps the
	// runtime as this process's direct child by skipping the detach.
	if !cfg.SingleFork {
		if err := runtimeproc.Daemonize(); err != nil {
			return conmonerr.ExitFailure, err
		}
	}

	syncPipe, err := syncpipe.FromEnv("_OCI_SYNCPIPE")
	if err != nil {
		return conmonerr.ExitFailure, err
	}

	var attachPipe *syncpipe.Pipe
	if cfg.ExecAttach {
		attachPipe, err = syncpipe.FromEnv("_OCI_ATTACHPIPE")
		if err != nil {
			return conmonerr.ExitFailure, err
		}
	}

	// Step 2: listen on the attach socket.
	attachSock, err := attach.Listen(attach.Options{
		FullAttachPath: cfg.FullAttachPath,
		SocketDir:      cfg.SocketDirPath,
		ContainerUUID:  cfg.ContainerUUID,
		BundlePath:     cfg.Bundle,
		Type:           attach.Console,
		Perms:          0o700,
	})
	if err != nil {
		return conmonerr.ExitFailure, err
	}
	defer attachSock.Close()

	// Step 3: signal attach readiness with a zero payload.
	if err := attachPipe.Write(cfg.APIVersion, cfg.Exec, 0, ""); err != nil {
		return conmonerr.ExitFailure, err
	}

	// Step 4: block-read the start-pipe rendezvous once; keep it for
	// spawn's second rendezvous when attaching.
	startPipe, err := syncpipe.FromEnv("_OCI_STARTPIPE")
	if err != nil {
		return conmonerr.ExitFailure, err
	}
	var spawnStartPipe *os.File
	if startPipe != nil {
		if err := blockReadOnce(startPipe); err != nil {
			return conmonerr.ExitFailure, err
		}
		if cfg.ExecAttach {
			spawnStartPipe = startPipe.File()
		} else {
			startPipe.Close()
		}
	}

	// Step 5: build the runtime argv. For exec, validate the process
	// spec decodes before handing its path to the runtime, so a
	// malformed --exec-process-spec fails fast with a clear error
	// instead of surfacing as an opaque runtime exit code.
	sub, err := selectSubcommand(cfg)
	if err != nil {
		return conmonerr.ExitFailure, err
	}
	argv := ociprocess.BuildArgv(ociprocess.ArgvOptions{
		RuntimeBinary:     cfg.RuntimeBinary,
		Subcommand:        sub,
		GlobalRuntimeArgs: cfg.RuntimeArgs,
		RuntimeOpts:       cfg.RuntimeOpts,
		SystemdCgroup:     cfg.SystemdCgroup,
		NoPivot:           cfg.NoPivot,
		NoNewKeyring:      cfg.NoNewKeyring,
		Bundle:            cfg.Bundle,
		ContainerPIDFile:  cfg.ContainerPIDFile,
		ExecProcessSpec:   cfg.ExecProcessSpec,
		ContainerID:       cfg.ContainerID,
	})

	// Step 6: create the stdio pipes. Terminal mode uses a pty instead;
	// runtimeproc.Process.Spawn allocates it and keeps the master end.
	var stdoutR, stdoutW, stderrR, stderrW, stdinR, stdinW *os.File
	if !cfg.Terminal {
		stdoutR, stdoutW, err = os.Pipe()
		if err != nil {
			return conmonerr.ExitFailure, conmonerr.Fatal("failed to create stdout pipe: %s", err)
		}
		stderrR, stderrW, err = os.Pipe()
		if err != nil {
			return conmonerr.ExitFailure, conmonerr.Fatal("failed to create stderr pipe: %s", err)
		}
		if cfg.Stdin {
			stdinR, stdinW, err = os.Pipe()
			if err != nil {
				return conmonerr.ExitFailure, conmonerr.Fatal("failed to create stdin pipe: %s", err)
			}
		}
	}

	// Step 7: spawn the runtime.
	proc := runtimeproc.New()
	spawnErr := proc.Spawn(runtimeproc.SpawnOptions{
		RuntimeBinary: argv[0],
		Args:          argv[1:],
		Stdin:         stdinR,
		Stdout:        stdoutW,
		Stderr:        stderrW,
		Terminal:      cfg.Terminal,
		StartPipe:     spawnStartPipe,
	})
	// The runtime's copies of these fds are what it needs; the
	// supervisor's own copies of the child-facing ends are now unused.
	if stdoutW != nil {
		stdoutW.Close()
	}
	if stderrW != nil {
		stderrW.Close()
	}
	if stdinR != nil {
		stdinR.Close()
	}
	if spawnErr != nil {
		return conmonerr.ExitFailure, spawnErr
	}
	if cfg.Terminal {
		stdoutR = proc.PTY()
		stdinW = proc.PTY()
	}

	// Step 8: write the spawned PID to the conmon pidfile.
	if err := writePIDFile(cfg.ConmonPIDFile, proc.PID()); err != nil {
		return conmonerr.ExitFailure, err
	}

	// Step 9: for create/restore, wait for the runtime and forward the
	// container PID over the sync pipe.
	if !cfg.Exec {
		code, err := proc.Wait()
		if err != nil {
			return conmonerr.ExitFailure, err
		}
		if code != 0 {
			_ = syncPipe.Write(cfg.APIVersion, false, code, readStderrTail(stderrR))
			return code, conmonerr.Fatal("runtime exited with code %d", code)
		}
		pid, err := readPIDFile(cfg.ContainerPIDFile)
		if err != nil {
			return conmonerr.ExitFailure, err
		}
		if err := syncPipe.Write(cfg.APIVersion, false, pid, ""); err != nil {
			return conmonerr.ExitFailure, err
		}
	}

	// Step 10: run the multiplexer until the container's stdio closes.
	plugin, err := logplugin.LoadNamed(cfg.LogPluginName, cfg.LogPluginArgs)
	if err != nil {
		cfg.Logger.Warn().Err(err).Msg("failed to load log plugin; continuing without one")
		plugin = nil
	}
	if plugin != nil {
		defer plugin.Close()
	}

	muxCfg := multiplex.Config{
		Stdout:         stdoutR,
		Stderr:         stderrR,
		Stdin:          stdinW,
		Attach:         attachSock,
		LeaveStdinOpen: cfg.LeaveStdinOpen,
		Log:            plugin,
		Logger:         cfg.Logger,
	}
	if cfg.Terminal {
		master := proc.PTY()
		muxCfg.OnConsoleAttach = func(client *attach.RemoteSocket) error {
			return attach.SendMasterFD(client, master)
		}
	}
	muxErr := multiplex.Run(muxCfg)
	if muxErr != nil {
		return conmonerr.ExitFailure, conmonerr.Fatal("multiplexer failed: %s", muxErr)
	}

	// Step 11: for exec, wait again and report the exit code.
	if cfg.Exec {
		code, err := proc.Wait()
		if err != nil {
			return conmonerr.ExitFailure, err
		}
		_ = syncPipe.Write(cfg.APIVersion, true, code, readStderrTail(stderrR))
		if err := writeExitFile(cfg.ExitDir, cfg.ContainerID, code); err != nil {
			cfg.Logger.Warn().Err(err).Msg("failed to write exit file")
		}
		return code & 0xff, nil
	}

	return conmonerr.ExitSuccess, nil
}

// selectSubcommand picks the runtime subcommand for this session and, for
// exec, validates that the process spec it will hand to the runtime
// actually decodes — a malformed --exec-process-spec then fails fast with
// a clear error instead of surfacing as an opaque runtime exit code.
func selectSubcommand(cfg Config) (ociprocess.Subcommand, error) {
	switch {
	case cfg.Exec:
		if _, err := ociprocess.ReadProcessSpec(cfg.ExecProcessSpec); err != nil {
			return ociprocess.Exec, conmonerr.Wrap(err, "invalid exec process spec")
		}
		return ociprocess.Exec, nil
	case cfg.RestoreFromBundle:
		return ociprocess.Restore, nil
	default:
		return ociprocess.Create, nil
	}
}

// stderrTailBufSize bounds the one-shot stderr read done when reporting an
// exit code (§9 Open Question): text beyond this buffer is discarded
// rather than drained, a single read rather than a loop.
const stderrTailBufSize = 8192

// readStderrTail does a single bounded read of the container's stderr
// pipe to capture the message accompanying an exit-code report. By the
// time this runs the runtime has already exited (Wait returned), so the
// write end is closed and this never blocks; it returns whatever of the
// final stderr output the multiplexer had not yet relayed when it
// returned on the first stream's EOF. Returns "" if f is nil or empty.
func readStderrTail(f *os.File) string {
	if f == nil {
		return ""
	}
	buf := make([]byte, stderrTailBufSize)
	n, _ := f.Read(buf)
	return string(buf[:n])
}

func blockReadOnce(p *syncpipe.Pipe) error {
	f := p.File()
	if f == nil {
		return nil
	}
	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			return nil
		}
		if err != nil {
			return conmonerr.Fatal("failed to read start-pipe rendezvous: %s", err)
		}
	}
}
