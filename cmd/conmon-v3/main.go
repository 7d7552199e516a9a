// Command conmon-v3 is the CLI entry point: flag parsing, validation,
// and logging setup around internal/session, mirroring the teacher's
// cmd/lxcri-conmon/main.go usage banner and flag surface (see
// SPEC_FULL.md §2.2).
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/containers/conmon-v3/internal/conmonerr"
	"github.com/containers/conmon-v3/internal/logging"
	"github.com/containers/conmon-v3/internal/logplugin"
	"github.com/containers/conmon-v3/internal/runtimeproc"
	"github.com/containers/conmon-v3/internal/session"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

// version and commit are set at build time via -ldflags.
var (
	version = "3.0.0"
	commit  = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == runtimeproc.ReexecStageArg {
		if err := runtimeproc.RunReexecStage(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(conmonerr.ExitFailure)
		}
		return
	}

	app := &cli.App{
		Name:  "conmon-v3",
		Usage: "an OCI container runtime monitor",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "api-version", Value: 0, Usage: "conmon API version to use"},
			&cli.StringFlag{Name: "bundle", Aliases: []string{"b"}, Usage: "location of the OCI bundle path"},
			&cli.StringFlag{Name: "cid", Aliases: []string{"c"}, Usage: "identification of the container"},
			&cli.StringFlag{Name: "cuuid", Aliases: []string{"u"}, Usage: "container UUID"},
			&cli.BoolFlag{Name: "exec", Aliases: []string{"e"}, Usage: "exec a command into a running container"},
			&cli.BoolFlag{Name: "exec-attach", Usage: "attach to an exec session"},
			&cli.StringFlag{Name: "exec-process-spec", Usage: "path to the process spec for execution"},
			&cli.BoolFlag{Name: "stdin", Aliases: []string{"i"}, Usage: "open a pipe to pass stdin to the container"},
			&cli.BoolFlag{Name: "terminal", Aliases: []string{"t"}, Usage: "allocate a pseudo-TTY"},
			&cli.StringFlag{Name: "log-path", Aliases: []string{"l"}, Usage: "container process log file path"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "print debug logs based on log level"},
			&cli.StringFlag{Name: "log-plugin", Value: "k8s_file", Usage: "log plugin name or path"},
			&cli.BoolFlag{Name: "systemd-cgroup", Aliases: []string{"s"}, Usage: "enable systemd cgroup manager"},
			&cli.BoolFlag{Name: "no-pivot", Usage: "do not use pivot_root"},
			&cli.BoolFlag{Name: "no-new-keyring", Usage: "do not create a new session keyring"},
			&cli.StringFlag{Name: "socket-dir-path", Usage: "location of container attach sockets"},
			&cli.StringFlag{Name: "full-attach-path", Usage: "directory the attach socket is created in, used as given, overriding socket-dir-path"},
			&cli.StringFlag{Name: "container-pidfile", Aliases: []string{"p"}, Usage: "pidfile for the initial pid inside the container"},
			&cli.StringFlag{Name: "conmon-pidfile", Aliases: []string{"P"}, Usage: "pidfile for this supervisor process"},
			&cli.StringFlag{Name: "runtime", Aliases: []string{"r"}, Usage: "path to the OCI runtime binary"},
			&cli.StringSliceFlag{Name: "runtime-arg", Usage: "additional arg to pass to the runtime"},
			&cli.StringSliceFlag{Name: "runtime-opt", Usage: "additional opts to pass to the restore or exec command"},
			&cli.BoolFlag{Name: "restore", Usage: "restore a container from a checkpoint"},
			&cli.BoolFlag{Name: "leave-stdin-open", Usage: "leave stdin open when the attached client disconnects"},
			&cli.BoolFlag{Name: "sync", Usage: "keep the runtime as this process's direct child by forking only once"},
			&cli.StringFlag{Name: "exit-dir", Usage: "directory where exit files are written"},
			&cli.IntFlag{Name: "timeout", Aliases: []string{"T"}, Usage: "timeout in seconds; accepted but not applied, no deadline is enforced"},
			&cli.BoolFlag{Name: "version", Usage: "print the version and exit"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		code := conmonerr.ExitFailure
		var fatal *conmonerr.Error
		if e, ok := err.(*conmonerr.Error); ok {
			fatal = e
			code = fatal.Code
		}
		os.Exit(code)
	}
}

func run(c *cli.Context) error {
	// End-to-end scenario 1: --version short-circuits before touching
	// any env fd.
	if c.Bool("version") {
		fmt.Printf("%s version %s\ncommit: %s\n", c.App.Name, version, commit)
		return nil
	}

	exec := c.Bool("exec")
	execAttach := c.Bool("exec-attach")
	apiVersion := c.Int("api-version")

	// End-to-end scenario 2: attach only makes sense alongside exec.
	if execAttach && !exec {
		return conmonerr.Fatal("Attach can only be specified with exec")
	}
	// End-to-end scenario 3: attach is never valid alongside exec on the
	// legacy (API v0) wire format, regardless of --cuuid.
	if apiVersion < 1 && exec && execAttach {
		return conmonerr.Fatal("Attach can only be specified for a non-legacy exec session")
	}

	logger, closeLog, err := buildLogger(c)
	if err != nil {
		return err
	}
	defer closeLog.Close()

	cfg := session.Config{
		APIVersion:        apiVersion,
		Exec:              exec,
		ExecAttach:        execAttach,
		ContainerID:       c.String("cid"),
		ContainerUUID:     c.String("cuuid"),
		Bundle:            c.String("bundle"),
		RuntimeBinary:     c.String("runtime"),
		RuntimeArgs:       c.StringSlice("runtime-arg"),
		RuntimeOpts:       c.StringSlice("runtime-opt"),
		SystemdCgroup:     c.Bool("systemd-cgroup"),
		NoPivot:           c.Bool("no-pivot"),
		NoNewKeyring:      c.Bool("no-new-keyring"),
		ExecProcessSpec:   c.String("exec-process-spec"),
		RestoreFromBundle: c.Bool("restore"),
		Stdin:             c.Bool("stdin"),
		Terminal:          c.Bool("terminal"),
		LeaveStdinOpen:    c.Bool("leave-stdin-open"),
		SingleFork:        c.Bool("sync"),
		SocketDirPath:     c.String("socket-dir-path"),
		FullAttachPath:    c.String("full-attach-path"),
		ContainerPIDFile:  c.String("container-pidfile"),
		ConmonPIDFile:     c.String("conmon-pidfile"),
		ExitDir:           c.String("exit-dir"),
		LogPluginName:     c.String("log-plugin"),
		LogPluginArgs:     []logplugin.KV{{Key: "path", Value: c.String("log-path")}},
		Logger:            logger,
	}

	code, err := session.Run(cfg)
	if err != nil {
		return err
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

// buildLogger constructs the supervisor's own debug logger. CONMON_LOG_PATH
// and CONMON_LOG_LEVEL, when set, send it to a file (overriding --log-level);
// otherwise it logs to the console at the level --log-level names.
func buildLogger(c *cli.Context) (zerolog.Logger, io.Closer, error) {
	level := logging.ParseLevel(c.String("log-level"))
	if path := os.Getenv("CONMON_LOG_PATH"); path != "" {
		if envLevel := os.Getenv("CONMON_LOG_LEVEL"); envLevel != "" {
			level = logging.ParseLevel(envLevel)
		}
		return logging.OpenFile(path, level)
	}
	return logging.Console(level == zerolog.DebugLevel), nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
