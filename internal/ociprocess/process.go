// Package ociprocess decodes the OCI exec process-spec JSON and builds
// the runtime binary's argument vector (spec §6.2), adapted from the
// teacher's ReadSpecProcessJSON/LoadSpecProcess/NewSpecProcess
// (runtime.go), generalized from lxcri's own-runtime convenience
// helpers to this supervisor's caller-supplied-runtime argv contract.
package ociprocess

import (
	"encoding/json"
	"os"

	"github.com/containers/conmon-v3/internal/conmonerr"
	"github.com/opencontainers/runtime-spec/specs-go"
)

// ReadProcessSpec reads the JSON-encoded OCI process definition named by
// --exec-process-spec.
func ReadProcessSpec(path string) (*specs.Process, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, conmonerr.Fatal("failed to open exec process spec %q: %s", path, err)
	}
	defer f.Close()

	proc := new(specs.Process)
	if err := json.NewDecoder(f).Decode(proc); err != nil {
		return nil, conmonerr.Fatal("failed to decode exec process spec %q: %s", path, err)
	}
	return proc, nil
}

// Subcommand is one of the three runtime subcommands this supervisor
// can invoke.
type Subcommand int

const (
	Create Subcommand = iota
	Exec
	Restore
)

// ArgvOptions configures BuildArgv.
type ArgvOptions struct {
	RuntimeBinary     string
	Subcommand        Subcommand
	GlobalRuntimeArgs []string // caller's --runtime-arg, placed before the subcommand
	RuntimeOpts       []string // caller's --runtime-opt, placed after subcommand-args
	SystemdCgroup     bool
	NoPivot           bool
	NoNewKeyring      bool
	Bundle            string
	ContainerPIDFile  string
	ExecProcessSpec   string // path, for Exec
	Detach            bool   // Exec is always launched detached by conmon
	ContainerID       string
}

// BuildArgv constructs the full argument vector per §6.2:
//
//	<runtime-binary> <global-flags> <caller-runtime-args>
//	<subcommand + subcommand-args> [--no-pivot] [--no-new-keyring]
//	<caller-runtime-opts> <container-id>
func BuildArgv(opts ArgvOptions) []string {
	argv := []string{opts.RuntimeBinary}

	if opts.SystemdCgroup && (opts.Subcommand == Create || opts.Subcommand == Restore) {
		argv = append(argv, "--systemd-cgroup")
	}

	argv = append(argv, opts.GlobalRuntimeArgs...)

	switch opts.Subcommand {
	case Create:
		argv = append(argv, "create", "--bundle", opts.Bundle, "--pid-file", opts.ContainerPIDFile)
	case Exec:
		argv = append(argv, "exec", "--pid-file", opts.ContainerPIDFile, "--process", opts.ExecProcessSpec, "--detach")
	case Restore:
		argv = append(argv, "restore", "--bundle", opts.Bundle, "--pid-file", opts.ContainerPIDFile)
	}

	if opts.NoPivot {
		argv = append(argv, "--no-pivot")
	}
	if opts.NoNewKeyring {
		argv = append(argv, "--no-new-keyring")
	}

	argv = append(argv, opts.RuntimeOpts...)
	argv = append(argv, opts.ContainerID)

	return argv
}
