package ociprocess

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildArgvCreate(t *testing.T) {
	argv := BuildArgv(ArgvOptions{
		RuntimeBinary:    "runc",
		Subcommand:       Create,
		Bundle:           "/bundle",
		ContainerPIDFile: "/run/pid",
		ContainerID:      "cid1",
	})
	require.Equal(t, []string{"runc", "create", "--bundle", "/bundle", "--pid-file", "/run/pid", "cid1"}, argv)
}

func TestBuildArgvExecWithFlags(t *testing.T) {
	argv := BuildArgv(ArgvOptions{
		RuntimeBinary:    "runc",
		Subcommand:       Exec,
		ContainerPIDFile: "/run/pid",
		ExecProcessSpec:  "/spec.json",
		NoPivot:          true,
		NoNewKeyring:     true,
		ContainerID:      "cid1",
	})
	require.Equal(t, []string{
		"runc", "exec", "--pid-file", "/run/pid", "--process", "/spec.json", "--detach",
		"--no-pivot", "--no-new-keyring", "cid1",
	}, argv)
}

func TestBuildArgvSystemdCgroupOnlyForCreateRestore(t *testing.T) {
	argv := BuildArgv(ArgvOptions{
		RuntimeBinary: "runc",
		Subcommand:    Exec,
		SystemdCgroup: true,
		ContainerID:   "cid1",
	})
	require.NotContains(t, argv, "--systemd-cgroup")

	argv = BuildArgv(ArgvOptions{
		RuntimeBinary: "runc",
		Subcommand:    Restore,
		SystemdCgroup: true,
		Bundle:        "/b",
		ContainerID:   "cid1",
	})
	require.Contains(t, argv, "--systemd-cgroup")
}

func TestReadProcessSpecDecodesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"cwd":"/","args":["sh","-c","true"]}`), 0o644))

	proc, err := ReadProcessSpec(path)
	require.NoError(t, err)
	require.Equal(t, "/", proc.Cwd)
	require.Equal(t, []string{"sh", "-c", "true"}, proc.Args)
}

func TestReadProcessSpecMissingFileFails(t *testing.T) {
	_, err := ReadProcessSpec("/no/such/file.json")
	require.Error(t, err)
}
