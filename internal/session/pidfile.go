package session

import (
	"os"
	"strconv"
	"strings"

	"github.com/containers/conmon-v3/internal/conmonerr"
)

// writePIDFile writes pid as a newline-terminated decimal string to
// path, atomically via a temp-file-then-rename, mirroring the teacher's
// ContainerInfo.CreatePidFile/createPidFile convention (cmd/container.go).
func writePIDFile(path string, pid int) error {
	if path == "" {
		return nil
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return conmonerr.Fatal("failed to write pidfile %q: %s", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return conmonerr.Fatal("failed to rename pidfile %q into place: %s", path, err)
	}
	return nil
}

// readPIDFile reads back a pid written by the runtime binary, as
// cmd.ContainerInfo.Pid does in the teacher.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, conmonerr.Fatal("failed to read container pidfile %q: %s", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, conmonerr.Fatal("container pidfile %q does not contain an integer: %s", path, err)
	}
	return pid, nil
}

// writeExitFile writes the numeric exit code to <dir>/<containerID>, the
// on-disk contract supplementing sync-pipe reporting (SPEC_FULL.md §4).
func writeExitFile(dir, containerID string, code int) error {
	if dir == "" {
		return nil
	}
	path := dir + "/" + containerID
	if err := os.WriteFile(path, []byte(strconv.Itoa(code)), 0o644); err != nil {
		return conmonerr.Fatal("failed to write exit file %q: %s", path, err)
	}
	return nil
}
