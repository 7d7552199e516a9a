package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAndReadPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pidfile")
	require.NoError(t, writePIDFile(path, 4242))

	got, err := readPIDFile(path)
	require.NoError(t, err)
	require.Equal(t, 4242, got)
}

func TestWritePIDFileEmptyPathIsNoop(t *testing.T) {
	require.NoError(t, writePIDFile("", 1))
}

func TestReadPIDFileRejectsNonInteger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pidfile")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o644))

	_, err := readPIDFile(path)
	require.Error(t, err)
}

func TestWriteExitFileWritesCode(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeExitFile(dir, "cid1", 7))

	got, err := os.ReadFile(filepath.Join(dir, "cid1"))
	require.NoError(t, err)
	require.Equal(t, "7", string(got))
}

func TestWriteExitFileEmptyDirIsNoop(t *testing.T) {
	require.NoError(t, writeExitFile("", "cid1", 7))
}
