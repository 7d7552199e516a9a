package syncpipe

import (
	"bufio"
	"encoding/json"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestFromEnvMissing(t *testing.T) {
	os.Unsetenv("_TEST_SYNCPIPE_MISSING")
	p, err := FromEnv("_TEST_SYNCPIPE_MISSING")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestFromEnvNotInteger(t *testing.T) {
	t.Setenv("_TEST_SYNCPIPE_BAD", "not-a-number")
	p, err := FromEnv("_TEST_SYNCPIPE_BAD")
	require.Error(t, err)
	require.Nil(t, p)
	require.Contains(t, err.Error(), "not an integer")
}

func TestFromEnvSetsCloexec(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	t.Setenv("_TEST_SYNCPIPE_FD", strconv.Itoa(int(w.Fd())))
	p, err := FromEnv("_TEST_SYNCPIPE_FD")
	require.NoError(t, err)
	require.NotNil(t, p)
	defer p.Close()

	flags, err := unix.FcntlInt(w.Fd(), unix.F_GETFD, 0)
	require.NoError(t, err)
	require.NotZero(t, flags&unix.FD_CLOEXEC, "FD_CLOEXEC must be set")
}

func TestKey(t *testing.T) {
	require.Equal(t, "data", Key(1, false))
	require.Equal(t, "data", Key(1, true))
	require.Equal(t, "exit_code", Key(0, true))
	require.Equal(t, "pid", Key(0, false))
}

func TestWritePidNoMessage(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	p := &Pipe{f: w}
	require.NoError(t, p.Write(0, false, 12345, ""))
	require.NoError(t, p.Close())

	line := readLine(t, r)
	require.Equal(t, `{"pid":12345}`, line)
}

func TestWriteExitCodeWithMessage(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	p := &Pipe{f: w}
	require.NoError(t, p.Write(0, true, 7, "ok"))
	require.NoError(t, p.Close())

	var decoded map[string]interface{}
	line := readLine(t, r)
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	require.Equal(t, float64(7), decoded["exit_code"])
	require.Equal(t, "ok", decoded["message"])
}

func TestWriteAPIv1UsesData(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	p := &Pipe{f: w}
	require.NoError(t, p.Write(1, true, 7, "ok"))
	require.NoError(t, p.Close())

	line := readLine(t, r)
	require.Equal(t, `{"data":7,"message":"ok"}`, line)
}

func TestWriteAfterReaderClosedIsSilentSuccess(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	require.NoError(t, r.Close())

	p := &Pipe{f: w}
	err = p.Write(0, false, 1, "")
	require.NoError(t, err)
	require.True(t, p.Closed())
}

func TestNilPipeWriteIsNoop(t *testing.T) {
	var p *Pipe
	require.NoError(t, p.Write(0, false, 1, ""))
	require.NoError(t, p.Close())
}

func readLine(t *testing.T, r *os.File) string {
	t.Helper()
	scanner := bufio.NewScanner(r)
	require.True(t, scanner.Scan())
	return scanner.Text()
}

