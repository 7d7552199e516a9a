package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/containers/conmon-v3/internal/conmonerr"
	"github.com/containers/conmon-v3/internal/ociprocess"
	"github.com/stretchr/testify/require"
)

func writeProcessSpec(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "process.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestSelectSubcommandCreate(t *testing.T) {
	sub, err := selectSubcommand(Config{})
	require.NoError(t, err)
	require.Equal(t, ociprocess.Create, sub)
}

func TestSelectSubcommandRestore(t *testing.T) {
	sub, err := selectSubcommand(Config{RestoreFromBundle: true})
	require.NoError(t, err)
	require.Equal(t, ociprocess.Restore, sub)
}

func TestSelectSubcommandExecValidatesProcessSpec(t *testing.T) {
	path := writeProcessSpec(t, `{"args":["/bin/true"],"cwd":"/"}`)

	sub, err := selectSubcommand(Config{Exec: true, ExecProcessSpec: path})
	require.NoError(t, err)
	require.Equal(t, ociprocess.Exec, sub)
}

func TestSelectSubcommandExecRejectsMalformedProcessSpec(t *testing.T) {
	path := writeProcessSpec(t, `{not json`)

	_, err := selectSubcommand(Config{Exec: true, ExecProcessSpec: path})
	require.Error(t, err)
	require.True(t, conmonerr.IsFatal(err))
}

func TestSelectSubcommandExecRejectsMissingProcessSpec(t *testing.T) {
	_, err := selectSubcommand(Config{Exec: true, ExecProcessSpec: filepath.Join(t.TempDir(), "missing.json")})
	require.Error(t, err)
}

func TestReadStderrTailNilFile(t *testing.T) {
	require.Equal(t, "", readStderrTail(nil))
}

func TestReadStderrTailEmptyPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.Equal(t, "", readStderrTail(r))
}

func TestReadStderrTailCapturesWrittenText(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)

	_, err = w.WriteString("ok")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.Equal(t, "ok", readStderrTail(r))
}

func TestReadStderrTailTruncatesAtBufSize(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)

	long := make([]byte, stderrTailBufSize+256)
	for i := range long {
		long[i] = 'x'
	}

	done := make(chan struct{})
	go func() {
		_, _ = w.Write(long)
		_ = w.Close()
		close(done)
	}()

	got := readStderrTail(r)
	<-done
	require.LessOrEqual(t, len(got), stderrTailBufSize)
	require.NotEmpty(t, got)
}
