package attach

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListenAndAcceptRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sock, err := Listen(Options{
		FullAttachPath: dir,
		Type:           Console,
		Perms:          0o700,
	})
	require.NoError(t, err)
	defer sock.Close()

	_, err = os.Stat(sock.Path())
	require.NoError(t, err)

	info, err := os.Stat(sock.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), info.Mode().Perm())

	_, err = sock.Accept()
	require.NoError(t, err) // EWOULDBLOCK -> (nil, nil)
}

func TestCloseUnlinksPath(t *testing.T) {
	dir := t.TempDir()
	sock, err := Listen(Options{FullAttachPath: dir, Type: Notify, Perms: 0o700})
	require.NoError(t, err)

	path := sock.Path()
	require.NoError(t, sock.Close())

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestTruncatePathDropsAtNUL(t *testing.T) {
	p := "/a/b/c\x00garbage-that-must-be-dropped"
	got := truncatePath(p, 100)
	require.Equal(t, "/a/b/c", got)
}

func TestTruncatePathFitsLimit(t *testing.T) {
	p := strings.Repeat("x", 200)
	got := truncatePath(p, 50)
	require.LessOrEqual(t, len(got), 50)
}

func TestResolveDirUsesSocketDirAndUUID(t *testing.T) {
	base := t.TempDir()
	dir, name, err := resolveDir(Options{
		SocketDir:     base,
		ContainerUUID: "uuid-1234",
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "uuid-1234"), dir)
	require.Equal(t, "attach", name)
}
