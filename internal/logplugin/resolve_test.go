package logplugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveTreatsSeparatorContainingArgAsPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "libfoo_log_plugin.so")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	got, err := Resolve(path)
	require.NoError(t, err)
	require.Equal(t, path, got)
}

func TestResolveMissingPathFails(t *testing.T) {
	_, err := Resolve("/no/such/libfoo_log_plugin.so")
	require.Error(t, err)
}

func TestResolveSearchesPluginPathEntries(t *testing.T) {
	dir := t.TempDir()
	libPath := filepath.Join(dir, "libmine_log_plugin.so")
	require.NoError(t, os.WriteFile(libPath, []byte("x"), 0o644))

	t.Setenv("CONMON_LOG_PLUGIN_PATH", "::"+dir)

	got, err := Resolve("mine")
	require.NoError(t, err)
	require.Equal(t, libPath, got)
}

func TestResolveNotFoundMentionsName(t *testing.T) {
	t.Setenv("CONMON_LOG_PLUGIN_PATH", "")
	_, err := Resolve("missing_plugin_name")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Cannot load Log plugin")
	require.Contains(t, err.Error(), "not found")
	require.Contains(t, err.Error(), "missing_plugin_name")
}
