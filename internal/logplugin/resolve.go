package logplugin

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/containers/conmon-v3/internal/conmonerr"
)

// defaultSearchDirs are consulted last, after CONMON_LOG_PLUGIN_PATH, and
// mirror the teacher-style convention of a fixed, package-manager-owned
// install location.
var defaultSearchDirs = []string{
	"/usr/lib/conmon-v3/log_plugins",
	"/usr/local/lib/conmon-v3/log_plugins",
}

func dylibExt() string {
	switch runtime.GOOS {
	case "darwin":
		return ".dylib"
	default:
		return ".so"
	}
}

func libFileName(name string) string {
	return "lib" + name + "_log_plugin" + dylibExt()
}

// Resolve turns a name-or-path argument into a concrete shared library
// path, per the search order in spec §4.5: a path (contains a separator
// or ends in the platform dylib extension) is accepted iff it exists;
// otherwise search the executable's directory, then each
// colon-separated CONMON_LOG_PLUGIN_PATH entry (empty entries skipped),
// then the built-in defaults. First match wins.
func Resolve(nameOrPath string) (string, error) {
	if strings.ContainsRune(nameOrPath, filepath.Separator) || strings.HasSuffix(nameOrPath, dylibExt()) {
		if _, err := os.Stat(nameOrPath); err != nil {
			return "", conmonerr.Fatal("log plugin path %q not found", nameOrPath)
		}
		return nameOrPath, nil
	}

	fname := libFileName(nameOrPath)

	dirs := make([]string, 0, 4)
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	for _, entry := range strings.Split(os.Getenv("CONMON_LOG_PLUGIN_PATH"), ":") {
		if entry == "" {
			continue
		}
		dirs = append(dirs, entry)
	}
	dirs = append(dirs, defaultSearchDirs...)

	for _, dir := range dirs {
		candidate := filepath.Join(dir, fname)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", conmonerr.Fatal("Cannot load Log plugin %q: %s not found in any search directory", nameOrPath, fname)
}
