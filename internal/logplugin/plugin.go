package logplugin

import "github.com/containers/conmon-v3/internal/logplugin/builtin"

// LoadedPlugin is whatever the session's multiplexer writes stdout/
// stderr bytes through: either a built-in, or a dlopen'd Handle.
type LoadedPlugin interface {
	Write(isStdout bool, data []byte) error
	Close() error
}

// LoadNamed tries the in-process built-ins (none/file/k8s_file) first,
// and only falls through to Resolve+Load (dlopen) for any other name or
// path. kv is also exposed as a map for the built-ins, which key off a
// single "path" argument.
func LoadNamed(nameOrPath string, kv []KV) (LoadedPlugin, error) {
	args := make(map[string]string, len(kv))
	for _, e := range kv {
		args[e.Key] = e.Value
	}

	if p, ok, err := builtin.New(nameOrPath, args); ok {
		return p, err
	}

	return Load(nameOrPath, kv)
}
