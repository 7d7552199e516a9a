// Package builtin provides the in-process log plugins the host falls
// back to for well-known names instead of dlopen'ing a shared library,
// mirroring the original implementation's none/file/k8s_file log
// plugins (see SPEC_FULL.md §4).
package builtin

import "fmt"

// Plugin is the Go-native shape every built-in plugin implements;
// it matches the multiplexer's LogWriter interface structurally.
type Plugin interface {
	Write(isStdout bool, data []byte) error
	Close() error
}

// Names lists the built-in plugin names the host recognizes before
// falling back to Resolve/Load.
const (
	None    = "none"
	File    = "file"
	K8sFile = "k8s_file"
)

// New constructs the built-in plugin named by name, or reports that name
// is not a built-in (the caller should then try Resolve/Load).
func New(name string, args map[string]string) (Plugin, bool, error) {
	switch name {
	case None:
		return NewNone(), true, nil
	case File:
		p, err := NewFile(args["path"])
		return p, true, err
	case K8sFile:
		p, err := NewK8sFile(args["path"])
		return p, true, err
	default:
		return nil, false, nil
	}
}

func missingArg(plugin, key string) error {
	return fmt.Errorf("%s log plugin requires a %q argument", plugin, key)
}
