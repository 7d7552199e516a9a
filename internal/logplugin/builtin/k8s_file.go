package builtin

import (
	"bytes"
	"fmt"
	"os"
	"time"
)

// K8sFilePlugin formats each write in the Kubernetes container log
// convention: "<rfc3339nano-timestamp> <stream> <P|F> <bytes>\n", where
// a chunk not ending in a newline is tagged "P" (partial, continued by
// the next write on the same stream) and one that does is tagged "F".
// Framing decisions belong to the plugin, not the core (spec §4.5).
type K8sFilePlugin struct {
	f *os.File
}

// NewK8sFile opens path append-only, creating it if needed.
func NewK8sFile(path string) (*K8sFilePlugin, error) {
	if path == "" {
		return nil, missingArg(K8sFile, "path")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &K8sFilePlugin{f: f}, nil
}

func (p *K8sFilePlugin) Write(isStdout bool, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	stream := "stdout"
	if !isStdout {
		stream = "stderr"
	}
	tag := "F"
	line := data
	if !bytes.HasSuffix(data, []byte{'\n'}) {
		tag = "P"
	} else {
		line = data[:len(data)-1]
	}

	ts := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := fmt.Fprintf(p.f, "%s %s %s %s\n", ts, stream, tag, line)
	return err
}

func (p *K8sFilePlugin) Close() error {
	return p.f.Close()
}
