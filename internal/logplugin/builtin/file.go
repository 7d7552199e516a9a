package builtin

import "os"

// FilePlugin appends raw stdout/stderr bytes to a single file,
// undistinguished by stream, matching the original implementation's
// plain "file" log plugin.
type FilePlugin struct {
	f *os.File
}

// NewFile opens path append-only, creating it if needed.
func NewFile(path string) (*FilePlugin, error) {
	if path == "" {
		return nil, missingArg(File, "path")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &FilePlugin{f: f}, nil
}

func (p *FilePlugin) Write(isStdout bool, data []byte) error {
	_, err := p.f.Write(data)
	return err
}

func (p *FilePlugin) Close() error {
	return p.f.Close()
}
