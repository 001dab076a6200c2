package binding

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File is uploaded content bound to a data slot. Its Name is the filename
// sent to the backend and used as the key in the name mapping.
type File struct {
	Name string

	path string
	data []byte
}

// FileFromPath references a local file. The file is opened when the request
// is encoded, not here.
func FileFromPath(path string) *File {
	return &File{Name: filepath.Base(path), path: path}
}

// FileFromBytes wraps in-memory content under the given filename.
func FileFromBytes(name string, data []byte) *File {
	return &File{Name: name, data: data}
}

// Path returns the local path for files created with FileFromPath.
func (f *File) Path() string { return f.path }

// Open returns a reader over the file content. The caller closes it.
func (f *File) Open() (io.ReadCloser, error) {
	if f.path == "" {
		return io.NopCloser(bytes.NewReader(f.data)), nil
	}
	r, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("binding: open %s: %w", f.Name, err)
	}
	return r, nil
}
