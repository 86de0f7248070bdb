// Package snapshot persists drained bodies to files inside a single root directory.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// ErrInvalidName is returned for names that are empty or would leave the root.
var ErrInvalidName = errors.New("snapshot: invalid file name")

// Writer writes files below one root. It cannot address anything outside it.
type Writer struct {
	fs afero.Fs
}

// NewWriter roots a writer at dir on the OS filesystem, creating dir if needed.
func NewWriter(dir string) (*Writer, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("snapshot directory is empty")
	}
	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return NewWriterFs(afero.NewBasePathFs(osFs, dir)), nil
}

// NewWriterFs wraps an existing filesystem, typically an afero.MemMapFs in tests.
func NewWriterFs(fs afero.Fs) *Writer {
	return &Writer{fs: fs}
}

// Write replaces name with data and reports how many bytes were transferred.
func (w *Writer) Write(name string, data []byte) (int64, error) {
	clean, err := cleanName(name)
	if err != nil {
		return 0, err
	}

	if dir := path.Dir(clean); dir != "." {
		if err := w.fs.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create snapshot subdirectory: %w", err)
		}
	}
	if err := w.fs.Remove(clean); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove previous snapshot %s: %w", clean, err)
	}

	f, err := w.fs.OpenFile(clean, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create snapshot %s: %w", clean, err)
	}
	n, err := io.Copy(f, bytes.NewReader(data))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write snapshot %s: %w", clean, err)
	}
	return n, nil
}

// Read returns the current contents of name.
func (w *Writer) Read(name string) ([]byte, error) {
	clean, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(w.fs, clean)
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || path.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	clean := path.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return clean, nil
}
