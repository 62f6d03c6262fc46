package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Local implements Storage on top of a local directory.
type Local struct {
	root string
}

// NewLocal creates a Local storage rooted at the given directory.
// The directory is created if it does not exist.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Local{root: root}, nil
}

// Path returns the root directory. It serves as the partition key.
func (s *Local) Path() string { return s.root }

func (s *Local) Exists(name string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Local) Create(name string) (OutputStream, error) {
	path := filepath.Join(s.root, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) //nolint:gosec // G304: Path is configurable
	if err != nil {
		return nil, fmt.Errorf("failed to create output stream %q: %w", name, err)
	}
	return f, nil
}

func (s *Local) Open(name string) (InputStream, error) {
	path := filepath.Join(s.root, name)

	f, err := os.Open(path) //nolint:gosec // G304: Path is configurable
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream %q: %w", name, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat input stream %q: %w", name, err)
	}
	return &localInput{File: f, size: st.Size()}, nil
}

func (s *Local) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.root, name)) //nolint:gosec // G304: Path is configurable
}

// WriteFile writes to a temporary file and renames it into place, so a
// crash never leaves a half-written counter file behind.
func (s *Local) WriteFile(name string, data []byte) error {
	path := filepath.Join(s.root, name)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %q: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %q: %w", name, err)
	}
	return nil
}

type localInput struct {
	*os.File
	size int64
}

func (b *localInput) Size() int64 { return b.size }
