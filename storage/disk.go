package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// Disk resolves a configured file name to an absolute, existing path.
// An empty path with a nil error means the file is not there.
type Disk interface {
	Path(name string) (string, error)
}

// LocalDisk resolves relative names against Root.
type LocalDisk struct {
	Root string
}

func (d LocalDisk) Path(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	p := name
	if !filepath.IsAbs(p) {
		p = filepath.Join(d.Root, name)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", name, err)
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat %q: %w", abs, err)
	}
	if info.IsDir() {
		return "", nil
	}
	return abs, nil
}
