package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

const rootDir = ".dgram"

// DefaultDir is ~/.dgram.
func DefaultDir() (string, error) {
	base, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("unable to retrieve user home dir: %w", err)
	}
	return filepath.Join(base, rootDir), nil
}

// EnsureDir creates dir, or the default directory when dir is empty, and
// returns its path.
func EnsureDir(dir string) (string, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("unable to create dgram dir: %w", err)
	}
	return dir, nil
}
