package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FindUp looks for the relative path name in dir and each of its parents, returning the first match.
// It returns an error wrapping os.ErrNotExist if no directory up to the root contains it.
func FindUp(name, dir string) (string, error) {
	curDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", dir, err)
	}
	for {
		candidate := filepath.Join(curDir, name)
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("checking %q: %w", candidate, err)
		}
		newDir := filepath.Dir(curDir)
		if newDir == curDir {
			return "", fmt.Errorf("finding %q above %q: %w", name, dir, os.ErrNotExist)
		}
		curDir = newDir
	}
}
