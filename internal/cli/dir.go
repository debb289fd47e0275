package cli

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDirectory creates dirPath if needed and returns its absolute path.
func EnsureDirectory(dirPath string) (string, error) {
	if dirPath == "" {
		return "", fmt.Errorf("directory path is empty")
	}
	info, err := os.Stat(dirPath)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dirPath, 0o755); err != nil {
			return "", fmt.Errorf("create %s: %w", dirPath, err)
		}
	case err != nil:
		return "", fmt.Errorf("access %s: %w", dirPath, err)
	case !info.IsDir():
		return "", fmt.Errorf("%s is not a directory", dirPath)
	}

	absPath, err := filepath.Abs(dirPath)
	if err == nil {
		dirPath = absPath
	}
	return dirPath, nil
}
