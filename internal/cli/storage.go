// Package cli holds helpers for the operator commands: a filesystem-backed
// object store for offline renders and human-readable outcome output.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// LocalStorage serves object reads from SourceDir and writes to OutDir,
// using the object key as a relative path. Bucket names are ignored.
type LocalStorage struct {
	SourceDir string
	OutDir    string
}

func localPath(root, key string) (string, error) {
	if !filepath.IsLocal(key) {
		return "", fmt.Errorf("key %q escapes %s", key, root)
	}
	return filepath.Join(root, filepath.FromSlash(key)), nil
}

// Fetch opens SourceDir/key.
func (s LocalStorage) Fetch(_ context.Context, _, key string) (io.ReadCloser, error) {
	path, err := localPath(s.SourceDir, key)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Put writes body to OutDir/key.
func (s LocalStorage) Put(_ context.Context, _, key, contentType string, body []byte) error {
	path, err := localPath(s.OutDir, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	log.Debug().Str("path", path).Str("contentType", contentType).Int("bytes", len(body)).Msg("Variant written")
	return nil
}
