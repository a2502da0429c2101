package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ArtifactStore abstracts the object storage bucket trained model
// artifacts are distributed through.
type ArtifactStore interface {
	// Fetch opens a reader for the named artifact.
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)
	// Upload writes a new artifact under the given key.
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
	// Bucket returns the configured bucket name.
	Bucket() string
}

const artifactContentType = "application/json"

// Download copies the named artifact from the store to a local path,
// creating parent directories as needed. The write goes through a
// temporary file so a torn download never replaces a good artifact.
func Download(ctx context.Context, store ArtifactStore, key, path string) error {
	reader, err := store.Fetch(ctx, key)
	if err != nil {
		return fmt.Errorf("fetch artifact %q: %w", key, err)
	}
	defer reader.Close()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("download artifact %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
