package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStore saves objects to disk under a base directory. Keys map to
// relative paths; URLs are built from a public base served elsewhere.
type FileStore struct {
	basePath   string
	publicBase string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath, publicBaseURL string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath, publicBase: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Root is the directory objects are written under.
func (f *FileStore) Root() string { return f.basePath }

// Put writes r to the key's path. Existing keys are never overwritten.
func (f *FileStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	target, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return ErrObjectExists
	}
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		_ = os.Remove(target)
		return fmt.Errorf("write file: %w", err)
	}
	return out.Close()
}

func (f *FileStore) URL(_ context.Context, key string) (string, error) {
	if _, err := f.resolve(key); err != nil {
		return "", err
	}
	return PublicURL(f.publicBase, key), nil
}

// Delete removes the object. Missing objects are not an error.
func (f *FileStore) Delete(_ context.Context, key string) error {
	target, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// Exists reports whether a regular file is stored under key.
func (f *FileStore) Exists(_ context.Context, key string) (bool, error) {
	target, err := f.resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat file: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// resolve maps key to a path inside basePath and rejects traversal.
func (f *FileStore) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(key)))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(f.basePath, clean), nil
}
