// Package storage keeps job inputs and outputs on local disk or in an S3
// compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"media-toolkit/internal/core/ports"
)

// ErrInvalidKey is returned for keys that are empty or escape the storage root.
var ErrInvalidKey = errors.New("invalid storage key")

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("object not found")

// LocalStorage implements the FileStorage port on local disk. Keys are
// slash separated paths below the base directory.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage creates the base directory if needed. An empty baseDir
// uses a directory under os.TempDir().
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "media-toolkit")
	}
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

var _ ports.FileStorage = (*LocalStorage)(nil)

// BaseDir returns the storage root.
func (s *LocalStorage) BaseDir() string {
	return s.baseDir
}

func (s *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.baseDir, clean), nil
}

// Store writes data under key, replacing any previous object atomically.
func (s *LocalStorage) Store(ctx context.Context, key string, data io.Reader) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(target), ".upload_*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("move file into place: %w", err)
	}
	return nil
}

// Retrieve opens the object. The caller closes the reader.
func (s *LocalStorage) Retrieve(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	target, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target) // #nosec G304 - key is confined to baseDir
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// Delete removes the object. Missing objects are not an error.
func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file %s: %w", key, err)
	}
	return nil
}

func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	target, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// URL is empty for local storage; outputs are served through the API.
func (s *LocalStorage) URL(key string) string {
	return ""
}
