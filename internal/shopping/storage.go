package shopping

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var (
	// ErrImageNotFound means no stored image has the requested reference
	ErrImageNotFound = errors.New("image not found")
	// ErrInvalidImageRef means the reference is not a plain file name
	ErrInvalidImageRef = errors.New("invalid image reference")
)

// Storage defines the interface for captured image storage
type Storage interface {
	// Save stores data under ref and returns the reference to use later
	Save(ref string, data []byte) (string, error)

	// Get retrieves stored data by reference
	Get(ref string) ([]byte, error)

	// Delete removes stored data
	Delete(ref string) error
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Save saves an image to local storage
func (l *LocalStorage) Save(ref string, data []byte) (string, error) {
	path, err := l.path(ref)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return ref, nil
}

// Get retrieves an image from local storage
func (l *LocalStorage) Get(ref string) ([]byte, error) {
	path, err := l.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes an image from local storage
func (l *LocalStorage) Delete(ref string) error {
	path, err := l.path(ref)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrImageNotFound, ref)
	}
	if err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// path resolves ref inside basePath, refusing anything that could escape it
func (l *LocalStorage) path(ref string) (string, error) {
	if ref == "" || ref == "." || ref == ".." || filepath.Base(ref) != ref {
		return "", fmt.Errorf("%w: %q", ErrInvalidImageRef, ref)
	}
	return filepath.Join(l.basePath, ref), nil
}
