package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

// FileBackend implements a name-addressed store on the local file system.
// Each record is a single file under the base directory.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file storage backend rooted at baseDir,
// creating the directory if it does not exist.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Put writes data to the record file, replacing any previous content.
// The write goes through a temporary file and rename so a crash never
// leaves a half-written record behind.
func (b *FileBackend) Put(ctx context.Context, name string, data []byte) error {
	path, err := b.recordPath(name)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit record file: %w", err)
	}

	b.log.Debug("Stored record",
		slog.String("path", path),
		slog.Int("size", len(data)))
	return nil
}

// Get reads the record file. Returns ErrRecordNotFound if it doesn't exist.
func (b *FileBackend) Get(ctx context.Context, name string) ([]byte, error) {
	path, err := b.recordPath(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}
	return data, nil
}

// Has reports whether the record file exists.
func (b *FileBackend) Has(ctx context.Context, name string) (bool, error) {
	path, err := b.recordPath(name)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat record file: %w", err)
	}
	return true, nil
}

// Delete removes the record file, reporting whether one was present.
func (b *FileBackend) Delete(ctx context.Context, name string) (bool, error) {
	path, err := b.recordPath(name)
	if err != nil {
		return false, err
	}

	err = os.Remove(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to remove record file: %w", err)
	}
	return true, nil
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

// recordPath maps a record name to a path strictly inside the base dir.
func (b *FileBackend) recordPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: bad record name %q", interfaces.ErrInvalidInput, name)
	}
	return filepath.Join(b.baseDir, name), nil
}
