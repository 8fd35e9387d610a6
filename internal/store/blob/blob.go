// Package blob stores shared-file content as flat files under the data
// directory, keyed by file id. Metadata stays in SQLite; bytes stay here.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is a filesystem-backed blob store.
type Store struct {
	dir string
}

// New creates the bytes directory if needed.
func New(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, "files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id string) (string, error) {
	// IDs are broker-generated UUIDs; reject anything that could escape.
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid blob id %q", id)
	}
	return filepath.Join(s.dir, id), nil
}

// Write persists the blob atomically via a temp file rename.
func (s *Store) Write(id string, data []byte) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit blob: %w", err)
	}
	return nil
}

// Read returns the blob content.
func (s *Store) Read(id string) ([]byte, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Delete removes the blob. Missing blobs are not an error.
func (s *Store) Delete(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
