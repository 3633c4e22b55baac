package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"diffit/internal/diffit"
)

// FileSystemStore is a filesystem-based implementation of the ArtifactStore
// interface. Keys map directly onto paths below the root:
//
//	<root>/
//	  projects/<projectID>/
//	    snapshots/<snapshotID>/{base,comparison,diff}.png
//	    baselines/<baselineID>.png
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact root: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

// Root returns the directory the store writes below.
func (s *FileSystemStore) Root() string {
	return s.root
}

func (s *FileSystemStore) path(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put stores size bytes from r under key, replacing any previous blob.
func (s *FileSystemStore) Put(_ context.Context, key string, r io.Reader, size int64) error {
	destPath, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return writeFile(destPath, r, size)
}

// Get writes the blob stored under key to w.
func (s *FileSystemStore) Get(_ context.Context, key string, w io.Writer) error {
	srcPath, err := s.path(key)
	if err != nil {
		return err
	}

	f, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", key, diffit.ErrArtifactNotFound)
		}
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	return nil
}

// Delete removes the blob under key. Empty parent directories are left in
// place; they are reused by the next write for the same project.
func (s *FileSystemStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the root is a writable directory.
func (s *FileSystemStore) ValidateSetup(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("artifact root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("artifact root is not a directory: %s", s.root)
	}

	tmp, err := os.CreateTemp(s.root, ".writable-*")
	if err != nil {
		return fmt.Errorf("artifact root not writable: %w", err)
	}
	tmp.Close()
	return os.Remove(tmp.Name())
}

// writeFile writes data from r to destPath using an atomic write (temp file + rename).
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// Same directory, so the rename stays on one filesystem
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

// Compile-time check that FileSystemStore implements diffit.ArtifactStore
var _ diffit.ArtifactStore = (*FileSystemStore)(nil)
