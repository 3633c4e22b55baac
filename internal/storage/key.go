package storage

import (
	"fmt"
	"path"
	"strings"

	"diffit/internal/diffit"
)

// validateKey accepts slash-separated relative keys such as
// "projects/<id>/snapshots/<id>/diff.png". Keys that would escape the store
// root are rejected.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty artifact key: %w", diffit.ErrInvalidInput)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, `\`) || path.Clean(key) != key {
		return fmt.Errorf("invalid artifact key %q: %w", key, diffit.ErrInvalidInput)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("invalid artifact key %q: %w", key, diffit.ErrInvalidInput)
		}
	}
	return nil
}
