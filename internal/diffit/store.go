package diffit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"diffit/internal/model"
)

// ErrArtifactNotFound is returned by ArtifactStore.Get for unknown keys.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore holds image artifacts as opaque blobs addressed by key.
// All operations stream through io.Reader/io.Writer so implementations can
// encrypt or upload without buffering twice.
type ArtifactStore interface {
	// Put stores size bytes read from r under key, replacing any previous blob.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get writes the blob stored under key to w.
	Get(ctx context.Context, key string, w io.Writer) error

	// Delete removes the blob under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// ValidateSetup verifies that the store is reachable and writable.
	ValidateSetup(ctx context.Context) error
}

// SnapshotImageKey is the artifact key of one image of a snapshot.
func SnapshotImageKey(projectID, snapshotID string, kind model.ImageKind) string {
	return fmt.Sprintf("projects/%s/snapshots/%s/%s.png", projectID, snapshotID, kind)
}

// BaselineImageKey is the artifact key of a baseline image.
func BaselineImageKey(projectID, baselineID string) string {
	return fmt.Sprintf("projects/%s/baselines/%s.png", projectID, baselineID)
}

func isSnapshotKey(key string) bool {
	return strings.Contains(key, "/snapshots/")
}

func (s *Service) putArtifact(ctx context.Context, key string, data []byte) error {
	if err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("storing artifact %s: %w", key, err)
	}
	return nil
}

func (s *Service) getArtifact(ctx context.Context, key string) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.store.Get(ctx, key, &buf); err != nil {
		return nil, fmt.Errorf("loading artifact %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// deleteArtifacts removes blobs best-effort; failures are only logged.
func (s *Service) deleteArtifacts(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Warn("artifact cleanup failed", "key", key, "error", err)
		}
	}
}
