package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"diffit/internal/config"
	"diffit/internal/diffit"
	"diffit/internal/encryption"
)

// runStoreTests exercises the ArtifactStore contract against one implementation.
func runStoreTests(t *testing.T, newStore func(t *testing.T) diffit.ArtifactStore) {
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		tests := []struct {
			name string
			key  string
			data string
		}{
			{"snapshot image", "projects/p1/snapshots/s1/comparison.png", "png bytes"},
			{"baseline image", "projects/p1/baselines/b1.png", "baseline"},
			{"empty blob", "projects/p1/snapshots/s1/diff.png", ""},
			{"large blob", "projects/p1/snapshots/s2/base.png", strings.Repeat("x", 100000)},
		}

		s := newStore(t)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if err := s.Put(ctx, tt.key, strings.NewReader(tt.data), int64(len(tt.data))); err != nil {
					t.Fatalf("Put() error = %v", err)
				}
				var buf bytes.Buffer
				if err := s.Get(ctx, tt.key, &buf); err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if buf.String() != tt.data {
					t.Errorf("Get() returned %d bytes, want %d", buf.Len(), len(tt.data))
				}
			})
		}
	})

	t.Run("put replaces", func(t *testing.T) {
		s := newStore(t)
		key := "projects/p/baselines/b.png"
		for _, v := range []string{"first", "second"} {
			if err := s.Put(ctx, key, strings.NewReader(v), int64(len(v))); err != nil {
				t.Fatalf("Put(%q) error = %v", v, err)
			}
		}
		var buf bytes.Buffer
		if err := s.Get(ctx, key, &buf); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if buf.String() != "second" {
			t.Errorf("Get() = %q, want %q", buf.String(), "second")
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		s := newStore(t)
		key := "projects/p/snapshots/s/diff.png"
		if err := s.Put(ctx, key, strings.NewReader("hello"), 100); err == nil {
			t.Fatal("Put() expected size mismatch error")
		}
		var buf bytes.Buffer
		if err := s.Get(ctx, key, &buf); !errors.Is(err, diffit.ErrArtifactNotFound) {
			t.Errorf("Get() after failed Put error = %v, want ErrArtifactNotFound", err)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		s := newStore(t)
		var buf bytes.Buffer
		if err := s.Get(ctx, "projects/p/baselines/none.png", &buf); !errors.Is(err, diffit.ErrArtifactNotFound) {
			t.Errorf("Get() error = %v, want ErrArtifactNotFound", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		key := "projects/p/snapshots/s/base.png"
		if err := s.Put(ctx, key, strings.NewReader("x"), 1); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := s.Delete(ctx, key); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if err := s.Delete(ctx, key); err != nil {
			t.Errorf("second Delete() error = %v, want nil", err)
		}
		var buf bytes.Buffer
		if err := s.Get(ctx, key, &buf); !errors.Is(err, diffit.ErrArtifactNotFound) {
			t.Errorf("Get() after Delete error = %v, want ErrArtifactNotFound", err)
		}
	})

	t.Run("invalid keys", func(t *testing.T) {
		s := newStore(t)
		for _, key := range []string{"", "/abs/key.png", "projects/../../etc/passwd", "a//b.png", "./a.png"} {
			if err := s.Put(ctx, key, strings.NewReader("x"), 1); !errors.Is(err, diffit.ErrInvalidInput) {
				t.Errorf("Put(%q) error = %v, want ErrInvalidInput", key, err)
			}
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		if err := newStore(t).ValidateSetup(ctx); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) diffit.ArtifactStore {
		return NewMemoryStore()
	})
}

func TestFileSystemStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) diffit.ArtifactStore {
		s, err := NewFileSystemStore(filepath.Join(t.TempDir(), "artifacts"))
		if err != nil {
			t.Fatalf("NewFileSystemStore() error = %v", err)
		}
		return s
	})
}

func TestEncryptedStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) diffit.ArtifactStore {
		enc := encryption.NewTestEncryptor()
		dec, _ := enc.Unlock("")
		return NewEncryptedStore(NewMemoryStore(), enc, dec)
	})
}

func TestFileSystemStore_Layout(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileSystemStore(root)
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}

	key := "projects/p1/snapshots/s1/diff.png"
	if err := s.Put(context.Background(), key, strings.NewReader("mask"), 4); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "projects", "p1", "snapshots", "s1", "diff.png"))
	if err != nil {
		t.Fatalf("artifact not written at expected path: %v", err)
	}
	if string(data) != "mask" {
		t.Errorf("file content = %q, want %q", data, "mask")
	}

	entries, err := os.ReadDir(filepath.Join(root, "projects", "p1", "snapshots", "s1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1 (temp file left behind?)", len(entries))
	}
}

func TestFileSystemStore_ValidateSetup_NotDirectory(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileSystemStore(root)
	if err != nil {
		t.Fatalf("NewFileSystemStore() error = %v", err)
	}
	if err := os.RemoveAll(root); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(root, []byte("file"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := s.ValidateSetup(context.Background()); err == nil {
		t.Error("ValidateSetup() expected error for a file root")
	}
}

func TestEncryptedStore_StoresCiphertext(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	enc := encryption.NewTestEncryptor()
	dec, _ := enc.Unlock("")
	s := NewEncryptedStore(inner, enc, dec)

	if err := s.Put(ctx, "k.png", strings.NewReader("plain"), 5); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	var raw bytes.Buffer
	if err := inner.Get(ctx, "k.png", &raw); err != nil {
		t.Fatalf("inner Get() error = %v", err)
	}
	if raw.String() == "plain" {
		t.Error("inner store holds plaintext")
	}
}

func TestEncryptedStore_Locked(t *testing.T) {
	ctx := context.Background()
	s := NewEncryptedStore(NewMemoryStore(), encryption.NewTestEncryptor(), nil)

	if err := s.Put(ctx, "k.png", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Put() on locked store error = %v", err)
	}
	var buf bytes.Buffer
	if err := s.Get(ctx, "k.png", &buf); !errors.Is(err, ErrLocked) {
		t.Errorf("Get() error = %v, want ErrLocked", err)
	}
}

func TestNewStoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.StorageConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.StorageConfig{Type: "memory"}},
		{name: "filesystem", cfg: config.StorageConfig{Type: "filesystem", FSRoot: filepath.Join(t.TempDir(), "a")}},
		{name: "filesystem without root", cfg: config.StorageConfig{Type: "filesystem"}, wantErr: true},
		{name: "s3 without bucket", cfg: config.StorageConfig{Type: "s3"}, wantErr: true},
		{name: "unknown", cfg: config.StorageConfig{Type: "gcs"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStoreFromConfig(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if err := got.ValidateSetup(context.Background()); err != nil {
				t.Errorf("ValidateSetup() error = %v", err)
			}
		})
	}
}

func TestS3Store_ObjectKey(t *testing.T) {
	s, err := NewS3Store(context.Background(), config.StorageConfig{
		Type:              "s3",
		S3Bucket:          "shots",
		S3Prefix:          "/ci/",
		S3Region:          "us-east-1",
		S3Endpoint:        "http://127.0.0.1:9000",
		S3AccessKeyID:     "minio",
		S3SecretAccessKey: "minio123",
	})
	if err != nil {
		t.Fatalf("NewS3Store() error = %v", err)
	}

	got, err := s.objectKey("projects/p/baselines/b.png")
	if err != nil {
		t.Fatalf("objectKey() error = %v", err)
	}
	if got != "ci/projects/p/baselines/b.png" {
		t.Errorf("objectKey() = %q, want %q", got, "ci/projects/p/baselines/b.png")
	}
	if _, err := s.objectKey("../b.png"); !errors.Is(err, diffit.ErrInvalidInput) {
		t.Errorf("objectKey(\"../b.png\") error = %v, want ErrInvalidInput", err)
	}
}
