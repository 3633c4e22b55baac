package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"diffit/internal/diffit"
)

// ErrLocked is returned by EncryptedStore.Get when no decryption context was
// supplied, e.g. a server started without the key passphrase.
var ErrLocked = errors.New("artifact store is locked")

// EncryptedStore encrypts blobs before handing them to the wrapped store and
// decrypts them on the way out.
type EncryptedStore struct {
	next diffit.ArtifactStore
	enc  diffit.Encryptor
	dec  diffit.DecryptionContext // nil while locked
}

// NewEncryptedStore wraps next. dec may be nil; writes still work, reads fail
// with ErrLocked.
func NewEncryptedStore(next diffit.ArtifactStore, enc diffit.Encryptor, dec diffit.DecryptionContext) *EncryptedStore {
	return &EncryptedStore{next: next, enc: enc, dec: dec}
}

func (s *EncryptedStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	plain, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read artifact: %w", err)
	}
	if int64(len(plain)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(plain))
	}

	// Ciphertext size is only known after encryption.
	var sealed bytes.Buffer
	if err := s.enc.Encrypt(bytes.NewReader(plain), &sealed); err != nil {
		return fmt.Errorf("encrypting %s: %w", key, err)
	}
	return s.next.Put(ctx, key, &sealed, int64(sealed.Len()))
}

func (s *EncryptedStore) Get(ctx context.Context, key string, w io.Writer) error {
	if s.dec == nil {
		return fmt.Errorf("reading %s: %w", key, ErrLocked)
	}
	var sealed bytes.Buffer
	if err := s.next.Get(ctx, key, &sealed); err != nil {
		return err
	}
	if err := s.dec.Decrypt(&sealed, w); err != nil {
		return fmt.Errorf("decrypting %s: %w", key, err)
	}
	return nil
}

func (s *EncryptedStore) Delete(ctx context.Context, key string) error {
	return s.next.Delete(ctx, key)
}

func (s *EncryptedStore) ValidateSetup(ctx context.Context) error {
	if !s.enc.IsConfigured() {
		return errors.New("encryption keys are not configured; run `diffit keys init`")
	}
	return s.next.ValidateSetup(ctx)
}

// Compile-time check that EncryptedStore implements diffit.ArtifactStore
var _ diffit.ArtifactStore = (*EncryptedStore)(nil)
