package diffit

import "io"

// Encryptor protects artifacts at rest. Encryption only needs the public
// key, so the server can store new images unattended; reading them back
// requires a DecryptionContext unlocked with the key passphrase.
type Encryptor interface {
	// Setup generates a key pair and stores the private key encrypted with
	// passphrase. Called by `diffit keys init`.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a context that can decrypt
	// artifacts for the lifetime of the process.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory only.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
