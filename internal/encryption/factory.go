package encryption

import (
	"fmt"

	"diffit/internal/config"
	"diffit/internal/diffit"
)

// EnvPassphrase names the environment variable that unlocks the private key
// when the server starts without a terminal.
const EnvPassphrase = "DIFFIT_ENCRYPTION_PASSPHRASE"

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// It returns nil for type "none": artifacts are then stored in plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (diffit.Encryptor, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
