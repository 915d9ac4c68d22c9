package encryption

import (
	"errors"
	"fmt"

	"statesync/internal/config"
)

// NewEncryptorFromConfig returns the encryptor that protects local store
// payloads. config.EncryptionNone yields a nil Encryptor and no error:
// stores then keep their payloads in the clear.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (Encryptor, error) {
	switch cfg.Type {
	case config.EncryptionAge, "":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, errors.New("age encryption needs public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg), nil
	case config.EncryptionTest:
		return NewTestEncryptor(), nil
	case config.EncryptionNone:
		return nil, nil
	}
	return nil, fmt.Errorf("encryption type %q is not one of %q, %q or %q",
		cfg.Type, config.EncryptionAge, config.EncryptionTest, config.EncryptionNone)
}
