// Package encryption protects local store payloads at rest.
package encryption

import "io"

// Encryptor encrypts with a public key; decryption needs the private key,
// which Unlock opens with the user's passphrase.
type Encryptor interface {
	// Setup creates a new key pair protected by passphrase.
	Setup(passphrase string) error
	Encrypt(r io.Reader, w io.Writer) error
	Unlock(passphrase string) (DecryptionContext, error)
	// IsConfigured reports whether Setup has been run.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
