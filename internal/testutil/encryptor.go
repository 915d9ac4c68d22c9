package testutil

import (
	"statesync/internal/encryption"
	"statesync/internal/kv"
)

// NewTestSealer creates a sealer backed by the test encryptor.
func NewTestSealer() kv.Sealer {
	enc := encryption.NewTestEncryptor()
	return encryption.NewSealer(enc, enc.TestDecryptionContext())
}
