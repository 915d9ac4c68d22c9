package encryption

import (
	"bytes"
	"errors"
)

// Sealer adapts an Encryptor and an unlocked DecryptionContext to the
// byte-slice kv.Sealer contract used by the filesystem store.
type Sealer struct {
	enc Encryptor
	dec DecryptionContext
}

// NewSealer pairs enc with dec. dec may be nil for a write-only sealer,
// whose Open always fails.
func NewSealer(enc Encryptor, dec DecryptionContext) *Sealer {
	return &Sealer{enc: enc, dec: dec}
}

func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.enc.Encrypt(bytes.NewReader(plaintext), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	if s.dec == nil {
		return nil, errors.New("sealer is locked: no decryption context")
	}
	var buf bytes.Buffer
	if err := s.dec.Decrypt(bytes.NewReader(ciphertext), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
