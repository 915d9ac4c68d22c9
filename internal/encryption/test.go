package encryption

import (
	"bytes"
	"fmt"
	"io"
)

// testHeader is prepended by TestEncryptor so ciphertext differs from
// plaintext while staying deterministic.
var testHeader = []byte("SSENC\x00\x00\x00")

// TestEncryptor is a deterministic, crypto-free encryptor for tests. It
// prepends an 8-byte header and strips it on decryption.
type TestEncryptor struct {
	setupCalled bool
}

var _ Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor creates a new TestEncryptor.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.setupCalled = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (DecryptionContext, error) {
	return e.TestDecryptionContext(), nil
}

// TestDecryptionContext returns the context Unlock would, without a passphrase.
func (e *TestEncryptor) TestDecryptionContext() *TestDecryptionContext {
	return &TestDecryptionContext{}
}

func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext strips the header added by TestEncryptor.
type TestDecryptionContext struct{}

var _ DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return fmt.Errorf("invalid test encryption header")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
