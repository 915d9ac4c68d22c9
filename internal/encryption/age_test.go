package encryption

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"statesync/internal/config"
)

func newAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	return NewAgeEncryptor(config.EncryptionConfig{
		PublicKeyPath:  filepath.Join(dir, "keys", "statesync.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "statesync.key"),
	})
}

func TestAgeEncryptor_Setup(t *testing.T) {
	t.Parallel()
	e := newAgeEncryptor(t)
	if e.IsConfigured() {
		t.Fatal("IsConfigured() = true before Setup")
	}
	if err := e.Setup("s3cret"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false after Setup")
	}

	info, err := os.Stat(e.privateKeyPath)
	if err != nil {
		t.Fatalf("stat private key: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("private key perm = %o, want 600", perm)
	}
	sealed, _ := os.ReadFile(e.privateKeyPath)
	if bytes.Contains(sealed, []byte("AGE-SECRET-KEY")) {
		t.Error("private key file holds the key in plaintext")
	}
}

func TestAgeEncryptor_SetupEmptyPassphrase(t *testing.T) {
	t.Parallel()
	e := newAgeEncryptor(t)
	if err := e.Setup(""); err == nil {
		t.Fatal("Setup(\"\") should fail")
	}
	if e.IsConfigured() {
		t.Error("failed Setup left key files behind")
	}
}

func TestAgeEncryptor_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "record json", input: []byte(`{"id":"o-1","customer":"ada"}`)},
		{name: "empty", input: []byte{}},
		{name: "large", input: bytes.Repeat([]byte("0123456789"), 8000)},
	}

	e := newAgeEncryptor(t)
	if err := e.Setup("s3cret"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	dc, err := e.Unlock("s3cret")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sealed bytes.Buffer
			if err := e.Encrypt(bytes.NewReader(tt.input), &sealed); err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Contains(sealed.Bytes(), tt.input) {
				t.Error("ciphertext contains the plaintext")
			}

			var opened bytes.Buffer
			if err := dc.Decrypt(&sealed, &opened); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(opened.Bytes(), tt.input) {
				t.Errorf("round trip: got %d bytes, want %d", opened.Len(), len(tt.input))
			}
		})
	}
}

func TestAgeEncryptor_FreshInstanceReadsKeys(t *testing.T) {
	t.Parallel()
	e := newAgeEncryptor(t)
	if err := e.Setup("s3cret"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	// A second encryptor on the same paths must load the public key from disk.
	other := &AgeEncryptor{publicKeyPath: e.publicKeyPath, privateKeyPath: e.privateKeyPath}
	var sealed bytes.Buffer
	if err := other.Encrypt(bytes.NewReader([]byte("payload")), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	dc, err := e.Unlock("s3cret")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var opened bytes.Buffer
	if err := dc.Decrypt(&sealed, &opened); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if opened.String() != "payload" {
		t.Errorf("Decrypt() = %q, want %q", opened.String(), "payload")
	}
}

func TestAgeEncryptor_WrongPassphrase(t *testing.T) {
	t.Parallel()
	e := newAgeEncryptor(t)
	if err := e.Setup("right"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, err := e.Unlock("wrong"); err == nil {
		t.Error("Unlock() with wrong passphrase should fail")
	}
}

func TestAgeEncryptor_NotConfigured(t *testing.T) {
	t.Parallel()
	e := newAgeEncryptor(t)

	var buf bytes.Buffer
	if err := e.Encrypt(bytes.NewReader([]byte("x")), &buf); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Encrypt() error = %v, want ErrNotConfigured", err)
	}
	if _, err := e.Unlock("x"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Unlock() error = %v, want ErrNotConfigured", err)
	}
}
