package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"statesync/internal/app"
	"statesync/internal/config"
	"statesync/internal/encryption"
)

// passphraseEnv overrides the interactive prompt, for scripts.
const passphraseEnv = "STATESYNC_PASSPHRASE"

// readPassphrase returns STATESYNC_PASSPHRASE when set and otherwise prompts
// on the terminal, twice when confirm is set.
func readPassphrase(confirm bool) (string, error) {
	if p := os.Getenv(passphraseEnv); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal for passphrase prompt; set %s", passphraseEnv)
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if !confirm {
		return string(first), nil
	}

	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passphrases do not match")
	}
	return string(first), nil
}

// sealerOptions unlocks the encryption keys when any of stores is an
// encrypted filesystem store.
func sealerOptions(cfg *config.Config, stores ...config.StoreConfig) ([]app.Option, error) {
	needed := false
	for _, s := range stores {
		if s.Type == "filesystem" && s.Encrypted {
			needed = true
		}
	}
	if !needed {
		return nil, nil
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, errors.New("encrypted store configured but encryption type is none")
	}
	if !enc.IsConfigured() {
		return nil, encryption.ErrNotConfigured
	}
	passphrase, err := readPassphrase(false)
	if err != nil {
		return nil, err
	}
	dc, err := enc.Unlock(passphrase)
	if err != nil {
		return nil, err
	}
	return []app.Option{app.WithSealer(encryption.NewSealer(enc, dc))}, nil
}
