package vault

import (
	"context"
	"fmt"

	"statesync/internal/config"
)

// NewVaultFromConfig builds the snapshot vault named by cfg.Type. ctx bounds
// loading of the AWS configuration for s3 vaults.
func NewVaultFromConfig(ctx context.Context, cfg config.VaultConfig) (Vault, error) {
	var (
		v   Vault
		err error
	)
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(cfg.Name), nil
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("vault %q: filesystem vault requires fs_vault_root", cfg.Name)
		}
		v, err = NewFileSystemVault(cfg.Name, cfg.FSVaultRoot)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("vault %q: s3 vault requires s3_bucket", cfg.Name)
		}
		v, err = NewS3Vault(ctx, cfg)
	default:
		return nil, fmt.Errorf("vault %q: unknown vault type %q", cfg.Name, cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("vault %q: %w", cfg.Name, err)
	}
	return v, nil
}
