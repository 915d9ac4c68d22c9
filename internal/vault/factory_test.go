package vault

import (
	"context"
	"path/filepath"
	"testing"

	"statesync/internal/config"
)

func TestNewVaultFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.VaultConfig
		wantErr bool
	}{
		{
			name: "memory",
			cfg:  config.VaultConfig{Type: "memory", Name: "m"},
		},
		{
			name: "filesystem",
			cfg:  config.VaultConfig{Type: "filesystem", Name: "fs", FSVaultRoot: filepath.Join(t.TempDir(), "vault")},
		},
		{
			name:    "filesystem without root",
			cfg:     config.VaultConfig{Type: "filesystem", Name: "fs"},
			wantErr: true,
		},
		{
			name:    "s3 without bucket",
			cfg:     config.VaultConfig{Type: "s3", Name: "s3"},
			wantErr: true,
		},
		{
			name:    "unknown",
			cfg:     config.VaultConfig{Type: "tape", Name: "t"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewVaultFromConfig(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewVaultFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if got != nil {
					t.Errorf("NewVaultFromConfig() = %v, want nil on error", got)
				}
				return
			}
			if err := got.ValidateSetup(); err != nil {
				t.Errorf("ValidateSetup() error = %v", err)
			}
		})
	}
}

func TestNewVaultFromConfig_S3(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	got, err := NewVaultFromConfig(context.Background(), config.VaultConfig{
		Type:              "s3",
		Name:              "minio",
		S3Bucket:          "snapshots",
		S3Prefix:          "/team/",
		S3Region:          "us-east-1",
		S3Endpoint:        "http://localhost:9000",
		S3AccessKeyID:     "key",
		S3SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewVaultFromConfig() error = %v", err)
	}
	v, ok := got.(*S3Vault)
	if !ok {
		t.Fatalf("NewVaultFromConfig() = %T, want *S3Vault", got)
	}
	if v.key("order") != "team/snapshots/order.json" {
		t.Errorf("key() = %q", v.key("order"))
	}
}
