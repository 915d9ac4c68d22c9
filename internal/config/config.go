package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for statesync.
type Config struct {
	OwnerID    string           `toml:"owner_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // "debug", "info" (default), "warn", "error"
	Server     ServerConfig     `toml:"server"`
	Cache      CacheConfig      `toml:"cache"`
	Database   DatabaseConfig   `toml:"database"`
	Encryption EncryptionConfig `toml:"encryption"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Client     ClientConfig     `toml:"client"`
}

// Duration is a time.Duration that encodes as a TOML string such as "5m".
type Duration struct {
	time.Duration
}

// D wraps d as a Duration.
func D(d time.Duration) Duration { return Duration{d} }

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ServerConfig holds settings for the REST surface.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	IdentityHeader  string   `toml:"identity_header"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	MaxBodyBytes    int64    `toml:"max_body_bytes"` // zero means 1MB
	ReadOnly        []string `toml:"read_only,omitempty"` // types served without mutating routes
}

// CacheConfig configures the ownership-scoped cache in front of every manager.
type CacheConfig struct {
	Freshness Duration    `toml:"freshness"`
	Store     StoreConfig `toml:"store"`
}

// StoreConfig represents configuration for a key-value store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type"` // "memory", "filesystem" or "sqlite"

	// Filesystem-specific fields (only used when Type == "filesystem")
	Dir       string `toml:"dir,omitempty"`
	Encrypted bool   `toml:"encrypted,omitempty"`

	// SQLite-specific fields (only used when Type == "sqlite"); empty means
	// the server database connection is shared.
	Path string `toml:"path,omitempty"`
}

// DatabaseConfig represents configuration for the server-tier backing tables.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "postgres"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
}

// Encryption types. An empty type means EncryptionAge.
const (
	EncryptionAge  = "age"
	EncryptionTest = "test"
	EncryptionNone = "none"
)

// EncryptionConfig holds paths to the age key pair used for at-rest encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // EncryptionAge, EncryptionTest or EncryptionNone
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for a snapshot vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible services such as MinIO
	// Static credentials; when empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// ClientConfig configures the client tier used by the "client" commands.
type ClientConfig struct {
	Backend string      `toml:"backend"` // "remote" (default) or "local"
	BaseURL string      `toml:"base_url"`
	Timeout Duration    `toml:"timeout"`
	Store   StoreConfig `toml:"store"` // cache for remote, record store for local
	Watch   bool        `toml:"watch"`
}

// NewConfig creates a new Config with the provided values and defaults for
// everything else.
func NewConfig(ownerID, baseDir string) *Config {
	return &Config{
		OwnerID:  ownerID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Server: ServerConfig{
			Addr:            ":8080",
			IdentityHeader:  "X-User-ID",
			ShutdownTimeout: D(5 * time.Second),
		},
		Cache: CacheConfig{
			Freshness: D(5 * time.Minute),
			Store:     StoreConfig{Type: "memory"},
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Encryption: EncryptionConfig{
			Type:           EncryptionAge,
			PublicKeyPath:  filepath.Join(baseDir, "keys", "statesync.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "statesync.key"),
		},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "vault")},
		},
		Client: ClientConfig{
			Backend: "remote",
			BaseURL: "http://localhost:8080",
			Timeout: D(30 * time.Second),
			Store:   StoreConfig{Type: "filesystem", Dir: filepath.Join(baseDir, "client-cache")},
		},
	}
}

// Validate checks the tagged unions for unknown types and missing fields.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseDir == "" {
		errs = append(errs, errors.New("base_dir is required"))
	}
	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			errs = append(errs, errors.New("database.data_dir required for sqlite database"))
		}
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn required for postgres database"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database type: %q", c.Database.Type))
	}
	if err := c.Cache.Store.validate("cache.store"); err != nil {
		errs = append(errs, err)
	}
	if err := c.Client.Store.validate("client.store"); err != nil {
		errs = append(errs, err)
	}
	switch c.Client.Backend {
	case "", "remote", "local":
	default:
		errs = append(errs, fmt.Errorf("unknown client backend: %q", c.Client.Backend))
	}
	switch c.Encryption.Type {
	case "", EncryptionAge, EncryptionTest, EncryptionNone:
	default:
		errs = append(errs, fmt.Errorf("unknown encryption type: %q", c.Encryption.Type))
	}
	for i, v := range c.Vaults {
		if v.Name == "" {
			errs = append(errs, fmt.Errorf("vaults[%d]: name is required", i))
		}
		switch v.Type {
		case "memory":
		case "filesystem":
			if v.FSVaultRoot == "" {
				errs = append(errs, fmt.Errorf("vaults[%d]: fs_vault_root required for filesystem vault", i))
			}
		case "s3":
			if v.S3Bucket == "" {
				errs = append(errs, fmt.Errorf("vaults[%d]: s3_bucket required for s3 vault", i))
			}
		default:
			errs = append(errs, fmt.Errorf("vaults[%d]: unknown vault type: %q", i, v.Type))
		}
	}
	return errors.Join(errs...)
}

func (s StoreConfig) validate(field string) error {
	switch s.Type {
	case "memory", "sqlite":
		return nil
	case "filesystem":
		if s.Dir == "" {
			return fmt.Errorf("%s.dir required for filesystem store", field)
		}
		return nil
	default:
		return fmt.Errorf("unknown %s type: %q", field, s.Type)
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
