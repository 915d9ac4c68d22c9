package kv

import (
	"database/sql"
	"fmt"

	"statesync/internal/config"
)

// NewStoreFromConfig creates a Store based on the store config type. db is
// the migrated connection used by sqlite stores; sealer is applied only to
// filesystem stores marked encrypted.
func NewStoreFromConfig(cfg config.StoreConfig, db *sql.DB, sealer Sealer) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("dir required for filesystem store")
		}
		if !cfg.Encrypted {
			sealer = nil
		} else if sealer == nil {
			return nil, fmt.Errorf("encrypted filesystem store requires a sealer")
		}
		return NewFilesystemStore(cfg.Dir, sealer)
	case "sqlite":
		if db == nil {
			return nil, fmt.Errorf("sqlite store requires a database connection")
		}
		return NewSQLiteStore(db), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
