package app

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	envConfigPath = "STATESYNC_CONFIG_PATH"
	envHome       = "STATESYNC_HOME"
)

// Paths are the locations statesync uses when the config does not say
// otherwise.
type Paths struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// DefaultPaths resolves Paths from the environment, falling back to
// ~/.config/statesync.toml and ~/.local/share/statesync.
func DefaultPaths() (Paths, error) {
	configPath, err := fromEnvOrHome(envConfigPath, ".config", "statesync.toml")
	if err != nil {
		return Paths{}, err
	}
	baseDir, err := fromEnvOrHome(envHome, ".local", "share", "statesync")
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

func fromEnvOrHome(env string, rel ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, rel...)...), nil
}
