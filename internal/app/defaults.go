package app

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	EnvConfigPath = "DIFFIT_CONFIG_PATH"
	EnvHome       = "DIFFIT_HOME"
)

// Defaults holds the paths used when the config file does not say otherwise.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves the default paths. DIFFIT_CONFIG_PATH overrides
// ~/.config/diffit.toml and DIFFIT_HOME overrides ~/.local/share/diffit.
func GetDefaults() (*Defaults, error) {
	configPath := os.Getenv(EnvConfigPath)
	baseDir := os.Getenv(EnvHome)

	if configPath == "" || baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if configPath == "" {
			configPath = filepath.Join(homeDir, ".config", "diffit.toml")
		}
		if baseDir == "" {
			baseDir = filepath.Join(homeDir, ".local", "share", "diffit")
		}
	}

	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}
