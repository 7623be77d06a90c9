package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/meridian-data/quarry/errors"
)

// Save writes the configuration to the given path as TOML, rotating a
// single .back backup of any existing file first.
func Save(cfg *Config, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return err
	}

	content, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	if err := os.WriteFile(configPath, content, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write config to %s", configPath)
	}

	return nil
}

// createBackup copies an existing config aside before modifying it.
func createBackup(configPath string) error {
	content, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(configPath+".back", content, 0o644); err != nil {
		return errors.Wrap(err, "failed to create config backup")
	}

	return nil
}
