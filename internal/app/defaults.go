package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - BMAIL_CONFIG_PATH: config file location (default: ~/.config/bmail.toml)
//   - BMAIL_HOME: base directory for bmail data (default: ~/.local/share/bmail)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking BMAIL_CONFIG_PATH env
// var first, then falling back to the default ~/.config/bmail.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("BMAIL_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "bmail.toml"), nil
}

// getBaseDir returns the base directory for bmail data, checking BMAIL_HOME
// env var first, then falling back to the XDG default ~/.local/share/bmail.
func getBaseDir() (string, error) {
	if path := os.Getenv("BMAIL_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "bmail"), nil
}
