package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetHarborHome returns the harbor home directory
// Priority order:
//  1. HARBOR_HOME environment variable (if set)
//  2. .harbor under the current working directory
//
// The directory is created if it doesn't exist
func GetHarborHome() (string, error) {
	home := os.Getenv("HARBOR_HOME")
	if home == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		home = filepath.Join(cwd, ".harbor")
	}

	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create harbor home directory: %w", err)
	}
	return home, nil
}

// DefaultConfigPath returns the config file path under the harbor home.
func DefaultConfigPath() (string, error) {
	home, err := GetHarborHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "config.yaml"), nil
}
