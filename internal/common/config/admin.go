package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Error variables for admin configuration errors
var (
	// ErrAdminConfigNotFound is returned when import.toml does not exist
	ErrAdminConfigNotFound = errors.New("import.toml not found")
)

// AdminConfig holds settings for the repo import workflow. These live apart
// from the client configuration because they only matter on admin machines.
type AdminConfig struct {
	// RepoURL is the repository to import into; falls back to the client repo
	RepoURL string `toml:"repo_url,omitempty"`
	// DefaultCatalog is the catalog new pkginfo files are tagged with
	DefaultCatalog string `toml:"default_catalog,omitempty"`
	// PkginfoExtension is appended to uploaded pkginfo file names (e.g. ".plist")
	PkginfoExtension string `toml:"pkginfo_extension,omitempty"`
	// Subdirectory is the default repo subdirectory for uploads
	Subdirectory string `toml:"subdirectory,omitempty"`
	// Editor, when set, is offered for editing pkginfo before upload
	Editor string `toml:"editor,omitempty"`
}

// AdminConfigPath returns the path of the admin configuration file
func AdminConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}
	return filepath.Join(xdgConfig, "steward", "import.toml"), nil
}

// LoadAdminConfig loads and parses the admin configuration file.
// A missing file returns ErrAdminConfigNotFound so callers can fall back
// to defaults.
func LoadAdminConfig() (*AdminConfig, error) {
	path, err := AdminConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadAdminConfigFrom(path)
}

// LoadAdminConfigFrom loads the admin configuration from a specific path
func LoadAdminConfigFrom(path string) (*AdminConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrAdminConfigNotFound
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import.toml: %w", err)
	}
	var cfg AdminConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse import.toml: %w", err)
	}
	if cfg.PkginfoExtension != "" && cfg.PkginfoExtension[0] != '.' {
		cfg.PkginfoExtension = "." + cfg.PkginfoExtension
	}
	return &cfg, nil
}
