// Package config loads steward's client configuration and the separate
// admin (import) configuration.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

var (
	ErrRepoURLNotSet       = errors.New("software repo URL is not configured")
	ErrInstallDirNotSet    = errors.New("managed install directory is not configured")
	ErrInstallDirNotFound  = errors.New("managed install directory does not exist")
	ErrInstallDirNotGrown  = errors.New("managed install directory is missing required subdirectories")
	errInstallDirNotADir   = errors.New("managed install directory is not a directory")
)

// DefaultManagedInstallDir is where cached catalogs, manifests, and the
// computed install plan live.
const DefaultManagedInstallDir = "/Library/Managed Installs"

// managedInstallSubdirs are created by EnsureInstallDirs
var managedInstallSubdirs = []string{
	"Cache", "Logs", "catalogs", "manifests", "icons", "client_resources",
}

// Config represents the client configuration
type Config struct {
	// RepoURL is the base URL or path of the software repository
	RepoURL string `yaml:"repo_url"`
	// ClientIdentifier overrides the manifest name requested for this machine
	ClientIdentifier string `yaml:"client_identifier,omitempty"`
	// ManagedInstallDir holds caches, manifests, logs, and the install plan
	ManagedInstallDir string `yaml:"managed_install_dir,omitempty"`
	// LocalOnlyManifest names a machine-local manifest merged into each check
	LocalOnlyManifest string `yaml:"local_only_manifest,omitempty"`
	// RepoPlugin selects the repository backend ("file" is the default)
	RepoPlugin string `yaml:"repo_plugin,omitempty"`
}

// ConfigPaths returns all possible config file paths in priority order
// 1. $STEWARD_CONFIG if set
// 2. ~/.config/steward/config.yaml (XDG standard)
// 3. /usr/local/etc/steward/config.yaml (system-wide)
func ConfigPaths() ([]string, error) {
	var paths []string
	if env := os.Getenv("STEWARD_CONFIG"); env != "" {
		paths = append(paths, env)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}
	paths = append(paths,
		filepath.Join(xdgConfig, "steward", "config.yaml"),
		"/usr/local/etc/steward/config.yaml",
	)
	return paths, nil
}

// FindConfigPath returns the first existing config file path.
// Returns the preferred path if no config file exists yet.
func FindConfigPath() (string, error) {
	paths, err := ConfigPaths()
	if err != nil {
		return "", err
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return paths[0], nil
}

// Load reads configuration from the first available config file
func Load() (*Config, error) {
	configPath, err := FindConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(configPath)
}

// LoadFrom reads configuration from a specific file path.
// A missing file yields a default configuration rather than an error.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{
				ManagedInstallDir: DefaultManagedInstallDir,
				RepoPlugin:        "file",
			}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.ManagedInstallDir == "" {
		cfg.ManagedInstallDir = DefaultManagedInstallDir
	}
	if cfg.RepoPlugin == "" {
		cfg.RepoPlugin = "file"
	}
	return &cfg, nil
}

// SaveTo writes configuration to a specific file path
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the settings required for an update check are present
func (c *Config) Validate() error {
	if c.RepoURL == "" {
		return ErrRepoURLNotSet
	}
	if c.ManagedInstallDir == "" {
		return ErrInstallDirNotSet
	}
	return nil
}

// InstallDirPath returns a path inside the managed install directory
func (c *Config) InstallDirPath(elem ...string) string {
	parts := append([]string{c.ManagedInstallDir}, elem...)
	return filepath.Join(parts...)
}

// CacheDir returns the download cache directory
func (c *Config) CacheDir() string { return c.InstallDirPath("Cache") }

// LogDir returns the log directory
func (c *Config) LogDir() string { return c.InstallDirPath("Logs") }

// CatalogsDir returns the local catalog cache directory
func (c *Config) CatalogsDir() string { return c.InstallDirPath("catalogs") }

// ManifestsDir returns the local manifest cache directory
func (c *Config) ManifestsDir() string { return c.InstallDirPath("manifests") }

// IconsDir returns the local icon cache directory
func (c *Config) IconsDir() string { return c.InstallDirPath("icons") }

// InstallInfoPath returns the path of the persisted install plan
func (c *Config) InstallInfoPath() string { return c.InstallDirPath("InstallInfo.plist") }

// EnsureInstallDirs creates the managed install directory tree
func (c *Config) EnsureInstallDirs() error {
	if c.ManagedInstallDir == "" {
		return ErrInstallDirNotSet
	}
	for _, sub := range managedInstallSubdirs {
		if err := os.MkdirAll(c.InstallDirPath(sub), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// CheckInstallDirs verifies the managed install directory tree exists
func (c *Config) CheckInstallDirs() error {
	info, err := os.Stat(c.ManagedInstallDir)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrInstallDirNotFound
		}
		return err
	}
	if !info.IsDir() {
		return errInstallDirNotADir
	}
	for _, sub := range managedInstallSubdirs {
		if _, err := os.Stat(c.InstallDirPath(sub)); err != nil {
			return ErrInstallDirNotGrown
		}
	}
	return nil
}
