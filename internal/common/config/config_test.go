package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom on missing file should not error: %v", err)
	}
	if cfg.ManagedInstallDir != DefaultManagedInstallDir {
		t.Errorf("expected default install dir, got %q", cfg.ManagedInstallDir)
	}
	if cfg.RepoPlugin != "file" {
		t.Errorf("expected default repo plugin, got %q", cfg.RepoPlugin)
	}
}

func TestLoadFromParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `repo_url: file:///srv/repo
client_identifier: lab-mac-01
managed_install_dir: /tmp/managed
local_only_manifest: site_extras
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.RepoURL != "file:///srv/repo" {
		t.Errorf("unexpected repo URL %q", cfg.RepoURL)
	}
	if cfg.ClientIdentifier != "lab-mac-01" {
		t.Errorf("unexpected client identifier %q", cfg.ClientIdentifier)
	}
	if cfg.LocalOnlyManifest != "site_extras" {
		t.Errorf("unexpected local-only manifest %q", cfg.LocalOnlyManifest)
	}
}

func TestValidateRequiresRepoURL(t *testing.T) {
	cfg := &Config{ManagedInstallDir: "/tmp/managed"}
	if err := cfg.Validate(); err != ErrRepoURLNotSet {
		t.Errorf("expected ErrRepoURLNotSet, got %v", err)
	}
	cfg.RepoURL = "file:///srv/repo"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestEnsureInstallDirsCreatesTree(t *testing.T) {
	cfg := &Config{ManagedInstallDir: filepath.Join(t.TempDir(), "Managed Installs")}
	if err := cfg.EnsureInstallDirs(); err != nil {
		t.Fatalf("EnsureInstallDirs failed: %v", err)
	}
	for _, sub := range []string{"Cache", "Logs", "catalogs", "manifests", "icons"} {
		if _, err := os.Stat(cfg.InstallDirPath(sub)); err != nil {
			t.Errorf("expected %s to exist: %v", sub, err)
		}
	}
	if err := cfg.CheckInstallDirs(); err != nil {
		t.Errorf("CheckInstallDirs on complete tree: %v", err)
	}
}

func TestCheckInstallDirsReportsMissing(t *testing.T) {
	cfg := &Config{ManagedInstallDir: filepath.Join(t.TempDir(), "absent")}
	if err := cfg.CheckInstallDirs(); err != ErrInstallDirNotFound {
		t.Errorf("expected ErrInstallDirNotFound, got %v", err)
	}
}

func TestSaveToRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := &Config{
		RepoURL:           "file:///srv/repo",
		ManagedInstallDir: "/tmp/managed",
		RepoPlugin:        "file",
	}
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}
	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if loaded.RepoURL != cfg.RepoURL || loaded.ManagedInstallDir != cfg.ManagedInstallDir {
		t.Errorf("round trip mismatch: %+v vs %+v", loaded, cfg)
	}
}

func TestLoadAdminConfigFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "import.toml")
	content := `repo_url = "file:///srv/repo"
default_catalog = "testing"
pkginfo_extension = "plist"
subdirectory = "apps"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadAdminConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadAdminConfigFrom failed: %v", err)
	}
	if cfg.DefaultCatalog != "testing" {
		t.Errorf("unexpected default catalog %q", cfg.DefaultCatalog)
	}
	// extension should gain a leading dot
	if cfg.PkginfoExtension != ".plist" {
		t.Errorf("expected normalized extension .plist, got %q", cfg.PkginfoExtension)
	}
}

func TestLoadAdminConfigFromMissing(t *testing.T) {
	_, err := LoadAdminConfigFrom(filepath.Join(t.TempDir(), "import.toml"))
	if err != ErrAdminConfigNotFound {
		t.Errorf("expected ErrAdminConfigNotFound, got %v", err)
	}
}
