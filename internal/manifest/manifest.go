// Package manifest loads client manifests and resolves their item lists
// into an install plan. The Resolver interface is the orchestrator's only
// dependency; the catalog-backed implementation here expands list-type keys
// against the repository's catalogs and the machine's installed receipts,
// with no conditional-item evaluation.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stewardproject/steward/internal/plist"
)

var (
	// ErrNotFound is returned when a named manifest does not exist
	ErrNotFound = errors.New("manifest not found")
	// ErrNoCatalogs is returned when a primary manifest carries no
	// catalogs list
	ErrNoCatalogs = errors.New("manifest has no list of catalogs")
	// ErrRead is returned when manifest data cannot be read or decoded
	ErrRead = errors.New("could not read manifest")
)

// SelfServeName is the filename of the machine's self-serve manifest.
const SelfServeName = "SelfServeManifest"

// Manifest is one decoded manifest file.
type Manifest struct {
	Catalogs          []string `plist:"catalogs,omitempty"`
	IncludedManifests []string `plist:"included_manifests,omitempty"`
	ManagedInstalls   []string `plist:"managed_installs,omitempty"`
	ManagedUninstalls []string `plist:"managed_uninstalls,omitempty"`
	ManagedUpdates    []string `plist:"managed_updates,omitempty"`
	OptionalInstalls  []string `plist:"optional_installs,omitempty"`
	DefaultInstalls   []string `plist:"default_installs,omitempty"`
	FeaturedItems     []string `plist:"featured_items,omitempty"`
	// ConditionalItems is carried so stripping it can be warned about;
	// conditions are never evaluated here.
	ConditionalItems []plist.Dict `plist:"conditional_items,omitempty"`
}

// ListFor returns the item list a manifest key names.
func (m *Manifest) ListFor(key string) []string {
	switch key {
	case "managed_installs":
		return m.ManagedInstalls
	case "managed_uninstalls":
		return m.ManagedUninstalls
	case "managed_updates":
		return m.ManagedUpdates
	case "optional_installs":
		return m.OptionalInstalls
	case "default_installs":
		return m.DefaultInstalls
	case "featured_items":
		return m.FeaturedItems
	}
	return nil
}

// Store reads manifests out of the managed-installs manifests directory.
type Store struct {
	dir string
}

// NewStore returns a store over the given manifests directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the manifests directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the filesystem path for a manifest name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

// Exists reports whether a manifest with this name is present.
func (s *Store) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// List returns the names of all stored manifests.
func (s *Store) List() []string {
	var names []string
	filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(s.dir, path); err == nil {
			names = append(names, filepath.ToSlash(rel))
		}
		return nil
	})
	return names
}

// Get loads a manifest by name.
func (s *Store) Get(name string) (*Manifest, error) {
	return ReadFile(s.Path(name))
}

// Write stores a manifest under name.
func (s *Store) Write(name string, m *Manifest) error {
	path := s.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return plist.WriteFile(path, m)
}

// ReadFile loads a manifest from an arbitrary path.
func ReadFile(path string) (*Manifest, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	var m Manifest
	if err := plist.ReadFile(path, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRead, path, err)
	}
	return &m, nil
}

// PrimaryManifestName picks the manifest identifier for this client:
// the explicit client identifier when set, else "site_default".
func PrimaryManifestName(clientID string) string {
	if id := strings.TrimSpace(clientID); id != "" {
		return id
	}
	return "site_default"
}
