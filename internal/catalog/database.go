// Package catalog builds an in-memory lookup database from a repository's
// consolidated catalog and matches candidate pkginfo records against it.
package catalog

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/stewardproject/steward/internal/common/logging"
	"github.com/stewardproject/steward/internal/pkginfo"
	"github.com/stewardproject/steward/internal/plist"
	"github.com/stewardproject/steward/internal/repo"
)

var (
	// ErrRead is returned when the consolidated catalog cannot be fetched.
	// For a brand-new repository this is expected; callers decide whether
	// it matters by checking whether any packages exist at all.
	ErrRead = errors.New("could not read 'all' catalog")
	// ErrDecode is returned when the catalog bytes do not decode to an
	// array of pkginfo records
	ErrDecode = errors.New("could not decode 'all' catalog")
)

// indexDict maps a version string to the catalog item indices carrying it.
type indexDict map[string][]int

// Database indexes a snapshot of the consolidated catalog four ways. It is
// never mutated after construction; build a fresh one per operation.
type Database struct {
	// Hashes maps installer-item content hash to item indices.
	Hashes map[string][]int
	// Receipts maps receipt packageid to version to item indices.
	Receipts map[string]indexDict
	// Applications maps installed application path to version to indices.
	Applications map[string]indexDict
	// InstallerItems maps version-stripped installer base filename to
	// version to item indices.
	InstallerItems map[string]indexDict
	// Items is the decoded catalog array the indices point into.
	Items []pkginfo.PkgInfo
}

// MakeDatabase reads catalogs/all from r and builds the lookup database in a
// single pass. Items missing a name or version are warned about and left out
// of every index, but keep their position in Items so indices stay valid.
func MakeDatabase(r repo.Repo) (*Database, error) {
	data, err := r.Get("catalogs/all")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}

	var items []pkginfo.PkgInfo
	if err := plist.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	db := &Database{
		Hashes:         make(map[string][]int),
		Receipts:       make(map[string]indexDict),
		Applications:   make(map[string]indexDict),
		InstallerItems: make(map[string]indexDict),
		Items:          items,
	}

	for i, item := range items {
		if item.Name == "" {
			logging.Warnf("pkginfo item at index %d missing 'name'", i)
			continue
		}
		if item.Version == "" {
			logging.Warnf("pkginfo item %q missing 'version'", item.Name)
			continue
		}

		if item.InstallerItemHash != "" {
			db.Hashes[item.InstallerItemHash] = append(db.Hashes[item.InstallerItemHash], i)
		}

		if item.InstallerItemLocation != "" {
			name, version := StripInstallerItemVersion(item.InstallerItemLocation)
			addIndex(db.InstallerItems, name, version, i)
		}

		for _, receipt := range item.Receipts {
			if receipt.PackageID != "" && receipt.Version != "" {
				addIndex(db.Receipts, receipt.PackageID, receipt.Version, i)
			}
		}

		for _, install := range item.Installs {
			if install.Type == "application" && install.Path != "" {
				addIndex(db.Applications, install.Path, item.Version, i)
			}
		}
	}
	return db, nil
}

func addIndex(table map[string]indexDict, key, version string, index int) {
	if table[key] == nil {
		table[key] = make(indexDict)
	}
	table[key][version] = append(table[key][version], index)
}

// ReadCatalog reads and decodes a single named catalog from the repository.
func ReadCatalog(r repo.Repo, name string) ([]pkginfo.PkgInfo, error) {
	data, err := r.Get("catalogs/" + name)
	if err != nil {
		return nil, fmt.Errorf("could not read catalog %q: %w", name, err)
	}
	var items []pkginfo.PkgInfo
	if err := plist.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: catalog %q: %v", ErrDecode, name, err)
	}
	return items, nil
}

// StripInstallerItemVersion reduces an installer item location to its base
// filename with any version suffix removed and the extension kept, plus the
// version that was stripped (empty when there was none). Both the index and
// the lookup use this form, so items match regardless of which side carries
// the version in its filename.
func StripInstallerItemVersion(location string) (baseName, version string) {
	fileName := path.Base(location)
	ext := path.Ext(fileName)
	name := strings.TrimSuffix(fileName, ext)
	if strings.Contains(name, "-") {
		name, version = pkginfo.NameAndVersion(name)
	}
	return name + ext, version
}
