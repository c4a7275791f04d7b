package manifest

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/stewardproject/steward/internal/catalog"
	"github.com/stewardproject/steward/internal/common/fsutil"
	"github.com/stewardproject/steward/internal/common/logging"
	"github.com/stewardproject/steward/internal/pkginfo"
	"github.com/stewardproject/steward/internal/pkgutil"
	"github.com/stewardproject/steward/internal/plist"
	"github.com/stewardproject/steward/internal/repo"
)

// Resolver turns manifest item lists into entries on an InstallInfo
// accumulator. The orchestrator polls for stop requests between calls, so
// implementations should keep each call bounded.
type Resolver interface {
	// ProcessManifest resolves one list-type key of a manifest.
	// parentCatalogs is the catalog list to use when the manifest does
	// not carry its own.
	ProcessManifest(ctx context.Context, m *Manifest, key string, parentCatalogs []string, info *pkginfo.InstallInfo) error
	// ProcessInstall resolves a single item name against the catalogs
	// and records it as a pending or satisfied install.
	ProcessInstall(ctx context.Context, itemName string, catalogs []string, info *pkginfo.InstallInfo, optional bool) error
	// ProcessRemoval records a removal for a single item name.
	ProcessRemoval(ctx context.Context, itemName string, catalogs []string, info *pkginfo.InstallInfo) error
	// AutoRemovalItems returns names of items marked for automatic
	// removal that are installed but no longer referenced.
	AutoRemovalItems(ctx context.Context, info *pkginfo.InstallInfo, catalogs []string) []string
}

// CatalogResolver is a deliberately thin Resolver: it expands manifest keys
// against repository catalogs and the machine's installed receipts. It does
// not evaluate conditional items and follows included_manifests only one
// level deep.
type CatalogResolver struct {
	Repo      repo.Repo
	Store     *Store
	CacheDir  string
	Installed map[string]string // packageid -> installed version

	// CatalogsDir, when set, keeps an on-disk copy of every catalog read
	// from the repository. A repository read failure falls back to the
	// copy from the previous run.
	CatalogsDir string

	catalogCache map[string][]pkginfo.PkgInfo
}

// NewCatalogResolver builds a resolver over a repository and local state.
func NewCatalogResolver(r repo.Repo, store *Store, cacheDir string, installed map[string]string) *CatalogResolver {
	return &CatalogResolver{
		Repo:         r,
		Store:        store,
		CacheDir:     cacheDir,
		Installed:    installed,
		catalogCache: make(map[string][]pkginfo.PkgInfo),
	}
}

func (cr *CatalogResolver) catalogItems(name string) []pkginfo.PkgInfo {
	if items, ok := cr.catalogCache[name]; ok {
		return items
	}
	items, err := catalog.ReadCatalog(cr.Repo, name)
	switch {
	case err == nil:
		cr.cacheCatalogOnDisk(name, items)
	case cr.CatalogsDir != "":
		logging.Warnf("%v; using cached copy of catalog %q", err, name)
		items = cr.cachedCatalog(name)
	default:
		logging.Warnf("%v", err)
		items = nil
	}
	cr.catalogCache[name] = items
	return items
}

func (cr *CatalogResolver) cacheCatalogOnDisk(name string, items []pkginfo.PkgInfo) {
	if cr.CatalogsDir == "" {
		return
	}
	if err := os.MkdirAll(cr.CatalogsDir, 0o755); err != nil {
		return
	}
	if err := plist.WriteFile(filepath.Join(cr.CatalogsDir, name), items); err != nil {
		logging.Debugf("could not cache catalog %q: %v", name, err)
	}
}

func (cr *CatalogResolver) cachedCatalog(name string) []pkginfo.PkgInfo {
	var items []pkginfo.PkgInfo
	if err := plist.ReadFile(filepath.Join(cr.CatalogsDir, name), &items); err != nil {
		return nil
	}
	return items
}

// findItem locates the best catalog entry for an item name. A name of the
// form "Name--1.2" or "Name-1.2" pins the version; otherwise the highest
// version wins. Catalogs are consulted in order and the first catalog with
// any match decides.
func (cr *CatalogResolver) findItem(itemName string, catalogs []string) *pkginfo.PkgInfo {
	name, pinnedVersion := pkginfo.NameAndVersion(itemName)
	if pinnedVersion == "" {
		name = itemName
	}
	for _, catalogName := range catalogs {
		var best *pkginfo.PkgInfo
		for i := range cr.catalogItems(catalogName) {
			item := &cr.catalogCache[catalogName][i]
			if item.Name != name {
				continue
			}
			if pinnedVersion != "" && !pkginfo.Version(item.Version).Equal(pkginfo.Version(pinnedVersion)) {
				continue
			}
			if best == nil || pkginfo.CompareVersions(item.Version, best.Version) > 0 {
				best = item
			}
		}
		if best != nil {
			return best
		}
	}
	return nil
}

// itemIsInstalled decides whether a catalog item is already satisfied on
// this machine: all required receipts present at or above their versions,
// or every application artifact present on disk at a sufficient version.
func (cr *CatalogResolver) itemIsInstalled(item *pkginfo.PkgInfo) (installed bool, installedVersion string) {
	if len(item.Receipts) > 0 {
		versions := []string{}
		for _, receipt := range item.Receipts {
			if receipt.Optional {
				continue
			}
			have, ok := cr.Installed[receipt.PackageID]
			if !ok || pkginfo.CompareVersions(have, receipt.Version) < 0 {
				return false, have
			}
			versions = append(versions, have)
		}
		return true, pkginfo.MaxVersion(versions)
	}
	if len(item.Installs) > 0 {
		for _, install := range item.Installs {
			if install.Path == "" {
				continue
			}
			if !fsutil.PathExists(install.Path) {
				return false, ""
			}
			if install.Type == "application" {
				want := install.BundleShortVersion
				if want == "" {
					want = install.BundleVersion
				}
				if want != "" {
					have := pkgutil.GetBundleVersion(install.Path, install.VersionComparisonKey)
					if have == "" || pkginfo.CompareVersions(have, want) < 0 {
						return false, have
					}
					installedVersion = have
				}
			}
		}
		return true, installedVersion
	}
	return false, ""
}

// fetchInstallerItem copies the item's installer from the repository into
// the local download cache, returning the cached filename. An item already
// in the cache is reused.
func (cr *CatalogResolver) fetchInstallerItem(item *pkginfo.PkgInfo) (string, error) {
	if item.InstallerItemLocation == "" {
		return "", fmt.Errorf("item %q has no installer item location", item.Name)
	}
	fileName := path.Base(item.InstallerItemLocation)
	localPath := filepath.Join(cr.CacheDir, fileName)
	if fsutil.IsRegularFile(localPath) {
		return fileName, nil
	}
	data, err := cr.Repo.Get("pkgs/" + item.InstallerItemLocation)
	if err != nil {
		return "", fmt.Errorf("could not fetch installer item for %q: %w", item.Name, err)
	}
	if err := os.MkdirAll(cr.CacheDir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(localPath+".download", data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(localPath+".download", localPath); err != nil {
		return "", err
	}
	return fileName, nil
}

func planItemFor(item *pkginfo.PkgInfo, installed bool, installedVersion string) pkginfo.PlanItem {
	return pkginfo.PlanItem{
		Name:                  item.Name,
		DisplayName:           item.DisplayName,
		Version:               item.Version,
		InstalledVersion:      installedVersion,
		Installed:             installed,
		InstallerItemLocation: item.InstallerItemLocation,
		InstallerItemSize:     item.InstallerItemSize,
		RestartAction:         item.RestartAction,
		UninstallMethod:       item.UninstallMethod,
		InstallType:           item.InstallType,
		Precache:              item.Precache,

		LicensedSeatInfoAvailable: item.LicensedSeatInfoAvailable,
	}
}

// ProcessInstall implements Resolver.
func (cr *CatalogResolver) ProcessInstall(ctx context.Context, itemName string, catalogs []string, info *pkginfo.InstallInfo, optional bool) error {
	if containsString(info.ProcessedInstalls, itemName) {
		return nil
	}
	info.ProcessedInstalls = append(info.ProcessedInstalls, itemName)

	item := cr.findItem(itemName, catalogs)
	if item == nil {
		logging.Warnf("no catalog item found for %q", itemName)
		if !optional {
			info.ProblemItems = append(info.ProblemItems, pkginfo.PlanItem{
				Name: itemName,
				Note: "not found in any catalog",
			})
		}
		return nil
	}

	installed, installedVersion := cr.itemIsInstalled(item)
	plan := planItemFor(item, installed, installedVersion)
	if !installed {
		fileName, err := cr.fetchInstallerItem(item)
		if err != nil {
			logging.Warnf("%v", err)
		} else {
			plan.InstallerItem = fileName
		}
	}
	info.ManagedInstalls = append(info.ManagedInstalls, plan)
	return nil
}

// ProcessRemoval implements Resolver.
func (cr *CatalogResolver) ProcessRemoval(ctx context.Context, itemName string, catalogs []string, info *pkginfo.InstallInfo) error {
	if containsString(info.ProcessedUninstalls, itemName) {
		return nil
	}
	info.ProcessedUninstalls = append(info.ProcessedUninstalls, itemName)

	item := cr.findItem(itemName, catalogs)
	if item == nil {
		logging.Warnf("no catalog item found for removal of %q", itemName)
		return nil
	}

	installed, installedVersion := cr.itemIsInstalled(item)
	plan := planItemFor(item, installed, installedVersion)
	plan.WillBeRemoved = installed
	info.Removals = append(info.Removals, plan)
	return nil
}

// processOptionalInstall records an optional-install entry without pulling
// anything into the cache.
func (cr *CatalogResolver) processOptionalInstall(itemName string, catalogs []string, info *pkginfo.InstallInfo) {
	for _, existing := range info.OptionalInstalls {
		if existing.Name == itemName {
			return
		}
	}
	item := cr.findItem(itemName, catalogs)
	if item == nil {
		logging.Warnf("optional install %q not found in any catalog", itemName)
		return
	}
	installed, installedVersion := cr.itemIsInstalled(item)
	plan := planItemFor(item, installed, installedVersion)
	info.OptionalInstalls = append(info.OptionalInstalls, plan)
}

// ProcessManifest implements Resolver. Included manifests are followed one
// level deep; deeper nesting is ignored.
func (cr *CatalogResolver) ProcessManifest(ctx context.Context, m *Manifest, key string, parentCatalogs []string, info *pkginfo.InstallInfo) error {
	return cr.processManifest(ctx, m, key, parentCatalogs, info, true)
}

func (cr *CatalogResolver) processManifest(ctx context.Context, m *Manifest, key string, parentCatalogs []string, info *pkginfo.InstallInfo, followIncludes bool) error {
	catalogs := m.Catalogs
	if len(catalogs) == 0 {
		catalogs = parentCatalogs
	}

	if followIncludes && cr.Store != nil {
		for _, included := range m.IncludedManifests {
			sub, err := cr.Store.Get(included)
			if err != nil {
				logging.Warnf("included manifest %q could not be read: %v", included, err)
				continue
			}
			if err := cr.processManifest(ctx, sub, key, catalogs, info, false); err != nil {
				return err
			}
		}
	}

	for _, itemName := range m.ListFor(key) {
		switch key {
		case "managed_installs":
			if err := cr.ProcessInstall(ctx, itemName, catalogs, info, false); err != nil {
				return err
			}
		case "managed_uninstalls":
			if err := cr.ProcessRemoval(ctx, itemName, catalogs, info); err != nil {
				return err
			}
		case "managed_updates":
			cr.processManagedUpdate(ctx, itemName, catalogs, info)
		case "optional_installs":
			cr.processOptionalInstall(itemName, catalogs, info)
		case "featured_items":
			if !containsString(info.FeaturedItems, itemName) {
				info.FeaturedItems = append(info.FeaturedItems, itemName)
			}
		}
	}
	return nil
}

// processManagedUpdate records the update and, when the item is already
// installed, schedules it like an install so a newer version is picked up.
// An update for something not installed is a no-op.
func (cr *CatalogResolver) processManagedUpdate(ctx context.Context, itemName string, catalogs []string, info *pkginfo.InstallInfo) {
	if !containsString(info.ManagedUpdates, itemName) {
		info.ManagedUpdates = append(info.ManagedUpdates, itemName)
	}
	item := cr.findItem(itemName, catalogs)
	if item == nil {
		logging.Warnf("no catalog item found for managed update %q", itemName)
		return
	}
	if installed, _ := cr.itemIsInstalled(item); installed {
		return
	}
	// a lower version being present still counts as installed software
	// worth updating; only a complete absence skips the update
	if cr.anyVersionPresent(item) {
		cr.ProcessInstall(ctx, itemName, catalogs, info, false)
	}
}

// anyVersionPresent reports whether any version of the item's software is
// on this machine, receipts first, then application artifacts.
func (cr *CatalogResolver) anyVersionPresent(item *pkginfo.PkgInfo) bool {
	for _, receipt := range item.Receipts {
		if _, ok := cr.Installed[receipt.PackageID]; ok {
			return true
		}
	}
	for _, install := range item.Installs {
		if install.Path != "" && fsutil.PathExists(install.Path) {
			return true
		}
	}
	return false
}

// AutoRemovalItems implements Resolver: catalog items flagged autoremove
// that are installed but were not processed as installs this run.
func (cr *CatalogResolver) AutoRemovalItems(ctx context.Context, info *pkginfo.InstallInfo, catalogs []string) []string {
	var names []string
	seen := map[string]bool{}
	for _, catalogName := range catalogs {
		for i := range cr.catalogItems(catalogName) {
			item := &cr.catalogCache[catalogName][i]
			if !item.Autoremove || seen[item.Name] {
				continue
			}
			seen[item.Name] = true
			if containsString(info.ProcessedInstalls, item.Name) {
				continue
			}
			if installed, _ := cr.itemIsInstalled(item); installed {
				names = append(names, item.Name)
			}
		}
	}
	return names
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
