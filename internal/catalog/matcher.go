package catalog

import (
	"errors"

	"github.com/stewardproject/steward/internal/common/logging"
	"github.com/stewardproject/steward/internal/pkginfo"
	"github.com/stewardproject/steward/internal/repo"
)

// FindMatch looks for a catalog entry representing the same software as the
// candidate, to avoid duplicate imports. Four strategies run in fixed order,
// first success wins: content hash, receipt set, installed application path,
// installer item filename. It returns nil when nothing matches; no match is
// not an error.
func (db *Database) FindMatch(candidate *pkginfo.PkgInfo) *pkginfo.PkgInfo {
	// Content hash is the only unambiguous signal.
	if candidate.InstallerItemHash != "" {
		if indexes, ok := db.Hashes[candidate.InstallerItemHash]; ok && len(indexes) > 0 {
			return &db.Items[indexes[0]]
		}
	}

	// Receipts survive file renaming. Match on the first receipt's
	// packageid, then require the full packageid sets to be equal.
	if match := db.matchByReceipts(candidate); match != nil {
		return match
	}

	// The last two strategies are heuristics that can produce false
	// positives, so they run only when nothing better hit.
	if appPath := candidate.FirstApplicationPath(); appPath != "" {
		if versions, ok := db.Applications[appPath]; ok {
			if match := db.highestVersionItem(versions); match != nil {
				return match
			}
		}
	}

	if candidate.InstallerItemLocation != "" {
		baseName, _ := StripInstallerItemVersion(candidate.InstallerItemLocation)
		if versions, ok := db.InstallerItems[baseName]; ok {
			if match := db.highestVersionItem(versions); match != nil {
				return match
			}
		}
	}
	return nil
}

func (db *Database) matchByReceipts(candidate *pkginfo.PkgInfo) *pkginfo.PkgInfo {
	var firstID string
	for _, r := range candidate.Receipts {
		if r.PackageID != "" {
			firstID = r.PackageID
			break
		}
	}
	if firstID == "" {
		return nil
	}
	byVersion, ok := db.Receipts[firstID]
	if !ok {
		return nil
	}

	versions := make([]string, 0, len(byVersion))
	for v := range byVersion {
		versions = append(versions, v)
	}
	pkginfo.SortVersionsDescending(versions)

	candidateIDs := candidate.ReceiptIDSet()
	for _, version := range versions {
		for _, index := range byVersion[version] {
			item := &db.Items[index]
			if setsEqual(candidateIDs, item.ReceiptIDSet()) {
				return item
			}
		}
	}
	return nil
}

// highestVersionItem returns the first item recorded under the highest
// version in a version index, or nil when the index is empty.
func (db *Database) highestVersionItem(byVersion indexDict) *pkginfo.PkgInfo {
	versions := make([]string, 0, len(byVersion))
	for v := range byVersion {
		versions = append(versions, v)
	}
	if len(versions) == 0 {
		return nil
	}
	pkginfo.SortVersionsDescending(versions)
	indexes := byVersion[versions[0]]
	if len(indexes) == 0 {
		return nil
	}
	return &db.Items[indexes[0]]
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// FindMatchInRepo builds a database from the repository and matches the
// candidate against it. An unreadable catalog is treated as "no match" — a
// brand-new repository has no catalogs yet — but when the repository already
// holds packages the failure is surfaced as a warning.
func FindMatchInRepo(r repo.Repo, candidate *pkginfo.PkgInfo) *pkginfo.PkgInfo {
	db, err := MakeDatabase(r)
	if err != nil {
		if errors.Is(err, ErrRead) {
			if pkgs, listErr := r.List("pkgs"); listErr == nil && len(pkgs) > 0 {
				logging.Warnf("could not read existing catalogs: %v", err)
			}
		} else {
			logging.Warnf("could not read existing catalogs: %v", err)
		}
		return nil
	}
	return db.FindMatch(candidate)
}
