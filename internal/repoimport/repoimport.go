// Package repoimport copies installer items and their pkginfo records into
// a software repository, avoiding name collisions and duplicate imports.
package repoimport

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/stewardproject/steward/internal/pkginfo"
	"github.com/stewardproject/steward/internal/plist"
	"github.com/stewardproject/steward/internal/repo"
)

// ErrImport wraps failures in the import pipeline.
var ErrImport = errors.New("import failed")

// HashFile returns the hex sha256 digest of a file, the hash stored in
// installer_item_hash and indexed by the catalog database.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SingleArch returns the architecture when the item supports exactly one,
// else "".
func SingleArch(p *pkginfo.PkgInfo) string {
	if len(p.SupportedArchitectures) == 1 {
		return p.SupportedArchitectures[0]
	}
	return ""
}

// CopyInstallerItemToRepo uploads an installer item under pkgs/subdirectory
// and returns its repository identifier. The version is appended to the
// filename unless already present, and an existing item with the same name
// pushes the new one to a "name__N" variant.
func CopyInstallerItemToRepo(r repo.Repo, itemPath, version, subdirectory string) (string, error) {
	itemName := path.Base(filepath.ToSlash(itemPath))
	ext := path.Ext(itemName)
	name := strings.TrimSuffix(itemName, ext)
	if version != "" && !strings.HasSuffix(name, version) {
		itemName = name + "-" + version + ext
	}
	destIdentifier := path.Join("pkgs", subdirectory, itemName)

	existing, err := r.List("pkgs")
	if err != nil {
		return "", fmt.Errorf("%w: unable to get list of current pkgs: %v", ErrImport, err)
	}
	taken := map[string]bool{}
	for _, id := range existing {
		taken[id] = true
	}
	for index := 1; taken[destIdentifier]; index++ {
		itemName = fmt.Sprintf("%s__%d%s", name, index, ext)
		destIdentifier = path.Join("pkgs", subdirectory, itemName)
	}

	if err := r.PutFile(destIdentifier, itemPath); err != nil {
		return "", fmt.Errorf("%w: unable to copy %s to %s: %v", ErrImport, itemPath, destIdentifier, err)
	}
	return destIdentifier, nil
}

// CopyPkgInfoToRepo writes a pkginfo record under pkgsinfo/subdirectory as
// "name-version[-arch]ext", with the same "__N" collision handling as
// installer items. ext normally comes from the admin configuration's
// pkginfo_extension.
func CopyPkgInfoToRepo(r repo.Repo, p *pkginfo.PkgInfo, subdirectory, ext string) (string, error) {
	if p.Name == "" {
		return "", fmt.Errorf("%w: pkginfo is missing a name", ErrImport)
	}
	if p.Version == "" {
		return "", fmt.Errorf("%w: pkginfo is missing a version", ErrImport)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	arch := SingleArch(p)
	if arch != "" {
		arch = "-" + arch
	}

	data, err := plist.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrImport, err)
	}

	pkginfoName := p.Name + "-" + p.Version + arch + ext
	identifier := path.Join("pkgsinfo", subdirectory, pkginfoName)

	existing, err := r.List("pkgsinfo")
	if err != nil {
		return "", fmt.Errorf("%w: unable to get list of current pkgsinfo: %v", ErrImport, err)
	}
	taken := map[string]bool{}
	for _, id := range existing {
		taken[id] = true
	}
	for index := 1; taken[identifier]; index++ {
		pkginfoName = fmt.Sprintf("%s-%s%s__%d%s", p.Name, p.Version, arch, index, ext)
		identifier = path.Join("pkgsinfo", subdirectory, pkginfoName)
	}

	if err := r.Put(identifier, data); err != nil {
		return "", fmt.Errorf("%w: unable to write %s: %v", ErrImport, identifier, err)
	}
	return identifier, nil
}

// IconIdentifier derives the repository identifier for an item's display
// icon: the item's icon_name when set, else its name, with ".png" appended
// when the name carries no extension.
func IconIdentifier(p *pkginfo.PkgInfo) string {
	iconName := p.IconName
	if iconName == "" {
		iconName = p.Name
	}
	if path.Ext(iconName) == "" {
		iconName += ".png"
	}
	return path.Join("icons", iconName)
}

// IconIsInRepo reports whether the repository has an icon for this item.
func IconIsInRepo(r repo.Repo, p *pkginfo.PkgInfo) bool {
	identifier := IconIdentifier(p)
	icons, err := r.List("icons")
	if err != nil {
		return false
	}
	for _, id := range icons {
		if id == identifier {
			return true
		}
	}
	return false
}
