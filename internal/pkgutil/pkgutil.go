package pkgutil

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/stewardproject/steward/internal/common/execute"
	"github.com/stewardproject/steward/internal/common/fsutil"
	"github.com/stewardproject/steward/internal/common/logging"
	"github.com/stewardproject/steward/internal/pkginfo"
	"github.com/stewardproject/steward/internal/plist"
)

const (
	installerPath = "/usr/sbin/installer"
	pkgutilPath   = "/usr/sbin/pkgutil"
	lsbomPath     = "/usr/bin/lsbom"
)

// ErrNotAPackage is returned when a path does not look like an Apple
// installer package
var ErrNotAPackage = errors.New("not an Apple installer package")

// runCommand is replaceable in tests.
var runCommand = func(ctx context.Context, dir, path string, args ...string) (*execute.Result, error) {
	r := &execute.Runner{Path: path, Args: args, Dir: dir}
	return r.Run(ctx)
}

// HasValidPackageExt reports whether path ends in .pkg or .mpkg.
func HasValidPackageExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pkg", ".mpkg":
		return true
	}
	return false
}

// HasValidDiskImageExt reports whether path ends in .dmg or .iso.
func HasValidDiskImageExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dmg", ".iso":
		return true
	}
	return false
}

// HasValidInstallerItemExt reports whether path refers to an item steward
// can possibly install.
func HasValidInstallerItemExt(path string) bool {
	return HasValidPackageExt(path) || HasValidDiskImageExt(path)
}

// RestartAction queries the installer tool for a package's restart action.
// "None" is dropped so the field stays absent for the common case.
func RestartAction(ctx context.Context, pkgPath string) string {
	result, err := runCommand(ctx, "", installerPath,
		"-query", "RestartAction", "-pkg", pkgPath, "-plist")
	if err != nil || result.ExitCode != 0 {
		logging.Errorf("installer -query for %s failed", pkgPath)
		return ""
	}
	doc, _ := plist.ParseFirst(result.Stdout)
	if doc == "" {
		return ""
	}
	var out struct {
		RestartAction string `plist:"RestartAction"`
	}
	if err := plist.Unmarshal([]byte(doc), &out); err != nil {
		return ""
	}
	if out.RestartAction == "None" {
		return ""
	}
	return out.RestartAction
}

// ChoiceChanges queries a package for its choice changes XML, keeping only
// entries whose choiceAttribute is "selected".
func ChoiceChanges(ctx context.Context, pkgPath string) []plist.Dict {
	result, err := runCommand(ctx, "", installerPath,
		"-showChoiceChangesXML", "-pkg", pkgPath)
	if err != nil || result.ExitCode != 0 {
		return nil
	}
	doc, _ := plist.ParseFirst(result.Stdout)
	if doc == "" {
		return nil
	}
	var all []plist.Dict
	if err := plist.Unmarshal([]byte(doc), &all); err != nil {
		return nil
	}
	var selected []plist.Dict
	for _, choice := range all {
		if attr, _ := choice["choiceAttribute"].(string); attr == "selected" {
			selected = append(selected, choice)
		}
	}
	return selected
}

// BomList returns the bill-of-materials listing for a bundle-style package,
// one path per entry.
func BomList(ctx context.Context, pkgPath string) []string {
	contentsPath := filepath.Join(pkgPath, "Contents")
	if !fsutil.IsDir(contentsPath) {
		return nil
	}
	entries, err := filepath.Glob(filepath.Join(contentsPath, "*.bom"))
	if err != nil || len(entries) == 0 {
		return nil
	}
	result, err := runCommand(ctx, "", lsbomPath, "-s", entries[0])
	if err != nil || result.ExitCode != 0 {
		return nil
	}
	return strings.Split(strings.TrimRight(result.Stdout, "\n"), "\n")
}

// packageReceipts dispatches on installer shape: directories are
// bundle-style packages, everything else is a flat archive.
func packageReceipts(ctx context.Context, pkgPath string, tempDir *fsutil.TempDir) flatPackageInfo {
	logging.Debugf("examining %s", pkgPath)
	if fsutil.IsDir(pkgPath) {
		return flatPackageInfo{Receipts: bundlePackageReceipts(pkgPath)}
	}
	return getFlatPackageInfo(ctx, pkgPath, tempDir)
}

// PackageMetaData queries an installer item (.pkg, .mpkg) and builds its
// pkginfo record. There are a lot of valid Apple package formats and this
// function may not deal with them all equally well. versionKey, when set,
// names the Info.plist key the version must come from.
func PackageMetaData(ctx context.Context, pkgPath, versionKey string, tempDir *fsutil.TempDir) (*pkginfo.PkgInfo, error) {
	if !HasValidPackageExt(pkgPath) {
		return nil, fmt.Errorf("%w: %s", ErrNotAPackage, pkgPath)
	}

	info := packageReceipts(ctx, pkgPath, tempDir)

	record := &pkginfo.PkgInfo{
		Receipts:         info.Receipts,
		MinimumOSVersion: info.MinimumOSVersion,
		RestartAction:    RestartAction(ctx, pkgPath),
	}

	version := ""
	if versionKey != "" {
		version = GetBundleVersion(pkgPath, versionKey)
	}
	if version == "" {
		version = info.ProductVersion
	}
	if version == "" {
		version = GetBundleVersion(pkgPath, "")
	}
	if version == "" {
		versions := make([]string, 0, len(info.Receipts))
		for _, receipt := range info.Receipts {
			if receipt.Version != "" {
				versions = append(versions, receipt.Version)
			}
		}
		version = pkginfo.MaxVersion(versions)
	}
	if version == "" {
		// downstream sorting needs a well-formed value
		version = "0.0.0.0.0"
	}
	record.Version = version

	baseName := filepath.Base(pkgPath)
	nameMaybeWithVersion := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	record.Name, _ = pkginfo.NameAndVersion(nameMaybeWithVersion)
	if record.Name == "" {
		return nil, fmt.Errorf("could not derive a name for %s", pkgPath)
	}

	var installedSize int64
	for _, receipt := range record.Receipts {
		installedSize += receipt.InstalledSize
	}
	if installedSize > 0 {
		record.InstalledSize = installedSize
	}
	return record, nil
}

// InstalledPackageVersion checks a package id against the local receipt
// database. Returns "" when the package is not installed.
func InstalledPackageVersion(ctx context.Context, pkgID string) string {
	result, err := runCommand(ctx, "", pkgutilPath, "--pkg-info-plist", pkgID)
	if err != nil || result.ExitCode != 0 {
		logging.Debugf("this machine does not have %s", pkgID)
		return ""
	}
	doc, _ := plist.ParseFirst(result.Stdout)
	if doc == "" {
		return ""
	}
	var receipt struct {
		PkgID   string `plist:"pkgid"`
		Version string `plist:"pkg-version"`
	}
	if err := plist.Unmarshal([]byte(doc), &receipt); err != nil {
		return ""
	}
	if receipt.PkgID != pkgID || receipt.Version == "" {
		return ""
	}
	logging.Debugf("this machine has %s, version %s", pkgID, receipt.Version)
	return receipt.Version
}

// InstalledPackages builds a map of every installed receipt's package id to
// its version, by splitting the concatenated plist output of a full receipt
// database query.
func InstalledPackages(ctx context.Context) map[string]string {
	installed := make(map[string]string)
	result, err := runCommand(ctx, "", pkgutilPath, "--regexp", "--pkg-info-plist", ".*")
	if err != nil || result.ExitCode != 0 {
		return installed
	}
	plist.VisitAll(result.Stdout, func(doc string) error {
		var receipt struct {
			PkgID   string `plist:"pkgid"`
			Version string `plist:"pkg-version"`
		}
		if err := plist.Unmarshal([]byte(doc), &receipt); err == nil {
			if receipt.PkgID != "" && receipt.Version != "" {
				installed[receipt.PkgID] = receipt.Version
			}
		}
		return nil
	})
	return installed
}

// IsApplication reports whether a path appears to be a macOS application.
func IsApplication(pathname string) bool {
	if !fsutil.IsDir(pathname) {
		return false
	}
	if strings.HasSuffix(pathname, ".app") {
		return true
	}
	if filepath.Ext(pathname) != "" {
		return false
	}
	if info := GetBundleInfo(pathname); info != nil {
		if pkgType, ok := info["CFBundlePackageType"].(string); ok && pkgType != "APPL" {
			return false
		}
		return GetAppBundleExecutable(pathname) != ""
	}
	return false
}
