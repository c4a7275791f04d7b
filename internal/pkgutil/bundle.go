// Package pkgutil extracts metadata from Apple installer packages: receipts,
// versions, installed sizes, restart actions. It handles both bundle-style
// packages (directories) and flat xar archives, plus the receipt database of
// the local machine.
package pkgutil

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/stewardproject/steward/internal/common/fsutil"
	"github.com/stewardproject/steward/internal/pkginfo"
	"github.com/stewardproject/steward/internal/plist"
)

// GetVersionString pulls a version out of a bundle info dictionary. With an
// explicit key the value of that key is returned as-is; otherwise
// CFBundleShortVersionString is preferred over CFBundleVersion.
func GetVersionString(info plist.Dict, key string) string {
	if key != "" {
		v, _ := info[key].(string)
		return v
	}
	for _, k := range []string{"CFBundleShortVersionString", "CFBundleVersion"} {
		if v, ok := info[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// GetBundleInfo returns the Info.plist contents for a bundle, trying
// Contents/Info.plist then Resources/Info.plist. Returns nil when neither
// exists or parses.
func GetBundleInfo(bundlePath string) plist.Dict {
	for _, sub := range []string{"Contents/Info.plist", "Resources/Info.plist"} {
		infoPath := filepath.Join(bundlePath, sub)
		if !fsutil.IsRegularFile(infoPath) {
			continue
		}
		var info plist.Dict
		if err := plist.ReadFile(infoPath, &info); err == nil {
			return info
		}
		return nil
	}
	return nil
}

// GetAppBundleExecutable returns the path of the executable inside an app
// bundle, or "" when none is found.
func GetAppBundleExecutable(bundlePath string) string {
	name := strings.TrimSuffix(filepath.Base(bundlePath), filepath.Ext(bundlePath))
	if info := GetBundleInfo(bundlePath); info != nil {
		if exe, ok := info["CFBundleExecutable"].(string); ok && exe != "" {
			name = exe
		} else if n, ok := info["CFBundleName"].(string); ok && n != "" {
			name = n
		}
	}
	exePath := filepath.Join(bundlePath, "Contents", "MacOS", name)
	if fsutil.IsRegularFile(exePath) {
		return exePath
	}
	return ""
}

// parseInfoFileText parses the ancient key-value text format found in
// old bundle-style packages: one "Key value with spaces" pair per line.
func parseInfoFileText(text string) map[string]string {
	info := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		parts := strings.Fields(line)
		if len(parts) > 1 {
			info[parts[0]] = strings.Join(parts[1:], " ")
		}
	}
	return info
}

// parseInfoFile reads an old-style .info file. The format predates UTF-8;
// MacRoman content is read byte-wise, which is lossy for non-ASCII keys but
// those never carry the fields we read.
func parseInfoFile(infoPath string) map[string]string {
	data, err := os.ReadFile(infoPath)
	if err != nil {
		return map[string]string{}
	}
	return parseInfoFileText(string(data))
}

// oldStyleInfoFile returns the path of a legacy .info file inside a bundle,
// or "" when there is none.
func oldStyleInfoFile(bundlePath string) string {
	infoDir := filepath.Join(bundlePath, "Contents", "Resources", "English.lproj")
	if !fsutil.IsDir(infoDir) {
		return ""
	}
	entries, err := os.ReadDir(infoDir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".info") {
			return filepath.Join(infoDir, entry.Name())
		}
	}
	return ""
}

// GetBundleVersion returns the version of a bundle, falling back to legacy
// .info files for very old packages. key selects a specific Info.plist key.
func GetBundleVersion(bundlePath, key string) string {
	if info := GetBundleInfo(bundlePath); info != nil {
		if version := GetVersionString(info, key); version != "" {
			return version
		}
	}
	if infoFile := oldStyleInfoFile(bundlePath); infoFile != "" {
		if version := parseInfoFile(infoFile)["Version"]; version != "" {
			return version
		}
	}
	return ""
}

// singlePkgReceipt returns the receipt for a single-component bundle-style
// package, or a zero receipt when the bundle has no usable metadata.
func singlePkgReceipt(pkgPath string) pkginfo.Receipt {
	pkgName := filepath.Base(pkgPath)
	if info := GetBundleInfo(pkgPath); info != nil {
		receipt := pkginfo.Receipt{
			Filename: pkgName,
			Version:  GetBundleVersion(pkgPath, ""),
		}
		if id, ok := info["CFBundleIdentifier"].(string); ok && id != "" {
			receipt.PackageID = id
		} else if id, ok := info["Bundle identifier"].(string); ok && id != "" {
			receipt.PackageID = id
		} else {
			receipt.PackageID = pkgName
		}
		if name, ok := info["CFBundleName"].(string); ok {
			receipt.Name = name
		}
		if size, ok := intValue(info["IFPkgFlagInstalledSize"]); ok {
			receipt.InstalledSize = size
		}
		return receipt
	}
	if infoFile := oldStyleInfoFile(pkgPath); infoFile != "" {
		info := parseInfoFile(infoFile)
		receipt := pkginfo.Receipt{
			PackageID: pkgName,
			Filename:  pkgName,
			Version:   "0.0",
			Name:      pkgName,
		}
		if v := info["Version"]; v != "" {
			receipt.Version = v
		}
		if n := info["Title"]; n != "" {
			receipt.Name = n
		}
		return receipt
	}
	return pkginfo.Receipt{}
}

// mpkgSearchDirs are the well-known places a bundle metapackage keeps its
// sub-packages when it does not declare a component directory.
var mpkgSearchDirs = []string{
	"", "Contents", "Contents/Installers", "Contents/Packages",
	"Contents/Resources", "Contents/Resources/Packages",
}

// bundlePackageReceipts collects receipts from a bundle-style package. A
// .pkg with usable bundle metadata is a single-component package; anything
// else is treated as a metapackage and scanned for nested packages,
// recursing into nested .mpkg bundles.
func bundlePackageReceipts(pkgPath string) []pkginfo.Receipt {
	if strings.HasSuffix(pkgPath, ".pkg") {
		if receipt := singlePkgReceipt(pkgPath); receipt.PackageID != "" {
			return []pkginfo.Receipt{receipt}
		}
	}

	contentsPath := filepath.Join(pkgPath, "Contents")
	if !fsutil.IsDir(contentsPath) {
		return nil
	}

	if entries, err := os.ReadDir(contentsPath); err == nil {
		for _, entry := range entries {
			if strings.HasSuffix(entry.Name(), ".dist") {
				return parseDistFile(filepath.Join(contentsPath, entry.Name())).receipts
			}
		}
	}

	searchDirs := mpkgSearchDirs
	if info := GetBundleInfo(pkgPath); info != nil {
		if componentDir, ok := info["IFPkgFlagComponentDirectory"].(string); ok && componentDir != "" {
			searchDirs = []string{componentDir}
		}
	}

	var receipts []pkginfo.Receipt
	for _, dir := range searchDirs {
		searchDir := filepath.Join(pkgPath, dir)
		if !fsutil.IsDir(searchDir) {
			continue
		}
		entries, err := os.ReadDir(searchDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			itemPath := filepath.Join(searchDir, entry.Name())
			if !fsutil.IsDir(itemPath) {
				continue
			}
			switch {
			case strings.HasSuffix(itemPath, ".pkg"):
				if receipt := singlePkgReceipt(itemPath); receipt.PackageID != "" {
					receipts = append(receipts, receipt)
				}
			case strings.HasSuffix(itemPath, ".mpkg"):
				receipts = append(receipts, bundlePackageReceipts(itemPath)...)
			}
		}
	}
	return receipts
}

// intValue coerces the numeric types a plist decoder may produce.
func intValue(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
