package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stewardproject/steward/internal/common/fsutil"
	"github.com/stewardproject/steward/internal/common/logging"
	"github.com/stewardproject/steward/internal/diskimage"
	"github.com/stewardproject/steward/internal/pkginfo"
	"github.com/stewardproject/steward/internal/pkgutil"
	"github.com/stewardproject/steward/internal/repoimport"
)

// extractMetadata builds a pkginfo record for an installer item: a package,
// or a disk image containing a package or application at its root. The
// returned cleanup func unmounts and removes anything the extraction left
// behind and must always be called.
func extractMetadata(ctx context.Context, itemPath, versionKey string) (*pkginfo.PkgInfo, func(), error) {
	cleanup := func() {}
	tempDir, err := fsutil.NewTempDir()
	if err != nil {
		return nil, cleanup, err
	}
	cleanup = tempDir.Cleanup

	var info *pkginfo.PkgInfo
	switch {
	case pkgutil.HasValidPackageExt(itemPath):
		info, err = pkgutil.PackageMetaData(ctx, itemPath, versionKey, tempDir)
		if err != nil {
			return nil, cleanup, err
		}
	case pkgutil.HasValidDiskImageExt(itemPath):
		mountpoint, mountErr := diskimage.Mount(ctx, itemPath, diskimage.MountOptions{})
		if mountErr != nil {
			return nil, cleanup, fmt.Errorf("could not mount %s: %w", itemPath, mountErr)
		}
		unmount := cleanup
		cleanup = func() {
			diskimage.Unmount(ctx, mountpoint)
			unmount()
		}
		info, err = metadataFromMountpoint(ctx, mountpoint, versionKey, tempDir)
		if err != nil {
			return nil, cleanup, err
		}
		// the record describes the disk image, not its contents
		name, _ := pkginfo.NameAndVersion(strings.TrimSuffix(filepath.Base(itemPath), filepath.Ext(itemPath)))
		if name != "" {
			info.Name = name
		}
	default:
		return nil, cleanup, fmt.Errorf("%s is not a package or disk image", itemPath)
	}

	info.InstallerItemSize = fsutil.Size(itemPath) / 1024
	if hash, hashErr := repoimport.HashFile(itemPath); hashErr == nil {
		info.InstallerItemHash = hash
	} else {
		logging.Warnf("could not hash %s: %v", itemPath, hashErr)
	}
	return info, cleanup, nil
}

// metadataFromMountpoint looks for the first installable thing at the root
// of a mounted disk image: a package, or an application bundle described by
// an installs item.
func metadataFromMountpoint(ctx context.Context, mountpoint, versionKey string, tempDir *fsutil.TempDir) (*pkginfo.PkgInfo, error) {
	entries, err := os.ReadDir(mountpoint)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		itemPath := filepath.Join(mountpoint, entry.Name())
		if pkgutil.HasValidPackageExt(itemPath) {
			return pkgutil.PackageMetaData(ctx, itemPath, versionKey, tempDir)
		}
	}
	for _, entry := range entries {
		itemPath := filepath.Join(mountpoint, entry.Name())
		if pkgutil.IsApplication(itemPath) {
			return appMetaData(itemPath, versionKey)
		}
	}
	return nil, fmt.Errorf("no package or application found at the root of the disk image")
}

// appMetaData describes a drag-installed application as an installs item.
func appMetaData(appPath, versionKey string) (*pkginfo.PkgInfo, error) {
	bundleInfo := pkgutil.GetBundleInfo(appPath)
	if bundleInfo == nil {
		return nil, fmt.Errorf("could not read bundle info for %s", appPath)
	}
	version := pkgutil.GetVersionString(bundleInfo, versionKey)
	if version == "" {
		version = "0.0.0.0.0"
	}
	appName := strings.TrimSuffix(filepath.Base(appPath), filepath.Ext(appPath))
	installsItem := pkginfo.InstallsItem{
		Type: "application",
		Path: filepath.Join("/Applications", filepath.Base(appPath)),
	}
	if s, ok := bundleInfo["CFBundleIdentifier"].(string); ok {
		installsItem.BundleIdentifier = s
	}
	if s, ok := bundleInfo["CFBundleName"].(string); ok {
		installsItem.BundleName = s
	}
	if s, ok := bundleInfo["CFBundleShortVersionString"].(string); ok {
		installsItem.BundleShortVersion = s
	}
	if s, ok := bundleInfo["CFBundleVersion"].(string); ok {
		installsItem.BundleVersion = s
	}
	return &pkginfo.PkgInfo{
		Name:          appName,
		Version:       version,
		InstalledSize: fsutil.DirSize(appPath) / 1024,
		Installs:      []pkginfo.InstallsItem{installsItem},
	}, nil
}
