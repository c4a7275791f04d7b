// Package diskimage mounts and inspects macOS disk images via hdiutil.
// Installer items frequently ship as dmg files wrapping the actual package;
// the metadata extractor mounts them, reads what it needs, and unmounts on
// every path out.
package diskimage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/stewardproject/steward/internal/common/execute"
	"github.com/stewardproject/steward/internal/common/logging"
	"github.com/stewardproject/steward/internal/plist"
)

const hdiutilPath = "/usr/bin/hdiutil"

// ErrNoMountPoint is returned when an attach succeeds but reports no
// mounted filesystem
var ErrNoMountPoint = errors.New("no mount point in attach output")

// runHdiutil is replaceable in tests.
var runHdiutil = func(ctx context.Context, stdin string, args ...string) (*execute.Result, error) {
	r := &execute.Runner{Path: hdiutilPath, Args: args, Stdin: stdin}
	return r.Run(ctx)
}

// systemEntity is one mounted filesystem in hdiutil output.
type systemEntity struct {
	MountPoint string `plist:"mount-point"`
}

type imageEntry struct {
	ImagePath      string         `plist:"image-path"`
	SystemEntities []systemEntity `plist:"system-entities"`
}

type hdiutilInfoOutput struct {
	Images []imageEntry `plist:"images"`
}

type attachOutput struct {
	SystemEntities []systemEntity `plist:"system-entities"`
}

// hdiutilData runs an hdiutil command with -plist and decodes the first
// plist document from its output into v.
func hdiutilData(ctx context.Context, v interface{}, stdin string, args ...string) error {
	hasPlist := false
	for _, a := range args {
		if a == "-plist" {
			hasPlist = true
		}
	}
	if !hasPlist {
		args = append(args, "-plist")
	}
	result, err := runHdiutil(ctx, stdin, args...)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("hdiutil %s exited %d: %s", args[0], result.ExitCode, result.Stderr)
	}
	doc, _ := plist.ParseFirst(result.Stdout)
	if doc == "" {
		return nil
	}
	if err := plist.Unmarshal([]byte(doc), v); err != nil {
		// tools sometimes emit junk alongside the plist; treat as empty
		logging.Debugf("undecodable hdiutil output: %v", err)
	}
	return nil
}

// ImageInfo returns the imageinfo dictionary for a disk image.
func ImageInfo(ctx context.Context, dmgPath string) (plist.Dict, error) {
	var info plist.Dict
	if err := hdiutilData(ctx, &info, "", "imageinfo", dmgPath); err != nil {
		return nil, err
	}
	return info, nil
}

// IsWritable reports whether the disk image format permits writes.
func IsWritable(ctx context.Context, dmgPath string) bool {
	info, err := ImageInfo(ctx, dmgPath)
	if err != nil {
		return false
	}
	format, _ := info["Format"].(string)
	switch format {
	case "UDSB", "UDSP", "UDRW", "RdWr":
		return true
	}
	return false
}

// HasSLA reports whether the disk image embeds a software license
// agreement. Such images cannot attach without answering a prompt.
func HasSLA(ctx context.Context, dmgPath string) bool {
	info, err := ImageInfo(ctx, dmgPath)
	if err != nil {
		return false
	}
	props, _ := info["Properties"].(map[string]interface{})
	hasSLA, _ := props["Software License Agreement"].(bool)
	return hasSLA
}

// MountPoint returns the current mount point for a disk image, or "" when
// it is not mounted.
func MountPoint(ctx context.Context, dmgPath string) string {
	var info hdiutilInfoOutput
	if err := hdiutilData(ctx, &info, "", "info"); err != nil {
		return ""
	}
	for _, image := range info.Images {
		if image.ImagePath != dmgPath {
			continue
		}
		for _, entity := range image.SystemEntities {
			if entity.MountPoint != "" {
				return entity.MountPoint
			}
		}
	}
	return ""
}

// IsMounted reports whether the disk image is currently attached.
func IsMounted(ctx context.Context, dmgPath string) bool {
	return MountPoint(ctx, dmgPath) != ""
}

// PathIsMountPoint reports whether path is a mount point for some attached
// disk image.
func PathIsMountPoint(ctx context.Context, path string) bool {
	var info hdiutilInfoOutput
	if err := hdiutilData(ctx, &info, "", "info"); err != nil {
		return false
	}
	for _, image := range info.Images {
		for _, entity := range image.SystemEntities {
			if entity.MountPoint == path {
				return true
			}
		}
	}
	return false
}

// MountOptions control Mount behavior. The zero value mounts read-only at a
// random directory under /tmp with verification on.
type MountOptions struct {
	UseShadow         bool
	UseExistingMounts bool
	NoRandomMount     bool
	SkipVerification  bool
}

// Mount attaches a disk image and returns its first mount point. Images
// with a license agreement are answered "Y" on stdin.
func Mount(ctx context.Context, dmgPath string, opts MountOptions) (string, error) {
	if opts.UseExistingMounts {
		if mp := MountPoint(ctx, dmgPath); mp != "" {
			return mp, nil
		}
	}

	stdin := ""
	if HasSLA(ctx, dmgPath) {
		stdin = "Y\n"
		logging.Infof("NOTE: %s has embedded software license agreement", filepath.Base(dmgPath))
	}

	args := []string{"attach", dmgPath, "-nobrowse"}
	if !opts.NoRandomMount {
		args = append(args, "-mountRandom", "/tmp")
	}
	if opts.UseShadow {
		args = append(args, "-shadow")
	}
	if opts.SkipVerification {
		args = append(args, "-noverify")
	}

	var out attachOutput
	if err := hdiutilData(ctx, &out, stdin, args...); err != nil {
		return "", err
	}
	for _, entity := range out.SystemEntities {
		if entity.MountPoint != "" {
			return entity.MountPoint, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoMountPoint, filepath.Base(dmgPath))
}

// Unmount detaches the filesystem at mountpoint. A polite detach that fails
// is retried with -force; a forced failure is logged, not returned, since
// unmounting happens on error paths that already carry an error.
func Unmount(ctx context.Context, mountpoint string) {
	result, err := runHdiutil(ctx, "", "detach", mountpoint)
	if err == nil && result.ExitCode == 0 {
		return
	}
	if err != nil {
		logging.Errorf("polite unmount failed: %v", err)
	} else {
		logging.Errorf("polite unmount failed: %s", result.Stderr)
	}
	logging.Errorf("attempting to force unmount %s", mountpoint)
	result, err = runHdiutil(ctx, "", "detach", mountpoint, "-force")
	if err != nil || result.ExitCode != 0 {
		logging.Warnf("failed to unmount %s", mountpoint)
	}
}
