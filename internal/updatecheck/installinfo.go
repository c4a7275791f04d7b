package updatecheck

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stewardproject/steward/internal/common/fsutil"
	"github.com/stewardproject/steward/internal/common/logging"
	"github.com/stewardproject/steward/internal/pkginfo"
	"github.com/stewardproject/steward/internal/plist"
)

// readPlan loads the persisted install plan.
func readPlan(path string) (*pkginfo.InstallInfo, error) {
	var info pkginfo.InstallInfo
	if err := plist.ReadFile(path, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// writePlanIfChanged persists the plan only when it differs structurally
// from the previous run's file. The installer process watches this file, so
// a no-op rewrite would make every check look like a change. A previous
// file that cannot be decoded is deleted and treated as absent.
func writePlanIfChanged(path string, info *pkginfo.InstallInfo) error {
	if fsutil.IsRegularFile(path) {
		old, err := readPlan(path)
		if err != nil {
			logging.Errorf("could not read previous install plan, deleting: %v", err)
			os.Remove(path)
		} else if planEqual(info, old) {
			logging.Debugf("no change in install plan")
			return nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create managed installs directory: %w", err)
	}
	return plist.WriteFile(path, info)
}

// planEqual compares plans by their serialized form. A plan decoded from
// disk represents empty lists as non-nil slices, so in-memory structural
// equality would see a phantom change on every run.
func planEqual(a, b *pkginfo.InstallInfo) bool {
	dataA, err := plist.Marshal(a)
	if err != nil {
		return false
	}
	dataB, err := plist.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(dataA, dataB)
}
