package updatecheck

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/stewardproject/steward/internal/common/fsutil"
	"github.com/stewardproject/steward/internal/common/logging"
	"github.com/stewardproject/steward/internal/pkginfo"
	"github.com/stewardproject/steward/internal/repo"
)

// cleanUpDownloadCache removes cached installer items no longer tied to a
// pending install or removal. An item downloaded on one run and dropped from
// the manifests before it was installed would otherwise linger forever.
// Partial downloads survive only while a keep-reason exists and no completed
// counterpart does.
func cleanUpDownloadCache(cacheDir string, info *pkginfo.InstallInfo) {
	keep := map[string]bool{}
	for _, item := range info.ManagedInstalls {
		if item.InstallerItem != "" {
			keep[item.InstallerItem] = true
		}
	}
	for _, item := range info.Removals {
		if item.UninstallerItem != "" {
			keep[item.UninstallerItem] = true
		}
	}
	// problem-item partial downloads may still complete next run
	for _, item := range info.ProblemItems {
		if item.InstallerItem != "" {
			keep[item.InstallerItem] = true
		}
	}
	// optional installs marked precache stay cached even when inactive
	for _, item := range info.OptionalInstalls {
		if item.Precache && item.InstallerItemLocation != "" {
			keep[path.Base(item.InstallerItemLocation)] = true
		}
	}

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return
	}
	names := map[string]bool{}
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	for _, entry := range entries {
		name := entry.Name()
		fullPath := filepath.Join(cacheDir, name)
		if strings.HasSuffix(name, ".download") {
			simpleName := strings.TrimSuffix(name, ".download")
			if names[simpleName] {
				// a partial next to a completed download is an
				// anomaly; drop the partial
				logging.Debugf("removing partial download %s from cache", name)
				os.Remove(fullPath)
			} else if !keep[simpleName] {
				logging.Debugf("removing abandoned partial download %s from cache", name)
				os.Remove(fullPath)
			}
		} else if !keep[name] {
			logging.Debugf("removing %s from cache", name)
			os.Remove(fullPath)
		}
	}
}

// fetchIcons pre-fetches display icons for every item the run touched, so a
// status UI has them before installs begin. Failures are expected (many
// items ship no icon) and only logged.
func (c *Checker) fetchIcons(info *pkginfo.InstallInfo) {
	iconsDir := filepath.Join(c.ManagedInstallDir, "icons")
	seen := map[string]bool{}
	for _, list := range [][]pkginfo.PlanItem{
		info.OptionalInstalls, info.ManagedInstalls, info.Removals, info.ProblemItems,
	} {
		for _, item := range list {
			identifier := item.Name + ".png"
			if item.Name == "" || seen[identifier] {
				continue
			}
			seen[identifier] = true
			localPath := filepath.Join(iconsDir, identifier)
			if fsutil.IsRegularFile(localPath) {
				continue
			}
			data, err := c.Repo.Get("icons/" + identifier)
			if err != nil {
				logging.Debugf("no icon for %s: %v", item.Name, err)
				continue
			}
			if err := os.MkdirAll(iconsDir, 0o755); err != nil {
				return
			}
			if err := os.WriteFile(localPath, data, 0o644); err != nil {
				logging.Warnf("could not write icon for %s: %v", item.Name, err)
			}
		}
	}
}

// fetchClientResources pulls the per-client resource bundle, falling back to
// the site-wide one. Absence of both is normal.
func (c *Checker) fetchClientResources(primaryName string) {
	var data []byte
	var err error
	for _, identifier := range []string{primaryName + ".zip", "site_default.zip"} {
		data, err = c.Repo.Get("client_resources/" + identifier)
		if err == nil {
			break
		}
		if !errorIsNotFound(err) {
			logging.Warnf("could not fetch client resources: %v", err)
			return
		}
	}
	if err != nil {
		return
	}
	resourceDir := filepath.Join(c.ManagedInstallDir, "client_resources")
	if err := os.MkdirAll(resourceDir, 0o755); err != nil {
		return
	}
	localPath := filepath.Join(resourceDir, "custom.zip")
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		logging.Warnf("could not write client resources: %v", err)
	}
}

func errorIsNotFound(err error) bool {
	return err != nil && (errors.Is(err, os.ErrNotExist) || errors.Is(err, repo.ErrNotFound))
}
