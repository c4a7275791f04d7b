package updatecheck

import (
	"context"
	"os"

	"github.com/stewardproject/steward/internal/common/fsutil"
	"github.com/stewardproject/steward/internal/common/logging"
	"github.com/stewardproject/steward/internal/manifest"
	"github.com/stewardproject/steward/internal/pkginfo"
)

// UpdateAvailableLicenseSeats refreshes the licensed_seats_available state
// of optional installs in place. Only items advertising seat information
// and not already installed are consulted; everything else keeps its
// unknown (available) state.
func UpdateAvailableLicenseSeats(items []pkginfo.PlanItem, seatInfo func(name string) (available, ok bool)) {
	if seatInfo == nil {
		return
	}
	for i := range items {
		if !items[i].LicensedSeatInfoAvailable || items[i].Installed {
			continue
		}
		if available, ok := seatInfo(items[i].Name); ok {
			v := available
			items[i].LicensedSeatsAvailable = &v
		}
	}
}

// processSelfServeManifest applies the machine's self-serve choices:
// default installs are seeded into the self-serve manifest, then its
// installs are honored only for items present in optional_installs with no
// blocking note and seats available, and its uninstalls are resolved
// directly. Optional installs are annotated afterward with what will
// actually happen to them.
func (c *Checker) processSelfServeManifest(ctx context.Context, mainManifest *manifest.Manifest, catalogs []string, info *pkginfo.InstallInfo) {
	c.updateSelfServeManifest()
	c.seedDefaultInstalls(mainManifest)

	if !c.Store.Exists(manifest.SelfServeName) {
		return
	}
	selfServe, err := c.Store.Get(manifest.SelfServeName)
	if err != nil {
		logging.Errorf("self-serve manifest cannot be read: %v", err)
		return
	}

	logging.Infof("processing self-serve choices")
	if len(selfServe.ManagedInstalls) > 0 {
		available := map[string]bool{}
		for _, item := range info.OptionalInstalls {
			if item.Name != "" && item.Note == "" && item.SeatsAvailable() {
				available[item.Name] = true
			}
		}
		for _, name := range selfServe.ManagedInstalls {
			if !available[name] {
				continue
			}
			if err := c.Resolver.ProcessInstall(ctx, name, catalogs, info, true); err != nil {
				logging.Warnf("self-serve install of %q failed: %v", name, err)
			}
		}
	}
	for _, name := range selfServe.ManagedUninstalls {
		if err := c.Resolver.ProcessRemoval(ctx, name, catalogs, info); err != nil {
			logging.Warnf("self-serve removal of %q failed: %v", name, err)
		}
	}

	annotateOptionalInstalls(info)
}

// updateSelfServeManifest copies the user-writable self-serve manifest over
// the stored one, so user choices made since the last run take effect.
func (c *Checker) updateSelfServeManifest() {
	if c.UserSelfServePath == "" || !fsutil.IsRegularFile(c.UserSelfServePath) {
		return
	}
	m, err := manifest.ReadFile(c.UserSelfServePath)
	if err != nil {
		logging.Warnf("user self-serve manifest could not be read: %v", err)
		return
	}
	if err := c.Store.Write(manifest.SelfServeName, m); err != nil {
		logging.Warnf("could not update self-serve manifest: %v", err)
	}
}

// seedDefaultInstalls adds the main manifest's default_installs to the
// self-serve manifest so they behave like user choices from then on.
func (c *Checker) seedDefaultInstalls(mainManifest *manifest.Manifest) {
	if len(mainManifest.DefaultInstalls) == 0 {
		return
	}
	selfServe := &manifest.Manifest{}
	if c.Store.Exists(manifest.SelfServeName) {
		m, err := c.Store.Get(manifest.SelfServeName)
		if err != nil {
			logging.Warnf("self-serve manifest cannot be read: %v", err)
			return
		}
		selfServe = m
	}
	present := map[string]bool{}
	for _, name := range selfServe.ManagedInstalls {
		present[name] = true
	}
	changed := false
	for _, name := range mainManifest.DefaultInstalls {
		if !present[name] {
			selfServe.ManagedInstalls = append(selfServe.ManagedInstalls, name)
			changed = true
		}
	}
	if changed {
		if err := c.Store.Write(manifest.SelfServeName, selfServe); err != nil {
			logging.Warnf("could not write self-serve manifest: %v", err)
		}
	}
}

// annotateOptionalInstalls marks each optional install with whether this run
// will install or remove it.
func annotateOptionalInstalls(info *pkginfo.InstallInfo) {
	inList := func(name string, list []pkginfo.PlanItem) bool {
		for _, item := range list {
			if item.Name == name {
				return true
			}
		}
		return false
	}
	for i := range info.OptionalInstalls {
		item := &info.OptionalInstalls[i]
		if !item.Installed && inList(item.Name, info.ManagedInstalls) {
			item.WillBeInstalled = true
		} else if item.Installed && inList(item.Name, info.Removals) {
			item.WillBeRemoved = true
		}
	}
}

// cleanUpSelfServeManagedUninstalls drops self-serve uninstall choices whose
// removal already happened, keeping only those still pending.
func (c *Checker) cleanUpSelfServeManagedUninstalls(removals []pkginfo.PlanItem) {
	if !c.Store.Exists(manifest.SelfServeName) {
		return
	}
	selfServe, err := c.Store.Get(manifest.SelfServeName)
	if err != nil {
		return
	}
	pending := map[string]bool{}
	for _, item := range removals {
		if item.Installed {
			pending[item.Name] = true
		}
	}
	kept := selfServe.ManagedUninstalls[:0]
	for _, name := range selfServe.ManagedUninstalls {
		if pending[name] {
			kept = append(kept, name)
		}
	}
	if len(kept) == len(selfServe.ManagedUninstalls) {
		return
	}
	selfServe.ManagedUninstalls = kept
	if len(kept) == 0 {
		selfServe.ManagedUninstalls = nil
	}
	if err := c.Store.Write(manifest.SelfServeName, selfServe); err != nil && !os.IsNotExist(err) {
		logging.Warnf("could not update self-serve manifest: %v", err)
	}
}
