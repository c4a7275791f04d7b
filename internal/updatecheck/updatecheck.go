// Package updatecheck drives one full check-for-updates pass: it resolves
// manifests through a Resolver, applies self-serve and license-seat policy,
// garbage-collects local caches and persists the resulting install plan
// idempotently. Manifest resolution itself lives behind the Resolver
// interface; this package only sequences it.
package updatecheck

import (
	"context"
	"path/filepath"
	"time"

	"github.com/stewardproject/steward/internal/common/fsutil"
	"github.com/stewardproject/steward/internal/common/logging"
	"github.com/stewardproject/steward/internal/manifest"
	"github.com/stewardproject/steward/internal/pkginfo"
	"github.com/stewardproject/steward/internal/report"
	"github.com/stewardproject/steward/internal/repo"
)

// Result is the outcome of one update check.
type Result int

const (
	// CheckDidntStart means another check was already running.
	CheckDidntStart Result = -2
	// FinishedWithErrors means the check ran but manifest resolution
	// failed somewhere; the previous plan was used for reporting.
	FinishedWithErrors Result = -1
	// NoUpdatesAvailable means the check completed with nothing to do,
	// or was stopped early by request.
	NoUpdatesAvailable Result = 0
	// UpdatesAvailable means the plan has actionable installs or removals.
	UpdatesAvailable Result = 1
)

func (r Result) String() string {
	switch r {
	case CheckDidntStart:
		return "check didn't start"
	case FinishedWithErrors:
		return "finished with errors"
	case NoUpdatesAvailable:
		return "no updates available"
	case UpdatesAvailable:
		return "updates available"
	}
	return "unknown"
}

// Checker holds the collaborators for one update check. ManagedInstallDir
// is the root under which the cache, catalogs, manifests and the persisted
// plan live.
type Checker struct {
	Repo              repo.Repo
	Resolver          manifest.Resolver
	Store             *manifest.Store
	Report            *report.Report
	ManagedInstallDir string

	// LocalOnlyManifest is the configured name of an optional
	// machine-local manifest merged into every run.
	LocalOnlyManifest string

	// UserSelfServePath, when set, is a user-writable self-serve manifest
	// copied over the stored one at the start of self-serve processing.
	UserSelfServePath string

	// SeatInfo supplies license-seat availability per item name. A nil
	// func or a false ok leaves the item's seat state unknown, which
	// self-serve treats as available.
	SeatInfo func(itemName string) (available, ok bool)

	// StopRequested is polled between resolution phases. When it reports
	// true the run ends early with NoUpdatesAvailable.
	StopRequested func() bool
}

func (c *Checker) cacheDir() string    { return filepath.Join(c.ManagedInstallDir, "Cache") }
func (c *Checker) catalogsDir() string { return filepath.Join(c.ManagedInstallDir, "catalogs") }
func (c *Checker) planPath() string {
	return filepath.Join(c.ManagedInstallDir, "InstallInfo.plist")
}

func (c *Checker) stopRequested() bool {
	return c.StopRequested != nil && c.StopRequested()
}

// CheckForUpdates runs one complete check. Exactly one of clientID and
// localManifestPath is normally set; both empty means the site default
// manifest. The returned Result encodes the outcome for the caller's exit
// status; the error carries detail for FinishedWithErrors cases.
func (c *Checker) CheckForUpdates(ctx context.Context, clientID, localManifestPath string) (Result, error) {
	release, err := acquirePidFile(c.ManagedInstallDir)
	if err != nil {
		logging.Warnf("another update check appears to be running: %v", err)
		return CheckDidntStart, nil
	}
	defer release()

	logging.Infof("beginning managed software check")

	mainManifest, serverManifests, err := c.loadPrimaryManifest(clientID, localManifestPath)
	if err != nil {
		logging.Errorf("could not retrieve primary manifest: %v", err)
		c.fallBackToPreviousPlan()
		c.finishReport(FinishedWithErrors)
		return FinishedWithErrors, err
	}
	catalogs := mainManifest.Catalogs
	if len(catalogs) == 0 {
		logging.Errorf("primary manifest has no list of catalogs")
		c.fallBackToPreviousPlan()
		c.finishReport(FinishedWithErrors)
		return FinishedWithErrors, manifest.ErrNoCatalogs
	}
	if c.stopRequested() {
		return NoUpdatesAvailable, nil
	}

	// prevent idle sleep for the duration, but only on AC power
	releaseAssertion := holdPowerAssertion(ctx)
	defer releaseAssertion()

	var info pkginfo.InstallInfo

	result, err := c.resolvePlan(ctx, mainManifest, catalogs, serverManifests, &info)
	if err != nil {
		// manifest resolution failed mid-run; report using the plan
		// from the last successful run
		logging.Errorf("manifest resolution failed: %v", err)
		c.fallBackToPreviousPlan()
		c.finishReport(FinishedWithErrors)
		return FinishedWithErrors, err
	}
	if result == NoUpdatesAvailable {
		// stopped early by request
		return NoUpdatesAvailable, nil
	}

	c.applyPolicy(ctx, mainManifest, catalogs, &info)
	c.recordAndFilter(&info)
	c.fetchIcons(&info)
	c.fetchClientResources(serverManifests[0])
	c.Report.Record(map[string]interface{}{"catalogs": catalogs}, "Conditions")

	keepManifests := append([]string{manifest.SelfServeName}, serverManifests...)
	if c.LocalOnlyManifest != "" {
		keepManifests = append(keepManifests, c.LocalOnlyManifest)
	}
	fsutil.CleanUpDir(c.catalogsDir(), catalogs)
	fsutil.CleanUpDir(c.Store.Dir(), keepManifests)
	cleanUpDownloadCache(c.cacheDir(), &info)

	if err := writePlanIfChanged(c.planPath(), &info); err != nil {
		logging.Errorf("could not write install plan: %v", err)
	}

	updateCount := len(info.ManagedInstalls) + len(info.Removals)
	result = NoUpdatesAvailable
	if updateCount > 0 {
		result = UpdatesAvailable
	}
	c.finishReport(result)
	logging.Infof("end managed software check")
	return result, nil
}

// loadPrimaryManifest returns the main manifest plus the names of the
// server-side manifests this run references, primary first.
func (c *Checker) loadPrimaryManifest(clientID, localManifestPath string) (*manifest.Manifest, []string, error) {
	var m *manifest.Manifest
	var err error
	primaryName := manifest.PrimaryManifestName(clientID)
	if localManifestPath != "" {
		primaryName = fsutil.BaseName(localManifestPath)
		m, err = manifest.ReadFile(localManifestPath)
	} else {
		m, err = c.Store.Get(primaryName)
	}
	if err != nil {
		return nil, nil, err
	}
	names := append([]string{primaryName}, m.IncludedManifests...)
	return m, names, nil
}

// resolvePlan runs the manifest-resolution phases in order, polling for a
// stop request at each boundary. A NoUpdatesAvailable result means the run
// was stopped; UpdatesAvailable here only means "kept going".
func (c *Checker) resolvePlan(ctx context.Context, mainManifest *manifest.Manifest, catalogs []string, serverManifests []string, info *pkginfo.InstallInfo) (Result, error) {
	logging.Infof("checking for installs")
	if err := c.Resolver.ProcessManifest(ctx, mainManifest, "managed_installs", nil, info); err != nil {
		return FinishedWithErrors, err
	}
	if c.stopRequested() {
		return NoUpdatesAvailable, nil
	}

	logging.Infof("checking for removals")
	if err := c.Resolver.ProcessManifest(ctx, mainManifest, "managed_uninstalls", nil, info); err != nil {
		return FinishedWithErrors, err
	}
	if c.stopRequested() {
		return NoUpdatesAvailable, nil
	}

	if autoremovals := c.Resolver.AutoRemovalItems(ctx, info, catalogs); len(autoremovals) > 0 {
		logging.Infof("checking for implicit removals")
		for _, item := range autoremovals {
			if c.stopRequested() {
				return NoUpdatesAvailable, nil
			}
			if err := c.Resolver.ProcessRemoval(ctx, item, catalogs, info); err != nil {
				return FinishedWithErrors, err
			}
		}
	}

	logging.Infof("checking for managed updates")
	if err := c.Resolver.ProcessManifest(ctx, mainManifest, "managed_updates", nil, info); err != nil {
		return FinishedWithErrors, err
	}
	if c.stopRequested() {
		return NoUpdatesAvailable, nil
	}

	if err := c.processLocalOnlyManifest(ctx, catalogs, serverManifests, info); err != nil {
		return FinishedWithErrors, err
	}
	if c.stopRequested() {
		return NoUpdatesAvailable, nil
	}

	if err := c.Resolver.ProcessManifest(ctx, mainManifest, "optional_installs", nil, info); err != nil {
		return FinishedWithErrors, err
	}
	if c.stopRequested() {
		return NoUpdatesAvailable, nil
	}

	if err := c.Resolver.ProcessManifest(ctx, mainManifest, "featured_items", nil, info); err != nil {
		return FinishedWithErrors, err
	}
	if c.stopRequested() {
		return NoUpdatesAvailable, nil
	}
	return UpdatesAvailable, nil
}

// processLocalOnlyManifest merges a machine-local manifest into the run.
// The local manifest may not carry catalogs, includes or conditions; those
// sections are stripped with a warning. A name collision with a manifest
// the server already serves skips the local one entirely.
func (c *Checker) processLocalOnlyManifest(ctx context.Context, catalogs []string, serverManifests []string, info *pkginfo.InstallInfo) error {
	if c.LocalOnlyManifest == "" {
		return nil
	}
	for _, existing := range serverManifests {
		if existing == c.LocalOnlyManifest {
			logging.Errorf("local-only manifest %q has the same name as an existing manifest, skipping", c.LocalOnlyManifest)
			return nil
		}
	}
	localPath := filepath.Join(c.ManagedInstallDir, "manifests", c.LocalOnlyManifest)
	if !fsutil.IsRegularFile(localPath) {
		logging.Debugf("local-only manifest %q is defined but not present, skipping", c.LocalOnlyManifest)
		return nil
	}
	m, err := manifest.ReadFile(localPath)
	if err != nil {
		logging.Errorf("could not read local-only manifest: %v", err)
		return nil
	}

	logging.Infof("processing local-only manifest")
	if len(m.Catalogs) > 0 {
		logging.Warnf("local-only manifest %q contains a catalogs section, ignoring", c.LocalOnlyManifest)
		m.Catalogs = nil
	}
	if len(m.IncludedManifests) > 0 {
		logging.Warnf("local-only manifest %q contains an included_manifests section, ignoring", c.LocalOnlyManifest)
		m.IncludedManifests = nil
	}
	if len(m.ConditionalItems) > 0 {
		logging.Warnf("local-only manifest %q contains a conditional_items section, ignoring", c.LocalOnlyManifest)
		m.ConditionalItems = nil
	}
	for _, key := range []string{"managed_installs", "managed_uninstalls", "managed_updates", "optional_installs"} {
		if err := c.Resolver.ProcessManifest(ctx, m, key, catalogs, info); err != nil {
			return err
		}
		if c.stopRequested() {
			return nil
		}
	}
	return nil
}

// applyPolicy runs the post-resolution policy steps: featured-item
// cross-check, license seats, and self-serve choices.
func (c *Checker) applyPolicy(ctx context.Context, mainManifest *manifest.Manifest, catalogs []string, info *pkginfo.InstallInfo) {
	optionalNames := map[string]bool{}
	for _, item := range info.OptionalInstalls {
		optionalNames[item.Name] = true
	}
	kept := info.FeaturedItems[:0]
	for _, name := range info.FeaturedItems {
		if !optionalNames[name] {
			logging.Warnf("%s is in featured_items but not in optional_installs, ignoring", name)
			continue
		}
		kept = append(kept, name)
	}
	info.FeaturedItems = kept

	UpdateAvailableLicenseSeats(info.OptionalInstalls, c.SeatInfo)

	c.processSelfServeManifest(ctx, mainManifest, catalogs, info)
}

// recordAndFilter partitions the resolved plan, reports the full detail,
// then narrows managed_installs and removals to the actionable subset.
func (c *Checker) recordAndFilter(info *pkginfo.InstallInfo) {
	var installedItems, removedItems []string
	var problemItems []pkginfo.PlanItem
	for _, item := range info.ManagedInstalls {
		switch {
		case item.Installed:
			installedItems = append(installedItems, item.Name)
		case item.InstallerItem == "":
			problemItems = append(problemItems, item)
		}
	}
	for _, item := range info.Removals {
		if !item.Installed {
			removedItems = append(removedItems, item.Name)
		}
	}

	c.cleanUpSelfServeManagedUninstalls(info.Removals)

	// startosinstall items run last; only the first is actionable
	var regular, osInstalls []pkginfo.PlanItem
	for _, item := range info.ManagedInstalls {
		if item.InstallType == "startosinstall" {
			osInstalls = append(osInstalls, item)
		} else {
			regular = append(regular, item)
		}
	}
	if len(osInstalls) > 1 {
		logging.Warnf("multiple startosinstall items in managed_installs; only the first will be attempted")
	}
	info.ManagedInstalls = append(regular, osInstalls...)

	c.Report.Record(info.ManagedInstalls, "ManagedInstalls")
	c.Report.Record(installedItems, "InstalledItems")
	c.Report.Record(problemItems, "ProblemInstalls")
	c.Report.Record(removedItems, "RemovedItems")
	c.Report.Record(info.ProcessedInstalls, "managed_installs_list")
	c.Report.Record(info.ProcessedUninstalls, "managed_uninstalls_list")
	c.Report.Record(info.ManagedUpdates, "managed_updates_list")

	var actionableInstalls []pkginfo.PlanItem
	for _, item := range info.ManagedInstalls {
		if item.InstallerItem != "" {
			actionableInstalls = append(actionableInstalls, item)
		}
	}
	info.ManagedInstalls = actionableInstalls
	var actionableRemovals []pkginfo.PlanItem
	for _, item := range info.Removals {
		if item.Installed {
			actionableRemovals = append(actionableRemovals, item)
		}
	}
	info.Removals = actionableRemovals
	info.ProblemItems = problemItems

	c.Report.Record(info.ManagedInstalls, "ItemsToInstall")
	c.Report.Record(info.Removals, "ItemsToRemove")
}

// fallBackToPreviousPlan loads whatever plan the last successful run
// persisted and reports it, so a failed run still describes pending work.
func (c *Checker) fallBackToPreviousPlan() {
	info, err := readPlan(c.planPath())
	if err != nil {
		info = &pkginfo.InstallInfo{}
	}
	c.Report.Record(info.ManagedInstalls, "ItemsToInstall")
	c.Report.Record(info.Removals, "ItemsToRemove")
}

func (c *Checker) finishReport(result Result) {
	c.Report.Record(int(result), "UpdateCheckResult")
	c.Report.Record(time.Now().Format(time.RFC3339), "UpdateCheckTimestamp")
	if err := c.Report.Save(); err != nil {
		logging.Warnf("could not save report: %v", err)
	}
}
