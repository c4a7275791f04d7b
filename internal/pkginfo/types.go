// Package pkginfo defines the typed records steward exchanges with a
// software repository: pkginfo items, receipts, and the persisted install
// plan. It also provides the version ordering and the name/version filename
// split the rest of the system builds on.
package pkginfo

// Receipt describes one installer package receipt. Bundle-style packages and
// flat-package pkg-info elements both produce these.
type Receipt struct {
	PackageID     string `plist:"packageid"`
	Version       string `plist:"version"`
	InstalledSize int64  `plist:"installed_size,omitempty"`
	Filename      string `plist:"filename,omitempty"`
	Name          string `plist:"name,omitempty"`
	Optional      bool   `plist:"optional,omitempty"`
}

// InstallsItem describes one artifact an installed item leaves on disk.
// Entries of type "application" carry the path the matcher indexes on.
type InstallsItem struct {
	Type                 string `plist:"type,omitempty"`
	Path                 string `plist:"path,omitempty"`
	BundleIdentifier     string `plist:"CFBundleIdentifier,omitempty"`
	BundleName           string `plist:"CFBundleName,omitempty"`
	BundleShortVersion   string `plist:"CFBundleShortVersionString,omitempty"`
	BundleVersion        string `plist:"CFBundleVersion,omitempty"`
	VersionComparisonKey string `plist:"version_comparison_key,omitempty"`
	MD5Checksum          string `plist:"md5checksum,omitempty"`
}

// PkgInfo is one installable item's metadata. Identity within a repository
// is (name, version, architecture); the record itself does not enforce
// uniqueness — filenames do, at write time.
type PkgInfo struct {
	Name                  string         `plist:"name"`
	Version               string         `plist:"version"`
	DisplayName           string         `plist:"display_name,omitempty"`
	Description           string         `plist:"description,omitempty"`
	Catalogs              []string       `plist:"catalogs,omitempty"`
	Category              string         `plist:"category,omitempty"`
	IconName              string         `plist:"icon_name,omitempty"`
	Developer             string         `plist:"developer,omitempty"`
	InstallerItemHash     string         `plist:"installer_item_hash,omitempty"`
	InstallerItemLocation string         `plist:"installer_item_location,omitempty"`
	InstallerItemSize     int64          `plist:"installer_item_size,omitempty"`
	InstalledSize         int64          `plist:"installed_size,omitempty"`
	Receipts              []Receipt      `plist:"receipts,omitempty"`
	Installs              []InstallsItem `plist:"installs,omitempty"`
	MinimumOSVersion      string         `plist:"minimum_os_version,omitempty"`
	RestartAction         string         `plist:"RestartAction,omitempty"`
	SupportedArchitectures []string      `plist:"supported_architectures,omitempty"`
	Autoremove            bool           `plist:"autoremove,omitempty"`
	Precache              bool           `plist:"precache,omitempty"`
	InstallType           string         `plist:"install_type,omitempty"`
	Uninstallable         bool           `plist:"uninstallable,omitempty"`
	UninstallMethod       string         `plist:"uninstall_method,omitempty"`
	UnattendedInstall     bool           `plist:"unattended_install,omitempty"`

	LicensedSeatInfoAvailable bool `plist:"licensed_seat_info_available,omitempty"`
	ItemSummary           string         `plist:"_metadata_note,omitempty"`
}

// FirstApplicationPath returns the path of the first installs entry of type
// "application" with a non-empty path, or "" when there is none.
func (p *PkgInfo) FirstApplicationPath() string {
	for _, item := range p.Installs {
		if item.Type == "application" && item.Path != "" {
			return item.Path
		}
	}
	return ""
}

// ReceiptIDSet returns the set of receipt package ids.
func (p *PkgInfo) ReceiptIDSet() map[string]bool {
	set := make(map[string]bool, len(p.Receipts))
	for _, r := range p.Receipts {
		if r.PackageID != "" {
			set[r.PackageID] = true
		}
	}
	return set
}

// PlanItem is one entry in the install plan: a pkginfo record annotated with
// the state the update check derived for it.
type PlanItem struct {
	Name                  string `plist:"name"`
	DisplayName           string `plist:"display_name,omitempty"`
	Version               string `plist:"version_to_install,omitempty"`
	InstalledVersion      string `plist:"installed_version,omitempty"`
	Installed             bool   `plist:"installed"`
	InstallerItem         string `plist:"installer_item,omitempty"`
	InstallerItemLocation string `plist:"installer_item_location,omitempty"`
	InstallerItemSize     int64  `plist:"installer_item_size,omitempty"`
	UninstallerItem       string `plist:"uninstaller_item,omitempty"`
	InstallType           string `plist:"install_type,omitempty"`
	Precache              bool   `plist:"precache,omitempty"`
	WillBeInstalled       bool   `plist:"will_be_installed,omitempty"`
	WillBeRemoved         bool   `plist:"will_be_removed,omitempty"`
	RestartAction         string `plist:"RestartAction,omitempty"`
	Note                  string `plist:"note,omitempty"`
	UninstallMethod       string `plist:"uninstall_method,omitempty"`

	LicensedSeatInfoAvailable bool `plist:"licensed_seat_info_available,omitempty"`
	// LicensedSeatsAvailable is a tri-state: nil means no seat information
	// was recorded, which self-serve treats as available.
	LicensedSeatsAvailable *bool `plist:"licensed_seats_available,omitempty"`
}

// SeatsAvailable reports whether a license seat is available for this item.
// Missing seat information counts as available.
func (i *PlanItem) SeatsAvailable() bool {
	return i.LicensedSeatsAvailable == nil || *i.LicensedSeatsAvailable
}

// InstallInfo is the persisted result of one update check and the contract
// boundary with the installer process. It is rewritten only when its content
// differs from the previous run's file.
type InstallInfo struct {
	ManagedInstalls     []PlanItem `plist:"managed_installs"`
	Removals            []PlanItem `plist:"removals"`
	OptionalInstalls    []PlanItem `plist:"optional_installs,omitempty"`
	ProblemItems        []PlanItem `plist:"problem_items,omitempty"`
	ProcessedInstalls   []string   `plist:"processed_installs,omitempty"`
	ProcessedUninstalls []string   `plist:"processed_uninstalls,omitempty"`
	ManagedUpdates      []string   `plist:"managed_updates,omitempty"`
	FeaturedItems       []string   `plist:"featured_items,omitempty"`
}
