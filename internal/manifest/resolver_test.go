package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stewardproject/steward/internal/pkginfo"
	"github.com/stewardproject/steward/internal/plist"
	"github.com/stewardproject/steward/internal/repo"
)

type memRepo struct {
	resources map[string][]byte
}

func (m *memRepo) List(kind string) ([]string, error) { return nil, nil }
func (m *memRepo) Get(id string) ([]byte, error) {
	data, ok := m.resources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repo.ErrNotFound, id)
	}
	return data, nil
}
func (m *memRepo) Put(id string, data []byte) error   { m.resources[id] = data; return nil }
func (m *memRepo) PutFile(id, localPath string) error { return nil }
func (m *memRepo) Delete(id string) error             { return nil }

// testRepo builds a repository with a "testing" catalog and installer
// payloads for every item that declares a location.
func testRepo(t *testing.T, items []pkginfo.PkgInfo) *memRepo {
	t.Helper()
	r := &memRepo{resources: make(map[string][]byte)}
	data, err := plist.Marshal(items)
	if err != nil {
		t.Fatal(err)
	}
	r.resources["catalogs/testing"] = data
	for _, item := range items {
		if item.InstallerItemLocation != "" {
			r.resources["pkgs/"+item.InstallerItemLocation] = []byte("installer bytes")
		}
	}
	return r
}

func newResolver(t *testing.T, r repo.Repo, installed map[string]string) *CatalogResolver {
	t.Helper()
	return NewCatalogResolver(r, NewStore(t.TempDir()), t.TempDir(), installed)
}

func TestProcessInstallPendingItem(t *testing.T) {
	items := []pkginfo.PkgInfo{
		{
			Name: "Firefox", Version: "120.0",
			InstallerItemLocation: "apps/Firefox-120.0.dmg",
			Receipts:              []pkginfo.Receipt{{PackageID: "org.mozilla.firefox", Version: "120.0"}},
		},
		{
			Name: "Firefox", Version: "121.0",
			InstallerItemLocation: "apps/Firefox-121.0.dmg",
			Receipts:              []pkginfo.Receipt{{PackageID: "org.mozilla.firefox", Version: "121.0"}},
		},
	}
	cr := newResolver(t, testRepo(t, items), map[string]string{})

	var info pkginfo.InstallInfo
	if err := cr.ProcessInstall(context.Background(), "Firefox", []string{"testing"}, &info, false); err != nil {
		t.Fatal(err)
	}
	if len(info.ManagedInstalls) != 1 {
		t.Fatalf("ManagedInstalls = %+v", info.ManagedInstalls)
	}
	plan := info.ManagedInstalls[0]
	if plan.Version != "121.0" {
		t.Errorf("picked version %q, want highest 121.0", plan.Version)
	}
	if plan.Installed {
		t.Error("item should not be marked installed")
	}
	if plan.InstallerItem != "Firefox-121.0.dmg" {
		t.Errorf("InstallerItem = %q", plan.InstallerItem)
	}
	// The installer must land in the cache.
	if _, err := os.Stat(filepath.Join(cr.CacheDir, "Firefox-121.0.dmg")); err != nil {
		t.Errorf("installer not cached: %v", err)
	}
}

func TestProcessInstallAlreadyInstalled(t *testing.T) {
	items := []pkginfo.PkgInfo{{
		Name: "Slack", Version: "4.36",
		InstallerItemLocation: "apps/Slack-4.36.dmg",
		Receipts:              []pkginfo.Receipt{{PackageID: "com.tinyspeck.slackmacgap", Version: "4.36"}},
	}}
	cr := newResolver(t, testRepo(t, items), map[string]string{
		"com.tinyspeck.slackmacgap": "4.37",
	})

	var info pkginfo.InstallInfo
	if err := cr.ProcessInstall(context.Background(), "Slack", []string{"testing"}, &info, false); err != nil {
		t.Fatal(err)
	}
	plan := info.ManagedInstalls[0]
	if !plan.Installed {
		t.Error("newer installed receipt should satisfy the item")
	}
	if plan.InstallerItem != "" {
		t.Error("satisfied item should not fetch an installer")
	}
}

func TestProcessInstallPinnedVersion(t *testing.T) {
	items := []pkginfo.PkgInfo{
		{Name: "Tool", Version: "1.0", InstallerItemLocation: "t/Tool-1.0.pkg"},
		{Name: "Tool", Version: "2.0", InstallerItemLocation: "t/Tool-2.0.pkg"},
	}
	cr := newResolver(t, testRepo(t, items), map[string]string{})

	var info pkginfo.InstallInfo
	if err := cr.ProcessInstall(context.Background(), "Tool--1.0", []string{"testing"}, &info, false); err != nil {
		t.Fatal(err)
	}
	if got := info.ManagedInstalls[0].Version; got != "1.0" {
		t.Errorf("pinned install resolved to %q, want 1.0", got)
	}
}

func TestProcessInstallMissingItemBecomesProblem(t *testing.T) {
	cr := newResolver(t, testRepo(t, nil), map[string]string{})

	var info pkginfo.InstallInfo
	if err := cr.ProcessInstall(context.Background(), "Ghost", []string{"testing"}, &info, false); err != nil {
		t.Fatal(err)
	}
	if len(info.ProblemItems) != 1 || info.ProblemItems[0].Name != "Ghost" {
		t.Errorf("ProblemItems = %+v", info.ProblemItems)
	}
	if len(info.ManagedInstalls) != 0 {
		t.Errorf("ManagedInstalls = %+v, want none", info.ManagedInstalls)
	}
}

func TestProcessInstallIsIdempotentPerRun(t *testing.T) {
	items := []pkginfo.PkgInfo{{Name: "Once", Version: "1.0", InstallerItemLocation: "o/Once-1.0.pkg"}}
	cr := newResolver(t, testRepo(t, items), map[string]string{})

	var info pkginfo.InstallInfo
	cr.ProcessInstall(context.Background(), "Once", []string{"testing"}, &info, false)
	cr.ProcessInstall(context.Background(), "Once", []string{"testing"}, &info, false)
	if len(info.ManagedInstalls) != 1 {
		t.Errorf("ManagedInstalls = %d entries, want 1", len(info.ManagedInstalls))
	}
}

func TestProcessRemoval(t *testing.T) {
	items := []pkginfo.PkgInfo{{
		Name: "OldApp", Version: "1.0",
		Receipts: []pkginfo.Receipt{{PackageID: "com.old.app", Version: "1.0"}},
	}}
	cr := newResolver(t, testRepo(t, items), map[string]string{"com.old.app": "1.0"})

	var info pkginfo.InstallInfo
	if err := cr.ProcessRemoval(context.Background(), "OldApp", []string{"testing"}, &info); err != nil {
		t.Fatal(err)
	}
	if len(info.Removals) != 1 {
		t.Fatalf("Removals = %+v", info.Removals)
	}
	if !info.Removals[0].Installed || !info.Removals[0].WillBeRemoved {
		t.Errorf("removal = %+v, want installed and will-be-removed", info.Removals[0])
	}
}

func TestProcessManifestKeys(t *testing.T) {
	items := []pkginfo.PkgInfo{
		{Name: "Managed", Version: "1.0", InstallerItemLocation: "m/Managed-1.0.pkg"},
		{Name: "Optional", Version: "2.0", InstallerItemLocation: "o/Optional-2.0.pkg"},
	}
	cr := newResolver(t, testRepo(t, items), map[string]string{})

	m := &Manifest{
		Catalogs:         []string{"testing"},
		ManagedInstalls:  []string{"Managed"},
		OptionalInstalls: []string{"Optional"},
		FeaturedItems:    []string{"Optional"},
	}

	var info pkginfo.InstallInfo
	ctx := context.Background()
	for _, key := range []string{"managed_installs", "optional_installs", "featured_items"} {
		if err := cr.ProcessManifest(ctx, m, key, nil, &info); err != nil {
			t.Fatal(err)
		}
	}
	if len(info.ManagedInstalls) != 1 || info.ManagedInstalls[0].Name != "Managed" {
		t.Errorf("ManagedInstalls = %+v", info.ManagedInstalls)
	}
	if len(info.OptionalInstalls) != 1 || info.OptionalInstalls[0].Name != "Optional" {
		t.Errorf("OptionalInstalls = %+v", info.OptionalInstalls)
	}
	if len(info.FeaturedItems) != 1 || info.FeaturedItems[0] != "Optional" {
		t.Errorf("FeaturedItems = %v", info.FeaturedItems)
	}
}

func TestProcessManifestFollowsDirectIncludes(t *testing.T) {
	items := []pkginfo.PkgInfo{
		{Name: "FromInclude", Version: "1.0", InstallerItemLocation: "f/FromInclude-1.0.pkg"},
	}
	r := testRepo(t, items)
	store := NewStore(t.TempDir())
	if err := store.Write("group", &Manifest{ManagedInstalls: []string{"FromInclude"}}); err != nil {
		t.Fatal(err)
	}
	cr := NewCatalogResolver(r, store, t.TempDir(), map[string]string{})

	m := &Manifest{
		Catalogs:          []string{"testing"},
		IncludedManifests: []string{"group"},
	}
	var info pkginfo.InstallInfo
	if err := cr.ProcessManifest(context.Background(), m, "managed_installs", nil, &info); err != nil {
		t.Fatal(err)
	}
	if len(info.ManagedInstalls) != 1 || info.ManagedInstalls[0].Name != "FromInclude" {
		t.Errorf("ManagedInstalls = %+v", info.ManagedInstalls)
	}
}

func TestAutoRemovalItems(t *testing.T) {
	items := []pkginfo.PkgInfo{
		{
			Name: "Expired", Version: "1.0", Autoremove: true,
			Receipts: []pkginfo.Receipt{{PackageID: "com.expired", Version: "1.0"}},
		},
		{
			Name: "StillWanted", Version: "1.0", Autoremove: true,
			Receipts: []pkginfo.Receipt{{PackageID: "com.wanted", Version: "1.0"}},
		},
		{Name: "NotInstalled", Version: "1.0", Autoremove: true},
	}
	cr := newResolver(t, testRepo(t, items), map[string]string{
		"com.expired": "1.0",
		"com.wanted":  "1.0",
	})

	info := pkginfo.InstallInfo{ProcessedInstalls: []string{"StillWanted"}}
	names := cr.AutoRemovalItems(context.Background(), &info, []string{"testing"})
	if len(names) != 1 || names[0] != "Expired" {
		t.Errorf("AutoRemovalItems = %v, want [Expired]", names)
	}
}

func TestPrimaryManifestName(t *testing.T) {
	if got := PrimaryManifestName("dept-42"); got != "dept-42" {
		t.Errorf("got %q", got)
	}
	if got := PrimaryManifestName("  "); got != "site_default" {
		t.Errorf("got %q, want site_default", got)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())
	m := &Manifest{Catalogs: []string{"production"}, ManagedInstalls: []string{"Firefox"}}
	if err := store.Write("clients/mac-001", m); err != nil {
		t.Fatal(err)
	}
	if !store.Exists("clients/mac-001") {
		t.Error("Exists = false after Write")
	}
	got, err := store.Get("clients/mac-001")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.ManagedInstalls) != 1 || got.ManagedInstalls[0] != "Firefox" {
		t.Errorf("round trip = %+v", got)
	}
	names := store.List()
	if len(names) != 1 || names[0] != "clients/mac-001" {
		t.Errorf("List = %v", names)
	}
}
