package catalog

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stewardproject/steward/internal/pkginfo"
	"github.com/stewardproject/steward/internal/plist"
	"github.com/stewardproject/steward/internal/repo"
)

// memRepo is an in-memory repo.Repo for tests.
type memRepo struct {
	resources map[string][]byte
}

func newMemRepo() *memRepo {
	return &memRepo{resources: make(map[string][]byte)}
}

func (m *memRepo) List(kind string) ([]string, error) {
	var items []string
	for id := range m.resources {
		if len(id) > len(kind) && id[:len(kind)+1] == kind+"/" {
			items = append(items, id)
		}
	}
	return items, nil
}

func (m *memRepo) Get(id string) ([]byte, error) {
	data, ok := m.resources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repo.ErrNotFound, id)
	}
	return data, nil
}

func (m *memRepo) Put(id string, data []byte) error {
	m.resources[id] = data
	return nil
}

func (m *memRepo) PutFile(id, localPath string) error { return nil }
func (m *memRepo) Delete(id string) error             { delete(m.resources, id); return nil }

func repoWithCatalog(t *testing.T, items []pkginfo.PkgInfo) *memRepo {
	t.Helper()
	r := newMemRepo()
	data, err := plist.Marshal(items)
	if err != nil {
		t.Fatal(err)
	}
	r.resources["catalogs/all"] = data
	return r
}

func TestMakeDatabaseIndices(t *testing.T) {
	items := []pkginfo.PkgInfo{
		{
			Name: "Foo", Version: "1.0",
			InstallerItemHash:     "abc123",
			InstallerItemLocation: "apps/Foo-1.0.dmg",
			Receipts:              []pkginfo.Receipt{{PackageID: "com.foo.core", Version: "1.0"}},
			Installs: []pkginfo.InstallsItem{
				{Type: "application", Path: "/Applications/Foo.app"},
			},
		},
		{Name: "Foo", Version: "2.0", InstallerItemHash: "def456"},
		// Missing version: excluded from every index, keeps its slot.
		{Name: "Broken"},
	}
	db, err := MakeDatabase(repoWithCatalog(t, items))
	if err != nil {
		t.Fatalf("MakeDatabase: %v", err)
	}

	if len(db.Items) != 3 {
		t.Errorf("Items count = %d, want 3", len(db.Items))
	}
	if got := db.Hashes["abc123"]; len(got) != 1 || got[0] != 0 {
		t.Errorf("Hashes[abc123] = %v, want [0]", got)
	}
	if got := db.Receipts["com.foo.core"]["1.0"]; len(got) != 1 || got[0] != 0 {
		t.Errorf("Receipts index = %v, want [0]", got)
	}
	if got := db.Applications["/Applications/Foo.app"]["1.0"]; len(got) != 1 || got[0] != 0 {
		t.Errorf("Applications index = %v, want [0]", got)
	}
	if got := db.InstallerItems["Foo.dmg"]["1.0"]; len(got) != 1 || got[0] != 0 {
		t.Errorf("InstallerItems index = %v, want [0]", got)
	}

	// Every index entry references a valid position, and the name-less
	// item appears nowhere.
	for hash, indexes := range db.Hashes {
		for _, idx := range indexes {
			if idx < 0 || idx >= len(db.Items) {
				t.Errorf("Hashes[%s] has out-of-range index %d", hash, idx)
			}
			if db.Items[idx].Name == "Broken" {
				t.Error("item missing version appeared in an index")
			}
		}
	}
}

func TestMakeDatabaseMissingCatalog(t *testing.T) {
	_, err := MakeDatabase(newMemRepo())
	if !errors.Is(err, ErrRead) {
		t.Errorf("err = %v, want ErrRead", err)
	}
}

func TestMakeDatabaseCorruptCatalog(t *testing.T) {
	r := newMemRepo()
	r.resources["catalogs/all"] = []byte("not a plist")
	_, err := MakeDatabase(r)
	if !errors.Is(err, ErrDecode) {
		t.Errorf("err = %v, want ErrDecode", err)
	}
}

func TestFindMatchByHash(t *testing.T) {
	items := []pkginfo.PkgInfo{
		{Name: "Foo", Version: "2.0", InstallerItemHash: "deadbeef"},
	}
	db, err := MakeDatabase(repoWithCatalog(t, items))
	if err != nil {
		t.Fatal(err)
	}

	match := db.FindMatch(&pkginfo.PkgInfo{InstallerItemHash: "deadbeef"})
	if match == nil || match.Name != "Foo" || match.Version != "2.0" {
		t.Fatalf("hash match = %+v, want Foo 2.0", match)
	}
}

func TestHashMatchWinsOverReceipts(t *testing.T) {
	items := []pkginfo.PkgInfo{
		{
			Name: "ByHash", Version: "1.0", InstallerItemHash: "cafe",
		},
		{
			Name: "ByReceipt", Version: "9.0",
			Receipts: []pkginfo.Receipt{{PackageID: "com.x", Version: "9.0"}},
		},
	}
	db, err := MakeDatabase(repoWithCatalog(t, items))
	if err != nil {
		t.Fatal(err)
	}

	candidate := &pkginfo.PkgInfo{
		InstallerItemHash: "cafe",
		Receipts:          []pkginfo.Receipt{{PackageID: "com.x", Version: "9.0"}},
	}
	match := db.FindMatch(candidate)
	if match == nil || match.Name != "ByHash" {
		t.Errorf("match = %+v, want ByHash regardless of receipt hit", match)
	}
}

func TestFindMatchByReceiptSetEquality(t *testing.T) {
	items := []pkginfo.PkgInfo{
		{
			Name: "Partial", Version: "3.0",
			Receipts: []pkginfo.Receipt{{PackageID: "com.app.a", Version: "3.0"}},
		},
		{
			Name: "Full", Version: "2.0",
			Receipts: []pkginfo.Receipt{
				{PackageID: "com.app.a", Version: "2.0"},
				{PackageID: "com.app.b", Version: "2.0"},
			},
		},
	}
	db, err := MakeDatabase(repoWithCatalog(t, items))
	if err != nil {
		t.Fatal(err)
	}

	// Candidate carries {a, b}. The {a}-only item has the higher version
	// but set equality must rule it out.
	candidate := &pkginfo.PkgInfo{
		Receipts: []pkginfo.Receipt{
			{PackageID: "com.app.a", Version: "2.5"},
			{PackageID: "com.app.b", Version: "2.5"},
		},
	}
	match := db.FindMatch(candidate)
	if match == nil || match.Name != "Full" {
		t.Errorf("match = %+v, want Full", match)
	}
}

func TestFindMatchByApplicationPath(t *testing.T) {
	items := []pkginfo.PkgInfo{
		{
			Name: "App", Version: "1.0",
			Installs: []pkginfo.InstallsItem{{Type: "application", Path: "/Applications/App.app"}},
		},
		{
			Name: "App", Version: "2.0",
			Installs: []pkginfo.InstallsItem{{Type: "application", Path: "/Applications/App.app"}},
		},
	}
	db, err := MakeDatabase(repoWithCatalog(t, items))
	if err != nil {
		t.Fatal(err)
	}

	// Path lookup ignores the candidate's own version and takes the
	// highest cataloged one.
	candidate := &pkginfo.PkgInfo{
		Version:  "0.1",
		Installs: []pkginfo.InstallsItem{{Type: "application", Path: "/Applications/App.app"}},
	}
	match := db.FindMatch(candidate)
	if match == nil || match.Version != "2.0" {
		t.Errorf("match = %+v, want version 2.0", match)
	}
}

func TestFindMatchByInstallerItemName(t *testing.T) {
	items := []pkginfo.PkgInfo{
		{Name: "Tool", Version: "1.1", InstallerItemLocation: "utils/Tool-1.1.pkg"},
	}
	db, err := MakeDatabase(repoWithCatalog(t, items))
	if err != nil {
		t.Fatal(err)
	}

	// The candidate's filename carries a different version; the stripped
	// base name still matches.
	candidate := &pkginfo.PkgInfo{InstallerItemLocation: "Tool-2.0.pkg"}
	match := db.FindMatch(candidate)
	if match == nil || match.Name != "Tool" {
		t.Errorf("match = %+v, want Tool", match)
	}
}

func TestFindMatchNoMatch(t *testing.T) {
	db, err := MakeDatabase(repoWithCatalog(t, []pkginfo.PkgInfo{
		{Name: "Foo", Version: "1.0", InstallerItemHash: "x"},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if match := db.FindMatch(&pkginfo.PkgInfo{InstallerItemHash: "y"}); match != nil {
		t.Errorf("match = %+v, want nil", match)
	}
}

func TestFindMatchInRepoNewRepository(t *testing.T) {
	// A repository with no catalogs at all is fine: no match, no failure.
	if match := FindMatchInRepo(newMemRepo(), &pkginfo.PkgInfo{Name: "X"}); match != nil {
		t.Errorf("match = %+v, want nil", match)
	}
}

func TestStripInstallerItemVersion(t *testing.T) {
	tests := []struct {
		location    string
		wantName    string
		wantVersion string
	}{
		{"apps/Firefox-121.0.dmg", "Firefox.dmg", "121.0"},
		{"Tool.pkg", "Tool.pkg", ""},
		{"deep/path/my-app-tool.dmg", "my-app-tool.dmg", ""},
	}
	for _, tt := range tests {
		name, version := StripInstallerItemVersion(tt.location)
		if name != tt.wantName || version != tt.wantVersion {
			t.Errorf("StripInstallerItemVersion(%q) = (%q, %q), want (%q, %q)",
				tt.location, name, version, tt.wantName, tt.wantVersion)
		}
	}
}
