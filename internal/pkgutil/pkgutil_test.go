package pkgutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stewardproject/steward/internal/common/execute"
	"github.com/stewardproject/steward/internal/common/fsutil"
	"github.com/stewardproject/steward/internal/plist"
)

func stubCommands(t *testing.T, fn func(path string, args ...string) (*execute.Result, error)) {
	t.Helper()
	orig := runCommand
	runCommand = func(_ context.Context, _, path string, args ...string) (*execute.Result, error) {
		return fn(path, args...)
	}
	t.Cleanup(func() { runCommand = orig })
}

func TestRestartAction(t *testing.T) {
	out := `<?xml version="1.0"?><plist version="1.0"><dict>
<key>RestartAction</key><string>RequireRestart</string></dict></plist>`
	stubCommands(t, func(path string, args ...string) (*execute.Result, error) {
		return &execute.Result{Stdout: out}, nil
	})
	if got := RestartAction(context.Background(), "/tmp/x.pkg"); got != "RequireRestart" {
		t.Errorf("RestartAction = %q", got)
	}
}

func TestRestartActionDropsNone(t *testing.T) {
	out := `<?xml version="1.0"?><plist version="1.0"><dict>
<key>RestartAction</key><string>None</string></dict></plist>`
	stubCommands(t, func(path string, args ...string) (*execute.Result, error) {
		return &execute.Result{Stdout: out}, nil
	})
	if got := RestartAction(context.Background(), "/tmp/x.pkg"); got != "" {
		t.Errorf("RestartAction = %q, want empty for None", got)
	}
}

func TestChoiceChangesFiltersSelected(t *testing.T) {
	out := `<?xml version="1.0"?><plist version="1.0"><array>
<dict><key>choiceAttribute</key><string>selected</string><key>choiceIdentifier</key><string>core</string></dict>
<dict><key>choiceAttribute</key><string>visible</string><key>choiceIdentifier</key><string>core</string></dict>
</array></plist>`
	stubCommands(t, func(path string, args ...string) (*execute.Result, error) {
		return &execute.Result{Stdout: out}, nil
	})
	choices := ChoiceChanges(context.Background(), "/tmp/x.pkg")
	if len(choices) != 1 {
		t.Fatalf("choices = %+v, want 1", choices)
	}
	if attr, _ := choices[0]["choiceAttribute"].(string); attr != "selected" {
		t.Errorf("kept choice = %+v", choices[0])
	}
}

func TestInstalledPackageVersion(t *testing.T) {
	out := `<?xml version="1.0"?><plist version="1.0"><dict>
<key>pkgid</key><string>com.example.app</string>
<key>pkg-version</key><string>2.3</string></dict></plist>`
	stubCommands(t, func(path string, args ...string) (*execute.Result, error) {
		return &execute.Result{Stdout: out}, nil
	})
	if got := InstalledPackageVersion(context.Background(), "com.example.app"); got != "2.3" {
		t.Errorf("version = %q, want 2.3", got)
	}
	// A different id being reported means no match.
	if got := InstalledPackageVersion(context.Background(), "com.other"); got != "" {
		t.Errorf("version = %q, want empty for id mismatch", got)
	}
}

func TestInstalledPackages(t *testing.T) {
	doc := func(id, version string) string {
		return `<?xml version="1.0"?><plist version="1.0"><dict>
<key>pkgid</key><string>` + id + `</string>
<key>pkg-version</key><string>` + version + `</string></dict></plist>`
	}
	stubCommands(t, func(path string, args ...string) (*execute.Result, error) {
		return &execute.Result{Stdout: doc("com.a", "1.0") + "\n" + doc("com.b", "2.0")}, nil
	})

	installed := InstalledPackages(context.Background())
	if len(installed) != 2 || installed["com.a"] != "1.0" || installed["com.b"] != "2.0" {
		t.Errorf("installed = %v", installed)
	}
}

func TestHasValidInstallerItemExt(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"Foo.pkg", true},
		{"Foo.MPKG", true},
		{"Foo.dmg", true},
		{"Foo.iso", true},
		{"Foo.zip", false},
		{"Foo", false},
	}
	for _, tt := range tests {
		if got := HasValidInstallerItemExt(tt.path); got != tt.want {
			t.Errorf("HasValidInstallerItemExt(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestPackageMetaDataRejectsNonPackage(t *testing.T) {
	_, err := PackageMetaData(context.Background(), "/tmp/notapkg.zip", "", nil)
	if !errors.Is(err, ErrNotAPackage) {
		t.Errorf("err = %v, want ErrNotAPackage", err)
	}
}

func TestPackageMetaDataBundle(t *testing.T) {
	// Tool invocations (installer -query) fail; metadata must still come
	// from the bundle itself.
	stubCommands(t, func(path string, args ...string) (*execute.Result, error) {
		return &execute.Result{ExitCode: 1}, nil
	})

	dir := t.TempDir()
	bundle := filepath.Join(dir, "Widget-3.1.pkg")
	writeBundleInfo(t, bundle, plist.Dict{
		"CFBundleIdentifier":         "com.example.widget",
		"CFBundleShortVersionString": "3.1",
		"IFPkgFlagInstalledSize":     2048,
	})

	tempDir, err := fsutil.NewTempDir()
	if err != nil {
		t.Fatal(err)
	}
	defer tempDir.Cleanup()

	record, err := PackageMetaData(context.Background(), bundle, "", tempDir)
	if err != nil {
		t.Fatalf("PackageMetaData: %v", err)
	}
	if record.Name != "Widget" {
		t.Errorf("Name = %q, want Widget", record.Name)
	}
	if record.Version != "3.1" {
		t.Errorf("Version = %q, want 3.1", record.Version)
	}
	if len(record.Receipts) != 1 || record.Receipts[0].PackageID != "com.example.widget" {
		t.Errorf("Receipts = %+v", record.Receipts)
	}
	if record.InstalledSize != 2048 {
		t.Errorf("InstalledSize = %d, want 2048", record.InstalledSize)
	}
}

func TestPackageMetaDataFlatProductVersionWins(t *testing.T) {
	// Both PackageInfo receipts and a Distribution product version are
	// present: the product version outranks the receipt versions.
	packageInfo := `<?xml version="1.0" encoding="utf-8"?>
<pkg-info format-version="2" identifier="com.example.app" version="1.2">
	<payload installKBytes="100"/>
</pkg-info>`
	distribution := `<?xml version="1.0" encoding="utf-8"?>
<installer-gui-script minSpecVersion="1">
	<product id="com.example.app" version="9.9"/>
	<pkg-ref id="com.example.app" version="1.2" installKBytes="100">#app.pkg</pkg-ref>
</installer-gui-script>`

	orig := runCommand
	t.Cleanup(func() { runCommand = orig })
	runCommand = func(_ context.Context, dir, path string, args ...string) (*execute.Result, error) {
		if path != xarPath {
			return &execute.Result{ExitCode: 1}, nil
		}
		switch args[0] {
		case "-tf":
			return &execute.Result{Stdout: "app.pkg/PackageInfo\nDistribution\n"}, nil
		case "-xf":
			entry := args[2]
			content := distribution
			if strings.HasSuffix(entry, "PackageInfo") {
				content = packageInfo
			}
			full := filepath.Join(dir, filepath.FromSlash(entry))
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
				return nil, err
			}
			return &execute.Result{}, nil
		}
		return &execute.Result{ExitCode: 1}, nil
	}

	tempDir, err := fsutil.NewTempDir()
	if err != nil {
		t.Fatal(err)
	}
	defer tempDir.Cleanup()

	pkg := filepath.Join(t.TempDir(), "App.pkg")
	if err := os.WriteFile(pkg, []byte("xar archive"), 0o644); err != nil {
		t.Fatal(err)
	}

	record, err := PackageMetaData(context.Background(), pkg, "", tempDir)
	if err != nil {
		t.Fatalf("PackageMetaData: %v", err)
	}
	if record.Version != "9.9" {
		t.Errorf("Version = %q, want the product version 9.9", record.Version)
	}
	if len(record.Receipts) != 1 || record.Receipts[0].PackageID != "com.example.app" || record.Receipts[0].Version != "1.2" {
		t.Errorf("Receipts = %+v, want the PackageInfo receipt", record.Receipts)
	}
}

func TestPackageMetaDataVersionPlaceholder(t *testing.T) {
	// Nothing yields a version: the well-formed placeholder is used so
	// downstream sorting never sees an empty string.
	stubCommands(t, func(path string, args ...string) (*execute.Result, error) {
		return &execute.Result{ExitCode: 1}, nil
	})

	tempDir, err := fsutil.NewTempDir()
	if err != nil {
		t.Fatal(err)
	}
	defer tempDir.Cleanup()

	pkg := filepath.Join(t.TempDir(), "Opaque.pkg")
	if err := os.WriteFile(pkg, []byte("xar archive"), 0o644); err != nil {
		t.Fatal(err)
	}

	record, err := PackageMetaData(context.Background(), pkg, "", tempDir)
	if err != nil {
		t.Fatalf("PackageMetaData: %v", err)
	}
	if record.Version != "0.0.0.0.0" {
		t.Errorf("Version = %q, want the placeholder", record.Version)
	}
}

func TestPackageMetaDataVersionFallsBackToReceipts(t *testing.T) {
	stubCommands(t, func(path string, args ...string) (*execute.Result, error) {
		return &execute.Result{ExitCode: 1}, nil
	})

	// A metapackage with no bundle version: the highest receipt version
	// must win.
	dir := t.TempDir()
	mpkg := filepath.Join(dir, "Suite.mpkg")
	for name, version := range map[string]string{"A.pkg": "1.0", "B.pkg": "2.5"} {
		sub := filepath.Join(mpkg, "Contents", "Packages", name)
		writeBundleInfo(t, sub, plist.Dict{
			"CFBundleIdentifier":         "com.suite." + name,
			"CFBundleShortVersionString": version,
		})
	}

	tempDir, err := fsutil.NewTempDir()
	if err != nil {
		t.Fatal(err)
	}
	defer tempDir.Cleanup()

	record, err := PackageMetaData(context.Background(), mpkg, "", tempDir)
	if err != nil {
		t.Fatalf("PackageMetaData: %v", err)
	}
	if record.Version != "2.5" {
		t.Errorf("Version = %q, want highest receipt version 2.5", record.Version)
	}
}
