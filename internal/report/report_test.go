package report

import (
	"path/filepath"
	"testing"

	"github.com/stewardproject/steward/internal/plist"
)

func TestRecordAndSave(t *testing.T) {
	dir := t.TempDir()
	r := New(dir)
	r.Record([]string{"Firefox", "Slack"}, "InstalledItems")
	r.Record("host.example.com", "HostName")
	r.Warning("something odd")
	r.Warning("and again")

	if err := r.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var saved plist.Dict
	if err := plist.ReadFile(filepath.Join(dir, FileName), &saved); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if saved["HostName"] != "host.example.com" {
		t.Errorf("HostName = %v", saved["HostName"])
	}
	warnings, _ := saved["Warnings"].([]interface{})
	if len(warnings) != 2 {
		t.Errorf("Warnings = %v, want 2 entries", saved["Warnings"])
	}
}

func TestRecordReplaces(t *testing.T) {
	r := New(t.TempDir())
	r.Record("first", "Key")
	r.Record("second", "Key")
	if got := r.Get("Key"); got != "second" {
		t.Errorf("Get = %v, want second", got)
	}
}
