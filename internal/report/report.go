// Package report accumulates facts about one managed-software-check run and
// persists them for the status UI and for admins reading logs. The
// accumulator is an explicit object constructed at process start and
// threaded through the run, not shared process state.
package report

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/stewardproject/steward/internal/plist"
)

// FileName is the report's name inside the managed-installs directory.
const FileName = "ManagedInstallReport.plist"

// Report collects keyed values over the course of a run.
type Report struct {
	mu     sync.Mutex
	fields plist.Dict
	path   string
}

// New returns an empty report that saves into managedInstallDir.
func New(managedInstallDir string) *Report {
	return &Report{
		fields: make(plist.Dict),
		path:   filepath.Join(managedInstallDir, FileName),
	}
}

// Record stores value under key, replacing any previous value.
func (r *Report) Record(value interface{}, key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields[key] = value
}

// Get returns the recorded value for key, or nil.
func (r *Report) Get(key string) interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fields[key]
}

// Warning appends msg to the report's warning list.
func (r *Report) Warning(msg string) {
	r.appendTo("Warnings", msg)
}

// Error appends msg to the report's error list.
func (r *Report) Error(msg string) {
	r.appendTo("Errors", msg)
}

func (r *Report) appendTo(key, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, _ := r.fields[key].([]string)
	r.fields[key] = append(list, msg)
}

// Save writes the report to disk.
func (r *Report) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	return plist.WriteFile(r.path, r.fields)
}
