// Package fsutil provides filesystem helpers shared across steward:
// a per-process scratch directory, path predicates, and cache cleanup.
package fsutil

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
)

// TempDir manages a process-scoped scratch directory. Construct one at
// startup and call Cleanup on exit; every MakeTempDir call returns a fresh
// subdirectory inside it.
type TempDir struct {
	root    string
	counter int
}

// NewTempDir creates the scratch directory root
func NewTempDir() (*TempDir, error) {
	root, err := os.MkdirTemp("", "steward-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &TempDir{root: root}, nil
}

// Path returns the scratch directory root
func (t *TempDir) Path() string {
	return t.root
}

// MakeTempDir returns a new empty directory inside the scratch root
func (t *TempDir) MakeTempDir() (string, error) {
	t.counter++
	dir := filepath.Join(t.root, fmt.Sprintf("t%d", t.counter))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Cleanup removes the scratch directory and everything inside it
func (t *TempDir) Cleanup() {
	if t.root != "" {
		_ = os.RemoveAll(t.root)
		t.root = ""
	}
}

// PathExists returns true if path exists
func PathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// IsDir returns true if path is a directory
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsRegularFile returns true if path is a regular file
func IsRegularFile(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.Mode().IsRegular()
}

// FileSize returns the size of the file at path in bytes, or 0
func FileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// DirSize returns the total size in bytes of all regular files under path
func DirSize(path string) int64 {
	var total int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total
}

// Size returns the size of a file or directory tree in bytes
func Size(path string) int64 {
	if IsDir(path) {
		return DirSize(path)
	}
	return FileSize(path)
}

// BaseName returns the final path component of a path or URL.
//
//	"https://example.com/pkgs/Foo.dmg" => "Foo.dmg"
//	"/path/Foo.dmg"                    => "Foo.dmg"
func BaseName(s string) string {
	if u, err := url.Parse(s); err == nil && u.Path != "" {
		return filepath.Base(u.Path)
	}
	return filepath.Base(s)
}

// AbsolutePath resolves path against the current working directory and
// cleans it.
func AbsolutePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// CleanUpDir removes files under dirPath whose dir-relative paths are not
// in keep, then prunes any directories left empty. The directory itself is
// preserved.
func CleanUpDir(dirPath string, keep []string) {
	if !IsDir(dirPath) {
		return
	}
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}

	var dirs []string
	_ = filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil || path == dirPath {
			return nil
		}
		if info.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		rel, err := filepath.Rel(dirPath, path)
		if err != nil {
			return nil
		}
		if !keepSet[rel] {
			_ = os.Remove(path)
		}
		return nil
	})

	// remove deepest directories first so emptied parents go too
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}
}
