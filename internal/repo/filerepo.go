package repo

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileRepo serves a repository rooted in a local directory. It is also the
// backend for repositories mounted from a file server.
type FileRepo struct {
	root string
}

// NewFileRepo opens the repository at root. The directory must exist.
func NewFileRepo(root string) (*FileRepo, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrConnect, root)
	}
	return &FileRepo{root: root}, nil
}

// Root returns the repository's filesystem root.
func (r *FileRepo) Root() string { return r.root }

// path maps a resource identifier to a filesystem path, rejecting
// identifiers that would escape the repository root.
func (r *FileRepo) path(identifier string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(identifier))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: invalid identifier %q", ErrNotFound, identifier)
	}
	return filepath.Join(r.root, clean), nil
}

// List returns the identifiers of all regular files under kind, relative to
// the repository root, in filesystem walk order. Hidden files are skipped.
func (r *FileRepo) List(kind string) ([]string, error) {
	base, err := r.path(kind)
	if err != nil {
		return nil, err
	}
	var items []string
	walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == base {
				return nil
			}
			return err
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			return err
		}
		items = append(items, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, walkErr)
	}
	return items, nil
}

// Get reads a resource.
func (r *FileRepo) Get(identifier string) ([]byte, error) {
	path, err := r.path(identifier)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, identifier)
		}
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	return data, nil
}

// Put stores a resource, creating parent directories as needed.
func (r *FileRepo) Put(identifier string, data []byte) error {
	path, err := r.path(identifier)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// PutFile streams a local file into the repository.
func (r *FileRepo) PutFile(identifier, localPath string) error {
	path, err := r.path(identifier)
	if err != nil {
		return err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// Delete removes a resource.
func (r *FileRepo) Delete(identifier string) error {
	path, err := r.path(identifier)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, identifier)
		}
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}
