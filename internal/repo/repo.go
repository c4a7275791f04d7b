// Package repo abstracts access to a software repository. A repository holds
// installer items under pkgs/, pkginfo files under pkgsinfo/, catalogs,
// manifests, and icons; resources are addressed by slash-separated
// identifiers relative to the repository root.
package repo

import "errors"

var (
	// ErrNotFound is returned when a resource does not exist
	ErrNotFound = errors.New("resource not found in repository")
	// ErrRead is returned when a resource exists but cannot be read
	ErrRead = errors.New("could not read repository resource")
	// ErrWrite is returned when a resource cannot be stored
	ErrWrite = errors.New("could not write repository resource")
	// ErrConnect is returned when the repository itself is unreachable
	ErrConnect = errors.New("could not connect to repository")
	// ErrUnsupportedScheme is returned for repository URLs steward
	// has no plugin for
	ErrUnsupportedScheme = errors.New("unsupported repository URL scheme")
)

// Repo is the plugin interface for repository access. Resource identifiers
// use forward slashes on every platform, e.g. "pkgsinfo/apps/Firefox-121.0".
type Repo interface {
	// List returns the identifiers of all resources under kind,
	// e.g. List("pkgsinfo") or List("catalogs").
	List(kind string) ([]string, error)
	// Get reads a resource.
	Get(identifier string) ([]byte, error)
	// Put stores a resource, creating parent containers as needed.
	Put(identifier string, data []byte) error
	// PutFile stores a local file as a resource. Implementations may
	// stream it rather than loading it into memory.
	PutFile(identifier, localPath string) error
	// Delete removes a resource.
	Delete(identifier string) error
}

// Connect returns a Repo for url. Plain paths and file:// URLs map to the
// local filesystem plugin; anything else is unsupported.
func Connect(url string) (Repo, error) {
	switch {
	case url == "":
		return nil, ErrConnect
	case hasScheme(url, "file://"):
		return NewFileRepo(url[len("file://"):])
	case !hasAnyScheme(url):
		return NewFileRepo(url)
	default:
		return nil, ErrUnsupportedScheme
	}
}

func hasScheme(url, scheme string) bool {
	return len(url) > len(scheme) && url[:len(scheme)] == scheme
}

func hasAnyScheme(url string) bool {
	for i := 0; i < len(url); i++ {
		switch {
		case url[i] == ':':
			return i+2 < len(url) && url[i+1] == '/' && url[i+2] == '/'
		case url[i] == '/':
			return false
		}
	}
	return false
}
