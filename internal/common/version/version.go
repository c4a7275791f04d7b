// Package version carries the build identity stamped into the steward
// binary at link time.
package version

import (
	"fmt"
	"runtime"
)

// Overridden via -ldflags "-X .../internal/common/version.Version=..." by
// release builds; a plain go build reports dev.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info returns the multi-line block printed by steward version.
func Info() string {
	return fmt.Sprintf("steward version %s\n  commit: %s\n  built: %s\n  go: %s\n  os/arch: %s/%s",
		Version, Commit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns the bare version string for cobra's --version flag.
func Short() string {
	return Version
}
