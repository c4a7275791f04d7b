package updatecheck

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const pidFileName = "updatecheck.pid"

// acquirePidFile takes the advisory run lock for one update check. It fails
// when the pid file names a live process; a stale file from a crashed run is
// replaced. The returned func releases the lock.
func acquirePidFile(dir string) (release func(), err error) {
	pidPath := filepath.Join(dir, pidFileName)
	if data, err := os.ReadFile(pidPath); err == nil {
		if pid, convErr := strconv.Atoi(strings.TrimSpace(string(data))); convErr == nil {
			if pid != os.Getpid() && processAlive(pid) {
				return nil, fmt.Errorf("pid %d holds %s", pid, pidPath)
			}
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return nil, err
	}
	return func() { os.Remove(pidPath) }, nil
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
