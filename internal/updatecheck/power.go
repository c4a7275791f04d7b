package updatecheck

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/stewardproject/steward/internal/common/execute"
	"github.com/stewardproject/steward/internal/common/logging"
)

const (
	pmsetPath      = "/usr/bin/pmset"
	caffeinatePath = "/usr/bin/caffeinate"
)

// runPowerCommand is swapped out in tests.
var runPowerCommand = func(ctx context.Context, path string, args ...string) (*execute.Result, error) {
	return execute.Run(ctx, path, args...)
}

// onACPower reports whether the machine currently draws from AC power.
// Anything that prevents asking (no pmset, non-zero exit) counts as battery
// so no assertion is held.
func onACPower(ctx context.Context) bool {
	result, err := runPowerCommand(ctx, pmsetPath, "-g", "ps")
	if err != nil || result.ExitCode != 0 {
		return false
	}
	return strings.Contains(result.Stdout, "AC Power")
}

// holdPowerAssertion prevents idle sleep for the rest of this process's
// lifetime when on AC power, so a long check is not interrupted mid-phase.
// The returned func releases the assertion; it is a no-op when none was
// taken.
func holdPowerAssertion(ctx context.Context) func() {
	if !onACPower(ctx) {
		return func() {}
	}
	cmd := exec.CommandContext(ctx, caffeinatePath, "-i", "-w", strconv.Itoa(os.Getpid()))
	if err := cmd.Start(); err != nil {
		logging.Debugf("could not hold power assertion: %v", err)
		return func() {}
	}
	logging.Debugf("holding power assertion while checking for updates")
	return func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
	}
}
