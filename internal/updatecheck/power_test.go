package updatecheck

import (
	"context"
	"fmt"
	"testing"

	"github.com/stewardproject/steward/internal/common/execute"
)

func stubPowerCommand(t *testing.T, stdout string, exitCode int, err error) {
	t.Helper()
	orig := runPowerCommand
	runPowerCommand = func(ctx context.Context, path string, args ...string) (*execute.Result, error) {
		return &execute.Result{ExitCode: exitCode, Stdout: stdout}, err
	}
	t.Cleanup(func() { runPowerCommand = orig })
}

func TestOnACPower(t *testing.T) {
	ctx := context.Background()

	stubPowerCommand(t, "Now drawing from 'AC Power'\n", 0, nil)
	if !onACPower(ctx) {
		t.Error("AC Power in pmset output should report true")
	}

	stubPowerCommand(t, "Now drawing from 'Battery Power'\n", 0, nil)
	if onACPower(ctx) {
		t.Error("battery power should report false")
	}

	stubPowerCommand(t, "", 0, fmt.Errorf("%w: no pmset", execute.ErrNotLaunched))
	if onACPower(ctx) {
		t.Error("a missing power tool should report false")
	}
}
