package camera

import (
	"context"
	"os/exec"
	"strings"
)

// Runner executes one external command and returns its combined output.
// Failures surface as errors; no retry happens at this layer.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// LocalRunner executes commands on the local host.
type LocalRunner struct{}

func (LocalRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
