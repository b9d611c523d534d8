package firewall

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner abstracts process execution.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// RealCommandRunner executes actual commands.
type RealCommandRunner struct{}

// DefaultCommandRunner is the default command runner.
var DefaultCommandRunner CommandRunner = &RealCommandRunner{}

// Run executes a command, returning its combined output in the error.
func (r *RealCommandRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %s failed: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}
