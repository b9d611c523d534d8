package firewall

import (
	"context"
	"fmt"
	"strings"

	"grimm.is/discoverd/internal/logging"
)

// Executor runs one packet filter mutation. When ignoreFailure is set a
// failed invocation is not reported to the caller.
type Executor interface {
	Execute(ctx context.Context, ignoreFailure bool, args ...string) error
}

// IPTables executes rule mutations with the iptables binary, optionally
// behind a prefix such as sudo or a rootwrap helper.
type IPTables struct {
	command []string
	runner  CommandRunner
	logger  *logging.Logger
}

// NewIPTables creates an executor. command is the argv prefix, for
// example ["iptables"] or ["sudo", "iptables"].
func NewIPTables(command []string, runner CommandRunner, logger *logging.Logger) (*IPTables, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, fmt.Errorf("firewall: empty iptables command")
	}
	if runner == nil {
		runner = DefaultCommandRunner
	}
	return &IPTables{
		command: append([]string(nil), command...),
		runner:  runner,
		logger:  logging.OrDefault(logger).WithComponent("iptables"),
	}, nil
}

// Execute runs the command prefix followed by args.
func (t *IPTables) Execute(ctx context.Context, ignoreFailure bool, args ...string) error {
	argv := make([]string, 0, len(t.command)-1+len(args))
	argv = append(argv, t.command[1:]...)
	argv = append(argv, args...)

	t.logger.Debug("Running iptables", "args", strings.Join(args, " "))

	err := t.runner.Run(ctx, t.command[0], argv...)
	if err == nil {
		return nil
	}
	if ignoreFailure {
		t.logger.Debug("Ignoring failed iptables call", "args", strings.Join(args, " "), "error", err)
		return nil
	}
	return fmt.Errorf("iptables %s: %w", strings.Join(args, " "), err)
}
