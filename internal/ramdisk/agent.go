package ramdisk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"grimm.is/discoverd/internal/client"
	"grimm.is/discoverd/internal/logging"
)

// ErrDiscoveryFailed is returned by Run when the report carried failures
// or could not be delivered.
var ErrDiscoveryFailed = errors.New("hardware discovery failed")

// Callback delivers the report to discoverd.
type Callback interface {
	Continue(ctx context.Context, report any) (*client.ContinueResult, error)
}

// Options configures one agent run.
type Options struct {
	// CallbackURL is the full discoverd callback URL,
	// e.g. http://10.0.0.1:5050/v1/continue.
	CallbackURL string
	// LogFile is the agent's own log, always attached.
	LogFile string
	// SystemLogFiles are extra files attached to the report.
	SystemLogFiles []string
	Discover       DiscoverOptions
}

// Agent runs discovery once and reports it.
type Agent struct {
	opts      Options
	collector *Collector
	callback  Callback
	runner    Runner
	logger    *logging.Logger
}

// AgentOption configures an Agent.
type AgentOption func(*Agent)

// WithCollector replaces the hardware collector.
func WithCollector(c *Collector) AgentOption {
	return func(a *Agent) { a.collector = c }
}

// WithCallback replaces the discoverd client.
func WithCallback(cb Callback) AgentOption {
	return func(a *Agent) { a.callback = cb }
}

// WithAgentRunner replaces the runner used for logs and ipmitool.
func WithAgentRunner(r Runner) AgentOption {
	return func(a *Agent) { a.runner = r }
}

// WithAgentLogger sets the logger.
func WithAgentLogger(l *logging.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// NewAgent creates an agent.
func NewAgent(opts Options, agentOpts ...AgentOption) *Agent {
	a := &Agent{opts: opts, runner: ExecRunner{}}
	for _, opt := range agentOpts {
		opt(a)
	}
	a.logger = logging.OrDefault(a.logger).WithComponent("ramdisk")
	if a.collector == nil {
		a.collector = NewCollector(WithRunner(a.runner), WithCollectorLogger(a.logger))
	}
	if a.callback == nil {
		a.callback = client.NewHTTPClient(strings.TrimSuffix(opts.CallbackURL, "/continue"))
	}
	return a
}

// Run discovers hardware, posts the report and, when discoverd asks for
// it, sets the BMC credentials. The report is sent even when discovery
// failed, so the failure is recorded against the node.
func (a *Agent) Run(ctx context.Context) error {
	var failures Failures
	report := a.collector.Discover(ctx, a.opts.Discover, &failures)

	files := append([]string{a.opts.LogFile}, a.opts.SystemLogFiles...)
	logs, err := CollectLogs(ctx, a.runner, files, a.logger)
	if err != nil {
		a.logger.Error("failed to collect logs", "error", err)
	}
	report.Logs = logs
	report.Error = failures.Error()

	a.logger.Info("posting collected data", "url", a.opts.CallbackURL)
	res, callErr := a.callback.Continue(ctx, report)
	if callErr != nil {
		a.logger.Error("failed to call discoverd", "error", callErr)
	} else if res.IPMISetupCredentials {
		if err := SetupIPMICredentials(ctx, a.runner, res.IPMIUsername, res.IPMIPassword); err != nil {
			a.logger.Error("failed to set IPMI credentials", "error", err)
			callErr = err
		}
	}

	switch {
	case failures.Len() > 0:
		return fmt.Errorf("%w: %s", ErrDiscoveryFailed, failures.Error())
	case callErr != nil:
		return fmt.Errorf("%w: %w", ErrDiscoveryFailed, callErr)
	}
	return nil
}

// SetupIPMICredentials configures BMC user 2 with the given credentials
// and grants it administrator access on channel 1. Only setting the name
// and password is fatal.
func SetupIPMICredentials(ctx context.Context, runner Runner, username, password string) error {
	if _, err := runner.Output(ctx, "ipmitool", "user", "set", "name", "2", username); err != nil {
		return fmt.Errorf("failed to set IPMI user name to %s: %w", username, err)
	}
	if _, err := runner.Output(ctx, "ipmitool", "user", "set", "password", "2", password); err != nil {
		return fmt.Errorf("failed to set IPMI password: %w", err)
	}
	_, _ = runner.Output(ctx, "ipmitool", "user", "enable", "2")
	_, _ = runner.Output(ctx, "ipmitool", "channel", "setaccess", "1", "2",
		"link=on", "ipmi=on", "callin=on", "privilege=4")
	return nil
}
