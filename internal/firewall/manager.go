package firewall

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"grimm.is/discoverd/internal/config"
	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/metrics"
	"grimm.is/discoverd/internal/registry"
)

// Chain names.
const (
	PrimaryChain = "discovery"
	StandbyChain = "discovery_temp"
)

// Config is the manager's view of the firewall settings.
type Config struct {
	Enabled   bool
	Interface string
}

// ConfigFrom extracts manager settings from the loaded configuration.
func ConfigFrom(cfg *config.Firewall) Config {
	return Config{
		Enabled:   cfg.IsEnabled(),
		Interface: cfg.Interface,
	}
}

// Manager owns the discovery chain. UpdateFilters calls are serialized.
type Manager struct {
	cfg     Config
	exec    Executor
	view    registry.View
	logger  *logging.Logger
	metrics *metrics.Registry

	mu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics records updates in r.
func WithMetrics(r *metrics.Registry) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

// NewManager creates a manager. An enabled firewall without a
// provisioning interface is a configuration error.
func NewManager(cfg Config, exec Executor, view registry.View, opts ...Option) (*Manager, error) {
	if cfg.Enabled && cfg.Interface == "" {
		return nil, &config.ConfigurationError{
			Field:   "firewall.interface",
			Message: "required when the firewall is enabled",
		}
	}

	m := &Manager{
		cfg:  cfg,
		exec: exec,
		view: view,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrDefault(m.logger).WithComponent("firewall")
	return m, nil
}

// Enabled reports whether the manager touches iptables at all.
func (m *Manager) Enabled() bool {
	return m.cfg.Enabled
}

// Init establishes an empty primary chain, whatever state a previous
// run left behind. Every step is best-effort.
func (m *Manager) Init(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.reset(ctx, PrimaryChain); err != nil {
		return fmt.Errorf("failed to initialize chain %s: %w", PrimaryChain, err)
	}
	m.logger.Info("Discovery chain initialized", "chain", PrimaryChain, "interface", m.cfg.Interface)
	return nil
}

// UpdateFilters rebuilds the discovery chain from the current registry
// state and swaps it in without a window where DHCP traffic is
// unfiltered.
//
// A failed mandatory step aborts the swap and leaves whatever already
// landed in place. If the final rename fails, the old primary chain is
// already gone and traffic is served by discovery_temp until the next
// successful update.
func (m *Manager) UpdateFilters(ctx context.Context) error {
	if !m.cfg.Enabled {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	denied, err := m.swap(ctx)
	if m.metrics != nil {
		m.metrics.RecordFilterUpdate(len(denied), time.Since(start).Seconds(), err)
	}
	if err != nil {
		return err
	}

	m.logger.Debug("Discovery chain updated", "denied", len(denied), "duration", time.Since(start))
	return nil
}

func (m *Manager) swap(ctx context.Context) ([]string, error) {
	if err := m.reset(ctx, StandbyChain); err != nil {
		return nil, err
	}

	denied, err := m.Denylist(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute denylist: %w", err)
	}

	for _, mac := range denied {
		if err := m.exec.Execute(ctx, false, "-A", StandbyChain, "-m", "mac", "--mac-source", mac, "-j", "DROP"); err != nil {
			return nil, fmt.Errorf("failed to deny %s: %w", mac, err)
		}
	}
	if err := m.exec.Execute(ctx, false, "-A", StandbyChain, "-j", "ACCEPT"); err != nil {
		return nil, fmt.Errorf("failed to terminate chain %s: %w", StandbyChain, err)
	}

	// Cut over: new traffic hits the standby chain from here on.
	if err := m.exec.Execute(ctx, false, m.forward("-I", StandbyChain)...); err != nil {
		return nil, fmt.Errorf("failed to redirect DHCP to %s: %w", StandbyChain, err)
	}

	if err := m.cleanUp(ctx, PrimaryChain); err != nil {
		return nil, err
	}

	if err := m.exec.Execute(ctx, false, "-E", StandbyChain, PrimaryChain); err != nil {
		m.logger.Error("Chain rename failed, DHCP is filtered by the standby chain until the next update",
			"chain", StandbyChain, "error", err)
		return nil, fmt.Errorf("failed to rename %s to %s: %w", StandbyChain, PrimaryChain, err)
	}

	return denied, nil
}

// Denylist returns the addresses attached to registry ports that no
// active node expects, sorted. Addresses are compared case-insensitively
// and reported as the registry stores them.
func (m *Manager) Denylist(ctx context.Context) ([]string, error) {
	active, err := m.view.ListActiveNodes(ctx)
	if err != nil {
		return nil, err
	}
	expected := make(map[string]struct{})
	for _, node := range active {
		for _, mac := range node.ExpectedAddresses {
			expected[strings.ToLower(mac)] = struct{}{}
		}
	}

	ports, err := m.view.ListAllPorts(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var denied []string
	for _, port := range ports {
		key := strings.ToLower(port.Address)
		if _, ok := expected[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		denied = append(denied, port.Address)
	}
	sort.Strings(denied)
	return denied, nil
}

// reset removes any forwarding rule to chain, then recreates it empty.
func (m *Manager) reset(ctx context.Context, chain string) error {
	if err := m.cleanUp(ctx, chain); err != nil {
		return err
	}
	return m.exec.Execute(ctx, true, "-N", chain)
}

// cleanUp detaches, flushes and deletes chain, ignoring failures.
func (m *Manager) cleanUp(ctx context.Context, chain string) error {
	steps := [][]string{
		m.forward("-D", chain),
		{"-F", chain},
		{"-X", chain},
	}
	for _, args := range steps {
		if err := m.exec.Execute(ctx, true, args...); err != nil {
			return err
		}
	}
	return nil
}

// forward builds the INPUT rule sending DHCP requests on the
// provisioning interface to chain.
func (m *Manager) forward(action, chain string) []string {
	return []string{action, "INPUT", "-i", m.cfg.Interface, "-p", "udp", "--dport", "67", "-j", chain}
}
