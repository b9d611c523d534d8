package scheduler

import (
	"context"
	"fmt"
	"time"

	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/metrics"
	"grimm.is/discoverd/internal/registry"
)

// Task IDs.
const (
	FirewallUpdateTaskID = "firewall-update"
	CleanUpTaskID        = "node-cache-clean-up"
)

// FilterUpdater rebuilds the discovery firewall chain.
type FilterUpdater interface {
	UpdateFilters(ctx context.Context) error
}

// Sweeper times out stale introspections.
type Sweeper interface {
	CleanUp(ctx context.Context, timeout time.Duration) ([]string, error)
	ListActive(ctx context.Context) ([]registry.ActiveNode, error)
}

// NewFirewallUpdateTask refreshes the firewall chain every period, so
// ports enrolled outside discoverd are denied.
func NewFirewallUpdateTask(fw FilterUpdater, period time.Duration) *Task {
	return &Task{
		ID:       FirewallUpdateTaskID,
		Name:     "Firewall update",
		Schedule: Every(period),
		Timeout:  period,
		Func:     fw.UpdateFilters,
	}
}

// NewCleanUpTask fails introspections running longer than timeout and
// refreshes the active node gauge. A zero timeout only refreshes the gauge.
func NewCleanUpTask(cache Sweeper, timeout, period time.Duration, m *metrics.Registry, logger *logging.Logger) *Task {
	if m == nil {
		m = metrics.Get()
	}
	logger = logging.OrDefault(logger).WithComponent("clean_up")

	return &Task{
		ID:         CleanUpTaskID,
		Name:       "Node cache clean up",
		Schedule:   Every(period),
		RunOnStart: true,
		Func: func(ctx context.Context) error {
			if timeout > 0 {
				expired, err := cache.CleanUp(ctx, timeout)
				for range expired {
					m.RecordIntrospection("timeout")
				}
				if err != nil {
					return fmt.Errorf("failed to clean up timed out nodes: %w", err)
				}
				if len(expired) > 0 {
					logger.Error("Introspection timed out", "nodes", expired, "timeout", timeout)
				}
			}

			active, err := cache.ListActive(ctx)
			if err != nil {
				return fmt.Errorf("failed to list active nodes: %w", err)
			}
			m.SetActiveNodes(len(active))
			return nil
		},
	}
}
