package hooks

import (
	"context"

	"grimm.is/discoverd/internal/facts"
	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/registry"
)

// Example logs both extension points at debug level.
type Example struct {
	logger *logging.Logger
}

func NewExample(logger *logging.Logger) *Example {
	return &Example{logger: logging.OrDefault(logger).WithComponent("example")}
}

func (h *Example) Name() string { return "example" }

func (h *Example) BeforeProcessing(_ context.Context, f *facts.Facts) error {
	h.logger.Debug("before_processing", "bmc", f.BMCAddress(), "interfaces", len(f.Interfaces))
	return nil
}

func (h *Example) BeforeUpdate(_ context.Context, node registry.Node, ports []registry.Port, _ *facts.Facts) (registry.Patch, map[string]any, error) {
	h.logger.Debug("before_update", "node", node.UUID, "ports", len(ports))
	return nil, nil, nil
}
