package hooks

import (
	"context"

	"grimm.is/discoverd/internal/facts"
	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/registry"
)

// Capabilities records the reported boot mode in the node's
// capabilities string.
type Capabilities struct {
	Base
	logger *logging.Logger
}

func NewCapabilities(logger *logging.Logger) *Capabilities {
	return &Capabilities{logger: logging.OrDefault(logger).WithComponent("capabilities")}
}

func (h *Capabilities) Name() string { return "capabilities" }

func (h *Capabilities) BeforeUpdate(_ context.Context, node registry.Node, _ []registry.Port, f *facts.Facts) (registry.Patch, map[string]any, error) {
	if f.BootMode == "" {
		return nil, nil, nil
	}

	current, _ := node.Properties["capabilities"].(string)
	caps := registry.ParseCapabilities(current)
	if caps["boot_mode"] == f.BootMode {
		return nil, nil, nil
	}
	caps["boot_mode"] = f.BootMode

	h.logger.Info("Updating boot mode capability", "node", node.UUID, "boot_mode", f.BootMode)
	return registry.Patch{registry.Add("/properties/capabilities", registry.FormatCapabilities(caps))}, nil, nil
}
