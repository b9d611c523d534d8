package hooks

import (
	"context"
	"slices"

	"grimm.is/discoverd/internal/facts"
	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/registry"
)

// RootDeviceHint finds the root disk by comparing block device serials
// across two introspection runs: the operator adds exactly one disk
// between them.
type RootDeviceHint struct {
	logger *logging.Logger
}

func NewRootDeviceHint(logger *logging.Logger) *RootDeviceHint {
	return &RootDeviceHint{logger: logging.OrDefault(logger).WithComponent("root_device_hint")}
}

func (h *RootDeviceHint) Name() string { return "root_device_hint" }

// BeforeProcessing defaults local_gb to 1; the disk size is meaningless
// until the root device is known.
func (h *RootDeviceHint) BeforeProcessing(_ context.Context, f *facts.Facts) error {
	if f.LocalGB == 0 {
		f.LocalGB = 1
	}
	return nil
}

func (h *RootDeviceHint) BeforeUpdate(_ context.Context, node registry.Node, _ []registry.Port, f *facts.Facts) (registry.Patch, map[string]any, error) {
	if f.BlockDevices == nil {
		h.logger.Warn("No block devices were received from the ramdisk", "node", node.UUID)
		return nil, nil, nil
	}

	if node.HasProperty("root_device") {
		h.logger.Info("Root device is already known for the node", "node", node.UUID)
		return nil, nil, nil
	}

	previous, ok := previousSerials(node)
	if !ok {
		return registry.Patch{registry.Add("/extra/block_devices", f.BlockDevices)}, nil, nil
	}

	var added []string
	for _, serial := range f.BlockDevices.Serials {
		if !slices.Contains(previous, serial) {
			added = append(added, serial)
		}
	}

	switch len(added) {
	case 0:
		h.logger.Warn("No new devices were found", "node", node.UUID)
		return nil, nil, nil
	case 1:
		return registry.Patch{
			registry.Remove("/extra/block_devices"),
			registry.Add("/properties/root_device", map[string]string{"serial": added[0]}),
		}, nil, nil
	default:
		h.logger.Warn("Root device cannot be identified because multiple new devices were found",
			"node", node.UUID, "devices", added)
		return nil, nil, nil
	}
}

// previousSerials reads extra.block_devices.serials as decoded from JSON.
func previousSerials(node registry.Node) ([]string, bool) {
	raw, ok := node.Extra["block_devices"]
	if !ok {
		return nil, false
	}

	var list []any
	switch bd := raw.(type) {
	case map[string]any:
		list, _ = bd["serials"].([]any)
	case *facts.BlockDevices:
		return bd.Serials, true
	case facts.BlockDevices:
		return bd.Serials, true
	}

	serials := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			serials = append(serials, s)
		}
	}
	return serials, true
}
