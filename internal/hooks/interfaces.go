package hooks

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"grimm.is/discoverd/internal/config"
	"grimm.is/discoverd/internal/facts"
	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/registry"
)

// ValidateInterfaces filters reported interfaces by address syntax and the
// add_ports policy, and removes stale ports according to keep_ports.
type ValidateInterfaces struct {
	addPorts  string
	keepPorts string
	view      registry.View
	logger    *logging.Logger
}

// NewValidateInterfaces checks both policies against their accepted
// values.
func NewValidateInterfaces(addPorts, keepPorts string, view registry.View, logger *logging.Logger) (*ValidateInterfaces, error) {
	if !slices.Contains(config.ValidAddPorts, addPorts) {
		return nil, config.NewEnumError("processing.add_ports", addPorts, config.ValidAddPorts)
	}
	if !slices.Contains(config.ValidKeepPorts, keepPorts) {
		return nil, config.NewEnumError("processing.keep_ports", keepPorts, config.ValidKeepPorts)
	}
	return &ValidateInterfaces{
		addPorts:  addPorts,
		keepPorts: keepPorts,
		view:      view,
		logger:    logging.OrDefault(logger).WithComponent("validate_interfaces"),
	}, nil
}

func (h *ValidateInterfaces) Name() string { return "validate_interfaces" }

func (h *ValidateInterfaces) BeforeProcessing(_ context.Context, f *facts.Facts) error {
	if len(f.Interfaces) == 0 {
		return Errorf("No interfaces supplied by the ramdisk")
	}

	valid := make(map[string]facts.Interface, len(f.Interfaces))
	for name, iface := range f.Interfaces {
		if facts.IsValidMAC(iface.MAC) {
			valid[name] = iface
		}
	}

	switch {
	case h.addPorts == config.AddPortsPXE && f.BootInterface != "":
		h.logger.Info("PXE boot interface reported", "boot_interface", f.BootInterface)
		pxeMAC := facts.NormalizePXEMAC(f.BootInterface)
		for name, iface := range valid {
			if strings.ToLower(iface.MAC) != pxeMAC {
				delete(valid, name)
			}
		}
	case h.addPorts != config.AddPortsAll:
		for name, iface := range valid {
			if iface.IP == "" {
				delete(valid, name)
			}
		}
	}

	if len(valid) == 0 {
		return Errorf("No valid interfaces found for node with BMC %s, got %s",
			f.IPMIAddress, formatInterfaces(f.Interfaces))
	}

	if len(valid) != len(f.Interfaces) {
		excluded := make(map[string]facts.Interface)
		for name, iface := range f.Interfaces {
			if _, ok := valid[name]; !ok {
				excluded[name] = iface
			}
		}
		h.logger.Warn("Interfaces were invalid or not eligible and were excluded",
			"bmc", f.IPMIAddress, "excluded", formatInterfaces(excluded))
		h.logger.Info("Eligible interfaces", "interfaces", formatInterfaces(valid))
	}

	f.AllInterfaces = f.Interfaces
	f.Interfaces = valid
	f.DeriveMACs()
	return nil
}

func (h *ValidateInterfaces) BeforeUpdate(ctx context.Context, node registry.Node, _ []registry.Port, f *facts.Facts) (registry.Patch, map[string]any, error) {
	var expected []string
	switch h.keepPorts {
	case config.KeepPortsPresent:
		expected = f.AllMACs()
	case config.KeepPortsAdded:
		expected = f.MACs
	default:
		return nil, nil, nil
	}

	keep := make(map[string]struct{}, len(expected))
	for _, mac := range expected {
		keep[strings.ToLower(mac)] = struct{}{}
	}

	ports, err := h.view.ListPorts(ctx, node.UUID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list ports of node %s: %w", node.UUID, err)
	}

	for _, port := range ports {
		if _, ok := keep[strings.ToLower(port.Address)]; ok {
			continue
		}
		h.logger.Info("Deleting port not in expected MAC list",
			"port", port.UUID, "mac", port.Address, "node", node.UUID, "expected", sortedCopy(expected))
		if err := h.view.DeletePort(ctx, port.UUID); err != nil {
			return nil, nil, fmt.Errorf("failed to delete port %s: %w", port.UUID, err)
		}
	}
	return nil, nil, nil
}

// formatInterfaces renders interfaces as name=mac/ip pairs sorted by name.
func formatInterfaces(m map[string]facts.Interface) string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		iface := m[name]
		s := name + "=" + iface.MAC
		if iface.IP != "" {
			s += "/" + iface.IP
		}
		parts = append(parts, s)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
