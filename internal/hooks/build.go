package hooks

import (
	"fmt"
	"sort"
	"strings"

	"grimm.is/discoverd/internal/clock"
	"grimm.is/discoverd/internal/config"
	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/metrics"
	"grimm.is/discoverd/internal/registry"
)

// Deps are the collaborators hooks may need.
type Deps struct {
	View    registry.View
	Clock   clock.Clock
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

type factory func(cfg *config.Processing, deps Deps) (Hook, error)

var factories = map[string]factory{
	"ramdisk_error": func(cfg *config.Processing, deps Deps) (Hook, error) {
		return NewRamdiskError(cfg.RamdiskLogsDir, cfg.AlwaysStoreRamdiskLogs, deps.Clock, deps.Logger), nil
	},
	"scheduler": func(cfg *config.Processing, deps Deps) (Hook, error) {
		return NewSchedulerProperties(cfg.OverwriteExisting, deps.Logger), nil
	},
	"validate_interfaces": func(cfg *config.Processing, deps Deps) (Hook, error) {
		return NewValidateInterfaces(cfg.EffectiveAddPorts(), cfg.KeepPorts, deps.View, deps.Logger)
	},
	"root_device_hint": func(cfg *config.Processing, deps Deps) (Hook, error) {
		return NewRootDeviceHint(deps.Logger), nil
	},
	"capabilities": func(cfg *config.Processing, deps Deps) (Hook, error) {
		return NewCapabilities(deps.Logger), nil
	},
	"example": func(cfg *config.Processing, deps Deps) (Hook, error) {
		return NewExample(deps.Logger), nil
	},
}

// Available returns the names Build accepts, sorted.
func Available() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the pipeline for cfg.Hooks in the listed order.
// Unknown or repeated names and invalid hook settings are reported as
// *config.ConfigurationError.
func Build(cfg *config.Processing, deps Deps) (*Pipeline, error) {
	if cfg.PortsForInactiveInterfaces {
		logging.OrDefault(deps.Logger).Warn("Using deprecated option processing.ports_for_inactive_interfaces")
	}

	seen := make(map[string]bool, len(cfg.Hooks))
	hooks := make([]Hook, 0, len(cfg.Hooks))
	for _, name := range cfg.Hooks {
		name = strings.TrimSpace(name)
		f, ok := factories[name]
		if !ok {
			return nil, &config.ConfigurationError{
				Field:   "processing.hooks",
				Message: fmt.Sprintf("unknown hook %q, available: %v", name, Available()),
			}
		}
		if seen[name] {
			return nil, &config.ConfigurationError{
				Field:   "processing.hooks",
				Message: fmt.Sprintf("hook %q listed twice", name),
			}
		}
		seen[name] = true

		h, err := f(cfg, deps)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, h)
	}
	return NewPipeline(hooks, deps.Logger, deps.Metrics), nil
}

var (
	_ Hook = (*ValidateInterfaces)(nil)
	_ Hook = (*SchedulerProperties)(nil)
	_ Hook = (*RamdiskError)(nil)
	_ Hook = (*RootDeviceHint)(nil)
	_ Hook = (*Capabilities)(nil)
	_ Hook = (*Example)(nil)
)
