package hooks

import (
	"context"
	"strconv"
	"strings"

	"grimm.is/discoverd/internal/facts"
	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/registry"
)

// SchedulerKeys are the properties the scheduler needs, in patch order.
var SchedulerKeys = []string{"cpus", "cpu_arch", "memory_mb", "local_gb"}

// SchedulerProperties requires the scheduler properties and copies them
// to the node.
type SchedulerProperties struct {
	overwrite bool
	logger    *logging.Logger
}

func NewSchedulerProperties(overwrite bool, logger *logging.Logger) *SchedulerProperties {
	return &SchedulerProperties{
		overwrite: overwrite,
		logger:    logging.OrDefault(logger).WithComponent("scheduler"),
	}
}

func (h *SchedulerProperties) Name() string { return "scheduler" }

func (h *SchedulerProperties) BeforeProcessing(_ context.Context, f *facts.Facts) error {
	values := schedulerValues(f)

	var missing []string
	for _, key := range SchedulerKeys {
		if values[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Errorf("The following required parameters are missing: [%s]", strings.Join(missing, ", "))
	}

	h.logger.Info("Discovered data",
		"cpus", f.CPUs, "cpu_arch", f.CPUArch, "memory_mb", f.MemoryMB, "local_gb", f.LocalGB)
	return nil
}

func (h *SchedulerProperties) BeforeUpdate(_ context.Context, node registry.Node, _ []registry.Port, f *facts.Facts) (registry.Patch, map[string]any, error) {
	values := schedulerValues(f)

	var patch registry.Patch
	for _, key := range SchedulerKeys {
		if h.overwrite || !hasValue(node.Properties, key) {
			patch = append(patch, registry.Add("/properties/"+key, values[key]))
		}
	}
	return patch, nil, nil
}

// schedulerValues stringifies the scheduler properties; zero values map
// to "".
func schedulerValues(f *facts.Facts) map[string]string {
	itoa := func(n int) string {
		if n == 0 {
			return ""
		}
		return strconv.Itoa(n)
	}
	return map[string]string{
		"cpus":      itoa(f.CPUs),
		"cpu_arch":  f.CPUArch,
		"memory_mb": itoa(f.MemoryMB),
		"local_gb":  itoa(f.LocalGB),
	}
}

// hasValue reports whether props holds a non-empty value for key.
func hasValue(props map[string]any, key string) bool {
	v, ok := props[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case bool:
		return t
	}
	return true
}
