// Package hooks implements the processing pipeline applied to ramdisk
// reports.
//
// A hook has two extension points. BeforeProcessing validates and
// normalizes the facts before the node is touched; the first failing
// hook aborts the run. BeforeUpdate computes patches for the node record;
// patches of all hooks are concatenated in pipeline order.
//
// Hooks are selected by name from a static table (see [Build]) and run
// in the configured order.
package hooks

import (
	"context"
	"fmt"
	"maps"
	"time"

	"grimm.is/discoverd/internal/facts"
	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/metrics"
	"grimm.is/discoverd/internal/registry"
)

// Pipeline phases, used in logs and metrics.
const (
	PhaseBeforeProcessing = "before_processing"
	PhaseBeforeUpdate     = "before_update"
)

// Hook is one processing step.
type Hook interface {
	Name() string
	BeforeProcessing(ctx context.Context, f *facts.Facts) error
	BeforeUpdate(ctx context.Context, node registry.Node, ports []registry.Port, f *facts.Facts) (registry.Patch, map[string]any, error)
}

// Base provides no-op extension points for embedding.
type Base struct{}

func (Base) BeforeProcessing(context.Context, *facts.Facts) error { return nil }

func (Base) BeforeUpdate(context.Context, registry.Node, []registry.Port, *facts.Facts) (registry.Patch, map[string]any, error) {
	return nil, nil, nil
}

// ValidationError rejects a ramdisk report. Its message is returned to
// the ramdisk and recorded as the introspection failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Errorf builds a ValidationError.
func Errorf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Pipeline runs hooks in a fixed order.
type Pipeline struct {
	hooks   []Hook
	logger  *logging.Logger
	metrics *metrics.Registry
}

// NewPipeline creates a pipeline over hooks. The slice is copied.
func NewPipeline(hooks []Hook, logger *logging.Logger, m *metrics.Registry) *Pipeline {
	return &Pipeline{
		hooks:   append([]Hook(nil), hooks...),
		logger:  logging.OrDefault(logger).WithComponent("hooks"),
		metrics: m,
	}
}

// Names returns hook names in execution order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.hooks))
	for i, h := range p.hooks {
		names[i] = h.Name()
	}
	return names
}

// BeforeProcessing runs every hook's BeforeProcessing in order and stops
// at the first error. Facts keep whatever changes earlier hooks made.
func (p *Pipeline) BeforeProcessing(ctx context.Context, f *facts.Facts) error {
	for _, h := range p.hooks {
		start := time.Now()
		err := h.BeforeProcessing(ctx, f)
		p.record(h.Name(), PhaseBeforeProcessing, start, err)
		if err != nil {
			return err
		}
	}
	return nil
}

// BeforeUpdate collects patches and side tables from every hook in
// order. The first error aborts the update.
func (p *Pipeline) BeforeUpdate(ctx context.Context, node registry.Node, ports []registry.Port, f *facts.Facts) (registry.Patch, map[string]any, error) {
	var patch registry.Patch
	side := make(map[string]any)

	for _, h := range p.hooks {
		start := time.Now()
		hp, hs, err := h.BeforeUpdate(ctx, node, ports, f)
		p.record(h.Name(), PhaseBeforeUpdate, start, err)
		if err != nil {
			return nil, nil, err
		}
		patch = append(patch, hp...)
		maps.Copy(side, hs)
	}
	return patch, side, nil
}

func (p *Pipeline) record(name, phase string, start time.Time, err error) {
	if p.metrics != nil {
		p.metrics.RecordHook(name, phase, err)
	}
	if err != nil {
		p.logger.Debug("Hook failed", "hook", name, "phase", phase, "error", err)
		return
	}
	p.logger.Debug("Hook finished", "hook", name, "phase", phase, "duration", time.Since(start))
}
