package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/discoverd/internal/facts"
	"grimm.is/discoverd/internal/registry"
)

func schedulerFacts() *facts.Facts {
	return &facts.Facts{CPUs: 2, CPUArch: "x86_64", MemoryMB: 1024, LocalGB: 20}
}

func TestSchedulerProperties_Missing(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*facts.Facts)
		message string
	}{
		{"one", func(f *facts.Facts) { f.CPUs = 0 }, "The following required parameters are missing: [cpus]"},
		{"two", func(f *facts.Facts) { f.CPUArch = ""; f.LocalGB = 0 }, "The following required parameters are missing: [cpu_arch, local_gb]"},
		{"all", func(f *facts.Facts) { *f = facts.Facts{} }, "The following required parameters are missing: [cpus, cpu_arch, memory_mb, local_gb]"},
	}

	h := NewSchedulerProperties(false, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := schedulerFacts()
			tt.modify(f)

			err := h.BeforeProcessing(context.Background(), f)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.message, verr.Message)
		})
	}
}

func TestSchedulerProperties_Complete(t *testing.T) {
	h := NewSchedulerProperties(false, nil)
	assert.NoError(t, h.BeforeProcessing(context.Background(), schedulerFacts()))
}

func TestSchedulerProperties_PatchNoOverwrite(t *testing.T) {
	h := NewSchedulerProperties(false, nil)
	node := registry.Node{UUID: "n1", Properties: map[string]any{"cpus": "2", "memory_mb": ""}}

	patch, side, err := h.BeforeUpdate(context.Background(), node, nil, schedulerFacts())
	require.NoError(t, err)
	assert.Nil(t, side)
	assert.Equal(t, registry.Patch{
		registry.Add("/properties/cpu_arch", "x86_64"),
		registry.Add("/properties/memory_mb", "1024"),
		registry.Add("/properties/local_gb", "20"),
	}, patch)
}

func TestSchedulerProperties_PatchOverwrite(t *testing.T) {
	h := NewSchedulerProperties(true, nil)
	node := registry.Node{UUID: "n1", Properties: map[string]any{"cpus": "8"}}

	patch, _, err := h.BeforeUpdate(context.Background(), node, nil, schedulerFacts())
	require.NoError(t, err)
	assert.Equal(t, registry.Patch{
		registry.Add("/properties/cpus", "2"),
		registry.Add("/properties/cpu_arch", "x86_64"),
		registry.Add("/properties/memory_mb", "1024"),
		registry.Add("/properties/local_gb", "20"),
	}, patch)
}
