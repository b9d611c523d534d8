package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/discoverd/internal/facts"
	"grimm.is/discoverd/internal/registry"
)

func TestRootDeviceHint_LocalGB(t *testing.T) {
	h := NewRootDeviceHint(nil)

	f := &facts.Facts{}
	require.NoError(t, h.BeforeProcessing(context.Background(), f))
	assert.Equal(t, 1, f.LocalGB)

	f = &facts.Facts{LocalGB: 42}
	require.NoError(t, h.BeforeProcessing(context.Background(), f))
	assert.Equal(t, 42, f.LocalGB)
}

func TestRootDeviceHint_BeforeUpdate(t *testing.T) {
	devices := func(serials ...string) *facts.Facts {
		return &facts.Facts{BlockDevices: &facts.BlockDevices{Serials: serials}}
	}
	withExtra := func(serials ...any) registry.Node {
		return registry.Node{
			UUID:  "n1",
			Extra: map[string]any{"block_devices": map[string]any{"serials": serials}},
		}
	}

	tests := []struct {
		name string
		node registry.Node
		f    *facts.Facts
		want registry.Patch
	}{
		{
			name: "first run stores serials",
			node: registry.Node{UUID: "n1"},
			f:    devices("foo", "bar"),
			want: registry.Patch{registry.Add("/extra/block_devices", &facts.BlockDevices{Serials: []string{"foo", "bar"}})},
		},
		{
			name: "one new device",
			node: withExtra("foo", "bar"),
			f:    devices("foo", "baz"),
			want: registry.Patch{
				registry.Remove("/extra/block_devices"),
				registry.Add("/properties/root_device", map[string]string{"serial": "baz"}),
			},
		},
		{
			name: "root device already known",
			node: registry.Node{UUID: "n1", Properties: map[string]any{"root_device": map[string]any{"serial": "foo"}}},
			f:    devices("foo", "baz"),
		},
		{
			name: "multiple new devices",
			node: withExtra("foo", "bar"),
			f:    devices("foo", "baz", "qux"),
		},
		{
			name: "no new devices",
			node: withExtra("foo", "bar"),
			f:    devices("foo", "bar"),
		},
		{
			name: "no block devices reported",
			node: withExtra("foo"),
			f:    &facts.Facts{},
		},
	}

	h := NewRootDeviceHint(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch, _, err := h.BeforeUpdate(context.Background(), tt.node, nil, tt.f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, patch)
		})
	}
}
