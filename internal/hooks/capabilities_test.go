package hooks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/discoverd/internal/facts"
	"grimm.is/discoverd/internal/registry"
)

func TestCapabilities(t *testing.T) {
	h := NewCapabilities(nil)
	ctx := context.Background()

	node := registry.Node{UUID: "n1", Properties: map[string]any{"capabilities": "cat:meow,dog:wuff"}}
	patch, _, err := h.BeforeUpdate(ctx, node, nil, &facts.Facts{BootMode: "uefi"})
	require.NoError(t, err)
	assert.Equal(t, registry.Patch{
		registry.Add("/properties/capabilities", "boot_mode:uefi,cat:meow,dog:wuff"),
	}, patch)

	node.Properties["capabilities"] = "boot_mode:uefi"
	patch, _, err = h.BeforeUpdate(ctx, node, nil, &facts.Facts{BootMode: "uefi"})
	require.NoError(t, err)
	assert.Nil(t, patch, "unchanged boot mode needs no patch")

	patch, _, err = h.BeforeUpdate(ctx, registry.Node{UUID: "n2"}, nil, &facts.Facts{})
	require.NoError(t, err)
	assert.Nil(t, patch)
}
