// Package registry is the narrow view of the bare-metal node registry
// that discovery consumes: nodes, their ports, and the set of nodes
// currently under introspection.
package registry

import (
	"context"
	"errors"
)

var (
	// ErrConflict signals that a concurrent mutation raced this one.
	ErrConflict = errors.New("registry: conflict")
	// ErrNotFound signals that the node or port does not exist.
	ErrNotFound = errors.New("registry: not found")
)

// Node is the subset of a node record discovery reads and patches.
type Node struct {
	UUID           string         `json:"uuid"`
	Name           string         `json:"name,omitempty"`
	ProvisionState string         `json:"provision_state,omitempty"`
	PowerState     string         `json:"power_state,omitempty"`
	Maintenance    bool           `json:"maintenance"`
	DriverInfo     map[string]any `json:"driver_info,omitempty"`
	Properties     map[string]any `json:"properties,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// HasProperty reports whether the node already defines key.
func (n Node) HasProperty(key string) bool {
	_, ok := n.Properties[key]
	return ok
}

// Port is a network port attached to a node.
type Port struct {
	UUID     string `json:"uuid"`
	Address  string `json:"address"`
	NodeUUID string `json:"node_uuid,omitempty"`
}

// ActiveNode is a node under introspection together with the hardware
// addresses it is expected to boot from.
type ActiveNode struct {
	UUID              string
	ExpectedAddresses []string
}

// View is everything discovery needs from the registry.
type View interface {
	ListActiveNodes(ctx context.Context) ([]ActiveNode, error)
	GetNode(ctx context.Context, uuid string) (Node, error)
	// PatchNode returns an error wrapping ErrConflict on a concurrent update.
	PatchNode(ctx context.Context, uuid string, patch Patch) (Node, error)
	ListPorts(ctx context.Context, nodeUUID string) ([]Port, error)
	ListAllPorts(ctx context.Context) ([]Port, error)
	DeletePort(ctx context.Context, portUUID string) error
	PatchPort(ctx context.Context, portUUID string, patch Patch) (Port, error)
	CreatePort(ctx context.Context, nodeUUID, address string) (Port, error)
	SetBootDevice(ctx context.Context, nodeUUID, device string) error
	SetPowerState(ctx context.Context, nodeUUID, target string) error
}

// ActiveSource lists nodes under introspection. The node cache
// implements it.
type ActiveSource interface {
	ListActive(ctx context.Context) ([]ActiveNode, error)
}
