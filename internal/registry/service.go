package registry

import (
	"context"
	"fmt"
)

// Service is the View used in production: registry calls go to Ironic,
// the active node set comes from the introspection cache.
type Service struct {
	*Ironic
	active ActiveSource
}

// NewService composes an Ironic client with an active node source.
func NewService(ironic *Ironic, active ActiveSource) *Service {
	return &Service{Ironic: ironic, active: active}
}

// ListActiveNodes returns nodes under introspection.
func (s *Service) ListActiveNodes(ctx context.Context) ([]ActiveNode, error) {
	nodes, err := s.active.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active nodes: %w", err)
	}
	return nodes, nil
}

var _ View = (*Service)(nil)
