package registry

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockView is a testify mock of View.
type MockView struct {
	mock.Mock
}

func (m *MockView) ListActiveNodes(ctx context.Context) ([]ActiveNode, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ActiveNode), args.Error(1)
}

func (m *MockView) GetNode(ctx context.Context, uuid string) (Node, error) {
	args := m.Called(ctx, uuid)
	return args.Get(0).(Node), args.Error(1)
}

func (m *MockView) PatchNode(ctx context.Context, uuid string, patch Patch) (Node, error) {
	args := m.Called(ctx, uuid, patch)
	return args.Get(0).(Node), args.Error(1)
}

func (m *MockView) ListPorts(ctx context.Context, nodeUUID string) ([]Port, error) {
	args := m.Called(ctx, nodeUUID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Port), args.Error(1)
}

func (m *MockView) ListAllPorts(ctx context.Context) ([]Port, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Port), args.Error(1)
}

func (m *MockView) DeletePort(ctx context.Context, portUUID string) error {
	return m.Called(ctx, portUUID).Error(0)
}

func (m *MockView) PatchPort(ctx context.Context, portUUID string, patch Patch) (Port, error) {
	args := m.Called(ctx, portUUID, patch)
	return args.Get(0).(Port), args.Error(1)
}

func (m *MockView) CreatePort(ctx context.Context, nodeUUID, address string) (Port, error) {
	args := m.Called(ctx, nodeUUID, address)
	return args.Get(0).(Port), args.Error(1)
}

func (m *MockView) SetBootDevice(ctx context.Context, nodeUUID, device string) error {
	return m.Called(ctx, nodeUUID, device).Error(0)
}

func (m *MockView) SetPowerState(ctx context.Context, nodeUUID, target string) error {
	return m.Called(ctx, nodeUUID, target).Error(0)
}

var _ View = (*MockView)(nil)
