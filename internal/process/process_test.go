package process

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"grimm.is/discoverd/internal/config"
	"grimm.is/discoverd/internal/facts"
	"grimm.is/discoverd/internal/hooks"
	"grimm.is/discoverd/internal/introspect"
	"grimm.is/discoverd/internal/metrics"
	"grimm.is/discoverd/internal/nodecache"
	"grimm.is/discoverd/internal/registry"
	"grimm.is/discoverd/internal/retry"
)

const (
	nodeID = "1a2b3c4d-0000-4000-8000-000000000001"
	bmcIP  = "10.0.0.5"
	mac    = "aa:bb:cc:dd:ee:ff"
)

type fakeFilters struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeFilters) UpdateFilters(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

// portHook asks for a port patch through the side table.
type portHook struct {
	hooks.Base
}

func (portHook) Name() string { return "port_hook" }

func (portHook) BeforeUpdate(context.Context, registry.Node, []registry.Port, *facts.Facts) (registry.Patch, map[string]any, error) {
	return nil, map[string]any{
		"AA:BB:CC:DD:EE:FF": registry.Patch{registry.Add("/extra/seen", true)},
	}, nil
}

type fixture struct {
	proc    *Processor
	view    *registry.MockView
	cache   *nodecache.Cache
	filters *fakeFilters
	metrics *metrics.Registry
}

func newFixture(t *testing.T, extra ...hooks.Hook) *fixture {
	t.Helper()
	cache, err := nodecache.Open(nodecache.Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	view := &registry.MockView{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, reg)

	vi, err := hooks.NewValidateInterfaces(config.AddPortsActive, config.KeepPortsAll, view, nil)
	require.NoError(t, err)
	all := append([]hooks.Hook{
		hooks.NewRamdiskError("", false, nil, nil),
		hooks.NewSchedulerProperties(false, nil),
		vi,
	}, extra...)
	pipeline := hooks.NewPipeline(all, nil, m)

	f := &fixture{
		view:    view,
		cache:   cache,
		filters: &fakeFilters{},
		metrics: m,
	}
	f.proc = New(pipeline, view, cache, f.filters,
		WithMetrics(m),
		WithRetry(retry.Config{Attempts: 3, Interval: time.Millisecond}))
	return f
}

func report() *facts.Facts {
	return &facts.Facts{
		CPUs:        4,
		CPUArch:     "x86_64",
		MemoryMB:    8192,
		LocalGB:     100,
		IPMIAddress: bmcIP,
		Interfaces: map[string]facts.Interface{
			"eth0": {MAC: "AA:BB:CC:DD:EE:FF", IP: "192.0.2.10"},
			"eth1": {MAC: "11:22:33:44:55:66"},
		},
	}
}

func counter(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func (f *fixture) expectNode(t *testing.T) {
	t.Helper()
	require.NoError(t, f.cache.Add(context.Background(), nodeID, bmcIP, nil))
	f.view.On("GetNode", mock.Anything, nodeID).Return(registry.Node{UUID: nodeID}, nil)
	f.view.On("ListPorts", mock.Anything, nodeID).
		Return([]registry.Port{{UUID: "p1", Address: mac, NodeUUID: nodeID}}, nil)
}

func TestProcess_Success(t *testing.T) {
	f := newFixture(t)
	f.expectNode(t)

	var patched registry.Patch
	f.view.On("CreatePort", mock.Anything, nodeID, "AA:BB:CC:DD:EE:FF").Return(registry.Port{UUID: "p1"}, nil)
	f.view.On("PatchNode", mock.Anything, nodeID, mock.Anything).
		Run(func(args mock.Arguments) { patched = args.Get(2).(registry.Patch) }).
		Return(registry.Node{UUID: nodeID}, nil)
	f.view.On("SetPowerState", mock.Anything, nodeID, registry.PowerOff).Return(nil)

	res, err := f.proc.Process(context.Background(), report())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	f.proc.Wait()

	assert.Equal(t, registry.Patch{
		registry.Add("/properties/cpus", "4"),
		registry.Add("/properties/cpu_arch", "x86_64"),
		registry.Add("/properties/memory_mb", "8192"),
		registry.Add("/properties/local_gb", "100"),
	}, patched)

	st, err := f.cache.Status(context.Background(), nodeID)
	require.NoError(t, err)
	assert.True(t, st.Finished())
	assert.Empty(t, st.Error)
	assert.Equal(t, 1, f.filters.calls)
	f.view.AssertExpectations(t)
	f.view.AssertNotCalled(t, "CreatePort", mock.Anything, nodeID, "11:22:33:44:55:66")
}

func TestProcess_ExistingPortAndConflictRetry(t *testing.T) {
	f := newFixture(t)
	f.expectNode(t)

	f.view.On("CreatePort", mock.Anything, nodeID, "AA:BB:CC:DD:EE:FF").
		Return(registry.Port{}, &registry.HTTPError{StatusCode: 409, Message: "exists"})
	f.view.On("PatchNode", mock.Anything, nodeID, mock.Anything).
		Return(registry.Node{}, &registry.HTTPError{StatusCode: 409, Message: "locked"}).Twice()
	f.view.On("PatchNode", mock.Anything, nodeID, mock.Anything).Return(registry.Node{UUID: nodeID}, nil).Once()
	f.view.On("SetPowerState", mock.Anything, nodeID, registry.PowerOff).Return(nil)

	_, err := f.proc.Process(context.Background(), report())
	require.NoError(t, err)
	f.proc.Wait()

	f.view.AssertNumberOfCalls(t, "PatchNode", 3)
	assert.Equal(t, 2.0, counter(t, f.metrics.RegistryConflicts))
}

func TestProcess_ConflictsExhausted(t *testing.T) {
	f := newFixture(t)
	f.expectNode(t)

	f.view.On("CreatePort", mock.Anything, nodeID, mock.Anything).Return(registry.Port{}, nil)
	f.view.On("PatchNode", mock.Anything, nodeID, mock.Anything).
		Return(registry.Node{}, &registry.HTTPError{StatusCode: 409, Message: "locked"})

	_, err := f.proc.Process(context.Background(), report())
	require.ErrorIs(t, err, registry.ErrConflict)
	f.view.AssertNumberOfCalls(t, "PatchNode", 3)

	st, err := f.cache.Status(context.Background(), nodeID)
	require.NoError(t, err)
	assert.Contains(t, st.Error, "failed to update node")
}

func TestProcess_ValidationFailureRecorded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.Add(context.Background(), nodeID, bmcIP, nil))

	r := report()
	r.CPUs = 0
	_, err := f.proc.Process(context.Background(), r)

	var verr *hooks.ValidationError
	require.True(t, errors.As(err, &verr))

	st, err := f.cache.Status(context.Background(), nodeID)
	require.NoError(t, err)
	assert.True(t, st.Finished())
	assert.Equal(t, "The following required parameters are missing: [cpus]", st.Error)
	f.view.AssertNotCalled(t, "GetNode", mock.Anything, mock.Anything)
}

func TestProcess_RamdiskErrorRecorded(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.Add(context.Background(), nodeID, bmcIP, nil))

	r := report()
	r.Error = "boom"
	_, err := f.proc.Process(context.Background(), r)
	require.Error(t, err)

	st, err := f.cache.Status(context.Background(), nodeID)
	require.NoError(t, err)
	assert.Equal(t, "Ramdisk reported error: boom", st.Error)
}

func TestProcess_UnknownNode(t *testing.T) {
	f := newFixture(t)

	_, err := f.proc.Process(context.Background(), report())
	assert.ErrorIs(t, err, nodecache.ErrNotFound)
	assert.Contains(t, err.Error(), "could not find a node")
}

func TestProcess_NodeGoneFromRegistry(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.Add(context.Background(), nodeID, bmcIP, nil))
	f.view.On("GetNode", mock.Anything, nodeID).
		Return(registry.Node{}, &registry.HTTPError{StatusCode: 404, Message: "gone"})

	_, err := f.proc.Process(context.Background(), report())
	assert.ErrorIs(t, err, registry.ErrNotFound)

	st, err := f.cache.Status(context.Background(), nodeID)
	require.NoError(t, err)
	assert.Contains(t, st.Error, "was found in cache, but is not found in the registry")
}

func TestProcess_PowerOffFailure(t *testing.T) {
	f := newFixture(t)
	f.expectNode(t)

	f.view.On("CreatePort", mock.Anything, nodeID, mock.Anything).Return(registry.Port{}, nil)
	f.view.On("PatchNode", mock.Anything, nodeID, mock.Anything).Return(registry.Node{UUID: nodeID}, nil)
	f.view.On("SetPowerState", mock.Anything, nodeID, registry.PowerOff).Return(errors.New("bmc unreachable"))

	_, err := f.proc.Process(context.Background(), report())
	require.NoError(t, err)
	f.proc.Wait()

	st, err := f.cache.Status(context.Background(), nodeID)
	require.NoError(t, err)
	assert.Equal(t, "failed to power off node "+nodeID+" after introspection: bmc unreachable", st.Error)
}

func TestProcess_Credentials(t *testing.T) {
	f := newFixture(t)
	f.expectNode(t)
	require.NoError(t, f.cache.SetOption(context.Background(), nodeID, introspect.CredentialsOption,
		introspect.Credentials{Username: "admin", Password: "secret"}))

	var patched registry.Patch
	f.view.On("CreatePort", mock.Anything, nodeID, mock.Anything).Return(registry.Port{}, nil)
	f.view.On("PatchNode", mock.Anything, nodeID, mock.Anything).
		Run(func(args mock.Arguments) { patched = args.Get(2).(registry.Patch) }).
		Return(registry.Node{UUID: nodeID}, nil)

	res, err := f.proc.Process(context.Background(), report())
	require.NoError(t, err)
	f.proc.Wait()

	assert.Equal(t, Result{IPMISetupCredentials: true, IPMIUsername: "admin", IPMIPassword: "secret"}, res)
	assert.Contains(t, patched, registry.Add("/driver_info/ipmi_username", "admin"))
	assert.Contains(t, patched, registry.Add("/driver_info/ipmi_password", "secret"))
	f.view.AssertNotCalled(t, "SetPowerState", mock.Anything, mock.Anything, mock.Anything)

	st, err := f.cache.Status(context.Background(), nodeID)
	require.NoError(t, err)
	assert.True(t, st.Finished())
}

func TestProcess_PortPatchesFromSideTable(t *testing.T) {
	f := newFixture(t, portHook{})
	f.expectNode(t)

	f.view.On("CreatePort", mock.Anything, nodeID, mock.Anything).Return(registry.Port{}, nil)
	f.view.On("PatchNode", mock.Anything, nodeID, mock.Anything).Return(registry.Node{UUID: nodeID}, nil)
	f.view.On("PatchPort", mock.Anything, "p1", registry.Patch{registry.Add("/extra/seen", true)}).
		Return(registry.Port{UUID: "p1"}, nil)
	f.view.On("SetPowerState", mock.Anything, nodeID, registry.PowerOff).Return(nil)

	_, err := f.proc.Process(context.Background(), report())
	require.NoError(t, err)
	f.proc.Wait()

	f.view.AssertCalled(t, "PatchPort", mock.Anything, "p1", registry.Patch{registry.Add("/extra/seen", true)})
}
