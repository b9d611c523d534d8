// Package introspect starts introspection of enrolled nodes: it records
// the node in the cache, opens the firewall for its MACs and reboots it
// into the discovery ramdisk.
package introspect

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"grimm.is/discoverd/internal/bmc"
	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/metrics"
	"grimm.is/discoverd/internal/registry"
	"grimm.is/discoverd/internal/retry"
)

// CredentialsOption is the node cache option holding requested BMC
// credentials.
const CredentialsOption = "new_ipmi_credentials"

// MaxPasswordLength bounds new BMC passwords.
const MaxPasswordLength = 20

// ProvisionStates are the states a node may be introspected in without
// maintenance mode.
var ProvisionStates = []string{"manageable", "inspecting", "enroll"}

// ErrInvalidInput marks requests rejected before touching the node.
var ErrInvalidInput = errors.New("invalid input")

// Cache is the subset of the node cache used to start introspection.
type Cache interface {
	Add(ctx context.Context, uuid, bmcAddress string, macs []string) error
	Finish(ctx context.Context, uuid, errMsg string) error
	SetOption(ctx context.Context, uuid, name string, value any) error
}

// FilterUpdater refreshes the discovery packet filter.
type FilterUpdater interface {
	UpdateFilters(ctx context.Context) error
}

// Resolver maps BMC host names to addresses.
type Resolver interface {
	Resolve(ctx context.Context, addr string) (string, error)
}

// Credentials are BMC credentials the ramdisk should configure.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Request carries optional introspection parameters.
type Request struct {
	NewIPMIUsername string
	NewIPMIPassword string
}

// Service starts introspection.
type Service struct {
	view     registry.View
	cache    Cache
	filters  FilterUpdater
	resolver Resolver

	retry            retry.Config
	allowCredentials bool
	logger           *logging.Logger
	metrics          *metrics.Registry
	wg               sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithRetry sets the conflict retry policy for power actions.
func WithRetry(cfg retry.Config) Option {
	return func(s *Service) { s.retry = cfg }
}

// WithCredentialSetup allows requests that carry new BMC credentials.
func WithCredentialSetup(enabled bool) Option {
	return func(s *Service) { s.allowCredentials = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a Service. A nil resolver leaves BMC addresses as stored.
func New(view registry.View, cache Cache, filters FilterUpdater, resolver Resolver, opts ...Option) *Service {
	s := &Service{
		view:     view,
		cache:    cache,
		filters:  filters,
		resolver: resolver,
		retry:    retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDefault(s.logger).WithComponent("introspect")
	if s.metrics == nil {
		s.metrics = metrics.Get()
	}
	return s
}

// Introspect validates the node and registers it for introspection. The
// firewall update and power actions continue in the background; Wait
// blocks until they are done.
func (s *Service) Introspect(ctx context.Context, nodeUUID string, req Request) error {
	if _, err := uuid.Parse(nodeUUID); err != nil {
		return fmt.Errorf("%w: invalid UUID value %q", ErrInvalidInput, nodeUUID)
	}

	node, err := s.view.GetNode(ctx, nodeUUID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return fmt.Errorf("cannot find node %s: %w", nodeUUID, err)
		}
		return fmt.Errorf("failed to get node %s: %w", nodeUUID, err)
	}

	if err := checkState(node); err != nil {
		return err
	}

	var creds *Credentials
	if req.NewIPMIPassword != "" || req.NewIPMIUsername != "" {
		if creds, err = s.credentials(node, req); err != nil {
			return err
		}
	}

	address := bmc.Address(node)
	if address != "" && s.resolver != nil {
		resolved, err := s.resolver.Resolve(ctx, address)
		if err != nil {
			return fmt.Errorf("failed to resolve the hostname (%s) for node %s: %w", address, nodeUUID, err)
		}
		address = resolved
	}

	ports, err := s.view.ListPorts(ctx, nodeUUID)
	if err != nil {
		return fmt.Errorf("failed to list ports of node %s: %w", nodeUUID, err)
	}
	macs := make([]string, 0, len(ports))
	for _, p := range ports {
		macs = append(macs, p.Address)
	}

	if err := s.cache.Add(ctx, nodeUUID, address, macs); err != nil {
		return fmt.Errorf("failed to add node %s to cache: %w", nodeUUID, err)
	}
	if creds != nil {
		if err := s.cache.SetOption(ctx, nodeUUID, CredentialsOption, creds); err != nil {
			return err
		}
	}
	s.metrics.RecordIntrospection("started")

	log := s.logger.WithNode(nodeUUID, address)
	log.Info("introspection started", "macs", macs)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.background(context.WithoutCancel(ctx), log, nodeUUID, macs, creds != nil)
	}()
	return nil
}

// Wait blocks until background work of started introspections is done.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) background(ctx context.Context, log *logging.Logger, nodeUUID string, macs []string, manual bool) {
	if len(macs) > 0 {
		if err := s.filters.UpdateFilters(ctx); err != nil {
			log.Warn("failed to update filters", "error", err)
		}
	}

	if manual {
		log.Info("introspection environment is ready for manual power on")
		return
	}

	err := retry.OnConflict(ctx, s.retry, func() error {
		return s.view.SetBootDevice(ctx, nodeUUID, registry.BootDevicePXE)
	})
	if err != nil {
		log.Warn("failed to set boot device to PXE", "error", err)
	}

	err = retry.OnConflict(ctx, s.retry, func() error {
		return s.view.SetPowerState(ctx, nodeUUID, registry.PowerReboot)
	})
	if err != nil {
		msg := fmt.Sprintf("Failed to power on node %s, check its power management configuration: %v", nodeUUID, err)
		log.Error(msg)
		if ferr := s.cache.Finish(ctx, nodeUUID, msg); ferr != nil {
			log.Error("failed to record introspection failure", "error", ferr)
		}
		s.metrics.RecordIntrospection("failed")
		return
	}
	log.Info("introspection environment is ready, node is rebooting")
}

func checkState(node registry.Node) error {
	if node.Maintenance || node.ProvisionState == "" {
		return nil
	}
	if !slices.Contains(ProvisionStates, strings.ToLower(node.ProvisionState)) {
		return fmt.Errorf("%w: refusing to introspect node %s with provision state %q and maintenance mode off",
			ErrInvalidInput, node.UUID, node.ProvisionState)
	}
	return nil
}

func (s *Service) credentials(node registry.Node, req Request) (*Credentials, error) {
	if !s.allowCredentials {
		return nil, fmt.Errorf("%w: IPMI credentials setup is disabled in configuration", ErrInvalidInput)
	}

	username := req.NewIPMIUsername
	if username == "" {
		username, _ = node.DriverInfo["ipmi_username"].(string)
	}
	if username == "" {
		return nil, fmt.Errorf("%w: setting IPMI credentials requested for node %s, but neither new user name nor driver_info[ipmi_username] are provided",
			ErrInvalidInput, node.UUID)
	}

	password := req.NewIPMIPassword
	for _, r := range password {
		if !isAlnum(r) {
			return nil, fmt.Errorf("%w: forbidden characters encountered in new IPMI password; use only letters and numbers", ErrInvalidInput)
		}
	}
	if len(password) == 0 || len(password) > MaxPasswordLength {
		return nil, fmt.Errorf("%w: IPMI password length should be > 0 and <= %d", ErrInvalidInput, MaxPasswordLength)
	}
	return &Credentials{Username: username, Password: password}, nil
}

func isAlnum(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9'
}
