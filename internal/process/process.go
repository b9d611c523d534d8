// Package process handles ramdisk reports: it runs the hook pipeline,
// matches the report to a node under introspection and applies the
// resulting patches to the registry.
package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"grimm.is/discoverd/internal/facts"
	"grimm.is/discoverd/internal/hooks"
	"grimm.is/discoverd/internal/introspect"
	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/metrics"
	"grimm.is/discoverd/internal/registry"
	"grimm.is/discoverd/internal/retry"
)

// Cache is the subset of the node cache used while processing.
type Cache interface {
	Find(ctx context.Context, bmcAddress string, macs []string) (string, error)
	Finish(ctx context.Context, uuid, errMsg string) error
	Lock(uuid string) (unlock func())
	Option(ctx context.Context, uuid, name string, dst any) (bool, error)
}

// Result is returned to the ramdisk. It asks the ramdisk to configure
// BMC credentials when they were requested with the introspection.
type Result struct {
	IPMISetupCredentials bool   `json:"ipmi_setup_credentials,omitempty"`
	IPMIUsername         string `json:"ipmi_username,omitempty"`
	IPMIPassword         string `json:"ipmi_password,omitempty"`
}

// Processor applies ramdisk reports.
type Processor struct {
	pipeline *hooks.Pipeline
	view     registry.View
	cache    Cache
	filters  introspect.FilterUpdater

	retry   retry.Config
	logger  *logging.Logger
	metrics *metrics.Registry
	wg      sync.WaitGroup
}

// Option configures a Processor.
type Option func(*Processor)

// WithRetry sets the conflict retry policy for registry writes.
func WithRetry(cfg retry.Config) Option {
	return func(p *Processor) { p.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(p *Processor) { p.metrics = m }
}

// New creates a Processor.
func New(pipeline *hooks.Pipeline, view registry.View, cache Cache, filters introspect.FilterUpdater, opts ...Option) *Processor {
	p := &Processor{
		pipeline: pipeline,
		view:     view,
		cache:    cache,
		filters:  filters,
		retry:    retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrDefault(p.logger).WithComponent("process")
	if p.metrics == nil {
		p.metrics = metrics.Get()
	}
	return p
}

// Process handles one report. Failures after the node is identified are
// recorded as the introspection error. The final power off runs in the
// background; Wait blocks until it is done.
func (p *Processor) Process(ctx context.Context, f *facts.Facts) (Result, error) {
	if err := p.pipeline.BeforeProcessing(ctx, f); err != nil {
		p.failUnmatched(ctx, f, err)
		return Result{}, err
	}

	nodeUUID, err := p.cache.Find(ctx, f.IPMIAddress, f.MACs)
	if err != nil {
		return Result{}, fmt.Errorf("could not find a node for bmc_address=%s macs=%v: %w", f.BMCAddress(), f.MACs, err)
	}

	unlock := p.cache.Lock(nodeUUID)
	defer unlock()

	log := p.logger.WithNode(nodeUUID, f.IPMIAddress)

	node, err := p.view.GetNode(ctx, nodeUUID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			err = fmt.Errorf("node %s was found in cache, but is not found in the registry: %w", nodeUUID, err)
		} else {
			err = fmt.Errorf("failed to get node %s: %w", nodeUUID, err)
		}
		p.fail(ctx, log, nodeUUID, err)
		return Result{}, err
	}

	res, err := p.processNode(ctx, log, node, f)
	if err != nil {
		p.fail(ctx, log, nodeUUID, err)
		return Result{}, err
	}
	return res, nil
}

// Wait blocks until background power off of processed nodes is done.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) processNode(ctx context.Context, log *logging.Logger, node registry.Node, f *facts.Facts) (Result, error) {
	for _, mac := range f.MACs {
		_, err := p.view.CreatePort(ctx, node.UUID, mac)
		if errors.Is(err, registry.ErrConflict) {
			log.Warn("MAC from introspection data already exists in the registry, skipping", "mac", mac)
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("failed to create port %s for node %s: %w", mac, node.UUID, err)
		}
	}

	ports, err := p.view.ListPorts(ctx, node.UUID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list ports of node %s: %w", node.UUID, err)
	}

	patch, side, err := p.pipeline.BeforeUpdate(ctx, node, ports, f)
	if err != nil {
		return Result{}, err
	}

	var creds introspect.Credentials
	setCredentials, err := p.cache.Option(ctx, node.UUID, introspect.CredentialsOption, &creds)
	if err != nil {
		return Result{}, err
	}
	if setCredentials {
		patch = append(patch,
			registry.Add("/driver_info/ipmi_username", creds.Username),
			registry.Add("/driver_info/ipmi_password", creds.Password))
	}

	if len(patch) > 0 {
		err := retry.OnConflict(ctx, p.retry, func() error {
			_, err := p.view.PatchNode(ctx, node.UUID, patch)
			p.countConflict(err)
			return err
		})
		if err != nil {
			return Result{}, fmt.Errorf("failed to update node %s: %w", node.UUID, err)
		}
	}

	if err := p.patchPorts(ctx, ports, side); err != nil {
		return Result{}, err
	}
	log.Debug("node updated with introspection data", "patch", len(patch), "port_patches", len(side))

	if err := p.filters.UpdateFilters(ctx); err != nil {
		log.Warn("failed to update filters", "error", err)
	}

	if setCredentials {
		if err := p.cache.Finish(ctx, node.UUID, ""); err != nil {
			return Result{}, err
		}
		p.metrics.RecordIntrospection("finished")
		log.Info("introspection finished, ramdisk will set new BMC credentials")
		return Result{
			IPMISetupCredentials: true,
			IPMIUsername:         creds.Username,
			IPMIPassword:         creds.Password,
		}, nil
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.finish(context.WithoutCancel(ctx), log, node.UUID)
	}()
	return Result{}, nil
}

// patchPorts applies side table entries of type registry.Patch to the
// port with the matching address.
func (p *Processor) patchPorts(ctx context.Context, ports []registry.Port, side map[string]any) error {
	for mac, v := range side {
		patch, ok := v.(registry.Patch)
		if !ok || len(patch) == 0 {
			continue
		}
		for _, port := range ports {
			if !strings.EqualFold(port.Address, mac) {
				continue
			}
			err := retry.OnConflict(ctx, p.retry, func() error {
				_, err := p.view.PatchPort(ctx, port.UUID, patch)
				p.countConflict(err)
				return err
			})
			if err != nil {
				return fmt.Errorf("failed to update port %s: %w", port.UUID, err)
			}
		}
	}
	return nil
}

func (p *Processor) finish(ctx context.Context, log *logging.Logger, nodeUUID string) {
	unlock := p.cache.Lock(nodeUUID)
	defer unlock()

	log.Debug("forcing power off")
	err := retry.OnConflict(ctx, p.retry, func() error {
		err := p.view.SetPowerState(ctx, nodeUUID, registry.PowerOff)
		p.countConflict(err)
		return err
	})
	if err != nil {
		p.fail(ctx, log, nodeUUID, fmt.Errorf("failed to power off node %s after introspection: %w", nodeUUID, err))
		return
	}

	if err := p.cache.Finish(ctx, nodeUUID, ""); err != nil {
		log.Error("failed to record introspection result", "error", err)
		return
	}
	p.metrics.RecordIntrospection("finished")
	log.Info("introspection finished successfully")
}

// fail records err as the introspection result.
func (p *Processor) fail(ctx context.Context, log *logging.Logger, nodeUUID string, err error) {
	log.Error("introspection failed", "error", err)
	if ferr := p.cache.Finish(ctx, nodeUUID, err.Error()); ferr != nil {
		log.Error("failed to record introspection failure", "error", ferr)
	}
	p.metrics.RecordIntrospection("failed")
}

// failUnmatched records a pipeline failure against the node the report
// came from, when it can be identified.
func (p *Processor) failUnmatched(ctx context.Context, f *facts.Facts, err error) {
	nodeUUID, ferr := p.cache.Find(ctx, f.IPMIAddress, f.AllMACs())
	if ferr != nil {
		p.logger.Warn("processing failed for unidentified node", "bmc", f.BMCAddress(), "error", err)
		return
	}
	unlock := p.cache.Lock(nodeUUID)
	defer unlock()
	p.fail(ctx, p.logger.WithNode(nodeUUID, f.IPMIAddress), nodeUUID, err)
}

func (p *Processor) countConflict(err error) {
	if registry.IsConflict(err) {
		p.metrics.RecordConflict()
	}
}
