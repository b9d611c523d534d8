package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"grimm.is/discoverd/internal/api"
	"grimm.is/discoverd/internal/bmc"
	"grimm.is/discoverd/internal/brand"
	"grimm.is/discoverd/internal/config"
	"grimm.is/discoverd/internal/firewall"
	"grimm.is/discoverd/internal/hooks"
	"grimm.is/discoverd/internal/introspect"
	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/metrics"
	"grimm.is/discoverd/internal/nodecache"
	"grimm.is/discoverd/internal/process"
	"grimm.is/discoverd/internal/registry"
	"grimm.is/discoverd/internal/retry"
	"grimm.is/discoverd/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	var configPath string

	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the discovery service",
		Long: `Run the discovery service: the HTTP API, the ramdisk callback,
the discovery firewall chain and the periodic clean up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	c.Flags().StringVarP(&configPath, "config", "c", brand.GetConfigPath(), "configuration file (HCL or JSON)")
	return c
}

// serve wires every component from cfg and runs until ctx is done.
// Configuration errors surface here, before anything is listening.
func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return &config.ConfigurationError{Field: "logging.level", Message: err.Error()}
	}
	logging.SetDefault(logger)
	log := logging.WithComponent("serve")
	m := metrics.Get()

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	cache, err := nodecache.Open(nodecache.Options{Path: cfg.Database, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to open node cache: %w", err)
	}
	defer cache.Close()

	ironic := registry.NewIronic(cfg.Ironic.URL,
		registry.WithAuthToken(cfg.Ironic.AuthToken),
		registry.WithAPIVersion(cfg.Ironic.APIVersion),
	)
	view := registry.NewService(ironic, cache)

	pipeline, err := hooks.Build(cfg.Processing, hooks.Deps{View: view, Logger: logger, Metrics: m})
	if err != nil {
		return err
	}

	executor, err := firewall.NewIPTables(cfg.Firewall.Command, nil, logger)
	if err != nil {
		return err
	}
	fw, err := firewall.NewManager(firewall.ConfigFrom(cfg.Firewall), executor, view,
		firewall.WithLogger(logger), firewall.WithMetrics(m))
	if err != nil {
		return err
	}
	if err := fw.Init(ctx); err != nil {
		return err
	}

	resolver, err := bmc.NewResolver(cfg.DNS.Server, cfg.DNS.TimeoutDuration(), logger)
	if err != nil {
		return err
	}

	retryCfg := retry.Config{
		Attempts: cfg.Ironic.RetryAttempts,
		Interval: cfg.Ironic.RetryIntervalDuration(),
	}
	intro := introspect.New(view, cache, fw, resolver,
		introspect.WithRetry(retryCfg),
		introspect.WithCredentialSetup(cfg.Processing.EnableSettingIPMICredentials),
		introspect.WithLogger(logger),
		introspect.WithMetrics(m),
	)
	proc := process.New(pipeline, view, cache, fw,
		process.WithRetry(retryCfg),
		process.WithLogger(logger),
		process.WithMetrics(m),
	)

	srv, err := api.NewServer(api.ServerOptions{
		Config:       cfg,
		Introspector: intro,
		Processor:    proc,
		Status:       cache,
		Metrics:      m,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	sched := scheduler.New(logger)
	if fw.Enabled() {
		if err := sched.AddTask(scheduler.NewFirewallUpdateTask(fw, cfg.Firewall.UpdatePeriodDuration())); err != nil {
			return err
		}
	}
	cleanUp := scheduler.NewCleanUpTask(cache, cfg.Processing.TimeoutDuration(), cfg.Processing.CleanUpPeriodDuration(), m, logger)
	if err := sched.AddTask(cleanUp); err != nil {
		return err
	}
	sched.Start()

	log.Info("discoverd starting", "version", brand.Version, "listen", cfg.Listen,
		"hooks", pipeline.Names(), "firewall", fw.Enabled())

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		sched.Stop()
		return fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ServeListener(listener)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error("API server failed", "error", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn("API server shutdown failed", "error", err)
	}
	sched.Stop()
	for _, st := range sched.GetStatus() {
		log.Info("task summary", "task", st.ID, "runs", st.RunCount,
			"errors", st.ErrorCount, "skipped", st.SkipCount, "last_error", st.LastError)
	}
	intro.Wait()
	proc.Wait()
	return serveErr
}
