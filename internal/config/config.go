package config

import (
	"time"

	"grimm.is/discoverd/internal/brand"
)

// CurrentSchemaVersion defines the current schema version of the configuration.
const CurrentSchemaVersion = "1.0"

// Interface inclusion policies for processing.add_ports.
const (
	AddPortsAll    = "all"
	AddPortsPXE    = "pxe"
	AddPortsActive = "active"
)

// Port retention policies for processing.keep_ports.
const (
	KeepPortsAll      = "all"
	KeepPortsDisabled = "disabled"
	KeepPortsPresent  = "present"
	KeepPortsAdded    = "added"
)

var (
	ValidAddPorts  = []string{AddPortsAll, AddPortsPXE, AddPortsActive}
	ValidKeepPorts = []string{KeepPortsAll, KeepPortsDisabled, KeepPortsPresent, KeepPortsAdded}

	// DefaultHooks is the processing order used when none is configured.
	DefaultHooks = []string{"ramdisk_error", "scheduler", "validate_interfaces"}
)

// Config is the top-level structure for the discoverd configuration.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`

	Listen       string `hcl:"listen,optional" json:"listen,omitempty"`
	Database     string `hcl:"database,optional" json:"database,omitempty"`
	Authenticate bool   `hcl:"authenticate,optional" json:"authenticate"`

	Processing *Processing `hcl:"processing,block" json:"processing,omitempty"`
	Firewall   *Firewall   `hcl:"firewall,block" json:"firewall,omitempty"`
	Ironic     *Ironic     `hcl:"ironic,block" json:"ironic,omitempty"`
	DNS        *DNS        `hcl:"dns,block" json:"dns,omitempty"`
	Logging    *Logging    `hcl:"logging,block" json:"logging,omitempty"`
	Metrics    *Metrics    `hcl:"metrics,block" json:"metrics,omitempty"`
}

// Processing configures the hook pipeline.
type Processing struct {
	Hooks                  []string `hcl:"hooks,optional" json:"hooks,omitempty"`
	AddPorts               string   `hcl:"add_ports,optional" json:"add_ports,omitempty"`
	KeepPorts              string   `hcl:"keep_ports,optional" json:"keep_ports,omitempty"`
	OverwriteExisting      bool     `hcl:"overwrite_existing,optional" json:"overwrite_existing"`
	AlwaysStoreRamdiskLogs bool     `hcl:"always_store_ramdisk_logs,optional" json:"always_store_ramdisk_logs"`
	RamdiskLogsDir         string   `hcl:"ramdisk_logs_dir,optional" json:"ramdisk_logs_dir,omitempty"`
	Timeout                string   `hcl:"timeout,optional" json:"timeout,omitempty"`
	CleanUpPeriod          string   `hcl:"clean_up_period,optional" json:"clean_up_period,omitempty"`

	// EnableSettingIPMICredentials lets introspection requests carry new
	// BMC credentials for the ramdisk to apply.
	EnableSettingIPMICredentials bool `hcl:"enable_setting_ipmi_credentials,optional" json:"enable_setting_ipmi_credentials"`

	// Deprecated: use add_ports = "all".
	PortsForInactiveInterfaces bool `hcl:"ports_for_inactive_interfaces,optional" json:"ports_for_inactive_interfaces,omitempty"`
}

// Firewall configures the discovery packet-filter chain.
type Firewall struct {
	Enabled      *bool    `hcl:"enabled,optional" json:"enabled,omitempty"`
	Interface    string   `hcl:"interface,optional" json:"interface,omitempty"`
	Command      []string `hcl:"command,optional" json:"command,omitempty"`
	UpdatePeriod string   `hcl:"update_period,optional" json:"update_period,omitempty"`
}

// Ironic configures the node registry endpoint.
type Ironic struct {
	URL           string `hcl:"url,optional" json:"url,omitempty"`
	AuthToken     string `hcl:"auth_token,optional" json:"auth_token,omitempty"`
	APIVersion    string `hcl:"api_version,optional" json:"api_version,omitempty"`
	RetryAttempts int    `hcl:"retry_attempts,optional" json:"retry_attempts,omitempty"`
	RetryInterval string `hcl:"retry_interval,optional" json:"retry_interval,omitempty"`
}

// DNS configures BMC host name resolution.
type DNS struct {
	Server  string `hcl:"server,optional" json:"server,omitempty"`
	Timeout string `hcl:"timeout,optional" json:"timeout,omitempty"`
}

// Logging configures the process logger.
type Logging struct {
	Level string `hcl:"level,optional" json:"level,omitempty"`
	JSON  bool   `hcl:"json,optional" json:"json"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled *bool  `hcl:"enabled,optional" json:"enabled,omitempty"`
	Path    string `hcl:"path,optional" json:"path,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with defaults. Blocks absent from the
// file are created so callers never nil-check them.
func (c *Config) ApplyDefaults() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = CurrentSchemaVersion
	}
	if c.Listen == "" {
		c.Listen = "0.0.0.0:5050"
	}
	if c.Database == "" {
		c.Database = brand.GetDatabasePath()
	}

	if c.Processing == nil {
		c.Processing = &Processing{}
	}
	p := c.Processing
	if len(p.Hooks) == 0 {
		p.Hooks = append([]string(nil), DefaultHooks...)
	}
	if p.AddPorts == "" {
		p.AddPorts = AddPortsActive
	}
	if p.KeepPorts == "" {
		p.KeepPorts = KeepPortsAll
	}
	p.Timeout = orDefault(p.Timeout, "1h")
	p.CleanUpPeriod = orDefault(p.CleanUpPeriod, "60s")

	if c.Firewall == nil {
		c.Firewall = &Firewall{}
	}
	f := c.Firewall
	if f.Enabled == nil {
		enabled := true
		f.Enabled = &enabled
	}
	f.Interface = orDefault(f.Interface, "br-ctlplane")
	if len(f.Command) == 0 {
		f.Command = []string{"iptables"}
	}
	f.UpdatePeriod = orDefault(f.UpdatePeriod, "15s")

	if c.Ironic == nil {
		c.Ironic = &Ironic{}
	}
	i := c.Ironic
	i.URL = orDefault(i.URL, "http://127.0.0.1:6385")
	i.APIVersion = orDefault(i.APIVersion, "1.6")
	if i.RetryAttempts <= 0 {
		i.RetryAttempts = 10
	}
	i.RetryInterval = orDefault(i.RetryInterval, "2s")

	if c.DNS == nil {
		c.DNS = &DNS{}
	}
	c.DNS.Timeout = orDefault(c.DNS.Timeout, "5s")

	if c.Logging == nil {
		c.Logging = &Logging{}
	}
	c.Logging.Level = orDefault(c.Logging.Level, "info")

	if c.Metrics == nil {
		c.Metrics = &Metrics{}
	}
	if c.Metrics.Enabled == nil {
		enabled := true
		c.Metrics.Enabled = &enabled
	}
	c.Metrics.Path = orDefault(c.Metrics.Path, "/metrics")
}

// EffectiveAddPorts returns the inclusion policy after honoring the
// deprecated ports_for_inactive_interfaces flag.
func (p *Processing) EffectiveAddPorts() string {
	if p.PortsForInactiveInterfaces {
		return AddPortsAll
	}
	return p.AddPorts
}

// TimeoutDuration returns how long a node may stay in introspection.
func (p *Processing) TimeoutDuration() time.Duration {
	return durationOr(p.Timeout, time.Hour)
}

// CleanUpPeriodDuration returns how often timed out nodes are swept.
func (p *Processing) CleanUpPeriodDuration() time.Duration {
	return durationOr(p.CleanUpPeriod, time.Minute)
}

// IsEnabled reports whether the discovery chain is managed.
func (f *Firewall) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// UpdatePeriodDuration returns the periodic filter refresh interval.
func (f *Firewall) UpdatePeriodDuration() time.Duration {
	return durationOr(f.UpdatePeriod, 15*time.Second)
}

// RetryIntervalDuration returns the fixed sleep between conflict retries.
func (i *Ironic) RetryIntervalDuration() time.Duration {
	return durationOr(i.RetryInterval, 2*time.Second)
}

// TimeoutDuration returns the DNS query timeout.
func (d *DNS) TimeoutDuration() time.Duration {
	return durationOr(d.Timeout, 5*time.Second)
}

// IsEnabled reports whether /metrics is served.
func (m *Metrics) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

func orDefault(a, b string) string {
	if a == "" {
		return b
	}
	return a
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
