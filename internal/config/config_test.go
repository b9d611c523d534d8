package config

import (
	"testing"
	"time"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); errs.HasErrors() {
		t.Fatalf("default config should validate: %v", errs)
	}
}

func TestEffectiveAddPorts(t *testing.T) {
	p := &Processing{AddPorts: AddPortsPXE}
	if got := p.EffectiveAddPorts(); got != AddPortsPXE {
		t.Errorf("EffectiveAddPorts() = %q, want pxe", got)
	}

	p.PortsForInactiveInterfaces = true
	if got := p.EffectiveAddPorts(); got != AddPortsAll {
		t.Errorf("deprecated flag should force %q, got %q", AddPortsAll, got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"bad listen", func(c *Config) { c.Listen = "nope" }, "listen"},
		{"bad timeout", func(c *Config) { c.Processing.Timeout = "soon" }, "processing.timeout"},
		{"negative period", func(c *Config) { c.Firewall.UpdatePeriod = "-1s" }, "firewall.update_period"},
		{"no interface", func(c *Config) { c.Firewall.Interface = "" }, "firewall.interface"},
		{"bad url", func(c *Config) { c.Ironic.URL = "ironic" }, "ironic.url"},
		{"zero attempts", func(c *Config) { c.Ironic.RetryAttempts = 0 }, "ironic.retry_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("expected 1 error, got %v", errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestDurations_FallBack(t *testing.T) {
	f := &Firewall{UpdatePeriod: "garbage"}
	if f.UpdatePeriodDuration() != 15*time.Second {
		t.Errorf("UpdatePeriodDuration() = %v", f.UpdatePeriodDuration())
	}
}

func TestNewEnumError(t *testing.T) {
	err := NewEnumError("processing.add_ports", "x", ValidAddPorts)
	want := `processing.add_ports: accepted values are [all pxe active], got "x"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
