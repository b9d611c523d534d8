package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"
)

// ConfigurationError reports a setting that prevents a component from
// becoming operational.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewEnumError builds the error for a value outside its accepted set.
func NewEnumError(field, actual string, valid []string) *ConfigurationError {
	return &ConfigurationError{
		Field:   field,
		Message: fmt.Sprintf("accepted values are %v, got %q", valid, actual),
	}
}

// ConfigurationErrors is a collection of configuration errors.
type ConfigurationErrors []*ConfigurationError

func (e ConfigurationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any configuration errors.
func (e ConfigurationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate validates the entire configuration. Hook names are checked by
// the hooks package when the pipeline is built.
func (c *Config) Validate() ConfigurationErrors {
	var errs ConfigurationErrors

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, &ConfigurationError{Field: "listen", Message: err.Error()})
	}

	if p := c.Processing; p != nil {
		if !slices.Contains(ValidAddPorts, p.AddPorts) {
			errs = append(errs, NewEnumError("processing.add_ports", p.AddPorts, ValidAddPorts))
		}
		if !slices.Contains(ValidKeepPorts, p.KeepPorts) {
			errs = append(errs, NewEnumError("processing.keep_ports", p.KeepPorts, ValidKeepPorts))
		}
		errs = appendDuration(errs, "processing.timeout", p.Timeout)
		errs = appendDuration(errs, "processing.clean_up_period", p.CleanUpPeriod)
	}

	if f := c.Firewall; f != nil {
		if f.IsEnabled() && f.Interface == "" {
			errs = append(errs, &ConfigurationError{Field: "firewall.interface", Message: "required when the firewall is enabled"})
		}
		errs = appendDuration(errs, "firewall.update_period", f.UpdatePeriod)
	}

	if i := c.Ironic; i != nil {
		if u, err := url.Parse(i.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, &ConfigurationError{Field: "ironic.url", Message: fmt.Sprintf("invalid URL %q", i.URL)})
		}
		if i.RetryAttempts < 1 {
			errs = append(errs, &ConfigurationError{Field: "ironic.retry_attempts", Message: "must be at least 1"})
		}
		errs = appendDuration(errs, "ironic.retry_interval", i.RetryInterval)
	}

	if d := c.DNS; d != nil {
		errs = appendDuration(errs, "dns.timeout", d.Timeout)
	}

	return errs
}

func appendDuration(errs ConfigurationErrors, field, value string) ConfigurationErrors {
	if value == "" {
		return errs
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, &ConfigurationError{Field: field, Message: err.Error()})
	}
	if d <= 0 {
		return append(errs, &ConfigurationError{Field: field, Message: "must be positive"})
	}
	return errs
}
