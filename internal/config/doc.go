// Package config handles HCL configuration parsing, defaults and validation.
//
// # Overview
//
// discoverd reads a single HCL file (JSON is accepted as a fallback). The
// loaded [Config] is treated as immutable: components receive the values
// they need through their constructors and never consult package state.
//
// # Configuration Blocks
//
//   - processing: hook order, interface inclusion and port retention
//     policies, ramdisk log capture, introspection timeout
//   - firewall: discovery chain management on the provisioning interface
//   - ironic: node registry endpoint and conflict retry bounds
//   - dns: resolver used for BMC host names
//   - logging, metrics: ambient settings
//
// Example:
//
//	processing {
//	    hooks      = ["ramdisk_error", "scheduler", "validate_interfaces"]
//	    add_ports  = "pxe"
//	    keep_ports = "present"
//	}
//
//	firewall {
//	    interface = "br-ctlplane"
//	}
//
// Invalid enumerated values are reported as [ConfigurationError] so the
// startup sequence can refuse to run instead of silently falling back.
package config
