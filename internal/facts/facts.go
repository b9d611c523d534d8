// Package facts defines the hardware report posted by the discovery
// ramdisk and the helpers hooks use to normalize it.
package facts

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// Interface is one network interface as seen by the ramdisk.
type Interface struct {
	MAC   string   `json:"mac"`
	IP    string   `json:"ip,omitempty"`
	Flags []string `json:"flags,omitempty"`
}

// BlockDevices lists disk serial numbers found on the node.
type BlockDevices struct {
	Serials []string `json:"serials"`
}

// Facts is the document a ramdisk reports for one discovery run. Hooks
// mutate it in place.
type Facts struct {
	CPUs     int    `json:"cpus,omitempty"`
	CPUArch  string `json:"cpu_arch,omitempty"`
	MemoryMB int    `json:"memory_mb,omitempty"`
	LocalGB  int    `json:"local_gb,omitempty"`

	Interfaces    map[string]Interface `json:"interfaces,omitempty"`
	BootInterface string               `json:"boot_interface,omitempty"`
	IPMIAddress   string               `json:"ipmi_address,omitempty"`
	BootMode      string               `json:"boot_mode,omitempty"`
	BlockDevices  *BlockDevices        `json:"block_devices,omitempty"`

	Error string `json:"error,omitempty"`
	Logs  string `json:"logs,omitempty"`

	// Data carries extended hardware inventory that no hook interprets.
	Data json.RawMessage `json:"data,omitempty"`

	// Derived by interface validation.
	AllInterfaces map[string]Interface `json:"all_interfaces,omitempty"`
	MACs          []string             `json:"macs,omitempty"`
}

// Parse decodes a ramdisk report.
func Parse(data []byte) (*Facts, error) {
	var f Facts
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// BMCAddress returns the reported BMC address or "unknown".
func (f *Facts) BMCAddress() string {
	if f.IPMIAddress == "" {
		return "unknown"
	}
	return f.IPMIAddress
}

// InterfaceNames returns the names of the current interfaces, sorted.
func (f *Facts) InterfaceNames() []string {
	return sortedNames(f.Interfaces)
}

// DeriveMACs sets MACs from the current interfaces, ordered by interface
// name.
func (f *Facts) DeriveMACs() {
	names := sortedNames(f.Interfaces)
	macs := make([]string, 0, len(names))
	for _, name := range names {
		macs = append(macs, f.Interfaces[name].MAC)
	}
	f.MACs = macs
}

// AllMACs returns every address in AllInterfaces (or Interfaces when
// validation has not run yet).
func (f *Facts) AllMACs() []string {
	src := f.AllInterfaces
	if src == nil {
		src = f.Interfaces
	}
	macs := make([]string, 0, len(src))
	for _, name := range sortedNames(src) {
		macs = append(macs, src[name].MAC)
	}
	return macs
}

func sortedNames(m map[string]Interface) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var macPattern = regexp.MustCompile(`^([0-9a-fA-F]{2}:){5}[0-9a-fA-F]{2}$`)

// IsValidMAC reports whether s is six colon separated hex octets.
func IsValidMAC(s string) bool {
	return macPattern.MatchString(s)
}

// NormalizePXEMAC converts a boot interface as reported by pxelinux
// (01-aa-bb-cc-dd-ee-ff, leading octet is the hardware type) into a
// lower case colon separated address.
func NormalizePXEMAC(s string) string {
	if strings.Contains(s, "-") {
		if _, rest, ok := strings.Cut(s, "-"); ok {
			s = strings.ReplaceAll(rest, "-", ":")
		}
	}
	return strings.ToLower(s)
}
