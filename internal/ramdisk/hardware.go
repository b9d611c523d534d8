// Package ramdisk is the agent that runs inside the discovery ramdisk:
// it inspects the local machine, reports the facts to discoverd and
// applies BMC credentials when asked to.
package ramdisk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"grimm.is/discoverd/internal/facts"
	"grimm.is/discoverd/internal/logging"
)

// ipmiModules are loaded so ipmitool can reach the local BMC.
var ipmiModules = []string{"ipmi_msghandler", "ipmi_devintf", "ipmi_si"}

// NIC is one network interface of this machine.
type NIC struct {
	Name    string
	MAC     string
	IP      string
	Up      bool
	Carrier bool
}

// Platform exposes the parts of the host that come from the kernel
// rather than from command output.
type Platform interface {
	Interfaces() ([]NIC, error)
	Machine() (string, error)
}

// DiscoverOptions controls optional collection steps.
type DiscoverOptions struct {
	// BootInterface is the BOOTIF value passed by PXE, reported as is.
	BootInterface string
	// HardwareDetect runs hardware-detect for the extended inventory.
	HardwareDetect bool
	// Benchmark adds cpu, disk and memory benchmarks to hardware-detect.
	Benchmark bool
}

// Collector gathers hardware facts.
type Collector struct {
	runner   Runner
	platform Platform
	procRoot string
	sysRoot  string
	logger   *logging.Logger
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithRunner replaces the command runner.
func WithRunner(r Runner) CollectorOption {
	return func(c *Collector) { c.runner = r }
}

// WithPlatform replaces the kernel interface source.
func WithPlatform(p Platform) CollectorOption {
	return func(c *Collector) { c.platform = p }
}

// WithRoots points the collector at alternative /proc and /sys trees.
func WithRoots(procRoot, sysRoot string) CollectorOption {
	return func(c *Collector) {
		c.procRoot = procRoot
		c.sysRoot = sysRoot
	}
}

// WithCollectorLogger sets the logger.
func WithCollectorLogger(l *logging.Logger) CollectorOption {
	return func(c *Collector) { c.logger = l }
}

// NewCollector returns a Collector for the running machine.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		runner:   ExecRunner{},
		procRoot: "/proc",
		sysRoot:  "/sys",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDefault(c.logger).WithComponent("collector")
	if c.platform == nil {
		c.platform = NewNetlinkPlatform(c.logger)
	}
	return c
}

// Discover collects every fact it can. Problems that make the report
// useless are added to failures; missing optional facts are only logged.
func (c *Collector) Discover(ctx context.Context, opts DiscoverOptions, failures *Failures) *facts.Facts {
	f := &facts.Facts{}

	c.loadIPMIModules(ctx)
	c.discoverBasic(ctx, opts, f)
	c.discoverInterfaces(f, failures)
	c.discoverScheduling(ctx, f, failures)
	if opts.HardwareDetect {
		c.discoverAdditional(ctx, opts.Benchmark, f, failures)
	}
	c.discoverBlockDevices(ctx, f)
	c.discoverBootMode(f)
	return f
}

func (c *Collector) loadIPMIModules(ctx context.Context) {
	for _, mod := range ipmiModules {
		if _, err := c.runner.Output(ctx, "modprobe", mod); err != nil {
			c.logger.Debug("failed to load kernel module", "module", mod, "error", err)
		}
	}
}

func (c *Collector) discoverBasic(ctx context.Context, opts DiscoverOptions, f *facts.Facts) {
	f.BootInterface = opts.BootInterface

	out, err := c.runner.Output(ctx, "ipmitool", "lan", "print")
	if err != nil {
		c.logger.Warn("failed to get BMC address", "error", err)
		return
	}
	f.IPMIAddress = parseIPMIAddress(out)
	c.logger.Info("BMC IP address", "address", f.IPMIAddress)
}

func (c *Collector) discoverInterfaces(f *facts.Facts, failures *Failures) {
	nics, err := c.platform.Interfaces()
	if err != nil {
		c.logger.Error("failed to list network interfaces", "error", err)
	}

	f.Interfaces = make(map[string]facts.Interface, len(nics))
	for _, nic := range nics {
		if strings.HasPrefix(nic.Name, "lo") {
			c.logger.Info("ignoring local network interface", "interface", nic.Name)
			continue
		}
		if nic.MAC == "" {
			c.logger.Info("no link information for interface", "interface", nic.Name)
			continue
		}

		iface := facts.Interface{MAC: nic.MAC, IP: nic.IP}
		if nic.Up {
			iface.Flags = append(iface.Flags, "up")
		}
		if nic.Carrier {
			iface.Flags = append(iface.Flags, "carrier")
		}
		f.Interfaces[nic.Name] = iface
		c.logger.Debug("found network interface", "interface", nic.Name, "mac", nic.MAC, "ip", nic.IP)
	}

	if len(f.Interfaces) == 0 {
		failures.Add("no network interfaces found")
	}
}

func (c *Collector) discoverScheduling(ctx context.Context, f *facts.Facts, failures *Failures) {
	cpus, err := countProcessors(filepath.Join(c.procRoot, "cpuinfo"))
	if err != nil || cpus == 0 {
		c.logger.Error("failed to count processors", "error", err)
		failures.Add("value for cpus is missing or malformed")
	}
	f.CPUs = cpus

	arch, err := c.platform.Machine()
	if err != nil || arch == "" {
		c.logger.Error("failed to get machine architecture", "error", err)
		failures.Add("value for cpu_arch is missing or malformed")
	}
	f.CPUArch = arch

	f.MemoryMB = c.memoryMB(ctx)
	if f.MemoryMB == 0 {
		failures.Add("failed to get RAM information")
	}

	f.LocalGB = c.localGB(ctx)
	c.logger.Info("scheduling properties", "cpus", f.CPUs, "cpu_arch", f.CPUArch,
		"memory_mb", f.MemoryMB, "local_gb", f.LocalGB)
}

// memoryMB sums the installed DIMMs, falling back to MemTotal when
// dmidecode is unavailable.
func (c *Collector) memoryMB(ctx context.Context) int {
	out, err := c.runner.Output(ctx, "dmidecode", "--type", "memory")
	if err == nil {
		if mb := parseDMIMemory(out); mb > 0 {
			return mb
		}
	} else {
		c.logger.Warn("dmidecode failed, falling back to meminfo", "error", err)
	}

	data, err := os.ReadFile(filepath.Join(c.procRoot, "meminfo"))
	if err != nil {
		c.logger.Warn("failed to read meminfo", "error", err)
		return 0
	}
	return parseMemTotal(data)
}

// localGB returns the size of the first disk in GiB minus one, leaving
// room for partitioning. Disks smaller than that yield 0.
func (c *Collector) localGB(ctx context.Context) int {
	out, err := c.runner.Output(ctx, "lsblk", "-bdno", "TYPE,SIZE")
	if err != nil {
		c.logger.Warn("failed to get disk size", "error", err)
		return 0
	}
	size := firstDiskSize(out)
	if size == 0 {
		c.logger.Warn("no disks found")
		return 0
	}

	gb := int(size>>30) - 1
	if gb < 1 {
		c.logger.Warn("local_gb is less than 1 GiB", "bytes", size)
		return 0
	}
	return gb
}

func (c *Collector) discoverAdditional(ctx context.Context, benchmark bool, f *facts.Facts, failures *Failures) {
	var args []string
	if benchmark {
		args = []string{"--benchmark", "cpu", "disk", "mem"}
	}
	out, err := c.runner.Output(ctx, "hardware-detect", args...)
	if err != nil || !json.Valid(out) {
		c.logger.Error("hardware-detect returned no usable JSON", "error", err)
		failures.Add("unable to get extended hardware properties")
		return
	}
	f.Data = json.RawMessage(bytes.TrimSpace(out))
}

func (c *Collector) discoverBlockDevices(ctx context.Context, f *facts.Facts) {
	out, err := c.runner.Output(ctx, "lsblk", "-no", "TYPE,SERIAL")
	if err != nil {
		c.logger.Warn("unable to get block devices", "error", err)
		return
	}
	serials := parseDiskSerials(out)
	if len(serials) == 0 {
		c.logger.Warn("no block device serials found")
		return
	}
	f.BlockDevices = &facts.BlockDevices{Serials: serials}
}

func (c *Collector) discoverBootMode(f *facts.Facts) {
	f.BootMode = "bios"
	if _, err := os.Stat(filepath.Join(c.sysRoot, "firmware", "efi")); err == nil {
		f.BootMode = "uefi"
	}
}

// parseIPMIAddress extracts the value of the "IP Address" line of
// ipmitool lan print, skipping "IP Address Source".
func parseIPMIAddress(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if ok && strings.TrimSpace(key) == "IP Address" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func countProcessors(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if key, _, ok := strings.Cut(sc.Text(), ":"); ok && strings.TrimSpace(key) == "processor" {
			n++
		}
	}
	return n, sc.Err()
}

// parseDMIMemory sums "Size: N MB|GB" lines of dmidecode --type memory.
func parseDMIMemory(out []byte) int {
	total := 0
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if !ok || key != "Size" {
			continue
		}
		fields := strings.Fields(value)
		if len(fields) != 2 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		switch fields[1] {
		case "MB":
			total += n
		case "GB":
			total += n * 1024
		}
	}
	return total
}

func parseMemTotal(data []byte) int {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[0] == "MemTotal:" {
			kb, err := strconv.Atoi(fields[1])
			if err != nil {
				return 0
			}
			return kb / 1024
		}
	}
	return 0
}

func firstDiskSize(out []byte) uint64 {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) != 2 || fields[0] != "disk" {
			continue
		}
		if size, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
			return size
		}
	}
	return 0
}

func parseDiskSerials(out []byte) []string {
	var serials []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 2 && fields[0] == "disk" {
			serials = append(serials, fields[1])
		}
	}
	return serials
}
