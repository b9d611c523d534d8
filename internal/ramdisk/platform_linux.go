//go:build linux

package ramdisk

import (
	"fmt"
	"net"

	"github.com/safchain/ethtool"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/discoverd/internal/logging"
)

// NetlinkPlatform reads interfaces over netlink and link state over
// ethtool.
type NetlinkPlatform struct {
	logger *logging.Logger
}

// NewNetlinkPlatform returns the platform for the running kernel.
func NewNetlinkPlatform(logger *logging.Logger) Platform {
	return &NetlinkPlatform{logger: logging.OrDefault(logger)}
}

// Interfaces lists links with their first IPv4 address.
func (p *NetlinkPlatform) Interfaces() ([]NIC, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	eth, err := ethtool.NewEthtool()
	if err != nil {
		p.logger.Warn("ethtool unavailable, carrier state unknown", "error", err)
	} else {
		defer eth.Close()
	}

	nics := make([]NIC, 0, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		nic := NIC{
			Name: attrs.Name,
			Up:   attrs.Flags&net.FlagUp != 0,
		}
		if len(attrs.HardwareAddr) > 0 {
			nic.MAC = attrs.HardwareAddr.String()
		}

		addrs, err := netlink.AddrList(link, unix.AF_INET)
		if err != nil {
			p.logger.Debug("failed to list addresses", "interface", attrs.Name, "error", err)
		} else if len(addrs) > 0 {
			nic.IP = addrs[0].IP.String()
		}

		if eth != nil {
			if state, err := eth.LinkState(attrs.Name); err == nil {
				nic.Carrier = state == 1
			}
		}
		nics = append(nics, nic)
	}
	return nics, nil
}

// Machine returns the kernel's machine hardware name, e.g. x86_64.
func (p *NetlinkPlatform) Machine() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(uts.Machine[:]), nil
}
