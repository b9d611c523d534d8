// Package bmc extracts and resolves node BMC addresses. Ramdisks report
// the BMC by IP, while the registry may hold a host name.
package bmc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"

	"grimm.is/discoverd/internal/logging"
	"grimm.is/discoverd/internal/registry"
)

// AddressFields are the driver_info keys that may hold the BMC address,
// in lookup order.
var AddressFields = []string{"ipmi_address", "ilo_address", "drac_host"}

// ErrNoAddress is returned when a host name has no A record.
var ErrNoAddress = errors.New("bmc: no address records")

// Address returns the BMC address from a node's driver_info, or "".
func Address(node registry.Node) string {
	for _, key := range AddressFields {
		if v, ok := node.DriverInfo[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Resolver turns BMC host names into IPv4 addresses.
type Resolver struct {
	server string
	client *dns.Client
	logger *logging.Logger
}

// NewResolver creates a resolver. An empty server means the first
// nameserver in /etc/resolv.conf.
func NewResolver(server string, timeout time.Duration, logger *logging.Logger) (*Resolver, error) {
	if server == "" {
		cc, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("failed to read resolv.conf: %w", err)
		}
		if len(cc.Servers) == 0 {
			return nil, errors.New("no nameservers in resolv.conf")
		}
		server = net.JoinHostPort(cc.Servers[0], cc.Port)
	} else if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	return &Resolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeout},
		logger: logging.OrDefault(logger).WithComponent("bmc"),
	}, nil
}

// Resolve returns addr unchanged when it is already an IP, otherwise
// the first A record for it.
func (r *Resolver) Resolve(ctx context.Context, addr string) (string, error) {
	if addr == "" || net.ParseIP(addr) != nil {
		return addr, nil
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(addr), dns.TypeA)
	msg.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		return "", fmt.Errorf("failed to resolve BMC address %s: %w", addr, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("failed to resolve BMC address %s: %s", addr, dns.RcodeToString[resp.Rcode])
	}

	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			r.logger.Debug("Resolved BMC address", "host", addr, "ip", a.A.String())
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("%w for %s", ErrNoAddress, addr)
}
