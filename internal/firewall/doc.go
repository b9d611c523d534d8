// Package firewall polices DHCP traffic on the provisioning network.
//
// # Overview
//
// Unenrolled machines must be able to PXE boot into the discovery ramdisk,
// while machines the node registry already knows about, and that are not
// currently under introspection, must not. The package keeps an iptables
// chain that drops DHCP requests from those known hardware addresses and
// accepts everything else.
//
// # Chains
//
//   - discovery: the live chain, reached from INPUT for UDP port 67 on the
//     provisioning interface
//   - discovery_temp: the standby chain, built during an update and then
//     renamed to discovery
//
// # Make-before-break
//
// [Manager.UpdateFilters] fully populates the standby chain, points the
// forwarding rule at it, and only then removes the old chain. DHCP traffic
// is always matched by a complete rule set.
//
// Every iptables invocation goes through an [Executor] and is either
// mandatory (its failure aborts the update) or best-effort (its failure
// is logged at debug level and ignored).
package firewall
