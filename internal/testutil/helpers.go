// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"testing"

	"grimm.is/discoverd/internal/brand"
)

// RequireVM skips the test unless DISCOVERD_VM_TEST is set. Tests that
// touch the real kernel (netlink, ethtool, iptables) only run there.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv(brand.ConfigEnvPrefix+"_VM_TEST") == "" {
		t.Skipf("Skipping test: requires %s_VM_TEST environment", brand.ConfigEnvPrefix)
	}
}
