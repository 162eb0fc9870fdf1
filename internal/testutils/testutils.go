package testutils

import (
	"fmt"
	"net/netip"
	"testing"
	"time"
)

// WaitFor polls cond until it returns true or the timeout expires,
// failing the test on timeout.
func WaitFor(t testing.TB, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// Addr returns a loopback destination with the given port.
func Addr(port uint16) netip.AddrPort {
	return netip.MustParseAddrPort(fmt.Sprintf("127.0.0.1:%d", port))
}
