// Package dblock serialises integration tests that share one database across
// test binaries.
package dblock

import (
	"net"
	"testing"
	"time"
)

const lockAddr = "127.0.0.1:45432"

// Acquire blocks until the lock is held and releases it when t finishes.
func Acquire(t testing.TB) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Minute)
	for {
		ln, err := net.Listen("tcp", lockAddr)
		if err == nil {
			t.Cleanup(func() { ln.Close() })
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for database lock: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
