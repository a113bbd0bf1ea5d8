// Package testhelpers provides shared fixtures for runtime tests: temp
// config files, free-port allocation, and readiness probing over HTTP.
package testhelpers

import (
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteConfig writes a YAML config file into a test temp dir and returns its
// path.
func WriteConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefork.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

// FreeAddr reserves a free TCP address on the loopback interface. The
// listener is closed before returning, so a tiny reuse race exists; tests
// that can bind to ":0" directly should prefer that.
func FreeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve address: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// WaitForHTTP polls url until it answers with any HTTP response or the
// deadline passes. Returns true once the endpoint is reachable.
func WaitForHTTP(t *testing.T, url string, deadline time.Duration) bool {
	t.Helper()
	client := &http.Client{Timeout: time.Second}
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}
