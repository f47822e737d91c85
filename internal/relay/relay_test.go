package relay

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestCallbackPath(t *testing.T) {
	cases := map[string]string{
		"anthropic": "/anthropic/callback",
		"codex":     "/codex/callback",
		"google":    "/google/callback",
		"iflow":     "/iflow/callback",
		"":          "/callback",
		"unknown":   "/callback",
	}
	for provider, want := range cases {
		if got := CallbackPath(provider); got != want {
			t.Errorf("CallbackPath(%q) = %q, want %q", provider, got, want)
		}
	}
}

func TestBuildRedirectURLLocal(t *testing.T) {
	opts := Options{Provider: "google", Mode: ModeLocal, LocalPort: 8317}
	got := BuildRedirectURL(opts, "code=abc&state=1")
	want := "http://127.0.0.1:8317/google/callback?code=abc&state=1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuildRedirectURLRemoteEmptyQuery(t *testing.T) {
	opts := Options{Provider: "codex", Mode: ModeRemote, BaseURL: "https://example.com/api/"}
	got := BuildRedirectURL(opts, "")
	want := "https://example.com/api/codex/callback"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuildRedirectURLRemoteNoTrailingSlash(t *testing.T) {
	opts := Options{Provider: "anthropic", Mode: ModeRemote, BaseURL: "https://example.com"}
	got := BuildRedirectURL(opts, "code=x")
	want := "https://example.com/anthropic/callback?code=x"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// freePort asks the OS for an unused loopback port.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func noRedirectClient() *http.Client {
	return &http.Client{
		Timeout: 3 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestRegistryRedirects(t *testing.T) {
	r := NewRegistry(nil)
	defer r.StopAll()

	port := freePort(t)
	opts := Options{Provider: "google", Mode: ModeLocal, LocalPort: 8317}
	if err := r.Start(port, opts); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := noRedirectClient().Get(fmt.Sprintf("http://127.0.0.1:%d/cb?code=abc&state=1", port))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	loc := resp.Header.Get("Location")
	want := "http://127.0.0.1:8317/google/callback?code=abc&state=1"
	if loc != want {
		t.Fatalf("Location = %q, want %q", loc, want)
	}
}

func TestRegistryReplacesListenerOnSamePort(t *testing.T) {
	r := NewRegistry(nil)
	defer r.StopAll()

	port := freePort(t)
	if err := r.Start(port, Options{Provider: "google", Mode: ModeLocal, LocalPort: 8317}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := r.Start(port, Options{Provider: "codex", Mode: ModeLocal, LocalPort: 8317}); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := len(r.Ports()); got != 1 {
		t.Fatalf("ports = %d, want 1", got)
	}

	resp, err := noRedirectClient().Get(fmt.Sprintf("http://127.0.0.1:%d/", port))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	loc := resp.Header.Get("Location")
	want := "http://127.0.0.1:8317/codex/callback"
	if loc != want {
		t.Fatalf("Location = %q, want %q (replacement not in effect)", loc, want)
	}
}

func TestRegistryStopAbsentPort(t *testing.T) {
	r := NewRegistry(nil)
	err := r.Stop(59999)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}
}

func TestRegistryStopFreesPort(t *testing.T) {
	r := NewRegistry(nil)
	port := freePort(t)
	if err := r.Start(port, Options{Provider: "google", Mode: ModeLocal, LocalPort: 8317}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Stop(port); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// The port must be immediately bindable again.
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("port still held after Stop: %v", err)
	}
	_ = ln.Close()
	if len(r.Ports()) != 0 {
		t.Fatalf("registry not empty after Stop")
	}
}
