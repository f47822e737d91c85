package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func writeConfig(t *testing.T, content string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return New(path)
}

func TestLoadMissingFile(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "config.yaml"))
	if m.Exists() {
		t.Fatalf("Exists() = true for absent file")
	}
	if _, err := m.Load(); !errors.Is(err, ErrMissing) {
		t.Fatalf("err = %v, want ErrMissing", err)
	}
	if got := m.Port(); got != DefaultPort {
		t.Fatalf("Port() = %d, want %d", got, DefaultPort)
	}
}

func TestLoadDefaultsPort(t *testing.T) {
	m := writeConfig(t, "auth-dir: ./auths\n")
	s, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Port != DefaultPort {
		t.Fatalf("port = %d, want %d", s.Port, DefaultPort)
	}
	if s.AuthDir != "./auths" {
		t.Fatalf("auth-dir = %q", s.AuthDir)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	m := writeConfig(t, "port: 9000\nremote-management:\n  secret-key: abc\n")
	s, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Port != 9000 {
		t.Fatalf("port = %d, want 9000", s.Port)
	}
	if s.SecretKey != "abc" {
		t.Fatalf("secret-key = %q, want abc", s.SecretKey)
	}
}

func TestSetSecretKeyPersists(t *testing.T) {
	m := writeConfig(t, "port: 9000\nremote-management:\n  secret-key: old\n")
	if err := m.SetSecretKey("newkey123"); err != nil {
		t.Fatalf("SetSecretKey: %v", err)
	}
	s, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.SecretKey != "newkey123" {
		t.Fatalf("secret-key = %q, want newkey123", s.SecretKey)
	}
	// Unrelated settings must survive the rewrite.
	if s.Port != 9000 {
		t.Fatalf("port lost on secret-key write: %d", s.Port)
	}
}

func TestSetSecretKeyCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	m := New(path)
	if err := m.SetSecretKey("fresh"); err != nil {
		t.Fatalf("SetSecretKey: %v", err)
	}
	s, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.SecretKey != "fresh" {
		t.Fatalf("secret-key = %q, want fresh", s.SecretKey)
	}
}

func TestNeedsSecretKey(t *testing.T) {
	m := writeConfig(t, "port: 9000\n")
	needs, reason := m.NeedsSecretKey()
	if !needs {
		t.Fatalf("expected missing secret-key")
	}
	if reason == "" {
		t.Fatalf("empty reason")
	}

	if err := m.SetSecretKey("k"); err != nil {
		t.Fatalf("SetSecretKey: %v", err)
	}
	if needs, _ = m.NeedsSecretKey(); needs {
		t.Fatalf("secret-key present but still reported missing")
	}
}

func TestEnsureFromExample(t *testing.T) {
	versionDir := t.TempDir()
	example := "port: 8317\nauth-dir: ~/auths\n"
	if err := os.WriteFile(filepath.Join(versionDir, "config.example.yaml"), []byte(example), 0o600); err != nil {
		t.Fatalf("write example: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	m := New(path)
	if err := m.EnsureFromExample(versionDir); err != nil {
		t.Fatalf("EnsureFromExample: %v", err)
	}
	if !m.Exists() {
		t.Fatalf("config not seeded")
	}

	// A present config is never overwritten.
	if err := os.WriteFile(path, []byte("port: 1\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := m.EnsureFromExample(versionDir); err != nil {
		t.Fatalf("second EnsureFromExample: %v", err)
	}
	if got := m.Port(); got != 1 {
		t.Fatalf("existing config overwritten, port = %d", got)
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	m := New(filepath.Join(dir, "config.yaml"))

	if got := m.ResolvePath("auths"); got != filepath.Join(dir, "auths") {
		t.Fatalf("relative: got %q", got)
	}
	abs := filepath.Join(dir, "x")
	if got := m.ResolvePath(abs); got != abs {
		t.Fatalf("absolute: got %q", got)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	if got := m.ResolvePath("~/auths"); got != filepath.Join(home, "auths") {
		t.Fatalf("tilde: got %q", got)
	}
	if runtime.GOOS != "windows" {
		if got := m.ResolvePath("~"); got != home {
			t.Fatalf("bare tilde: got %q", got)
		}
	}
}
