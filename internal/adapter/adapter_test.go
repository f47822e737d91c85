package adapter

import (
	"net"
	"os"
	"strings"
	"testing"
)

func TestIsAliveSelf(t *testing.T) {
	a := Gops{}
	if !a.IsAlive(os.Getpid()) {
		t.Fatalf("own pid reported dead")
	}
}

func TestKillRefusesSelf(t *testing.T) {
	a := Gops{}
	err := a.Kill(os.Getpid())
	if err == nil {
		t.Fatalf("Kill(self) must fail")
	}
	if !strings.Contains(err.Error(), "own process") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestKillGoneProcessSucceeds(t *testing.T) {
	a := Gops{}
	// PID well beyond typical pid_max; if it happens to exist the kill is
	// still allowed, so only the common case is asserted.
	if err := a.Kill(1 << 30); err != nil {
		t.Fatalf("Kill(gone) = %v, want nil", err)
	}
}

func TestFindListenersSeesOwnSocket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	a := Gops{}
	pids, err := a.FindListeners(port)
	if err != nil {
		t.Skipf("socket table not readable here: %v", err)
	}
	self := os.Getpid()
	for _, pid := range pids {
		if pid == self {
			return
		}
	}
	// Some platforms hide socket owners without elevated privileges.
	t.Skipf("own listener not attributed (pids=%v), likely permission-limited", pids)
}

func TestFindListenersFreePort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	a := Gops{}
	pids, err := a.FindListeners(port)
	if err != nil {
		t.Skipf("socket table not readable here: %v", err)
	}
	if len(pids) != 0 {
		t.Fatalf("free port has owners: %v", pids)
	}
}
