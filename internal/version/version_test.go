package version

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.0", "1.0.1", -1},
		{"1.2.0", "1.1.9", 1},
		{"2.0", "2.0.0", 0},
		{"1.10.0", "1.9.0", 1},
		{"0.9", "1.0", -1},
	}
	for _, c := range cases {
		if got := Compare(c.a, c.b); got != c.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCurrentNotInstalled(t *testing.T) {
	if _, err := Current(t.TempDir()); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("err = %v, want ErrNotInstalled", err)
	}

	// version.txt naming a directory that does not exist is also not installed.
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "version.txt"), []byte("9.9.9"), 0o600); err != nil {
		t.Fatalf("write version.txt: %v", err)
	}
	if _, err := Current(dir); !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("err = %v, want ErrNotInstalled", err)
	}
}

func TestCurrentReadsVersionFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "version.txt"), []byte(" 3.1.4 \n"), 0o600); err != nil {
		t.Fatalf("write version.txt: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "3.1.4"), 0o750); err != nil {
		t.Fatalf("mkdir version dir: %v", err)
	}
	inst, err := Current(dir)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if inst.Version != "3.1.4" {
		t.Fatalf("version = %q, want 3.1.4", inst.Version)
	}
	if inst.Dir != filepath.Join(dir, "3.1.4") {
		t.Fatalf("dir = %q", inst.Dir)
	}
}

func TestExecutable(t *testing.T) {
	dir := t.TempDir()
	vdir := filepath.Join(dir, "1.0.0")
	if err := os.MkdirAll(vdir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	inst := Install{Version: "1.0.0", Dir: vdir}
	if _, err := inst.Executable(); err == nil {
		t.Fatalf("expected error before binary exists")
	}

	name := ExecutableName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if err := os.WriteFile(filepath.Join(vdir, name), []byte("bin"), 0o755); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	exe, err := inst.Executable()
	if err != nil {
		t.Fatalf("Executable: %v", err)
	}
	if exe != filepath.Join(vdir, name) {
		t.Fatalf("exe = %q", exe)
	}
}
