// Package version resolves the locally installed managed-server release:
// the app directory keeps one subdirectory per installed version plus a
// version.txt naming the active one.
package version

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// ExecutableName is the managed server binary name inside a version directory.
const ExecutableName = "cli-proxy-api"

// ErrNotInstalled is returned when no usable installed version is found.
var ErrNotInstalled = errors.New("no installed version found")

// Install describes the active installed release.
type Install struct {
	Version string // e.g. "6.0.17"
	Dir     string // version directory under the app dir
}

// Executable returns the path to the managed server binary for this install.
func (i Install) Executable() (string, error) {
	name := ExecutableName
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	p := filepath.Join(i.Dir, name)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("executable %s: %w", p, err)
	}
	return p, nil
}

// Current reads version.txt in appDir and validates the version directory.
func Current(appDir string) (Install, error) {
	b, err := os.ReadFile(filepath.Join(appDir, "version.txt"))
	if err != nil {
		if os.IsNotExist(err) {
			return Install{}, ErrNotInstalled
		}
		return Install{}, fmt.Errorf("read version.txt: %w", err)
	}
	ver := strings.TrimSpace(string(b))
	if ver == "" {
		return Install{}, ErrNotInstalled
	}
	dir := filepath.Join(appDir, ver)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return Install{}, ErrNotInstalled
	}
	return Install{Version: ver, Dir: dir}, nil
}

// Compare orders two dotted numeric versions: -1, 0 or 1.
// Non-numeric segments count as zero.
func Compare(a, b string) int {
	pa := segments(a)
	pb := segments(b)
	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}
	for i := 0; i < n; i++ {
		va, vb := 0, 0
		if i < len(pa) {
			va = pa[i]
		}
		if i < len(pb) {
			vb = pb[i]
		}
		if va > vb {
			return 1
		}
		if va < vb {
			return -1
		}
	}
	return 0
}

func segments(v string) []int {
	parts := strings.Split(strings.TrimPrefix(strings.TrimSpace(v), "v"), ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			n = 0
		}
		out = append(out, n)
	}
	return out
}

// DefaultAppDir is ~/cliproxyapi, the managed server's install root.
func DefaultAppDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, "cliproxyapi"), nil
}
