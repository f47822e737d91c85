// Package adapter isolates every OS-specific capability the agent needs:
// socket-owner discovery, process signalling and liveness, and login
// autostart registration. Business logic depends on the OSAdapter interface
// only, never on platform conditionals.
package adapter

import (
	"fmt"
	"os"

	psnet "github.com/shirou/gopsutil/v4/net"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// OSAdapter is the platform capability set used by the lifecycle core.
type OSAdapter interface {
	// FindListeners returns the PIDs of processes holding a listening TCP
	// socket on port. An empty slice means the port is free.
	FindListeners(port int) ([]int, error)
	// Kill force-terminates pid (SIGKILL / TerminateProcess). It refuses to
	// kill the calling process.
	Kill(pid int) error
	// Terminate asks pid to shut down gracefully (SIGTERM where available).
	Terminate(pid int) error
	// IsAlive reports whether the OS still schedules pid. This is a
	// process-table check, not a health check.
	IsAlive(pid int) bool
	// RegisterAutostart arranges for appPath to start at login.
	RegisterAutostart(appPath string) error
	// UnregisterAutostart removes the login registration.
	UnregisterAutostart() error
	// AutostartEnabled reports whether a login registration exists.
	AutostartEnabled() (bool, error)
}

// Gops implements OSAdapter on top of gopsutil's process and socket tables.
type Gops struct{}

var _ OSAdapter = Gops{}

func (Gops) FindListeners(port int) ([]int, error) {
	conns, err := psnet.Connections("tcp")
	if err != nil {
		return nil, fmt.Errorf("inspect tcp sockets: %w", err)
	}
	seen := make(map[int]struct{})
	var pids []int
	for _, c := range conns {
		if c.Status != "LISTEN" || c.Laddr.Port != uint32(port) || c.Pid <= 0 {
			continue
		}
		pid := int(c.Pid)
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}
		pids = append(pids, pid)
	}
	return pids, nil
}

func (Gops) Kill(pid int) error {
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to kill own process (pid %d)", pid)
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		// Process already gone; treating that as success keeps reclaim
		// idempotent.
		return nil
	}
	return p.Kill()
}

func (Gops) Terminate(pid int) error {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	return p.Terminate()
}

func (Gops) IsAlive(pid int) bool { return pidAlive(pid) }
