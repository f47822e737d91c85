//go:build windows

package adapter

import gopsproc "github.com/shirou/gopsutil/v4/process"

// pidAlive checks the Windows process table for pid.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}
