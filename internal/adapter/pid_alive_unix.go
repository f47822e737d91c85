//go:build !windows

package adapter

import (
	"errors"
	"syscall"
)

// pidAlive returns true if a process with the given pid exists (or EPERM,
// which still proves existence).
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
