//go:build windows

package launcher

import (
	"os/exec"
	"syscall"
)

// Windows creation flags.
const (
	createNoWindow  = 0x08000000
	detachedProcess = 0x00000008
)

// configureDetach detaches the child from the agent's console and hides any
// window it would otherwise open.
func configureDetach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: createNoWindow | detachedProcess,
		HideWindow:    true,
	}
}
