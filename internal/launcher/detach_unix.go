//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"
)

// configureDetach starts the child in a new session so no controlling
// terminal or parent-death signal reaches it.
func configureDetach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
