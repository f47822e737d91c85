// Package launcher spawns the managed server fully detached from the agent:
// discarded stdio, its own session (or detached console on Windows), and no
// retained process handle. The agent observes the child by PID only, so the
// child's lifetime is independent of the agent's.
package launcher

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// LaunchError reports a failed spawn of the managed server.
type LaunchError struct {
	Executable string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Launcher builds and executes the managed-server command line.
type Launcher struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{logger: logger}
}

// Launch starts the managed server and returns its PID. The credential is
// passed as a startup argument (the flag names are the wire contract with
// the managed binary); it must never travel through the environment. No
// handle to the child is retained.
func (l *Launcher) Launch(executable, configPath, credential string) (int, error) {
	if _, err := os.Stat(executable); err != nil {
		return 0, &LaunchError{Executable: executable, Err: err}
	}

	// #nosec G204 -- executable comes from the installed version directory
	cmd := exec.Command(executable, "-config", configPath, "--password", credential)
	// nil Stdin/Stdout/Stderr connect the child to the null device.
	configureDetach(cmd)

	l.logger.Info("starting managed server", "exec", executable, "config", configPath)
	if err := cmd.Start(); err != nil {
		return 0, &LaunchError{Executable: executable, Err: err}
	}
	pid := cmd.Process.Pid
	// Drop the handle so the child is not tied to this process in any way.
	if err := cmd.Process.Release(); err != nil {
		l.logger.Warn("release child handle", "pid", pid, "error", err)
	}
	l.logger.Info("managed server detached", "pid", pid)
	return pid, nil
}
