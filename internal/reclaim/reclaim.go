// Package reclaim frees a TCP port by force-killing whatever owns it.
// It is deliberately best-effort: the launch that follows will surface a
// bind error if the port is still taken, which is a distinguishable and
// acceptable failure mode.
package reclaim

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/easycli/proxyctl/internal/adapter"
	"github.com/easycli/proxyctl/internal/metrics"
)

// Reclaimer frees ports via the OS adapter.
type Reclaimer struct {
	os     adapter.OSAdapter
	logger *slog.Logger
}

func New(osa adapter.OSAdapter, logger *slog.Logger) *Reclaimer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reclaimer{os: osa, logger: logger}
}

// Reclaim kills every process listening on port. A free port is success.
// It never kills the calling process. Lookup or kill failures are logged
// and returned, but callers are expected to treat them as non-fatal.
func (r *Reclaimer) Reclaim(port int) error {
	pids, err := r.os.FindListeners(port)
	if err != nil {
		r.logger.Warn("port owner lookup failed", "port", port, "error", err)
		return fmt.Errorf("find listeners on port %d: %w", port, err)
	}
	if len(pids) == 0 {
		return nil
	}
	self := os.Getpid()
	var firstErr error
	for _, pid := range pids {
		if pid == self {
			r.logger.Warn("own process listens on managed port, skipping", "port", port, "pid", pid)
			continue
		}
		r.logger.Info("killing process on managed port", "port", port, "pid", pid)
		if err := r.os.Kill(pid); err != nil {
			r.logger.Warn("kill failed", "pid", pid, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("kill pid %d on port %d: %w", pid, port, err)
			}
			continue
		}
		metrics.IncReclaimedPID()
	}
	return firstErr
}
