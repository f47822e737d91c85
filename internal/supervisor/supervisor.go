// Package supervisor owns "the current managed process": a single handle
// holding the PID and session credential of the detached server, plus the
// start/restart operations that coordinate port reclaim, credential rotation,
// launch, keep-alive, and exit watching.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/easycli/proxyctl/internal/adapter"
	"github.com/easycli/proxyctl/internal/config"
	"github.com/easycli/proxyctl/internal/events"
	"github.com/easycli/proxyctl/internal/history"
	"github.com/easycli/proxyctl/internal/metrics"
	"github.com/easycli/proxyctl/internal/version"
)

// DefaultGracePeriod is how long restart waits after asking the old process
// to terminate before reclaiming the port. If the old process has not exited
// by then, the reclaimer force-kills whatever is left; a restart can
// therefore race a slow shutdown handler in the managed process. Accepted.
const DefaultGracePeriod = 500 * time.Millisecond

// exitPollInterval is how often the exit watcher probes the PID.
const exitPollInterval = time.Second

// Launcher spawns the managed server and returns its PID.
type Launcher interface {
	Launch(executable, configPath, credential string) (int, error)
}

// Reclaimer frees the managed port before a launch.
type Reclaimer interface {
	Reclaim(port int) error
}

// KeepAlive is the monitor started after every successful launch.
type KeepAlive interface {
	Start(port int, credential string) error
	Stop()
}

// Handle identifies the current managed process. The PID is the only durable
// identifier retained: the OS process handle is deliberately dropped at
// launch, so the supervisor observes the child but never owns its lifetime.
type Handle struct {
	PID        int    `json:"pid"`
	Executable string `json:"executable"`
	ConfigPath string `json:"config_path"`
	Credential string `json:"-"`
	Port       int    `json:"port"`
	Version    string `json:"version"`
}

// Result reports the outcome of a start or restart.
type Result struct {
	AlreadyRunning bool   `json:"already_running"`
	PID            int    `json:"pid"`
	Credential     string `json:"credential,omitempty"`
	Version        string `json:"version"`
}

// Options wires a Supervisor's collaborators.
type Options struct {
	AppDir      string
	Config      *config.Manager
	OS          adapter.OSAdapter
	Launcher    Launcher
	Reclaimer   Reclaimer
	KeepAlive   KeepAlive
	Notifier    events.Notifier
	History     *history.Store
	Logger      *slog.Logger
	GracePeriod time.Duration
}

// Supervisor manages the single ManagedProcessHandle slot.
//
// Locking: mu guards the handle slot and watcher pointer only and is never
// held across process, network, or file I/O. opMu serializes start/restart
// sequences end to end so two concurrent starts cannot double-spawn.
type Supervisor struct {
	opMu sync.Mutex
	mu   sync.Mutex

	handle  *Handle
	watcher *exitWatcher

	appDir    string
	cfg       *config.Manager
	os        adapter.OSAdapter
	launcher  Launcher
	reclaimer Reclaimer
	keepAlive KeepAlive
	notifier  events.Notifier
	hist      *history.Store
	logger    *slog.Logger
	grace     time.Duration
}

func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = events.LogNotifier{Logger: logger}
	}
	grace := opts.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Supervisor{
		appDir:    opts.AppDir,
		cfg:       opts.Config,
		os:        opts.OS,
		launcher:  opts.Launcher,
		reclaimer: opts.Reclaimer,
		keepAlive: opts.KeepAlive,
		notifier:  notifier,
		hist:      opts.History,
		logger:    logger,
		grace:     grace,
	}
}

// Handle returns a snapshot of the current handle, or nil when absent.
func (s *Supervisor) Handle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	h := *s.handle
	return &h
}

// Credential returns the session credential of the current handle.
func (s *Supervisor) Credential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return ""
	}
	return s.handle.Credential
}

// Alive reports whether the OS still schedules the managed PID. This is a
// process-table liveness probe, not a health check.
func (s *Supervisor) Alive() bool {
	h := s.Handle()
	return h != nil && s.os.IsAlive(h.PID)
}

// Start launches the managed server. If the stored PID is still alive it is
// an idempotent no-op reporting AlreadyRunning; no duplicate is ever spawned.
// On success the fresh credential is returned to the caller, which needs it
// to authenticate to the new server.
func (s *Supervisor) Start() (Result, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if h := s.Handle(); h != nil && s.os.IsAlive(h.PID) {
		s.logger.Info("managed server already running", "pid", h.PID)
		return Result{AlreadyRunning: true, PID: h.PID, Version: h.Version}, nil
	}
	res, err := s.launchLocked(false)
	if err != nil {
		// The prior handle state is left unchanged on failure.
		return Result{}, err
	}
	return res, nil
}

// Restart gracefully terminates the current process (when one is stored),
// waits the grace period so it can release its port, then runs the full
// start sequence unconditionally and emits a restart-completed notification.
func (s *Supervisor) Restart() (Result, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if h := s.Handle(); h != nil {
		s.logger.Info("terminating managed server for restart", "pid", h.PID)
		if err := s.os.Terminate(h.PID); err != nil {
			s.logger.Warn("graceful terminate failed", "pid", h.PID, "error", err)
		}
		time.Sleep(s.grace)
		// The old process was asked to terminate; from here the slot is
		// Absent until the replacement launches.
		s.clearHandle(h.PID)
	}

	res, err := s.launchLocked(true)
	if err != nil {
		return Result{}, err
	}
	s.notifier.Notify(events.RestartCompleted, map[string]any{"version": res.Version})
	return res, nil
}

// launchLocked performs the shared start sequence. Callers hold opMu.
func (s *Supervisor) launchLocked(isRestart bool) (Result, error) {
	inst, err := version.Current(s.appDir)
	if err != nil {
		return Result{}, err
	}
	exe, err := inst.Executable()
	if err != nil {
		return Result{}, err
	}
	if !s.cfg.Exists() {
		return Result{}, config.ErrMissing
	}
	settings, err := s.cfg.Load()
	if err != nil {
		return Result{}, err
	}

	// Best-effort: a failed reclaim is logged and the launch proceeds; a
	// still-taken port surfaces later as a bind error in the managed server.
	if err := s.reclaimer.Reclaim(settings.Port); err != nil {
		s.logger.Warn("port reclaim failed, launching anyway", "port", settings.Port, "error", err)
	}

	cred, err := NewCredential()
	if err != nil {
		return Result{}, err
	}
	// The managed server reads its own auth secret from the config, so the
	// new credential must be persisted before the process starts.
	if err := s.cfg.SetSecretKey(cred); err != nil {
		return Result{}, err
	}

	pid, err := s.launcher.Launch(exe, s.cfg.Path(), cred)
	if err != nil {
		return Result{}, err
	}

	h := &Handle{
		PID:        pid,
		Executable: exe,
		ConfigPath: s.cfg.Path(),
		Credential: cred,
		Port:       settings.Port,
		Version:    inst.Version,
	}
	s.setHandle(h)

	kind := history.KindStarted
	if isRestart {
		kind = history.KindRestarted
		metrics.IncRestart()
	} else {
		metrics.IncStart()
	}
	s.record(kind, pid, inst.Version, "")

	if err := s.keepAlive.Start(settings.Port, cred); err != nil {
		s.logger.Warn("keep-alive start failed", "error", err)
	}
	s.logger.Info("managed server running", "pid", pid, "version", inst.Version, "port", settings.Port)
	return Result{PID: pid, Credential: cred, Version: inst.Version}, nil
}

// Shutdown stops the keep-alive loop and exit watcher. The managed process
// itself is detached and keeps running after the agent exits.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		w.stop()
	}
	s.keepAlive.Stop()
	s.logger.Info("agent shutting down, managed server continues in background")
}

func (s *Supervisor) setHandle(h *Handle) {
	s.mu.Lock()
	old := s.watcher
	s.handle = h
	s.watcher = s.newWatcher(h.PID)
	s.mu.Unlock()
	if old != nil {
		old.stop()
	}
}

// clearHandle drops the handle if it still refers to pid.
func (s *Supervisor) clearHandle(pid int) {
	s.mu.Lock()
	var w *exitWatcher
	if s.handle != nil && s.handle.PID == pid {
		s.handle = nil
		w = s.watcher
		s.watcher = nil
	}
	s.mu.Unlock()
	if w != nil {
		w.stop()
	}
}

func (s *Supervisor) record(kind string, pid int, ver, detail string) {
	if s.hist == nil {
		return
	}
	e := history.Event{Kind: kind, PID: pid, Version: ver, Detail: detail}
	if err := s.hist.Record(context.Background(), e); err != nil {
		s.logger.Warn("history record failed", "kind", kind, "error", err)
	}
}

// exitWatcher polls the managed PID and tears down the keep-alive loop when
// the process disappears. It never kills anything itself.
type exitWatcher struct {
	cancel  chan struct{}
	done    chan struct{}
	stopped sync.Once
}

func (w *exitWatcher) stop() {
	w.stopped.Do(func() { close(w.cancel) })
	<-w.done
}

func (s *Supervisor) newWatcher(pid int) *exitWatcher {
	w := &exitWatcher{cancel: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(exitPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-w.cancel:
				return
			case <-ticker.C:
				if s.os.IsAlive(pid) {
					continue
				}
				s.onExit(pid)
				return
			}
		}
	}()
	return w
}

// onExit runs once when the watcher observes the managed PID gone.
func (s *Supervisor) onExit(pid int) {
	s.mu.Lock()
	var ver string
	if s.handle != nil && s.handle.PID == pid {
		ver = s.handle.Version
		s.handle = nil
		s.watcher = nil
	} else {
		// A restart already replaced this handle; nothing to do.
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.logger.Warn("managed server exited", "pid", pid)
	s.keepAlive.Stop()
	metrics.IncExit()
	s.record(history.KindExited, pid, ver, "")
	s.notifier.Notify(events.ProcessExited, map[string]any{"pid": pid})
}

// String implements fmt.Stringer for debug logging.
func (h *Handle) String() string {
	if h == nil {
		return "<absent>"
	}
	return fmt.Sprintf("pid=%d version=%s port=%d", h.PID, h.Version, h.Port)
}
