package proxyctl

import (
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/easycli/proxyctl/internal/adapter"
	"github.com/easycli/proxyctl/internal/config"
	"github.com/easycli/proxyctl/internal/events"
	"github.com/easycli/proxyctl/internal/history"
	"github.com/easycli/proxyctl/internal/keepalive"
	"github.com/easycli/proxyctl/internal/launcher"
	"github.com/easycli/proxyctl/internal/logger"
	"github.com/easycli/proxyctl/internal/metrics"
	"github.com/easycli/proxyctl/internal/reclaim"
	"github.com/easycli/proxyctl/internal/relay"
	"github.com/easycli/proxyctl/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Handle = supervisor.Handle

type Result = supervisor.Result

type RelayOptions = relay.Options

type Notifier = events.Notifier

type LogConfig = logger.Config

// Agent is a thin facade over the internal supervisor, relay registry, and
// keep-alive monitor. It provides a stable public API for embedding.
type Agent struct {
	sup   *supervisor.Supervisor
	relay *relay.Registry
	ka    *keepalive.Monitor
}

// Options configures a new Agent. ConfigPath defaults to
// <AppDir>/config.yaml when empty.
type Options struct {
	AppDir     string
	ConfigPath string
	Notifier   events.Notifier
	History    *history.Store
	Logger     *slog.Logger
}

func New(opts Options) *Agent {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		cfgPath = filepath.Join(opts.AppDir, "config.yaml")
	}
	cfg := config.New(cfgPath)
	osa := adapter.Gops{}
	ka := keepalive.New(log)
	sup := supervisor.New(supervisor.Options{
		AppDir:    opts.AppDir,
		Config:    cfg,
		OS:        osa,
		Launcher:  launcher.New(log),
		Reclaimer: reclaim.New(osa, log),
		KeepAlive: ka,
		Notifier:  opts.Notifier,
		History:   opts.History,
		Logger:    log,
	})
	return &Agent{sup: sup, relay: relay.NewRegistry(log), ka: ka}
}

// Process lifecycle.

func (a *Agent) Start() (Result, error)   { return a.sup.Start() }
func (a *Agent) Restart() (Result, error) { return a.sup.Restart() }
func (a *Agent) Handle() *Handle          { return a.sup.Handle() }
func (a *Agent) Alive() bool              { return a.sup.Alive() }

// Callback relays.

func (a *Agent) StartCallback(port int, opts RelayOptions) error { return a.relay.Start(port, opts) }
func (a *Agent) StopCallback(port int) error                     { return a.relay.Stop(port) }
func (a *Agent) CallbackPorts() []int                            { return a.relay.Ports() }

// Keep-alive monitor.

func (a *Agent) StartKeepAlive(port int, credential string) error {
	return a.ka.Start(port, credential)
}
func (a *Agent) StopKeepAlive()         { a.ka.Stop() }
func (a *Agent) KeepAliveRunning() bool { return a.ka.Running() }

// Shutdown stops the relays, keep-alive loop, and exit watcher. The managed
// process is detached and keeps running.
func (a *Agent) Shutdown() {
	a.relay.StopAll()
	a.sup.Shutdown()
}

// RegisterMetrics registers the agent's Prometheus collectors.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// MetricsHandler exposes the collectors over HTTP.
func MetricsHandler() http.Handler { return metrics.Handler() }

// NewLogger builds and installs the process-default logger.
func NewLogger(c LogConfig) *slog.Logger { return logger.SetDefault(c) }
