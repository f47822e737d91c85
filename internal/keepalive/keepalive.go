// Package keepalive periodically authenticates against the managed server so
// it does not idle out. Exactly one loop runs per Monitor; starting a new one
// always cancels its predecessor first.
package keepalive

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/easycli/proxyctl/internal/metrics"
)

// ErrNoCredential is returned when Start is called before any managed
// process has been launched (there is nothing to authenticate with).
var ErrNoCredential = errors.New("no session credential available")

const (
	// DefaultInterval is the pause between liveness probes.
	DefaultInterval = 5 * time.Second
	// stopTick bounds how long a running loop takes to observe Stop.
	stopTick = 100 * time.Millisecond
)

// loop is one running keep-alive cycle. The cancel flag is cooperative; the
// loop checks it every stopTick while sleeping so Stop returns promptly.
type loop struct {
	cancel atomic.Bool
	done   chan struct{}
}

func (l *loop) cancelled() bool { return l.cancel.Load() }

// Monitor owns the singleton keep-alive loop.
type Monitor struct {
	mu       sync.Mutex
	current  *loop
	client   *http.Client
	logger   *slog.Logger
	interval time.Duration
}

func New(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		client:   &http.Client{Timeout: 3 * time.Second},
		logger:   logger,
		interval: DefaultInterval,
	}
}

// SetInterval overrides the probe interval. Test hook.
func (m *Monitor) SetInterval(d time.Duration) {
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()
}

// Start launches a keep-alive loop against port using credential as bearer
// token. Any previously running loop is cancelled first; the old/new swap
// happens under the monitor lock so two loops never run concurrently.
func (m *Monitor) Start(port int, credential string) error {
	if credential == "" {
		return ErrNoCredential
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()

	l := &loop{done: make(chan struct{})}
	m.current = l
	url := fmt.Sprintf("http://127.0.0.1:%d/keep-alive", port)
	interval := m.interval
	go m.run(l, url, credential, interval)
	m.logger.Info("keep-alive started", "port", port)
	return nil
}

// Stop cancels the running loop, if any. The join is handed to a detached
// goroutine; the loop's fine-grained sleep guarantees it exits within one
// stopTick, so not blocking the caller is safe.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.stopLocked()
	m.mu.Unlock()
}

func (m *Monitor) stopLocked() {
	if m.current == nil {
		return
	}
	l := m.current
	m.current = nil
	l.cancel.Store(true)
	go func() { <-l.done }()
	m.logger.Info("keep-alive stopping")
}

// Running reports whether a loop is currently active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

func (m *Monitor) run(l *loop, url, credential string, interval time.Duration) {
	defer close(l.done)
	for !l.cancelled() {
		m.ping(url, credential)
		// Sleep in short slices so a stop request is observed within
		// stopTick rather than a full interval.
		deadline := time.Now().Add(interval)
		for time.Now().Before(deadline) {
			if l.cancelled() {
				return
			}
			time.Sleep(stopTick)
		}
	}
}

// ping sends one authenticated liveness request. Failures are logged and
// swallowed: tolerating intermittent unavailability is the monitor's job.
func (m *Monitor) ping(url, credential string) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		m.logger.Warn("keep-alive request build failed", "error", err)
		metrics.IncPing("fail")
		return
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug("keep-alive ping failed", "error", err)
		metrics.IncPing("fail")
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		m.logger.Debug("keep-alive ping ok", "status", resp.StatusCode)
		metrics.IncPing("ok")
		return
	}
	m.logger.Warn("keep-alive ping rejected", "status", resp.StatusCode)
	metrics.IncPing("fail")
}
