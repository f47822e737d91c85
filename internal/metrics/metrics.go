package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "proxyctl",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful managed-process starts.",
		},
	)
	processRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "proxyctl",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of managed-process restarts.",
		},
	)
	processExits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "proxyctl",
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of observed managed-process exits.",
		},
	)
	portReclaims = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "proxyctl",
			Subsystem: "port",
			Name:      "reclaimed_pids_total",
			Help:      "Number of processes killed to free the managed port.",
		},
	)
	relayRedirects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxyctl",
			Subsystem: "relay",
			Name:      "redirects_total",
			Help:      "Number of OAuth callback redirects issued, per provider.",
		}, []string{"provider"},
	)
	keepAlivePings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "proxyctl",
			Subsystem: "keepalive",
			Name:      "pings_total",
			Help:      "Number of keep-alive probes, by outcome.",
		}, []string{"outcome"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processStarts, processRestarts, processExits,
		portReclaims, relayRedirects, keepAlivePings,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an HTTP handler for the default prometheus gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart()               { processStarts.Inc() }
func IncRestart()             { processRestarts.Inc() }
func IncExit()                { processExits.Inc() }
func IncReclaimedPID()        { portReclaims.Inc() }
func IncRedirect(prov string) { relayRedirects.WithLabelValues(prov).Inc() }

// IncPing records a keep-alive probe outcome ("ok" or "fail").
func IncPing(outcome string) { keepAlivePings.WithLabelValues(outcome).Inc() }
