// Package metrics holds the proxy's Prometheus collectors. One Registry
// is created at boot (internal/app) and passed to the Client Listener,
// which records its connection counts without importing prometheus
// directly.
//
// Grounded on the teacher's internal/metrics package: a namespaced
// Registry struct built once in newRegistry, collectors registered
// against an injectable prometheus.Registerer (nil falls back to
// prometheus.DefaultRegisterer) so tests can use their own registry and
// avoid the "duplicate metrics collector registration" panic across
// package-test runs.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "numdrassl"

// Config configures metric registration.
type Config struct {
	// Namespace is the Prometheus namespace for all metrics. Defaults to "numdrassl".
	Namespace string
	// Registerer receives every collector. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Registry holds every collector the proxy core reports.
type Registry struct {
	ConnectionsAccepted  prometheus.Counter
	ConnectionsRejected  *prometheus.CounterVec
	ConnectionsActive    prometheus.Gauge
	SessionsActive       prometheus.Gauge
	SessionTransitions   *prometheus.CounterVec
	BackendDialDuration  *prometheus.HistogramVec
	BackendDialErrors    *prometheus.CounterVec
	ControlReconnects    *prometheus.CounterVec
	ClusterPeers         prometheus.Gauge
}

// New builds and registers a Registry. A failure to register (other
// than AlreadyRegisteredError, tolerated so tests can call New more
// than once against the default registerer) is returned to the caller.
func New(cfg Config) (*Registry, error) {
	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = defaultNamespace
	}

	r := &Registry{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "listener", Name: "connections_accepted_total",
			Help: "Total QUIC connections accepted by the client listener.",
		}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "listener", Name: "connections_rejected_total",
			Help: "Total QUIC connections rejected by the client listener, by reason.",
		}, []string{"reason"}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "listener", Name: "connections_active",
			Help: "Currently open client QUIC connections.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "session", Name: "active",
			Help: "Sessions with a registered player id.",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "session", Name: "transitions_total",
			Help: "Session state machine transitions, by resulting state.",
		}, []string{"state"}),
		BackendDialDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "backend", Name: "dial_duration_seconds",
			Help:    "Duration of backend dial attempts.",
			Buckets: prometheus.DefBuckets,
		}, []string{"backend"}),
		BackendDialErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "backend", Name: "dial_errors_total",
			Help: "Total failed backend dial attempts, by backend name.",
		}, []string{"backend"}),
		ControlReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "control", Name: "reconnects_total",
			Help: "Total Backend Control Manager reconnect attempts, by backend name.",
		}, []string{"backend"}),
		ClusterPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "cluster", Name: "peers",
			Help: "Known peer proxies in the cluster, excluding self.",
		}),
	}

	collectors := []prometheus.Collector{
		r.ConnectionsAccepted, r.ConnectionsRejected, r.ConnectionsActive,
		r.SessionsActive, r.SessionTransitions,
		r.BackendDialDuration, r.BackendDialErrors,
		r.ControlReconnects, r.ClusterPeers,
	}
	var alreadyRegistered prometheus.AlreadyRegisteredError
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil && !errors.As(err, &alreadyRegistered) {
			return nil, err
		}
	}
	return r, nil
}
