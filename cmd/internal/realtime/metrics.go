package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "huddle"

// Metrics holds the coordinator's Prometheus collectors.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	UsersOnline       prometheus.Gauge
	Evictions         prometheus.Counter
	Events            *prometheus.CounterVec
	BroadcastDropped  prometheus.Counter
}

// NewMetrics builds the collectors and registers them with reg.
// A nil reg yields unregistered collectors (tests, metrics disabled).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "connections_active",
			Help:      "Open realtime connections.",
		}),
		UsersOnline: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "users_online",
			Help:      "Identities in the last broadcast roster.",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "evictions_total",
			Help:      "Connections displaced by a newer login of the same user.",
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Inbound events by type.",
		}, []string{"type"}),
		BroadcastDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "broadcast_dropped_total",
			Help:      "Outbound events dropped because a connection queue was full or closed.",
		}),
	}
}
