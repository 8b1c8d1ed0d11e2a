package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Topology holds the collectors for topology session traffic.
type Topology struct {
	SnapshotsApplied *prometheus.CounterVec
	RequestsDropped  *prometheus.CounterVec
	DiffSize         *prometheus.HistogramVec
	Sessions         prometheus.Gauge
}

// NewTopology builds the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewTopology(reg prometheus.Registerer) *Topology {
	m := &Topology{
		SnapshotsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "console",
			Subsystem: "topology",
			Name:      "snapshots_applied_total",
			Help:      "Topology snapshots applied to a session, by view and action.",
		}, []string{"view", "action"}),
		RequestsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "console",
			Subsystem: "topology",
			Name:      "requests_dropped_total",
			Help:      "Topology requests not applied, by reason.",
		}, []string{"reason"}),
		DiffSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "console",
			Subsystem: "topology",
			Name:      "diff_size",
			Help:      "Nodes and edges added or removed per applied snapshot.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"kind"}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "console",
			Subsystem: "topology",
			Name:      "sessions",
			Help:      "Open topology sessions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.SnapshotsApplied, m.RequestsDropped, m.DiffSize, m.Sessions)
	}
	return m
}

const (
	ReasonInFlight  = "in_flight"
	ReasonStale     = "stale"
	ReasonNodeLimit = "node_limit"
	ReasonReporter  = "reporter_error"
)

func (m *Topology) Dropped(reason string) {
	if m == nil {
		return
	}
	m.RequestsDropped.WithLabelValues(reason).Inc()
}

func (m *Topology) Applied(view, action string, added, removed int) {
	if m == nil {
		return
	}
	m.SnapshotsApplied.WithLabelValues(view, action).Inc()
	m.DiffSize.WithLabelValues("added").Observe(float64(added))
	m.DiffSize.WithLabelValues("removed").Observe(float64(removed))
}

func (m *Topology) SetSessions(n int) {
	if m == nil {
		return
	}
	m.Sessions.Set(float64(n))
}
