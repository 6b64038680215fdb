package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_events_total",
			Help: "Change events accepted at intake by category and operation",
		},
		[]string{"category", "operation"},
	)

	DiscardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_discarded_total",
			Help: "Events discarded at intake by reason",
		},
		[]string{"reason"}, // unknown_category|tenant_mismatch|operation|malformed|shed|refused
	)

	BatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livesync_batches_total",
			Help: "Batches released from the priority queue",
		},
	)

	InvalidationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livesync_invalidations_total",
			Help: "Cache-key invalidation requests issued",
		},
	)

	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livesync_alerts_total",
			Help: "Alert decisions by outcome",
		},
		[]string{"outcome"}, // fired|suppressed|failed
	)

	MirrorWritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livesync_mirror_writes_total",
			Help: "Offline mirror upserts and tombstones",
		},
	)

	Online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "livesync_online",
			Help: "Connectivity state (1 online, 0 offline)",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		EventsTotal,
		DiscardedTotal,
		BatchesTotal,
		InvalidationsTotal,
		AlertsTotal,
		MirrorWritesTotal,
		Online,
	)
}
