package syncer

import "github.com/prometheus/client_golang/prometheus"

var (
	snapshotTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashcore_progress_snapshots_total",
			Help: "Total local progress snapshot writes by outcome",
		},
		[]string{"outcome"},
	)

	syncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashcore_progress_syncs_total",
			Help: "Total server sync attempts by outcome (success, failure, offline)",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(snapshotTotal)
	prometheus.MustRegister(syncTotal)
}
