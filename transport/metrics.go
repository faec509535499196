package transport

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashcore_requests_total",
			Help: "Total backend requests by method and outcome (status code or network_error)",
		},
		[]string{"method", "outcome"},
	)

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashcore_token_refresh_total",
			Help: "Total credential refresh attempts by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(refreshTotal)
}
