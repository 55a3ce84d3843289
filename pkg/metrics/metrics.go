package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tge_build_info",
			Help: "Build information of the TGE distribution service",
		},
		[]string{"version", "commit", "date"},
	)

	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tge_operations_total",
			Help: "Total number of protocol operations by outcome",
		},
		[]string{"operation", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tge_operation_duration_seconds",
			Help:    "Duration of protocol operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4.1s
		},
		[]string{"operation"},
	)

	TotalRaised = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tge_total_raised",
			Help: "Total base currency raised so far",
		},
	)

	TotalCommitments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tge_commitments_total",
			Help: "Number of participants with at least one accepted commit",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "code"},
	)
)
