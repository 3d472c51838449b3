// Package metrics holds the process-wide Prometheus collectors. They are
// registered on the default registry and served by the web API's /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for RunsTotal.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chartbot_runs_total",
		Help: "Orchestration runs by outcome and error kind.",
	}, []string{"outcome", "kind"})

	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chartbot_commands_total",
		Help: "Chat commands answered.",
	}, []string{"command"})

	DownloadAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chartbot_download_attempts_total",
		Help: "Image download attempts by result.",
	}, []string{"result"})

	DeliveryFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chartbot_delivery_failures_total",
		Help: "Failed chat sends and deletes.",
	}, []string{"op"})

	ConnectivityIssues = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chartbot_connectivity_issues_total",
		Help: "Failed transport polls.",
	})

	ProbeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chartbot_probe_failures_total",
		Help: "Failed transport health probes.",
	})

	InFlightRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chartbot_inflight_runs",
		Help: "Orchestration runs currently executing.",
	})

	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chartbot_stage_latency_seconds",
		Help:    "Latency of pipeline stages in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"stage"})
)
