// Package observability defines the Prometheus metrics of the entitlement
// engine. All collectors register with the default registry and are served
// by the API's /metrics endpoint.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Lifecycle Metrics
// ═══════════════════════════════════════════════════════════════════════════

// LifecycleEvents counts emitted lifecycle events by kind and asset type.
var LifecycleEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "entitle",
	Subsystem: "lifecycle",
	Name:      "events_total",
	Help:      "Lifecycle events by kind and asset type.",
}, []string{"kind", "asset_type"})

// AllocationRuns counts Allocate calls by result.
var AllocationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "entitle",
	Subsystem: "allocation",
	Name:      "runs_total",
	Help:      "Allocation runs by result (ok, error).",
}, []string{"result"})

// ─── Sweep ──────────────────────────────────────────────────────────────────

// SweepDuration observes wall time of maintenance sweeps.
var SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "entitle",
	Subsystem: "sweep",
	Name:      "duration_seconds",
	Help:      "Maintenance sweep duration.",
	Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
})

// SweepOutcomes counts per-allocation sweep outcomes.
var SweepOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "entitle",
	Subsystem: "sweep",
	Name:      "allocations_total",
	Help:      "Allocations processed by sweeps, by outcome.",
}, []string{"outcome"})

// LastSweep records the completion time of the latest sweep.
var LastSweep = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "entitle",
	Subsystem: "sweep",
	Name:      "last_completed_timestamp_seconds",
	Help:      "Unix time of the last completed sweep.",
})

// ObserveSweep records one finished sweep.
func ObserveSweep(d time.Duration, outcomes map[string]int) {
	SweepDuration.Observe(d.Seconds())
	for outcome, n := range outcomes {
		if n > 0 {
			SweepOutcomes.WithLabelValues(outcome).Add(float64(n))
		}
	}
	LastSweep.SetToCurrentTime()
}

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPRequests counts API requests by route pattern and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "entitle",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "API requests by route and status code.",
}, []string{"route", "code"})

// HTTPLatency observes API request latency by route pattern.
var HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "entitle",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "API request latency.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route"})

// ─── Outbox ─────────────────────────────────────────────────────────────────

// OutboxDispatched counts outbox deliveries by result (published, failed).
var OutboxDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "entitle",
	Subsystem: "outbox",
	Name:      "dispatched_total",
	Help:      "Outbox events handed to the notification publisher, by result.",
}, []string{"result"})
