// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// setup for the alerter.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PollCycles     prometheus.Counter
	AlertsSent     prometheus.Counter
	AlertsFailed   prometheus.Counter
	LookupFailures prometheus.Counter
	TokenRefreshes prometheus.Counter

	// Histograms (seconds)
	CycleDuration prometheus.Observer

	// Gauges
	TrackedGauge         prometheus.Gauge
	LiveGauge            prometheus.Gauge
	PriorityWorkersGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "livealert_poll_cycles_total", Help: "Number of batch poll cycles"})
		AlertsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "livealert_alerts_sent_total", Help: "Number of notifications delivered"})
		AlertsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "livealert_alerts_failed_total", Help: "Number of notification deliveries that failed"})
		LookupFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "livealert_lookup_failures_total", Help: "Number of upstream lookup calls treated as empty"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "livealert_token_refreshes_total", Help: "Number of app token refreshes"})
		CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "livealert_cycle_duration_seconds", Help: "Batch cycle duration seconds", Buckets: prometheus.DefBuckets})
		TrackedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "livealert_tracked_channels", Help: "Channels currently tracked in the batch set"})
		LiveGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "livealert_live_channels", Help: "Tracked channels currently live"})
		PriorityWorkersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "livealert_priority_workers", Help: "Running priority workers"})
	})
}

// IncCycle counts one completed batch cycle.
func IncCycle() {
	if PollCycles != nil {
		PollCycles.Inc()
	}
}

// IncAlertSent / IncAlertFailed track sink delivery outcomes.
func IncAlertSent() {
	if AlertsSent != nil {
		AlertsSent.Inc()
	}
}

func IncAlertFailed() {
	if AlertsFailed != nil {
		AlertsFailed.Inc()
	}
}

// IncLookupFailure counts an upstream call treated as an empty result.
func IncLookupFailure() {
	if LookupFailures != nil {
		LookupFailures.Inc()
	}
}

// IncTokenRefresh counts one app token exchange.
func IncTokenRefresh() {
	if TokenRefreshes != nil {
		TokenRefreshes.Inc()
	}
}

// SetTracked records the batch tracked-set size.
func SetTracked(n int) {
	if TrackedGauge != nil {
		TrackedGauge.Set(float64(n))
	}
}

// SetLive records how many tracked channels are live.
func SetLive(n int) {
	if LiveGauge != nil {
		LiveGauge.Set(float64(n))
	}
}

// SetPriorityWorkers records the running worker count.
func SetPriorityWorkers(n int) {
	if PriorityWorkersGauge != nil {
		PriorityWorkersGauge.Set(float64(n))
	}
}
