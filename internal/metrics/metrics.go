// SPDX-License-Identifier: MIT

// Package metrics exposes the broker's prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Adapter metrics
	adapterRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rentmesh_adapter_request_duration_seconds",
		Help:    "Source adapter call latency by operation and outcome",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"source", "op", "outcome"}) // outcome=success|timeout|error

	adapterRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentmesh_adapter_requests_total",
		Help: "Total source adapter calls by operation and outcome",
	}, []string{"source", "op", "outcome"})

	// Booking metrics
	bookingOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentmesh_booking_ops_total",
		Help: "Booking operations by kind and outcome",
	}, []string{"op", "outcome"}) // op=create|modify|cancel|check, outcome=success|replay|error

	historyJournalFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rentmesh_history_journal_failures_total",
		Help: "Booking history journal writes that failed and were swallowed",
	})

	// Source health metrics
	sourceExcluded = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rentmesh_source_excluded",
		Help: "Whether a source is currently excluded from fan-out (1) or not (0)",
	}, []string{"source"})

	sourceSlowRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rentmesh_source_slow_rate",
		Help: "Sliding slow-sample rate per source",
	}, []string{"source"})

	sourceBackoffLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rentmesh_source_backoff_level",
		Help: "Current exponential backoff level per source",
	}, []string{"source"})

	// Fan-out metrics
	fanoutJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentmesh_fanout_jobs_total",
		Help: "Availability jobs by result",
	}, []string{"result"}) // result=complete|empty|sla_breach

	fanoutInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rentmesh_fanout_inflight",
		Help: "Availability fan-out workers currently in flight",
	})

	// Poll metrics
	pollRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentmesh_poll_requests_total",
		Help: "Availability poll requests by outcome",
	}, []string{"outcome"}) // outcome=items|empty|complete|not_found
)

// ObserveAdapterCall records one adapter invocation.
func ObserveAdapterCall(source, op, outcome string, elapsed time.Duration) {
	adapterRequestDuration.WithLabelValues(source, op, outcome).Observe(elapsed.Seconds())
	adapterRequestsTotal.WithLabelValues(source, op, outcome).Inc()
}

// RecordBookingOp records a booking core operation outcome.
func RecordBookingOp(op, outcome string) {
	bookingOpsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordHistoryJournalFailure counts a swallowed journal write failure.
func RecordHistoryJournalFailure() {
	historyJournalFailures.Inc()
}

// SetSourceHealth publishes the derived health state of a source.
func SetSourceHealth(source string, slowRate float64, backoffLevel int, excluded bool) {
	sourceSlowRate.WithLabelValues(source).Set(slowRate)
	sourceBackoffLevel.WithLabelValues(source).Set(float64(backoffLevel))
	v := 0.0
	if excluded {
		v = 1.0
	}
	sourceExcluded.WithLabelValues(source).Set(v)
}

// RecordFanoutJob counts a finished availability job.
func RecordFanoutJob(result string) {
	fanoutJobsTotal.WithLabelValues(result).Inc()
}

// FanoutWorkerStarted / FanoutWorkerDone track in-flight workers.
func FanoutWorkerStarted() { fanoutInflight.Inc() }
func FanoutWorkerDone()    { fanoutInflight.Dec() }

// RecordPoll counts a poll request outcome.
func RecordPoll(outcome string) {
	pollRequestsTotal.WithLabelValues(outcome).Inc()
}
