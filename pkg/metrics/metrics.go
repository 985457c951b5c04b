package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	SettlementsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settler_settlements_started_total",
		Help: "The total number of settlement runs started",
	})

	SettlementsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_settlements_completed_total",
		Help: "The total number of settlement runs by final state",
	}, []string{"destination_chain", "final_state"})

	SettlementDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settler_settlement_duration_seconds",
		Help:    "Time taken to drive a settlement to a terminal state",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // Start at 1s, covers the 30-minute attestation cap
	}, []string{"destination_chain"})

	InflightSettlements = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "settler_inflight_settlements",
		Help: "The number of settlements currently in flight",
	})

	StepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_step_failures_total",
		Help: "Total number of failed settlement steps by step name",
	}, []string{"destination_chain", "step"})

	AttestationPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settler_attestation_polls_total",
		Help: "The total number of attestation status queries issued",
	})

	AttestationPollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settler_attestation_poll_errors_total",
		Help: "The total number of transient attestation query failures",
	})

	AttestationWaitTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settler_attestation_wait_seconds",
		Help:    "Time spent waiting for an attestation to become available",
		Buckets: prometheus.ExponentialBuckets(15, 2, 8),
	})

	LedgerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_ledger_writes_total",
		Help: "Total number of terminal ledger writes by outcome",
	}, []string{"status"})

	DuplicateIntents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settler_duplicate_intents_total",
		Help: "The number of settlement requests rejected as duplicates of an in-flight run",
	})
)
