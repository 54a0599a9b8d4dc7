// Package metrics defines the Prometheus collectors exported on
// /metrics. Collectors are registered once at init via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsIngested counts items accepted by the ingestion endpoint,
	// labelled by domain and whether the write created a new row.
	ItemsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsefeed_items_ingested_total",
		Help: "Content items accepted by ingestion.",
	}, []string{"domain", "created"})

	// ItemsScored counts per-item score recomputations.
	ItemsScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsefeed_items_scored_total",
		Help: "Score recomputations performed by feed sweeps.",
	}, []string{"domain"})

	// SweepDuration observes full sweep latency.
	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulsefeed_sweep_duration_seconds",
		Help:    "Duration of one full score sweep.",
		Buckets: prometheus.DefBuckets,
	})

	// EventsPublished counts hub events by type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsefeed_events_published_total",
		Help: "Events handed to the distribution hub.",
	}, []string{"type"})

	// Subscribers tracks currently connected hub subscribers.
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulsefeed_hub_subscribers",
		Help: "Currently connected WebSocket subscribers.",
	})

	// SubscriberEvictions counts subscribers dropped for slow consumption.
	SubscriberEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulsefeed_hub_evictions_total",
		Help: "Subscribers evicted because their outbound queue overflowed.",
	})

	// TriageVerdicts counts triage outcomes, labelled passed|rejected and
	// whether the verdict was a fail-open fallback.
	TriageVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsefeed_triage_verdicts_total",
		Help: "Triage verdicts recorded.",
	}, []string{"status", "fallback"})

	// ScheduledRuns counts digest runs by terminal status.
	ScheduledRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulsefeed_scheduled_runs_total",
		Help: "Scheduled digest runs by outcome.",
	}, []string{"status"})
)
