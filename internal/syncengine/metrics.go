package syncengine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are registered on the registry passed in Options; a nil registry
// keeps them unregistered.
type metrics struct {
	// EventsApplied counts reconciled remote events and local commands.
	EventsApplied *prometheus.CounterVec
	// EventsSkipped counts events dropped as out of order or invalid.
	EventsSkipped *prometheus.CounterVec
	// StorageFailures counts LocalStore writes that failed inside a step.
	StorageFailures prometheus.Counter
	// StateTransitions tracks connection state changes.
	StateTransitions *prometheus.CounterVec
	// ConnectionState is the current ConnState as a number.
	ConnectionState prometheus.Gauge
	// OpenTopics is the size of the subscription set.
	OpenTopics prometheus.Gauge
	// ResyncRuns counts full resyncs by result.
	ResyncRuns *prometheus.CounterVec
	// ResyncDuration tracks how long fetch plus apply took.
	ResyncDuration prometheus.Histogram
	// QueueDepth is the number of pending reconciliation tasks.
	QueueDepth prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		EventsApplied: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_events_applied_total",
				Help: "Total number of change events applied to the store and view",
			},
			[]string{"table", "type"},
		),
		EventsSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_events_skipped_total",
				Help: "Total number of change events skipped during reconciliation",
			},
			[]string{"table", "type"},
		),
		StorageFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "chatsync_storage_failures_total",
				Help: "Total number of local store writes that failed",
			},
		),
		StateTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_state_transitions_total",
				Help: "Total number of connection state transitions",
			},
			[]string{"from_state", "to_state"},
		),
		ConnectionState: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatsync_connection_state",
				Help: "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 syncing)",
			},
		),
		OpenTopics: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatsync_open_topics",
				Help: "Number of open change feed topics",
			},
		),
		ResyncRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatsync_resync_runs_total",
				Help: "Total number of full resyncs by result",
			},
			[]string{"result"},
		),
		ResyncDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatsync_resync_duration_seconds",
				Help:    "Duration of full resyncs",
				Buckets: prometheus.DefBuckets,
			},
		),
		QueueDepth: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatsync_queue_depth",
				Help: "Number of reconciliation tasks waiting to run",
			},
		),
	}
}
