package tether

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide Prometheus instrumentation. These complement (not replace) the
// per-instance counters on ToolDispatcher and EventBus, which are scoped to a
// single request and reset on disposal.
var (
	// dispatchesTotal counts tool dispatches by tool and outcome
	// (success, failure, denied, not_found).
	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_dispatches_total",
			Help: "Total number of tool dispatches",
		},
		[]string{"tool", "outcome"},
	)

	// dispatchDuration tracks tool execution latency
	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tether_dispatch_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// eventsPublished counts events accepted by buses, by event type
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_events_published_total",
			Help: "Total number of events published to event buses",
		},
		[]string{"type"},
	)

	// eventDeliveries counts individual delivery attempts by target kind
	// (subscription, sink) and outcome (success, failure).
	eventDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_event_deliveries_total",
			Help: "Total number of event delivery attempts",
		},
		[]string{"target", "outcome"},
	)

	// eventsDropped counts events dropped after exhausting redelivery
	eventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tether_events_dropped_total",
			Help: "Total number of events dropped after exhausting retries",
		},
	)

	// emitterSends counts wire payload sends by outcome (sent, failed, rejected)
	emitterSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tether_emitter_sends_total",
			Help: "Total number of emitter send attempts",
		},
		[]string{"outcome"},
	)
)
