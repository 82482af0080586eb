// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// EventsReduced tracks events applied to conversation states.
	EventsReduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_events_reduced_total",
			Help: "Events applied to conversation timelines",
		},
		[]string{"category", "type"},
	)

	// EventsDropped tracks events dropped before reaching a reducer.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeline_events_dropped_total",
			Help: "Events dropped before reaching a reducer",
		},
		[]string{"reason"},
	)

	// ReduceDuration tracks single-event reduction latency.
	ReduceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timeline_reduce_duration_seconds",
			Help:    "Single event reduction latency",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		},
	)

	// DuplicateEvents tracks events dropped by id deduplication.
	DuplicateEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeline_duplicate_events_total",
			Help: "Events dropped by timeline id deduplication",
		},
	)

	// OrphanEvents tracks events whose correlation id resolved to nothing.
	OrphanEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeline_orphan_events_total",
			Help: "Events degraded to timeline-only visibility",
		},
	)

	// OutOfOrderEvents tracks live events that arrived out of order.
	OutOfOrderEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeline_out_of_order_events_total",
			Help: "Live events applied out of (event_time_us, event_counter) order",
		},
	)

	// DuplicateHITLAsks tracks asked events for an already-occupied slot.
	DuplicateHITLAsks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeline_duplicate_hitl_asks_total",
			Help: "HITL requests arriving while a same-kind request is pending",
		},
	)

	// StreamingConversations tracks conversations currently streaming.
	StreamingConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timeline_streaming_conversations",
			Help: "Conversations currently holding a streaming slot",
		},
	)

	// AdmissionRejections tracks stream starts rejected by the cap.
	AdmissionRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeline_admission_rejections_total",
			Help: "Stream starts rejected because the streaming cap was saturated",
		},
	)

	// PendingHITLRequests tracks occupied pending HITL slots.
	PendingHITLRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "timeline_pending_hitl_requests",
			Help: "Occupied pending human-in-the-loop slots",
		},
		[]string{"kind"},
	)

	// BackfillPages tracks merged history pages.
	BackfillPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeline_backfill_pages_total",
			Help: "History pages merged into timelines",
		},
	)

	// BackfillEvents tracks events prepended by backfill merges.
	BackfillEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timeline_backfill_events_total",
			Help: "Events prepended by history backfill",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ConversationsOpen tracks conversations currently held in the store.
	ConversationsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timeline_conversations_open",
			Help: "Conversations currently held in the store",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordEventReduced records one event applied to a timeline.
func RecordEventReduced(category, eventType string, duration float64) {
	EventsReduced.WithLabelValues(category, eventType).Inc()
	ReduceDuration.Observe(duration)
}

// RecordBackfill records one merged history page.
func RecordBackfill(eventCount int) {
	BackfillPages.Inc()
	BackfillEvents.Add(float64(eventCount))
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
