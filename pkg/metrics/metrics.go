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

	// UpstreamDuration tracks calls to the conversation service and agent platform.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_upstream_duration_seconds",
			Help:    "Upstream REST call duration",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"op", "result"},
	)

	// PollsTotal counts poll fetches per resource kind.
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_polls_total",
			Help: "Total poll fetches",
		},
		[]string{"kind", "result"},
	)

	// PollChangesTotal counts polls whose result differed from the previous value.
	PollChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_poll_changes_total",
			Help: "Poll results that changed the stored value",
		},
		[]string{"kind"},
	)

	// ActivePollTasks tracks scheduled poll tasks.
	ActivePollTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_poll_tasks_active",
			Help: "Number of scheduled poll tasks",
		},
	)

	// FeedRunDuration tracks aggregation runs over all conversations.
	FeedRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_feed_run_duration_seconds",
			Help:    "Feed aggregation run duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"result"},
	)

	// FeedFetchFailures counts per-conversation failures inside aggregation runs.
	FeedFetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_feed_fetch_failures_total",
			Help: "Per-conversation message fetch failures during aggregation",
		},
	)

	// MutationsTotal counts optimistic mutations by field and outcome.
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_mutations_total",
			Help: "Optimistic mutations by outcome",
		},
		[]string{"field", "result"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// EventsPublished counts change events handed to subscribers and the broker.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_events_published_total",
			Help: "Change events published",
		},
		[]string{"sink", "type"},
	)

	// EventsDropped counts change events dropped for slow subscribers.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inbox_events_dropped_total",
			Help: "Change events dropped because a subscriber was full",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordUpstream records a call to an upstream service.
func RecordUpstream(op string, err error, duration float64) {
	UpstreamDuration.WithLabelValues(op, result(err)).Observe(duration)
}

// RecordPoll records a poll fetch.
func RecordPoll(kind string, err error, changed bool) {
	PollsTotal.WithLabelValues(kind, result(err)).Inc()
	if changed {
		PollChangesTotal.WithLabelValues(kind).Inc()
	}
}

// RecordFeedRun records an aggregation run.
func RecordFeedRun(applied bool, failures int, duration float64) {
	res := "applied"
	if !applied {
		res = "discarded"
	}
	FeedRunDuration.WithLabelValues(res).Observe(duration)
	FeedFetchFailures.Add(float64(failures))
}

// RecordMutation records the outcome of an optimistic mutation.
func RecordMutation(field string, err error) {
	res := "committed"
	if err != nil {
		res = "rolled_back"
	}
	MutationsTotal.WithLabelValues(field, res).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
