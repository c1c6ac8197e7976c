// Package metrics provides Prometheus metrics for the sync agent and ingestion server
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Agent metrics
	FileEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_file_events_total",
			Help: "File events dispatched by the watcher or scanner",
		},
		[]string{"component", "event", "outcome"},
	)

	SyncRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_sync_requests_total",
			Help: "Requests sent to the ingestion boundary",
		},
		[]string{"component", "endpoint", "status"},
	)

	SyncRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docsync_sync_request_duration_seconds",
			Help:    "Latency of ingestion boundary requests including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component", "endpoint"},
	)

	// Pipeline metrics
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docsync_pipeline_stage_duration_seconds",
			Help:    "Time spent in each ingestion stage",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"component", "stage", "outcome"},
	)

	DocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_documents_total",
			Help: "Documents reaching a terminal processing status",
		},
		[]string{"component", "status"},
	)

	LaneDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docsync_lane_depth",
			Help: "Tasks waiting in each worker lane",
		},
		[]string{"component", "lane"},
	)

	// Approval queue metrics
	QueueTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsync_queue_transitions_total",
			Help: "Sync queue items created or reviewed",
		},
		[]string{"component", "item_type", "status"},
	)

	// Search metrics
	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docsync_search_duration_seconds",
			Help:    "Hybrid search latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component"},
	)

	SearchResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docsync_search_results",
			Help:    "Citations returned per search",
			Buckets: []float64{0, 1, 5, 10, 20, 50},
		},
		[]string{"component"},
	)
)

// Recorder records metrics for one component
type Recorder struct {
	component string
}

// NewRecorder creates a recorder labelled with component
func NewRecorder(component string) *Recorder {
	return &Recorder{component: component}
}

// RecordFileEvent records a dispatched file event and its outcome
func (r *Recorder) RecordFileEvent(event, outcome string) {
	if r == nil {
		return
	}
	FileEventsTotal.WithLabelValues(r.component, event, outcome).Inc()
}

// RecordSyncRequest records a boundary request
func (r *Recorder) RecordSyncRequest(endpoint, status string, duration time.Duration) {
	if r == nil {
		return
	}
	SyncRequestsTotal.WithLabelValues(r.component, endpoint, status).Inc()
	SyncRequestDuration.WithLabelValues(r.component, endpoint).Observe(duration.Seconds())
}

// RecordStage records one pipeline stage execution
func (r *Recorder) RecordStage(stage, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	StageDuration.WithLabelValues(r.component, stage, outcome).Observe(duration.Seconds())
}

// RecordDocument records a document reaching status
func (r *Recorder) RecordDocument(status string) {
	if r == nil {
		return
	}
	DocumentsTotal.WithLabelValues(r.component, status).Inc()
}

// SetLaneDepth sets the backlog of a worker lane
func (r *Recorder) SetLaneDepth(lane string, depth int) {
	if r == nil {
		return
	}
	LaneDepth.WithLabelValues(r.component, lane).Set(float64(depth))
}

// RecordQueueTransition records a queue item created or reviewed
func (r *Recorder) RecordQueueTransition(itemType, status string) {
	if r == nil {
		return
	}
	QueueTransitionsTotal.WithLabelValues(r.component, itemType, status).Inc()
}

// RecordSearch records search latency and result count
func (r *Recorder) RecordSearch(duration time.Duration, results int) {
	if r == nil {
		return
	}
	SearchDuration.WithLabelValues(r.component).Observe(duration.Seconds())
	SearchResults.WithLabelValues(r.component).Observe(float64(results))
}

// Timer measures elapsed time
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
