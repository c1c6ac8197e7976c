package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounters(t *testing.T) {
	r := NewRecorder("test-counters")

	r.RecordFileEvent("created", "queued")
	r.RecordFileEvent("created", "queued")
	r.RecordDocument("ready")
	r.RecordQueueTransition("client", "pending")

	assert.Equal(t, 2.0, testutil.ToFloat64(FileEventsTotal.WithLabelValues("test-counters", "created", "queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(DocumentsTotal.WithLabelValues("test-counters", "ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(QueueTransitionsTotal.WithLabelValues("test-counters", "client", "pending")))
}

func TestRecorderGauge(t *testing.T) {
	r := NewRecorder("test-gauge")
	r.SetLaneDepth("ocr", 3)
	assert.Equal(t, 3.0, testutil.ToFloat64(LaneDepth.WithLabelValues("test-gauge", "ocr")))
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RecordFileEvent("deleted", "ok")
		r.RecordSyncRequest("heartbeat", "ok", time.Millisecond)
		r.RecordStage("extract", "ok", time.Second)
		r.RecordSearch(time.Millisecond, 3)
	})
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	assert.GreaterOrEqual(t, timer.Duration(), time.Duration(0))
}
