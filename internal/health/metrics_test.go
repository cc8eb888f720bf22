package health

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tenderflow/docpipe/internal/extractor"
	"github.com/tenderflow/docpipe/internal/worker"
)

func TestRenderPrometheus(t *testing.T) {
	r := NewRegistry()
	r.IncCounter("docpipe_jobs_completed_total", map[string]string{"queue": "receipt-parse"}, 3)
	r.SetGauge("docpipe_queue_waiting", map[string]string{"queue": "receipt-parse"}, 7)

	out := r.RenderPrometheus()
	require.Contains(t, out, `docpipe_jobs_completed_total{queue="receipt-parse"} 3`)
	require.Contains(t, out, `docpipe_queue_waiting{queue="receipt-parse"} 7`)
	require.True(t, strings.HasSuffix(out, "\n"))
}

func TestRegistryMeans(t *testing.T) {
	r := NewRegistry()
	labels := map[string]string{"extractor": "generic-invoice"}
	r.Observe("docpipe_extractor_confidence", labels, 0.8)
	r.Observe("docpipe_extractor_confidence", labels, 0.6)

	s := r.Snapshot()
	require.Len(t, s.Means, 1)
	require.Equal(t, "docpipe_extractor_confidence_mean", s.Means[0].Name)
	require.InDelta(t, 0.7, s.Means[0].Value, 1e-9)

	require.Contains(t, r.RenderPrometheus(), `docpipe_extractor_confidence_mean{extractor="generic-invoice"} 0.7`)
}

func TestWorkerObserverCountsEvents(t *testing.T) {
	r := NewRegistry()
	obs := WorkerObserver(r)

	obs(worker.Event{Type: worker.EventCompleted, Queue: "q"})
	obs(worker.Event{Type: worker.EventCompleted, Queue: "q"})
	obs(worker.Event{Type: worker.EventFailed, Queue: "q"})
	obs(worker.Event{Type: worker.EventStalled, Queue: "q"})

	out := r.RenderPrometheus()
	require.Contains(t, out, `docpipe_jobs_completed_total{queue="q"} 2`)
	require.Contains(t, out, `docpipe_jobs_failed_total{queue="q"} 1`)
	require.Contains(t, out, `docpipe_jobs_stalled_total{queue="q"} 1`)
}

func TestExtractorObserverTracksSuccessRate(t *testing.T) {
	r := NewRegistry()
	obs := ExtractorObserver(r)

	obs("generic-invoice", extractor.Result{Success: true, Confidence: 1, ProcessingTime: 10 * time.Millisecond})
	obs("generic-invoice", extractor.Result{Success: false, Confidence: 0, ProcessingTime: 5 * time.Millisecond})

	out := r.RenderPrometheus()
	require.Contains(t, out, `docpipe_extractor_invocations_total{extractor="generic-invoice"} 2`)
	require.Contains(t, out, `docpipe_extractor_success_total{extractor="generic-invoice"} 1`)
	require.Contains(t, out, `docpipe_extractor_confidence_mean{extractor="generic-invoice"} 0.5`)
}

func TestSanitizeMetricName(t *testing.T) {
	require.Equal(t, "queue_depth", sanitizeMetricName("queue.depth"))
	require.Equal(t, "docpipe_metric", sanitizeMetricName("  "))
}
