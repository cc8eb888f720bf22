package health

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tenderflow/docpipe/internal/extractor"
	"github.com/tenderflow/docpipe/internal/worker"
)

// MetricPoint is one exported sample.
type MetricPoint struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Snapshot is a point-in-time copy of the registry.
type Snapshot struct {
	Counters []MetricPoint `json:"counters"`
	Gauges   []MetricPoint `json:"gauges"`
	Means    []MetricPoint `json:"means"`
}

type metricEntry struct {
	name   string
	labels map[string]string
	value  float64
}

type meanEntry struct {
	name   string
	labels map[string]string
	sum    float64
	count  float64
}

// Registry collects counters, gauges and running means for the pull-based
// metrics export. It is deliberately small; no histograms, no exemplars.
type Registry struct {
	mu       sync.Mutex
	counters map[string]metricEntry
	gauges   map[string]metricEntry
	means    map[string]meanEntry
}

func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]metricEntry),
		gauges:   make(map[string]metricEntry),
		means:    make(map[string]meanEntry),
	}
}

func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	if delta == 0 {
		return
	}
	k, lcopy := metricKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.counters[k]
	if e.name == "" {
		e = metricEntry{name: name, labels: lcopy}
	}
	e.value += delta
	r.counters[k] = e
}

func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	k, lcopy := metricKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[k] = metricEntry{name: name, labels: lcopy, value: value}
}

// Observe feeds one sample into a running mean, exported as <name>_mean.
func (r *Registry) Observe(name string, labels map[string]string, value float64) {
	k, lcopy := metricKey(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.means[k]
	if e.name == "" {
		e = meanEntry{name: name, labels: lcopy}
	}
	e.sum += value
	e.count++
	r.means[k] = e
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Snapshot{
		Counters: make([]MetricPoint, 0, len(r.counters)),
		Gauges:   make([]MetricPoint, 0, len(r.gauges)),
		Means:    make([]MetricPoint, 0, len(r.means)),
	}
	for _, e := range r.counters {
		out.Counters = append(out.Counters, MetricPoint{Name: e.name, Labels: cloneMap(e.labels), Value: e.value})
	}
	for _, e := range r.gauges {
		out.Gauges = append(out.Gauges, MetricPoint{Name: e.name, Labels: cloneMap(e.labels), Value: e.value})
	}
	for _, e := range r.means {
		mean := 0.0
		if e.count > 0 {
			mean = e.sum / e.count
		}
		out.Means = append(out.Means, MetricPoint{Name: e.name + "_mean", Labels: cloneMap(e.labels), Value: mean})
	}
	sort.Slice(out.Counters, func(i, j int) bool { return out.Counters[i].Name < out.Counters[j].Name })
	sort.Slice(out.Gauges, func(i, j int) bool { return out.Gauges[i].Name < out.Gauges[j].Name })
	sort.Slice(out.Means, func(i, j int) bool { return out.Means[i].Name < out.Means[j].Name })
	return out
}

func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = make(map[string]metricEntry)
	r.gauges = make(map[string]metricEntry)
	r.means = make(map[string]meanEntry)
}

// RenderPrometheus renders the registry in the text scrape format.
func (r *Registry) RenderPrometheus() string {
	s := r.Snapshot()
	lines := make([]string, 0, len(s.Counters)+len(s.Gauges)+len(s.Means))
	for _, set := range [][]MetricPoint{s.Counters, s.Gauges, s.Means} {
		for _, p := range set {
			lines = append(lines, formatPromLine(sanitizeMetricName(p.Name), p.Labels, p.Value))
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n") + "\n"
}

// WorkerObserver adapts pool events into per-queue counters.
func WorkerObserver(r *Registry) worker.Observer {
	return func(ev worker.Event) {
		labels := map[string]string{"queue": ev.Queue}
		switch ev.Type {
		case worker.EventCompleted:
			r.IncCounter("docpipe_jobs_completed_total", labels, 1)
		case worker.EventFailed:
			r.IncCounter("docpipe_jobs_failed_total", labels, 1)
		case worker.EventStalled:
			r.IncCounter("docpipe_jobs_stalled_total", labels, 1)
		case worker.EventWorkerError:
			r.IncCounter("docpipe_worker_errors_total", labels, 1)
		}
	}
}

// ExtractorObserver records invocation counts, success rate inputs, and
// confidence/latency means per extractor type.
func ExtractorObserver(r *Registry) func(extractorType string, res extractor.Result) {
	return func(extractorType string, res extractor.Result) {
		labels := map[string]string{"extractor": extractorType}
		r.IncCounter("docpipe_extractor_invocations_total", labels, 1)
		if res.Success {
			r.IncCounter("docpipe_extractor_success_total", labels, 1)
		}
		r.Observe("docpipe_extractor_confidence", labels, float64(res.Confidence))
		r.Observe("docpipe_extractor_processing_seconds", labels, res.ProcessingTime.Seconds())
	}
}

func metricKey(name string, labels map[string]string) (string, map[string]string) {
	if len(labels) == 0 {
		return name, nil
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, name)
	copyLabels := make(map[string]string, len(labels))
	for _, k := range keys {
		v := labels[k]
		copyLabels[k] = v
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, "|"), copyLabels
}

func cloneMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sanitizeMetricName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "docpipe_metric"
	}
	out := make([]rune, 0, len(name))
	for i, r := range name {
		valid := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' || (r >= '0' && r <= '9' && i > 0)
		if valid {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}

func formatPromLine(name string, labels map[string]string, value float64) string {
	if len(labels) == 0 {
		return name + " " + strconv.FormatFloat(value, 'f', -1, 64)
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", sanitizeMetricName(k), labels[k]))
	}
	return fmt.Sprintf("%s{%s} %s", name, strings.Join(parts, ","), strconv.FormatFloat(value, 'f', -1, 64))
}
