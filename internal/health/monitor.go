package health

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/tenderflow/docpipe/internal/queue"
)

// Status values for the system health snapshot.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Pinger probes one external capability.
type Pinger func(ctx context.Context) error

// ServiceHealth is the reachability verdict for one capability.
type ServiceHealth struct {
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// Resources is a coarse view of process resource usage.
type Resources struct {
	HeapAllocBytes uint64 `json:"heapAllocBytes"`
	Goroutines     int    `json:"goroutines"`
	NumCPU         int    `json:"numCpu"`
}

// SystemHealth is the full snapshot served by the health endpoint.
type SystemHealth struct {
	Status    string                   `json:"status"`
	Services  map[string]ServiceHealth `json:"services"`
	Queues    map[string]queue.Counts  `json:"queues"`
	Resources Resources                `json:"resources"`
	Uptime    string                   `json:"uptime"`
	CheckedAt time.Time                `json:"checkedAt"`
}

// Monitor aggregates capability probes and queue censuses into one health
// verdict. The queue backend probe is special: if it fails the whole system
// is unhealthy, because nothing can make progress without it.
type Monitor struct {
	backend         queue.Backend
	queues          map[string]*queue.Queue
	services        map[string]Pinger
	registry        *Registry
	failedThreshold int
	startedAt       time.Time
	logger          *slog.Logger
}

func NewMonitor(backend queue.Backend, queues map[string]*queue.Queue, services map[string]Pinger, registry *Registry, failedThreshold int, logger *slog.Logger) *Monitor {
	if failedThreshold <= 0 {
		failedThreshold = 10
	}
	return &Monitor{
		backend:         backend,
		queues:          queues,
		services:        services,
		registry:        registry,
		failedThreshold: failedThreshold,
		startedAt:       time.Now(),
		logger:          logger,
	}
}

// Check builds a health snapshot. Degraded when any capability is down or
// any queue's failed count crosses the threshold; unhealthy only when the
// queue backend itself is unreachable.
func (m *Monitor) Check(ctx context.Context) SystemHealth {
	snapshot := SystemHealth{
		Status:    StatusHealthy,
		Services:  make(map[string]ServiceHealth, len(m.services)+1),
		Queues:    make(map[string]queue.Counts, len(m.queues)),
		CheckedAt: time.Now(),
		Uptime:    time.Since(m.startedAt).Round(time.Second).String(),
	}

	backendErr := m.backend.Ping(ctx)
	snapshot.Services["queueBackend"] = serviceHealth(backendErr)
	if backendErr != nil {
		snapshot.Status = StatusUnhealthy
		m.logger.Error("queue backend unreachable", "error", backendErr)
	}

	for name, ping := range m.services {
		err := ping(ctx)
		snapshot.Services[name] = serviceHealth(err)
		if err != nil && snapshot.Status == StatusHealthy {
			snapshot.Status = StatusDegraded
		}
		if err != nil {
			m.logger.Warn("capability unreachable", "service", name, "error", err)
		}
	}

	for name, q := range m.queues {
		counts, err := q.Counts(ctx)
		if err != nil {
			m.logger.Warn("queue census failed", "queue", name, "error", err)
			continue
		}
		snapshot.Queues[name] = counts
		if counts.Failed > m.failedThreshold && snapshot.Status == StatusHealthy {
			snapshot.Status = StatusDegraded
		}
		if m.registry != nil {
			labels := map[string]string{"queue": name}
			m.registry.SetGauge("docpipe_queue_waiting", labels, float64(counts.Waiting))
			m.registry.SetGauge("docpipe_queue_active", labels, float64(counts.Active))
			m.registry.SetGauge("docpipe_queue_completed", labels, float64(counts.Completed))
			m.registry.SetGauge("docpipe_queue_failed", labels, float64(counts.Failed))
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	snapshot.Resources = Resources{
		HeapAllocBytes: mem.HeapAlloc,
		Goroutines:     runtime.NumGoroutine(),
		NumCPU:         runtime.NumCPU(),
	}
	return snapshot
}

func serviceHealth(err error) ServiceHealth {
	if err != nil {
		return ServiceHealth{Reachable: false, Error: err.Error()}
	}
	return ServiceHealth{Reachable: true}
}
