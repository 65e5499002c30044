package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor periodically checks the worker pool and the steps flowing through it
type HealthMonitor struct {
	pool     *Pool
	interval time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	previous *HealthStatus
}

// HealthStatus is a point-in-time view of the pool. Step counters are cumulative.
type HealthStatus struct {
	TotalWorkers   int `json:"total_workers"`
	IdleWorkers    int `json:"idle_workers"`
	BusyWorkers    int `json:"busy_workers"`
	StoppedWorkers int `json:"stopped_workers"`

	// PendingSteps are step requests received but not yet taken by a worker
	PendingSteps    int64     `json:"pending_steps"`
	StepsCompleted  int64     `json:"steps_completed"`
	StepsFailed     int64     `json:"steps_failed"`
	StepsTimedOut   int64     `json:"steps_timed_out"`
	UnreportedSteps int64     `json:"unreported_steps"`
	LastStepAt      time.Time `json:"last_step_at,omitempty"`

	Healthy   bool      `json:"healthy"`
	Timestamp time.Time `json:"timestamp"`
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(pool *Pool, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		pool:     pool,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)
}

func (h *HealthMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

// checkHealth logs the pool status, publishes worker gauges and warns about steps
// that timed out or could not be reported since the previous check
func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	h.mu.Lock()
	previous := h.previous
	h.previous = status
	h.mu.Unlock()
	if previous == nil {
		previous = &HealthStatus{}
	}

	h.logger.Debug("worker pool health check",
		zap.Int("idle", status.IdleWorkers),
		zap.Int("busy", status.BusyWorkers),
		zap.Int("stopped", status.StoppedWorkers),
		zap.Int64("pending_steps", status.PendingSteps),
		zap.Bool("healthy", status.Healthy))

	h.pool.metrics.RecordWorkerPoolStatus(
		status.IdleWorkers,
		status.BusyWorkers,
		status.StoppedWorkers,
	)

	if !status.Healthy {
		h.logger.Warn("worker pool is unhealthy",
			zap.Int("idle", status.IdleWorkers),
			zap.Int("stopped", status.StoppedWorkers),
			zap.Int64("pending_steps", status.PendingSteps))
	}

	if n := status.StepsTimedOut - previous.StepsTimedOut; n > 0 {
		h.logger.Warn("steps timed out since last check",
			zap.Int64("count", n),
			zap.Duration("step_timeout", h.pool.stepTimeout))
	}
	if n := status.UnreportedSteps - previous.UnreportedSteps; n > 0 {
		h.logger.Warn("step outcomes could not be applied to their runs", zap.Int64("count", n))
	}
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	status := &HealthStatus{Timestamp: time.Now()}

	for _, w := range h.pool.workers {
		if w == nil {
			continue
		}
		w.mu.RLock()
		switch w.status {
		case WorkerStatusIdle:
			status.IdleWorkers++
		case WorkerStatusBusy:
			status.BusyWorkers++
		case WorkerStatusStopped:
			status.StoppedWorkers++
		}
		if w.lastJob.After(status.LastStepAt) {
			status.LastStepAt = w.lastJob
		}
		w.mu.RUnlock()
		status.TotalWorkers++
	}

	stats := &h.pool.stats
	status.PendingSteps = stats.pending.Load()
	status.StepsCompleted = stats.completed.Load()
	status.StepsFailed = stats.failed.Load()
	status.StepsTimedOut = stats.timedOut.Load()
	status.UnreportedSteps = stats.unreported.Load()

	// A saturated pool is healthy as long as nothing is waiting for a worker.
	status.Healthy = status.TotalWorkers > 0 && status.StoppedWorkers == 0 &&
		(status.IdleWorkers > 0 || status.PendingSteps == 0)

	return status
}

// IsHealthy reports whether every worker is running and no step request waits without an idle worker
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}

// Report returns the current status for health endpoints
func (h *HealthMonitor) Report() any {
	return h.GetStatus()
}
