package dispatch

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/tablescan/errors"
)

// SystemMetrics reports pool and host resource usage
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active" yaml:"workers_active"`
	WorkersTotal  int     `json:"workers_total" yaml:"workers_total"`
	JobsProcessed int     `json:"jobs_processed" yaml:"jobs_processed"`
	MemoryUsedGB  float64 `json:"memory_used_gb" yaml:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb" yaml:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent" yaml:"memory_percent"`
	JobsQueued    int     `json:"jobs_queued" yaml:"jobs_queued"`
	JobsRunning   int     `json:"jobs_running" yaml:"jobs_running"`
}

// getMemoryStats returns total and available memory in bytes
var getMemoryStats = func() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

const bytesPerGB = 1024 * 1024 * 1024

// calculateSafeWorkerCount recommends a worker count for availableGB of
// free memory. Each partition reader buffers at most one file listing, so
// the per-worker estimate is small.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorker = 0.5 // GB
	const memoryBuffer = 1.0    // GB reserved for the rest of the host

	if availableGB < memoryBuffer {
		return 1
	}

	recommended := int((availableGB - memoryBuffer) / memoryPerWorker)
	if recommended < 1 {
		return 1
	}
	if recommended > 64 {
		return 64
	}
	return recommended
}

// GetSystemMetrics returns current pool and memory usage. Queue counts are
// zero when the database cannot be read.
func (wp *WorkerPool) GetSystemMetrics(ctx context.Context) SystemMetrics {
	var m SystemMetrics

	if total, available, err := getMemoryStats(); err == nil && total > 0 {
		m.MemoryTotalGB = float64(total) / bytesPerGB
		m.MemoryUsedGB = float64(total-available) / bytesPerGB
		m.MemoryPercent = m.MemoryUsedGB / m.MemoryTotalGB * 100
	}

	if stats, err := wp.queue.GetStats(ctx); err == nil {
		m.JobsQueued = stats.Queued
		m.JobsRunning = stats.Running
	}

	wp.mu.Lock()
	m.WorkersActive = wp.activeWorkers
	m.JobsProcessed = wp.jobsProcessed
	wp.mu.Unlock()
	m.WorkersTotal = wp.config.Workers

	return m
}

// checkMemoryPressure returns a warning when the worker count exceeds what
// available memory supports, or "" when it is fine or cannot be measured.
func (wp *WorkerPool) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return ""
	}

	availableGB := float64(available) / bytesPerGB
	totalGB := float64(total) / bytesPerGB
	recommended := calculateSafeWorkerCount(availableGB)

	if wp.config.Workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB used). "+
				"Consider reducing dispatch.workers.",
			wp.config.Workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
