package monitoring

import (
	"fmt"
	"runtime"
	"time"
)

// Limits a long-running scheduler should stay well under.
const (
	DefaultMaxMemoryMB   = 256
	DefaultMaxGoroutines = 64
)

// ResourceMonitor samples the scheduler's own resource usage so slow leaks
// show up in the logs long before they matter.
type ResourceMonitor struct {
	maxMemoryMB   float64
	maxGoroutines int
	baseline      ResourceSnapshot
}

// ResourceSnapshot represents resource usage at a point in time
type ResourceSnapshot struct {
	Timestamp    time.Time
	AllocMB      float64
	SysMB        float64
	NumGoroutine int
	HeapObjects  uint64
}

// NewResourceMonitor creates a monitor with the given limits and records the
// current usage as its baseline.
func NewResourceMonitor(maxMemoryMB float64, maxGoroutines int) *ResourceMonitor {
	rm := &ResourceMonitor{
		maxMemoryMB:   maxMemoryMB,
		maxGoroutines: maxGoroutines,
	}
	rm.baseline = rm.GetSnapshot()
	return rm
}

// GetSnapshot returns current resource usage
func (rm *ResourceMonitor) GetSnapshot() ResourceSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ResourceSnapshot{
		Timestamp:    time.Now(),
		AllocMB:      float64(m.Alloc) / 1024 / 1024,
		SysMB:        float64(m.Sys) / 1024 / 1024,
		NumGoroutine: runtime.NumGoroutine(),
		HeapObjects:  m.HeapObjects,
	}
}

// CheckLimits validates a snapshot against the configured limits. A zero
// limit is not enforced.
func (rm *ResourceMonitor) CheckLimits(snapshot ResourceSnapshot) error {
	if rm.maxMemoryMB > 0 && snapshot.AllocMB > rm.maxMemoryMB {
		return fmt.Errorf("memory limit exceeded: %.2f MB > %.2f MB",
			snapshot.AllocMB, rm.maxMemoryMB)
	}

	if rm.maxGoroutines > 0 && snapshot.NumGoroutine > rm.maxGoroutines {
		return fmt.Errorf("goroutine limit exceeded: %d > %d",
			snapshot.NumGoroutine, rm.maxGoroutines)
	}

	return nil
}

// MemoryGrowth is the change in allocated memory since the baseline
func (rm *ResourceMonitor) MemoryGrowth(current ResourceSnapshot) float64 {
	return current.AllocMB - rm.baseline.AllocMB
}

// GoroutineGrowth is the change in goroutine count since the baseline
func (rm *ResourceMonitor) GoroutineGrowth(current ResourceSnapshot) int {
	return current.NumGoroutine - rm.baseline.NumGoroutine
}
