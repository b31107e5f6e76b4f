package web

import (
	"sync/atomic"
)

// BackpressureController bounds concurrently handled requests.
// A capacity of zero or less admits everything.
type BackpressureController struct {
	capacity      int64
	currentLoad   int64
	rejectedCount int64
}

// NewBackpressureController creates a controller admitting at most capacity requests at once
func NewBackpressureController(capacity int) *BackpressureController {
	return &BackpressureController{capacity: int64(capacity)}
}

// TryAcquire reserves a slot. It returns false, and counts a rejection, when
// the controller is full.
func (bc *BackpressureController) TryAcquire() bool {
	if bc.capacity <= 0 {
		atomic.AddInt64(&bc.currentLoad, 1)
		return true
	}
	for {
		current := atomic.LoadInt64(&bc.currentLoad)
		if current >= bc.capacity {
			atomic.AddInt64(&bc.rejectedCount, 1)
			return false
		}
		if atomic.CompareAndSwapInt64(&bc.currentLoad, current, current+1) {
			return true
		}
	}
}

// Release frees a slot reserved by TryAcquire
func (bc *BackpressureController) Release() {
	atomic.AddInt64(&bc.currentLoad, -1)
}

// BackpressureMetrics provides backpressure statistics
type BackpressureMetrics struct {
	Capacity      int64
	CurrentLoad   int64
	RejectedCount int64
	Utilization   float64 // percent of capacity, 0 when unbounded
}

// GetMetrics returns current backpressure metrics
func (bc *BackpressureController) GetMetrics() BackpressureMetrics {
	current := atomic.LoadInt64(&bc.currentLoad)
	m := BackpressureMetrics{
		Capacity:      bc.capacity,
		CurrentLoad:   current,
		RejectedCount: atomic.LoadInt64(&bc.rejectedCount),
	}
	if bc.capacity > 0 {
		m.Utilization = float64(current) / float64(bc.capacity) * 100
	}
	return m
}
