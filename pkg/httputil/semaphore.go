package httputil

import (
	"context"
	"sync/atomic"
)

// Semaphore bounds concurrent analysis work. The gateway holds a slot for
// the duration of each /analyze request and sheds load with 503 once the
// pool is exhausted, keeping latency flat instead of queueing unbounded
// work behind the engine.
type Semaphore struct {
	sem     chan struct{}
	dropped atomic.Int64
}

// NewSemaphore creates a semaphore with the given capacity. Non-positive
// capacities fall back to 64, matching the default analyze concurrency.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 64
	}
	return &Semaphore{
		sem: make(chan struct{}, capacity),
	}
}

// TryAcquire claims a slot without blocking. Returns false at capacity;
// the refusal is counted and reported by Stats.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Acquire blocks until a slot frees up or the context ends. Bridge
// consumers use this: a feed message must eventually be analyzed, not
// shed.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot. Must pair with a successful TryAcquire or
// Acquire.
func (s *Semaphore) Release() {
	select {
	case <-s.sem:
	default:
	}
}

// DroppedCount returns how many requests were shed at capacity.
func (s *Semaphore) DroppedCount() int64 {
	return s.dropped.Load()
}

// Available returns the number of free slots.
func (s *Semaphore) Available() int {
	return cap(s.sem) - len(s.sem)
}

// InUse returns the number of claimed slots.
func (s *Semaphore) InUse() int {
	return len(s.sem)
}

// Stats snapshots the semaphore for health reporting.
func (s *Semaphore) Stats() SemaphoreStats {
	return SemaphoreStats{
		Capacity:  cap(s.sem),
		InUse:     len(s.sem),
		Available: cap(s.sem) - len(s.sem),
		Dropped:   s.dropped.Load(),
	}
}

// SemaphoreStats reports analyze concurrency pressure.
type SemaphoreStats struct {
	Capacity  int   `json:"capacity"`
	InUse     int   `json:"inUse"`
	Available int   `json:"available"`
	Dropped   int64 `json:"dropped"`
}
