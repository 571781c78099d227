package parsched

import (
	"sync/atomic"
	"time"
)

// MetricsPolicy defines hooks used by the pool to report scheduling
// and execution activity.
//
// Implementations must be safe for concurrent use.
// All methods are expected to be lightweight and non-blocking.
type MetricsPolicy interface {

	// IncScheduled increments the scheduled items counter.
	IncScheduled()

	// IncExecuted increments the executed items counter.
	IncExecuted()

	// IncStolen increments the stolen items counter.
	//
	// An item counts as stolen when a worker pops it from another
	// worker's queue.
	IncStolen()

	// AddIdle records time a worker spent parked with no work.
	AddIdle(d time.Duration)
}

// AtomicMetrics is a lock-free metrics implementation backed by atomics.
//
// Writes are optimized for hot paths.
// Reads are intended for cold-path observation.
type AtomicMetrics struct {
	// scheduled is the total number of items accepted by Schedule
	// and ScheduleWithHint, including shards dispatched by the
	// ParallelFor family.
	scheduled atomic.Uint64

	_ cachePad

	// executed is the total number of items run by workers.
	executed atomic.Uint64

	_ cachePad

	// stolen is the number of executed items that crossed worker
	// queues.
	stolen atomic.Uint64

	_ cachePad

	// idleNanos accumulates worker park time.
	idleNanos atomic.Int64
}

// Scheduled returns the total number of scheduled items.
// Intended for cold-path observation.
func (m *AtomicMetrics) Scheduled() uint64 {
	return m.scheduled.Load()
}

// Executed returns the total number of executed items.
// Intended for cold-path observation.
func (m *AtomicMetrics) Executed() uint64 {
	return m.executed.Load()
}

// Stolen returns the total number of stolen items.
func (m *AtomicMetrics) Stolen() uint64 {
	return m.stolen.Load()
}

// Idle returns the accumulated worker park time.
func (m *AtomicMetrics) Idle() time.Duration {
	return time.Duration(m.idleNanos.Load())
}

// IncScheduled increments the scheduled counter by one.
func (m *AtomicMetrics) IncScheduled() {
	m.scheduled.Add(1)
}

// IncExecuted increments the executed counter by one.
func (m *AtomicMetrics) IncExecuted() {
	m.executed.Add(1)
}

// IncStolen increments the stolen counter by one.
func (m *AtomicMetrics) IncStolen() {
	m.stolen.Add(1)
}

// AddIdle adds d to the accumulated park time.
func (m *AtomicMetrics) AddIdle(d time.Duration) {
	m.idleNanos.Add(int64(d))
}

//------------- NoopMetrics ----------------------------------

// NoopMetrics is a MetricsPolicy implementation that discards
// all metric updates.
//
// It can be used when metrics collection is disabled and
// zero overhead is desired.
type NoopMetrics struct{}

func (m *NoopMetrics) IncScheduled()           {}
func (m *NoopMetrics) IncExecuted()            {}
func (m *NoopMetrics) IncStolen()              {}
func (m *NoopMetrics) AddIdle(d time.Duration) {}
