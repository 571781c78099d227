package parsched

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// CountdownLatch releases waiters once a completion counter reaches
// zero. It is the synchronization primitive behind every ParallelFor
// call: each dispatched shard decrements the latch on completion and
// the caller waits for it to drain.
//
// Synchronization strategy:
//   - a single packed atomic word holds count<<1 | waiterBit
//   - decrementers never touch the mutex unless they take the count
//     to zero while a waiter is registered
//   - Wait returns without blocking when the count is already zero
//
// The latch supports any number of concurrent decrementers. It is
// designed around a single logical waiter per instance; calling Wait
// from several goroutines at once is safe (all are woken) but not a
// supported usage pattern.
type CountdownLatch struct {
	// state packs the remaining count in the high bits and the
	// waiter flag in bit 0.
	state atomic.Int64
	_     cachePad

	// mu guards notified on the slow path only.
	mu       sync.Mutex
	notified bool

	// done is closed exactly once when the count reaches zero with
	// a registered waiter.
	done chan struct{}
}

// NewCountdownLatch creates a latch that releases waiters after
// initialCount calls to DecrementCount.
//
// Panics if initialCount is negative or would overflow the packed
// representation.
func NewCountdownLatch(initialCount int64) *CountdownLatch {
	if initialCount < 0 {
		panic("parsched: negative latch count")
	}
	if initialCount > math.MaxInt64>>1 {
		panic("parsched: latch count overflows packed state")
	}
	l := &CountdownLatch{done: make(chan struct{})}
	l.state.Store(initialCount << 1)
	return l
}

// DecrementCount records the completion of one unit of work.
//
// Decrementing past zero is a contract violation and panics.
func (l *CountdownLatch) DecrementCount() {
	v := l.state.Add(-2)
	if v < 0 {
		panic("parsched: latch count went negative")
	}
	if v != 1 {
		// either count has not dropped to zero, or no waiter yet
		return
	}
	l.mu.Lock()
	if !l.notified {
		l.notified = true
		close(l.done)
	}
	l.mu.Unlock()
}

// Wait blocks until the count reaches zero. If the count is already
// zero it returns immediately without acquiring any lock.
func (l *CountdownLatch) Wait() {
	v := l.state.Or(1)
	if v>>1 == 0 {
		return
	}
	<-l.done
}

// WaitFor is Wait with a deadline. It returns false iff the count has
// not dropped to zero before d elapses. A timeout only unblocks the
// waiter: work already dispatched keeps running, so callers must keep
// any buffers the remaining shards reference alive until a later
// Wait or pool shutdown drains them.
func (l *CountdownLatch) WaitFor(d time.Duration) bool {
	v := l.state.Or(1)
	if v>>1 == 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-l.done:
		return true
	case <-timer.C:
		return false
	}
}
