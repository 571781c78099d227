package parsched

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// cachePad is used to prevent false sharing between hot fields.
type cachePad = cpu.CacheLinePad

// task is the internal unit of execution. The worker invokes it with
// its own id; items run inline by a caller receive the one-past-range
// id instead.
type task func(workerID int)

// deque is a double-ended task queue. The owning worker pushes and
// pops at the back (LIFO, best cache locality for freshly scheduled
// work); thieves pop at the front (FIFO, oldest work first).
//
// A mutex keeps the pop-from-either-end discipline simple and
// correct. Steals are rare relative to local pops, so contention on
// the lock is not the bottleneck; exactly-once execution is what
// matters here.
type deque struct {
	// n mirrors the item count so emptiness can be probed without
	// taking the lock.
	n atomic.Int32
	_ cachePad

	mu    sync.Mutex
	items []task
	// head indexes the first live item; front pops advance it
	// instead of reslicing so the backing array is reused.
	head int
}

// pushBack appends an item at the owner end.
func (d *deque) pushBack(t task) {
	d.mu.Lock()
	if d.head > 0 && d.head == len(d.items) {
		d.items = d.items[:0]
		d.head = 0
	}
	d.items = append(d.items, t)
	d.n.Add(1)
	d.mu.Unlock()
}

// popBack removes the most recently pushed item. Owner only.
func (d *deque) popBack() (task, bool) {
	d.mu.Lock()
	if d.head == len(d.items) {
		d.mu.Unlock()
		return nil, false
	}
	last := len(d.items) - 1
	t := d.items[last]
	d.items[last] = nil
	d.items = d.items[:last]
	if d.head == len(d.items) {
		d.items = d.items[:0]
		d.head = 0
	}
	d.n.Add(-1)
	d.mu.Unlock()
	return t, true
}

// popFront removes the oldest item. Used by thieves.
func (d *deque) popFront() (task, bool) {
	d.mu.Lock()
	if d.head == len(d.items) {
		d.mu.Unlock()
		return nil, false
	}
	t := d.items[d.head]
	d.items[d.head] = nil
	d.head++
	if d.head == len(d.items) {
		d.items = d.items[:0]
		d.head = 0
	}
	d.n.Add(-1)
	d.mu.Unlock()
	return t, true
}

// size returns the current number of queued items.
func (d *deque) size() int {
	return int(d.n.Load())
}

// maybeHasWork is a fast, approximate emptiness check that skips the
// lock. A stale answer is fine: callers re-check under the lock.
func (d *deque) maybeHasWork() bool {
	return d.n.Load() > 0
}
