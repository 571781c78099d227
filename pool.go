package parsched

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	boff "github.com/Andrej220/go-utils/backoff"
	lg "github.com/Andrej220/go-utils/zlog"
)

var (
	// ErrPoolClosed is returned when new work is scheduled after
	// Shutdown has begun.
	ErrPoolClosed = errors.New("parsched: pool closed")

	// ErrNilFunc is returned when a scheduled item has a nil func.
	ErrNilFunc = errors.New("parsched: work item func is nil")
)

const (
	// idleRecheckInitial / idleRecheckMax bound the backoff ramp an
	// idle worker uses between park timeouts. The timed re-check is
	// what lets a parked worker pick up steals: direct wake-ups only
	// reach the queue owner.
	idleRecheckInitial = 100 * time.Microsecond
	idleRecheckMax     = 5 * time.Millisecond
)

// worker is one execution slot of the pool. Its id is assigned at
// construction and never reassigned for the pool's lifetime.
type worker struct {
	id    int
	queue deque

	// wake holds at most one pending wake-up token. A token sent
	// while the worker is scanning (not yet parked) is consumed the
	// moment it parks, so pushes are never silently missed.
	wake chan struct{}

	_ cachePad
}

// Pool runs scheduled closures across a fixed set of workers, each
// owning a local double-ended queue. Idle workers steal from peers
// within the range the steal-partition table permits.
type Pool struct {
	opts    Options
	workers []*worker
	steals  *stealTable

	// next drives round-robin placement for off-pool Schedule calls
	// and hinted placement inside a hint range.
	next atomic.Uint32

	// gids maps goroutine id -> worker id for CurrentWorkerID.
	gids sync.Map

	closed   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPool creates a pool of numThreads workers and starts them via
// the configured Environment.
//
// numThreads <= 0 is a contract violation and panics: the worker
// count determines how many scratch buffers callers of
// ParallelForWithWorkerID must allocate, so it is never defaulted
// silently.
func NewPool(numThreads int, opts Options) *Pool {
	if numThreads <= 0 {
		panic(fmt.Sprintf("parsched: pool needs a positive thread count, got %d", numThreads))
	}
	opts.FillDefaults()

	p := &Pool{
		opts:    opts,
		workers: make([]*worker, numThreads),
		steals:  newStealTable(numThreads),
		closed:  make(chan struct{}),
	}
	for i := range p.workers {
		p.workers[i] = &worker{id: i, wake: make(chan struct{}, 1)}
	}
	for _, w := range p.workers {
		p.wg.Add(1)
		w := w
		opts.Env.StartWorker(fmt.Sprintf("%s-%d", opts.Name, w.id), func() {
			p.workerLoop(w)
		})
	}
	lg.FromContext(context.Background()).Info("pool started",
		lg.String("pool", opts.Name), lg.Int("workers", numThreads))
	return p
}

// NumThreads returns the number of workers in the pool.
func (p *Pool) NumThreads() int { return len(p.workers) }

// CurrentWorkerID returns the id of the pool worker the caller is
// running on, or -1 if the calling goroutine is not a pool worker.
//
// The lookup walks the goroutine registry, which is cheap enough for
// setup and introspection but not meant for per-unit hot loops; the
// ParallelForWithWorkerID callback receives its id directly instead.
func (p *Pool) CurrentWorkerID() int {
	if v, ok := p.gids.Load(gid()); ok {
		return v.(int)
	}
	return -1
}

// Schedule enqueues fn for execution on some worker. It returns as
// soon as the item is queued; there is no handle to wait on a single
// item, pair it with a CountdownLatch if completion matters.
//
// Called from a pool worker, the item goes to that worker's own
// queue (LIFO locality). Called from outside, a round-robin policy
// picks the target.
func (p *Pool) Schedule(fn func()) error {
	if fn == nil {
		return ErrNilFunc
	}
	target := p.CurrentWorkerID()
	if target < 0 {
		target = int(p.next.Add(1)) % len(p.workers)
	}
	return p.scheduleOn(target, func(int) { fn() })
}

// ScheduleWithHint is Schedule with placement biased to a worker id
// drawn from [start, limit), so spatially related items land on the
// same or nearby workers.
func (p *Pool) ScheduleWithHint(fn func(), start, limit int) error {
	if fn == nil {
		return ErrNilFunc
	}
	if start < 0 || limit > len(p.workers) || start >= limit {
		return fmt.Errorf("parsched: hint range [%d,%d) outside workers [0,%d)", start, limit, len(p.workers))
	}
	target := start + int(p.next.Add(1))%(limit-start)
	return p.scheduleOn(target, func(int) { fn() })
}

// scheduleOn places t on the target worker's queue and wakes it.
//
// The closed check runs on both sides of the push: if shutdown began
// in between, the worker may already have drained, so the item is
// reclaimed from the queue and run inline rather than dropped.
func (p *Pool) scheduleOn(target int, t task) error {
	select {
	case <-p.closed:
		return ErrPoolClosed
	default:
	}
	w := p.workers[target]
	w.queue.pushBack(t)
	p.opts.Metrics.IncScheduled()

	select {
	case <-p.closed:
		if leftover, ok := w.queue.popBack(); ok {
			p.invoke(leftover, len(p.workers))
		}
		return nil
	default:
	}

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// SetStealPartitions replaces the steal-partition table. Worker id i
// may then steal only from workers in partitions[i]; workers without
// an entry (or with a zero range) may steal from everyone.
//
// The table is process-wide configuration: call it only while the
// pool is otherwise idle (no ongoing ParallelFor), it is not
// synchronized against in-flight steal decisions.
func (p *Pool) SetStealPartitions(partitions map[int]StealRange) error {
	return p.steals.set(partitions, len(p.workers))
}

// Shutdown stops intake, lets every worker drain its remaining queue
// to completion (no item is dropped), and joins the workers. It
// returns early with ctx.Err() if ctx expires first; the drain keeps
// running in the background in that case.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.closed) })
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()
	select {
	case <-done:
		lg.FromContext(ctx).Info("pool stopped", lg.String("pool", p.opts.Name))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop is Shutdown without a deadline.
func (p *Pool) Stop() { _ = p.Shutdown(context.Background()) }

// workerLoop is the per-worker state machine:
//
//	pop own queue -> steal within partition -> spin -> park
//
// Parking is bounded by a backoff-ramped timer so a worker whose
// partition peers got work (without a direct wake) still finds it.
func (p *Pool) workerLoop(w *worker) {
	defer p.wg.Done()

	if p.opts.PinWorkers {
		runtime.LockOSThread()
		if err := PinToCPU(w.id % runtime.NumCPU()); err != nil {
			lg.FromContext(context.Background()).Warn("cpu pin failed",
				lg.String("pool", p.opts.Name), lg.Int("worker", w.id), lg.Any("error", err))
		}
	}

	id := gid()
	p.gids.Store(id, w.id)
	defer p.gids.Delete(id)

	bo := boff.New(idleRecheckInitial, idleRecheckMax, time.Now().UnixNano())
	for {
		if t, ok := w.queue.popBack(); ok {
			p.invoke(t, w.id)
			continue
		}
		if t, ok := p.trySteal(w.id); ok {
			p.opts.Metrics.IncStolen()
			p.invoke(t, w.id)
			continue
		}

		if p.spinForWork(w) {
			bo = boff.New(idleRecheckInitial, idleRecheckMax, time.Now().UnixNano())
			continue
		}

		idleStart := p.opts.Env.Now()
		timer := time.NewTimer(bo.Next())
		select {
		case <-w.wake:
			timer.Stop()
			bo = boff.New(idleRecheckInitial, idleRecheckMax, time.Now().UnixNano())
		case <-timer.C:
		case <-p.closed:
			timer.Stop()
			p.opts.Metrics.AddIdle(p.opts.Env.Now().Sub(idleStart))
			p.drain(w)
			return
		}
		p.opts.Metrics.AddIdle(p.opts.Env.Now().Sub(idleStart))
	}
}

// spinForWork burns a few scan rounds before the worker parks. It
// reports whether work was found and executed.
func (p *Pool) spinForWork(w *worker) bool {
	for i := 0; i < p.opts.SpinCount; i++ {
		if t, ok := w.queue.popBack(); ok {
			p.invoke(t, w.id)
			return true
		}
		if t, ok := p.trySteal(w.id); ok {
			p.opts.Metrics.IncStolen()
			p.invoke(t, w.id)
			return true
		}
		select {
		case <-p.closed:
			return false
		default:
		}
		runtime.Gosched()
	}
	return false
}

// trySteal pops one item from the front of a peer's queue, scanning
// only the range the steal-partition table permits for this worker.
// The scan starts past the worker's own id so victims rotate.
func (p *Pool) trySteal(id int) (task, bool) {
	r := p.steals.rangeFor(id)
	n := r.Hi - r.Lo
	for i := 0; i < n; i++ {
		victim := r.Lo + (id+1+i)%n
		if victim == id {
			continue
		}
		v := p.workers[victim]
		if !v.queue.maybeHasWork() {
			continue
		}
		if t, ok := v.queue.popFront(); ok {
			return t, true
		}
	}
	return nil, false
}

// drain runs the worker's remaining queued items to completion.
// Stealing has stopped by now; every queue is emptied by its owner.
func (p *Pool) drain(w *worker) {
	n := 0
	for {
		t, ok := w.queue.popBack()
		if !ok {
			break
		}
		p.invoke(t, w.id)
		n++
	}
	if n > 0 {
		lg.FromContext(context.Background()).Info("worker drained",
			lg.String("pool", p.opts.Name), lg.Int("worker", w.id), lg.Int("items", n))
	}
}

// invoke runs one item with the executing worker's id. A panic from
// a raw Schedule item is recovered and logged here so it cannot
// unwind the worker's control loop; ParallelFor shards carry their
// own capture-and-rethrow wrapper and never reach this recover.
func (p *Pool) invoke(t task, workerID int) {
	defer p.opts.Metrics.IncExecuted()
	defer func() {
		if r := recover(); r != nil {
			lg.FromContext(context.Background()).Error("work item panicked",
				lg.String("pool", p.opts.Name), lg.Int("worker", workerID), lg.Any("panic", r))
		}
	}()
	t(workerID)
}

// gid extracts the current goroutine id from the runtime.Stack
// header ("goroutine <id> [...]"). Cold path only.
func gid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	const skip = len("goroutine ")
	var id uint64
	for _, c := range buf[skip:n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
