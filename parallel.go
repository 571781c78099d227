package parsched

import (
	"fmt"
	"runtime"
	"sync"
)

// panicRecord captures the first panic raised by any shard of one
// ParallelFor call so it can be re-raised on the calling goroutine
// after the latch drains. Later panics from other shards are logged
// by the worker's recover and otherwise dropped.
type panicRecord struct {
	mu    sync.Mutex
	val   any
	stack []byte
}

// capture must be invoked directly as a deferred function inside the
// shard wrapper.
func (r *panicRecord) capture() {
	v := recover()
	if v == nil {
		return
	}
	// 8 KiB is enough for most stack traces.
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	r.mu.Lock()
	if r.val == nil {
		r.val = v
		r.stack = buf[:n]
	}
	r.mu.Unlock()
}

func (r *panicRecord) rethrow() {
	r.mu.Lock()
	v, stack := r.val, r.stack
	r.mu.Unlock()
	if v != nil {
		panic(fmt.Sprintf("parsched: shard callback panicked: %v\n%s", v, stack))
	}
}

// ParallelFor shards the total units of work assuming each unit costs
// roughly costPerUnit cycles (or nanoseconds if not CPU-bound), runs
// the shards across the pool, and blocks until every shard completed.
// Each unit of work is indexed 0, 1, ..., total-1; fn is invoked
// exactly once per shard with a half-open range [begin, end).
//
// Overestimating costPerUnit creates too many shards and per-shard
// overhead dominates; underestimating may not use the available
// parallelism and invites stragglers.
func (p *Pool) ParallelFor(total int, costPerUnit float64, fn func(begin, end int)) {
	p.parallelFor(total, SchedulingParams{Strategy: Adaptive, CostPerUnit: &costPerUnit},
		func(begin, end, _ int) { fn(begin, end) })
}

// ParallelForCost is ParallelFor with a structured cost estimate,
// reduced to a scalar via TensorOpCost.CostPerUnit.
func (p *Pool) ParallelForCost(total int, cost TensorOpCost, fn func(begin, end int)) {
	p.ParallelFor(total, cost.CostPerUnit(), fn)
}

// ParallelForParams is ParallelFor honoring an explicit scheduling
// strategy.
func (p *Pool) ParallelForParams(total int, params SchedulingParams, fn func(begin, end int)) {
	p.parallelFor(total, params, func(begin, end, _ int) { fn(begin, end) })
}

// ParallelForFixedBlockSizeScheduling divides [0, total) into shards
// of blockSize units, except the last shard which covers the
// remainder and may be smaller. A block size of total or larger
// yields a single shard over the whole range.
//
// Panics if blockSize <= 0.
func (p *Pool) ParallelForFixedBlockSizeScheduling(total, blockSize int, fn func(begin, end int)) {
	p.parallelFor(total, SchedulingParams{Strategy: FixedBlockSize, BlockSize: &blockSize},
		func(begin, end, _ int) { fn(begin, end) })
}

// ParallelForWithWorkerID is ParallelFor, with the callback also
// receiving the id of the worker invoking it. Ids are in
// [0, NumThreads()]; the one-past-range id NumThreads() means the
// shard ran inline on the calling goroutine. The same id may serve
// several shards sequentially, but never two shards overlapping in
// time, so fn may write to a per-id scratch buffer without locking.
func (p *Pool) ParallelForWithWorkerID(total int, costPerUnit float64, fn func(begin, end, workerID int)) {
	p.parallelFor(total, SchedulingParams{Strategy: Adaptive, CostPerUnit: &costPerUnit}, fn)
}

// ParallelForWithWorkerIDParams is ParallelForWithWorkerID honoring
// an explicit scheduling strategy.
func (p *Pool) ParallelForWithWorkerIDParams(total int, params SchedulingParams, fn func(begin, end, workerID int)) {
	p.parallelFor(total, params, fn)
}

// parallelFor plans the shard boundaries for the requested strategy
// and hands them to runShards. A strategy's irrelevant optional knob
// is ignored, not an error.
func (p *Pool) parallelFor(total int, params SchedulingParams, fn func(begin, end, workerID int)) {
	if total < 0 {
		panic(fmt.Sprintf("parsched: negative work count %d", total))
	}
	if total == 0 {
		return
	}
	var bounds []int
	switch params.Strategy {
	case FixedBlockSize:
		blockSize := total // no block size given: one shard
		if params.BlockSize != nil {
			blockSize = *params.BlockSize
		}
		bounds = fixedShardBounds(total, blockSize)
	default:
		cost := 0.0
		if params.CostPerUnit != nil {
			cost = *params.CostPerUnit
		}
		k := numShardsAdaptive(total, cost, p.NumThreads())
		bounds = shardBounds(total, k)
	}
	p.runShards(bounds, fn)
}

// runShards enqueues all but the last shard with locality hints, runs
// the last shard inline with the one-past-range worker id, waits for
// the latch to drain, then re-raises the first captured shard panic,
// if any.
func (p *Pool) runShards(bounds []int, fn func(begin, end, workerID int)) {
	k := len(bounds) - 1
	inlineID := p.NumThreads()
	if k == 1 {
		// single shard: no dispatch, panics unwind to the caller as-is
		fn(bounds[0], bounds[1], inlineID)
		return
	}

	latch := NewCountdownLatch(int64(k - 1))
	var rec panicRecord
	for i := 0; i < k-1; i++ {
		begin, end := bounds[i], bounds[i+1]
		shard := func(workerID int) {
			defer latch.DecrementCount()
			defer rec.capture()
			fn(begin, end, workerID)
		}
		start, limit := hintRange(i, k, p.NumThreads())
		if err := p.scheduleShard(shard, start, limit); err != nil {
			// pool shutting down: the shard still runs exactly once,
			// on the caller
			shard(inlineID)
		}
	}

	func() {
		defer rec.capture()
		fn(bounds[k-1], bounds[k], inlineID)
	}()

	latch.Wait()
	rec.rethrow()
}

// scheduleShard places a shard task inside the hinted worker range.
func (p *Pool) scheduleShard(t task, start, limit int) error {
	target := start + int(p.next.Add(1))%(limit-start)
	return p.scheduleOn(target, t)
}

// hintRange maps shard i of k onto a slice of the worker range, so
// adjacent shards land on the same or neighboring workers.
func hintRange(shard, shards, workers int) (start, limit int) {
	start = shard * workers / shards
	limit = (shard + 1) * workers / shards
	if limit <= start {
		limit = start + 1
	}
	return start, limit
}

// ParallelForEach schedules fn once per index in [0, total) without
// any cost-based shard planning, runs the last index inline, and
// blocks until every index completed. Use it when each index is
// already a substantial piece of work.
func (p *Pool) ParallelForEach(total int, fn func(i int)) {
	if total < 0 {
		panic(fmt.Sprintf("parsched: negative work count %d", total))
	}
	switch total {
	case 0:
		return
	case 1:
		fn(0)
		return
	}
	latch := NewCountdownLatch(int64(total - 1))
	var rec panicRecord
	for i := 0; i < total-1; i++ {
		i := i
		item := func(int) {
			defer latch.DecrementCount()
			defer rec.capture()
			fn(i)
		}
		target := int(p.next.Add(1)) % len(p.workers)
		if err := p.scheduleOn(target, item); err != nil {
			item(p.NumThreads())
		}
	}
	func() {
		defer rec.capture()
		fn(total - 1)
	}()
	latch.Wait()
	rec.rethrow()
}

// DegreeOfParallelism reports how many units of work can proceed at
// once: the pool's worker count, or 1 for a nil pool.
func DegreeOfParallelism(p *Pool) int {
	if p == nil {
		return 1
	}
	return p.NumThreads()
}

// TryParallelFor runs fn for every index in [0, total), in parallel
// when a pool is available and sequentially otherwise. It lets
// kernels accept an optional pool without branching at every call
// site.
func TryParallelFor(p *Pool, total int, fn func(i int)) {
	if p == nil {
		for i := 0; i < total; i++ {
			fn(i)
		}
		return
	}
	p.ParallelForEach(total, fn)
}

// TryBatchParallelFor is TryParallelFor with the calls split into
// numBatches contiguous batches; each batch runs sequentially on one
// worker. numBatches <= 0 means one batch per pool worker.
func TryBatchParallelFor(p *Pool, total int, fn func(i int), numBatches int) {
	if total <= 0 {
		return
	}
	if p == nil {
		for i := 0; i < total; i++ {
			fn(i)
		}
		return
	}
	if numBatches <= 0 {
		numBatches = p.NumThreads()
	}
	blockSize := (total + numBatches - 1) / numBatches
	p.ParallelForFixedBlockSizeScheduling(total, blockSize, func(begin, end int) {
		for i := begin; i < end; i++ {
			fn(i)
		}
	})
}
