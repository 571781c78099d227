// Package parsched provides a parallel-work scheduler for flat,
// independent ranges of work within a single process.
//
// Design goals
//
// The package is designed around the following principles:
//
//   - No central lock on the scheduling hot path
//   - Every unit of work executed exactly once
//   - Per-shard overhead balanced against parallelism
//   - Predictable blocking semantics for callers
//
// Rather than providing a general task graph or a priority queue,
// parsched does one thing: it partitions a range [0, total) of work
// units into contiguous shards, runs the shards across a fixed pool
// of workers, and blocks the caller until every shard has completed.
//
// Architecture overview
//
// The scheduler is composed of four loosely coupled layers:
//
//   1. Countdown latch (CountdownLatch)
//      An atomic completion counter with a lock-free fast path.
//      Every ParallelFor call creates one latch and waits on it.
//
//   2. Shard planning
//      Pure functions that turn a total unit count and a cost
//      estimate (scalar or TensorOpCost) into shard boundaries.
//      Two strategies exist: Adaptive and FixedBlockSize.
//
//   3. Execution (Pool / workers)
//      A fixed set of workers, each owning a double-ended local
//      queue. Workers pop their own queue LIFO for locality and
//      steal FIFO from peers when idle. Stealing can be restricted
//      per worker via a steal-partition table.
//
//   4. Orchestration (ParallelFor and variants)
//      Builds shards, enqueues all but one with locality hints,
//      runs the last shard inline on the calling goroutine, and
//      waits on the latch.
//
// Worker identity
//
// Each worker is assigned a stable id in [0, NumThreads()) at pool
// construction. ParallelForWithWorkerID passes the executing worker's
// id to the callback; the calling goroutine, when it runs a shard
// inline, is given the id NumThreads(). Callers can therefore keep
// NumThreads()+1 scratch buffers and write to buffer[id] without
// synchronization. The same id may be used for several shards of one
// call, but never by two shards overlapping in time.
//
// Cost model
//
// Adaptive scheduling estimates the total work as total*costPerUnit
// cycles and targets a minimum cost per shard that amortizes dispatch
// overhead. Cheap work collapses to a single inline shard; expensive
// work fans out up to NumThreads() shards. A structured TensorOpCost
// estimate is reduced to a scalar by taking the larger of its
// compute-bound and memory-bandwidth-bound components.
//
// Error handling
//
// Contract violations (negative latch count, non-positive worker
// count, non-positive block size) panic: they indicate programmer
// error, not runtime conditions. A panic inside a shard callback is
// captured, the remaining shards still run to completion, and the
// first captured panic is re-raised on the calling goroutine once
// the latch drains. Panics inside fire-and-forget Schedule items are
// recovered and logged so they cannot unwind a worker's control loop.
//
// CPU pinning
//
// On Linux, workers may optionally be pinned to specific CPUs.
// When enabled, workers are locked to OS threads and restricted
// to run on a single CPU core. This can improve cache locality for
// CPU-bound workloads, but is not universally beneficial.
//
// Intended use cases
//
// parsched is well suited for:
//
//   - CPU-bound loops over large index ranges
//   - Tensor and array kernels with a known cost profile
//   - Workloads needing per-worker scratch buffers
//
// It is not a distributed scheduler, does not order work between
// independent ParallelFor calls, and does not cancel in-flight shards.
package parsched
