package parsched

import (
	"fmt"
	"math"
)

// SchedulingStrategy governs how units of work are distributed among
// the available workers.
type SchedulingStrategy int

const (
	// Adaptive chooses shard sizes from the estimated cost of each
	// unit of work. Overestimating the cost creates too many shards
	// and dispatch overhead dominates; underestimating leaves
	// parallelism on the table and invites stragglers.
	Adaptive SchedulingStrategy = iota

	// FixedBlockSize shards the work into blocks of a caller-chosen
	// size. When the total is not evenly divisible by the block
	// size, at most one shard is smaller.
	FixedBlockSize
)

func (s SchedulingStrategy) String() string {
	switch s {
	case Adaptive:
		return "Adaptive"
	case FixedBlockSize:
		return "FixedBlockSize"
	default:
		return "Unknown"
	}
}

// SchedulingParams carries the strategy tag plus the optional knob
// for that strategy. CostPerUnit applies to Adaptive, BlockSize to
// FixedBlockSize; setting the knob that does not match the strategy
// is not an error, it is simply ignored.
type SchedulingParams struct {
	Strategy    SchedulingStrategy
	CostPerUnit *float64
	BlockSize   *int
}

// TensorOpCost is a structured per-unit cost estimate supplied by a
// numeric cost-model collaborator.
type TensorOpCost struct {
	BytesLoaded   float64
	BytesStored   float64
	ComputeCycles float64
}

// cyclesPerByte converts memory traffic to cycles, assuming a core
// moves roughly two bytes per cycle from last-level cache or RAM.
const cyclesPerByte = 0.5

// CostPerUnit reduces the structured estimate to a single
// cycles-per-unit scalar: the larger of the compute-bound and the
// memory-bandwidth-bound estimate.
func (c TensorOpCost) CostPerUnit() float64 {
	memory := (c.BytesLoaded + c.BytesStored) * cyclesPerByte
	return math.Max(c.ComputeCycles, memory)
}

// minCostPerShard is the cost floor, in cycles, that a shard must
// carry to amortize enqueue and wake-up overhead.
const minCostPerShard = 30000.0

// NumShardsUsedByFixedBlockSizeScheduling returns the number of
// shards a fixed-block-size ParallelFor call produces for the given
// parameters: ceil(total/blockSize).
//
// Panics if blockSize <= 0.
func NumShardsUsedByFixedBlockSizeScheduling(total, blockSize int) int {
	if blockSize <= 0 {
		panic(fmt.Sprintf("parsched: block size must be positive, got %d", blockSize))
	}
	if total <= 0 {
		return 0
	}
	return (total + blockSize - 1) / blockSize
}

// numShardsAdaptive picks the shard count for Adaptive scheduling:
// round(total*costPerUnit / minCostPerShard) clamped to
// [1, min(total, numThreads)].
func numShardsAdaptive(total int, costPerUnit float64, numThreads int) int {
	if total <= 1 {
		return total
	}
	if costPerUnit < 0 {
		costPerUnit = 0
	}
	totalCost := float64(total) * costPerUnit
	shards := int(math.Round(totalCost / minCostPerShard))
	if shards < 1 {
		shards = 1
	}
	if shards > total {
		shards = total
	}
	if shards > numThreads {
		shards = numThreads
	}
	return shards
}

// shardBounds returns the k+1 boundaries splitting [0, total) into k
// contiguous shards. Sizes differ by at most one unit, there are no
// gaps and no overlaps.
func shardBounds(total, k int) []int {
	bounds := make([]int, k+1)
	for i := 1; i < k; i++ {
		bounds[i] = i * total / k
	}
	bounds[k] = total
	return bounds
}

// fixedShardBounds splits [0, total) into shards of blockSize units;
// the final shard covers the remainder and may be smaller. A block
// size of total or larger yields a single shard over the whole range.
func fixedShardBounds(total, blockSize int) []int {
	k := NumShardsUsedByFixedBlockSizeScheduling(total, blockSize)
	bounds := make([]int, k+1)
	for i := 1; i < k; i++ {
		bounds[i] = i * blockSize
	}
	bounds[k] = total
	return bounds
}
