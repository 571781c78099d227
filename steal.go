package parsched

import (
	"fmt"
	"sync/atomic"
)

// StealRange is a half-open range [Lo, Hi) of worker ids a worker is
// permitted to steal from.
type StealRange struct {
	Lo, Hi int
}

// stealTable maps each worker id to its allowed steal range. The
// table is replaced wholesale behind an atomic pointer: steal
// attempts load it for free, writers never block the hot path.
type stealTable struct {
	ranges atomic.Pointer[[]StealRange]
}

func newStealTable(numWorkers int) *stealTable {
	t := &stealTable{}
	all := make([]StealRange, numWorkers)
	for i := range all {
		all[i] = StealRange{Lo: 0, Hi: numWorkers}
	}
	t.ranges.Store(&all)
	return t
}

// rangeFor returns the steal range for the given worker.
func (t *stealTable) rangeFor(workerID int) StealRange {
	return (*t.ranges.Load())[workerID]
}

// set replaces the whole table. Ranges are validated against the
// worker count; an unset (zero) range means "all workers".
func (t *stealTable) set(partitions map[int]StealRange, numWorkers int) error {
	all := make([]StealRange, numWorkers)
	for i := range all {
		all[i] = StealRange{Lo: 0, Hi: numWorkers}
	}
	for id, r := range partitions {
		if id < 0 || id >= numWorkers {
			return fmt.Errorf("parsched: steal partition for unknown worker %d", id)
		}
		if r == (StealRange{}) {
			continue
		}
		if r.Lo < 0 || r.Hi > numWorkers || r.Lo >= r.Hi {
			return fmt.Errorf("parsched: invalid steal range [%d,%d) for worker %d", r.Lo, r.Hi, id)
		}
		all[id] = r
	}
	t.ranges.Store(&all)
	return nil
}
