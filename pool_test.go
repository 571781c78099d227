package parsched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPoolNonPositiveThreadsPanics(t *testing.T) {
	mustPanic(t, "NewPool(0)", func() { NewPool(0, Options{}) })
	mustPanic(t, "NewPool(-2)", func() { NewPool(-2, Options{}) })
}

func TestScheduleRunsItem(t *testing.T) {
	p := NewPool(2, Options{})
	defer p.Stop()

	done := make(chan struct{})
	if err := p.Schedule(func() { close(done) }); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled item did not run")
	}
}

func TestScheduleNilFunc(t *testing.T) {
	p := NewPool(1, Options{})
	defer p.Stop()

	if err := p.Schedule(nil); !errors.Is(err, ErrNilFunc) {
		t.Fatalf("Schedule(nil) = %v; want ErrNilFunc", err)
	}
	if err := p.ScheduleWithHint(nil, 0, 1); !errors.Is(err, ErrNilFunc) {
		t.Fatalf("ScheduleWithHint(nil) = %v; want ErrNilFunc", err)
	}
}

func TestSchedulePairedWithLatch(t *testing.T) {
	p := NewPool(4, Options{})
	defer p.Stop()

	const items = 100
	var executed atomic.Int32
	latch := NewCountdownLatch(items)
	for i := 0; i < items; i++ {
		err := p.Schedule(func() {
			executed.Add(1)
			latch.DecrementCount()
		})
		if err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}

	if ok := latch.WaitFor(5 * time.Second); !ok {
		t.Fatal("latch did not drain")
	}
	if got := executed.Load(); got != items {
		t.Fatalf("executed = %d; want %d", got, items)
	}
}

func TestCurrentWorkerIDOutsidePool(t *testing.T) {
	p := NewPool(2, Options{})
	defer p.Stop()

	if got := p.CurrentWorkerID(); got != -1 {
		t.Fatalf("CurrentWorkerID off-pool = %d; want -1", got)
	}
}

func TestCurrentWorkerIDInsideWorker(t *testing.T) {
	const threads = 4
	p := NewPool(threads, Options{})
	defer p.Stop()

	idCh := make(chan int, 1)
	if err := p.Schedule(func() { idCh <- p.CurrentWorkerID() }); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	select {
	case id := <-idCh:
		if id < 0 || id >= threads {
			t.Fatalf("worker id = %d; want in [0,%d)", id, threads)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled item did not run")
	}
}

func TestScheduleWithHintValidation(t *testing.T) {
	p := NewPool(4, Options{})
	defer p.Stop()

	if err := p.ScheduleWithHint(func() {}, -1, 2); err == nil {
		t.Fatal("negative hint start accepted; want error")
	}
	if err := p.ScheduleWithHint(func() {}, 2, 2); err == nil {
		t.Fatal("empty hint range accepted; want error")
	}
	if err := p.ScheduleWithHint(func() {}, 0, 5); err == nil {
		t.Fatal("hint range past worker count accepted; want error")
	}
}

func TestScheduleWithHintPlacement(t *testing.T) {
	const threads = 4
	p := NewPool(threads, Options{})
	defer p.Stop()

	// Restrict every worker to its own queue so nothing gets stolen
	// away from the hinted target.
	parts := make(map[int]StealRange, threads)
	for i := 0; i < threads; i++ {
		parts[i] = StealRange{Lo: i, Hi: i + 1}
	}
	if err := p.SetStealPartitions(parts); err != nil {
		t.Fatalf("SetStealPartitions: %v", err)
	}

	for target := 0; target < threads; target++ {
		idCh := make(chan int, 1)
		err := p.ScheduleWithHint(func() { idCh <- p.CurrentWorkerID() }, target, target+1)
		if err != nil {
			t.Fatalf("schedule with hint [%d,%d): %v", target, target+1, err)
		}
		select {
		case id := <-idCh:
			if id != target {
				t.Fatalf("hinted item ran on worker %d; want %d", id, target)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("hinted item for worker %d did not run", target)
		}
	}
}

func TestSetStealPartitionsValidation(t *testing.T) {
	p := NewPool(4, Options{})
	defer p.Stop()

	if err := p.SetStealPartitions(map[int]StealRange{7: {Lo: 0, Hi: 4}}); err == nil {
		t.Fatal("partition for unknown worker accepted; want error")
	}
	if err := p.SetStealPartitions(map[int]StealRange{1: {Lo: 3, Hi: 2}}); err == nil {
		t.Fatal("inverted steal range accepted; want error")
	}
	if err := p.SetStealPartitions(map[int]StealRange{1: {Lo: 0, Hi: 9}}); err == nil {
		t.Fatal("steal range past worker count accepted; want error")
	}
	if err := p.SetStealPartitions(nil); err != nil {
		t.Fatalf("resetting partitions to default: %v", err)
	}
}

func TestStealingBalancesLoad(t *testing.T) {
	const threads = 4
	m := &AtomicMetrics{}
	p := NewPool(threads, Options{Metrics: m})
	defer p.Stop()

	// Pile everything onto worker 0; the rest of the pool must steal
	// to finish in time.
	const items = 200
	latch := NewCountdownLatch(items)
	for i := 0; i < items; i++ {
		err := p.ScheduleWithHint(func() {
			time.Sleep(time.Millisecond)
			latch.DecrementCount()
		}, 0, 1)
		if err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}

	if ok := latch.WaitFor(10 * time.Second); !ok {
		t.Fatal("queued items did not finish")
	}
	if got := m.Executed(); got != items {
		t.Fatalf("executed = %d; want %d", got, items)
	}
	if m.Stolen() == 0 {
		t.Fatal("no steals recorded; want the idle workers to pull from worker 0")
	}
}

func TestShutdownDrainsQueuedItems(t *testing.T) {
	const threads = 2
	m := &AtomicMetrics{}
	p := NewPool(threads, Options{Metrics: m})

	// Occupy every worker, then queue more work behind them.
	started := NewCountdownLatch(threads)
	release := make(chan struct{})
	for i := 0; i < threads; i++ {
		_ = p.Schedule(func() {
			started.DecrementCount()
			<-release
		})
	}
	started.Wait()

	const queued = 50
	for i := 0; i < queued; i++ {
		if err := p.Schedule(func() {}); err != nil {
			t.Fatalf("schedule: %v", err)
		}
	}

	close(release)
	p.Stop()

	if got := m.Executed(); got != threads+queued {
		t.Fatalf("executed after drain = %d; want %d", got, threads+queued)
	}
}

func TestScheduleAfterShutdown(t *testing.T) {
	p := NewPool(1, Options{})
	p.Stop()

	if err := p.Schedule(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Schedule on closed pool = %v; want ErrPoolClosed", err)
	}
	if err := p.ScheduleWithHint(func() {}, 0, 1); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("ScheduleWithHint on closed pool = %v; want ErrPoolClosed", err)
	}
}

func TestShutdownTimeout(t *testing.T) {
	p := NewPool(1, Options{})

	started := make(chan struct{})
	blocker := make(chan struct{})
	_ = p.Schedule(func() {
		close(started)
		<-blocker
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown err = %v; want deadline exceeded", err)
	}

	close(blocker)
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown err = %v; want nil", err)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	p := NewPool(2, Options{})
	p.Stop()
	p.Stop()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("repeat Shutdown err = %v; want nil", err)
	}
}

func TestSchedulePanicDoesNotKillWorker(t *testing.T) {
	p := NewPool(1, Options{})
	defer p.Stop()

	_ = p.Schedule(func() { panic("boom") })

	done := make(chan struct{})
	_ = p.Schedule(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive a panicking item")
	}
}

// countingEnv verifies the pool goes through its Environment for
// worker startup and time.
type countingEnv struct {
	mu    sync.Mutex
	names []string
	nows  atomic.Int64
}

func (e *countingEnv) StartWorker(name string, fn func()) {
	e.mu.Lock()
	e.names = append(e.names, name)
	e.mu.Unlock()
	go fn()
}

func (e *countingEnv) Now() time.Time {
	e.nows.Add(1)
	return time.Now()
}

func TestPoolUsesEnvironment(t *testing.T) {
	const threads = 3
	env := &countingEnv{}
	p := NewPool(threads, Options{Name: "envtest", Env: env})
	defer p.Stop()

	env.mu.Lock()
	names := append([]string(nil), env.names...)
	env.mu.Unlock()

	if len(names) != threads {
		t.Fatalf("StartWorker called %d times; want %d", len(names), threads)
	}
	for i, name := range names {
		want := fmt.Sprintf("envtest-%d", i)
		if name != want {
			t.Fatalf("worker name[%d] = %q; want %q", i, name, want)
		}
	}
}

func TestAtomicMetricsCounters(t *testing.T) {
	m := &AtomicMetrics{}
	p := NewPool(2, Options{Metrics: m})

	const items = 64
	latch := NewCountdownLatch(items)
	for i := 0; i < items; i++ {
		_ = p.Schedule(func() { latch.DecrementCount() })
	}
	latch.Wait()
	p.Stop()

	if got := m.Scheduled(); got != items {
		t.Fatalf("scheduled = %d; want %d", got, items)
	}
	if got := m.Executed(); got != items {
		t.Fatalf("executed = %d; want %d", got, items)
	}
	if m.Stolen() > m.Executed() {
		t.Fatalf("stolen = %d exceeds executed = %d", m.Stolen(), m.Executed())
	}
}
