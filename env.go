package parsched

import "time"

// Environment abstracts the capabilities the pool consumes from its
// host: starting named workers and reading the current time. The
// pool never creates execution contexts itself, so embedders can
// substitute their own thread management or a fake clock in tests.
type Environment interface {
	// StartWorker runs fn on a new worker. The name identifies the
	// worker for debugging and logging; implementations may ignore it.
	StartWorker(name string, fn func())

	// Now returns the current time.
	Now() time.Time
}

// goEnvironment is the default Environment: plain goroutines and the
// wall clock.
type goEnvironment struct{}

func (goEnvironment) StartWorker(name string, fn func()) { go fn() }

func (goEnvironment) Now() time.Time { return time.Now() }
