package parsched

const (
	// defaultSpinCount bounds how many scan rounds an idle worker
	// performs before parking.
	defaultSpinCount = 64

	defaultPoolName = "parsched"
)

// Options configure a Pool.
//
// All zero values are replaced with sensible defaults in FillDefaults.
// The worker count is deliberately not an option: it is a required
// constructor argument because a non-positive value is a contract
// violation, never something to silently default.
type Options struct {
	// Name tags the pool's workers in log output.
	Name string

	// Env supplies the external capabilities the pool consumes:
	// starting named workers and reading the current time.
	Env Environment

	// Metrics receives scheduling and execution counters.
	Metrics MetricsPolicy

	// SpinCount is the number of pop/steal rounds an idle worker
	// spins through before parking.
	SpinCount int

	// PinWorkers locks each worker to an OS thread and pins it to
	// a CPU core (Linux only; a no-op elsewhere).
	PinWorkers bool
}

func (o *Options) FillDefaults() {
	if o.Name == "" {
		o.Name = defaultPoolName
	}
	if o.Env == nil {
		o.Env = goEnvironment{}
	}
	if o.Metrics == nil {
		o.Metrics = &NoopMetrics{}
	}
	if o.SpinCount <= 0 {
		o.SpinCount = defaultSpinCount
	}
}
