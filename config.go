package flowrun

import "time"

// EngineConfig holds engine-level configuration
type EngineConfig struct {
	// Cap on simultaneously running executions, enforced via the shared
	// capacity gauge
	MaxConcurrentExecutions int

	// Applied to steps that declare no timeout of their own
	DefaultStepTimeout time.Duration
}

// DefaultEngineConfig provides engine defaults
var DefaultEngineConfig = EngineConfig{
	MaxConcurrentExecutions: 10,
	DefaultStepTimeout:      5 * time.Minute,
}

// SchedulerConfig holds scheduler-level configuration
type SchedulerConfig struct {
	// Interval between due-schedule scans
	TickInterval time.Duration

	// Terminal executions older than this are pruned; zero disables pruning
	ExecutionRetention time.Duration

	// Ticks between retention sweeps
	PruneEveryTicks int
}

// DefaultSchedulerConfig provides scheduler defaults
var DefaultSchedulerConfig = SchedulerConfig{
	TickInterval:       30 * time.Second,
	ExecutionRetention: 30 * 24 * time.Hour,
	PruneEveryTicks:    120,
}

// RunOptions holds options for dispatching an execution
type RunOptions struct {
	TriggerType   string
	TriggerSource string
	Synchronous   bool
	OnCompletion  func(*Execution)
	TTL           time.Duration
}

// RunOption allows functional configuration of a dispatch
type RunOption func(*RunOptions)

// WithTrigger records what initiated the execution
func WithTrigger(triggerType, source string) RunOption {
	return func(opts *RunOptions) {
		opts.TriggerType = triggerType
		opts.TriggerSource = source
	}
}

// WithSynchronous makes Run block until the execution is terminal
func WithSynchronous() RunOption {
	return func(opts *RunOptions) {
		opts.Synchronous = true
	}
}

// WithCompletion registers a callback invoked once the execution reaches a
// terminal status. Called from the execution goroutine.
func WithCompletion(fn func(*Execution)) RunOption {
	return func(opts *RunOptions) {
		opts.OnCompletion = fn
	}
}

// WithTTL sets the retention TTL stamped on the execution record
func WithTTL(ttl time.Duration) RunOption {
	return func(opts *RunOptions) {
		opts.TTL = ttl
	}
}
