package flowrun

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// StepContext provides execution metadata to step runners
type StepContext struct {
	context.Context

	ExecutionID string
	WorkflowID  string
	StepID      string
	Kind        string

	// Logger enriched with execution and step context
	Logger zerolog.Logger
}

// StepRunner executes one opaque unit of work. The config it receives has
// all variable placeholders already substituted.
type StepRunner interface {
	Execute(ctx *StepContext, config map[string]string) (json.RawMessage, error)
}

// RunnerFunc adapts a plain function to the StepRunner interface
type RunnerFunc func(ctx *StepContext, config map[string]string) (json.RawMessage, error)

// Execute implements StepRunner
func (f RunnerFunc) Execute(ctx *StepContext, config map[string]string) (json.RawMessage, error) {
	return f(ctx, config)
}

// RunnerRegistry resolves step kinds to their runners at dispatch time.
// Kinds are opaque strings; the engine never branches on them itself.
type RunnerRegistry struct {
	mu      sync.RWMutex
	runners map[string]StepRunner
}

// NewRunnerRegistry creates an empty registry
func NewRunnerRegistry() *RunnerRegistry {
	return &RunnerRegistry{
		runners: make(map[string]StepRunner),
	}
}

// Register binds a runner to a step kind, replacing any previous binding
func (r *RunnerRegistry) Register(kind string, runner StepRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[kind] = runner
}

// RegisterFunc binds a plain function to a step kind
func (r *RunnerRegistry) RegisterFunc(kind string, fn RunnerFunc) {
	r.Register(kind, fn)
}

// Resolve returns the runner for a kind
func (r *RunnerRegistry) Resolve(kind string) (StepRunner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.runners[kind]
	if !ok {
		return nil, fmt.Errorf("no runner registered for step kind %q", kind)
	}
	return runner, nil
}

// Kinds returns all registered step kinds
func (r *RunnerRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.runners))
	for kind := range r.runners {
		kinds = append(kinds, kind)
	}
	return kinds
}
