// Package engine drives workflow executions: one goroutine per dispatched
// run, steps strictly in declared order, fail-fast on the first step error.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flowrunhq/flowrun"
)

// Engine orchestrates workflow executions
type Engine struct {
	store    flowrun.Store
	registry *flowrun.RunnerRegistry
	capacity *flowrun.Capacity
	logger   zerolog.Logger
	config   flowrun.EngineConfig

	// Cancel functions of in-flight executions, keyed by execution ID
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// Option configures the engine
type Option func(*Engine)

// WithLogger sets a custom logger for the engine
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithConfig sets a custom configuration for the engine
func WithConfig(config flowrun.EngineConfig) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// WithCapacity shares an externally owned capacity gauge (typically the
// scheduler's) instead of the engine allocating its own
func WithCapacity(capacity *flowrun.Capacity) Option {
	return func(e *Engine) {
		e.capacity = capacity
	}
}

// New creates a workflow engine. Without options it logs to stdout at Info
// level and enforces the default concurrency cap.
func New(store flowrun.Store, registry *flowrun.RunnerRegistry, opts ...Option) *Engine {
	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	eng := &Engine{
		store:    store,
		registry: registry,
		logger:   defaultLogger,
		config:   flowrun.DefaultEngineConfig,
		running:  make(map[string]context.CancelFunc),
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.capacity == nil {
		eng.capacity = flowrun.NewCapacity(eng.config.MaxConcurrentExecutions)
	}

	return eng
}

// Capacity exposes the shared concurrency gauge
func (e *Engine) Capacity() *flowrun.Capacity {
	return e.capacity
}

// Run dispatches an execution of the given workflow. It reserves a
// concurrency slot, persists a PENDING record, and returns its handle
// immediately; a goroutine drives the run to a terminal status. Returns
// flowrun.ErrCapacityExceeded when the cap is saturated.
func (e *Engine) Run(
	ctx context.Context,
	wf *flowrun.Workflow,
	variables map[string]string,
	runName string,
	opts ...flowrun.RunOption,
) (*flowrun.Execution, error) {
	options := &flowrun.RunOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if !e.capacity.TryAcquire() {
		return nil, flowrun.ErrCapacityExceeded
	}

	executionID := uuid.New().String()
	if runName == "" {
		runName = fmt.Sprintf("%s-%s", wf.Name, executionID[:8])
	}

	now := time.Now()
	exec := &flowrun.Execution{
		ID:         executionID,
		WorkflowID: wf.ID,
		RunName:    runName,
		Status:     flowrun.ExecutionStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		Variables:  flowrun.ResolveVariables(wf.Variables, variables),
	}

	if options.TriggerType != "" {
		exec.Trigger = &flowrun.TriggerInfo{
			Type:      options.TriggerType,
			Source:    options.TriggerSource,
			Timestamp: now,
		}
	}
	if options.TTL > 0 {
		exec.TTL = now.Add(options.TTL).Unix()
	}

	if err := e.store.CreateExecution(ctx, exec); err != nil {
		e.capacity.Release()
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	e.logger.Info().
		Str("execution_id", executionID).
		Str("workflow_id", wf.ID).
		Str("run_name", runName).
		Msg("Execution created")

	// The run owns its own context so it survives the caller's; Cancel
	// goes through the tracked cancel func.
	runCtx, cancel := context.WithCancel(context.Background())
	e.track(executionID, cancel)

	handle := *exec

	if options.Synchronous {
		e.execute(runCtx, wf, exec, options)
		return exec, nil
	}

	go e.execute(runCtx, wf, exec, options)
	return &handle, nil
}

// Cancel asks an in-flight execution to stop. The chain stops advancing;
// the currently running step is cut off via context cancellation. The
// record ends FAILED with a CANCELLED error code.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to get execution: %w", err)
	}
	if exec.Status.IsTerminal() {
		return fmt.Errorf("cannot cancel execution in %s state", exec.Status)
	}

	e.mu.Lock()
	cancel, ok := e.running[executionID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("execution %s is not in flight", executionID)
	}

	cancel()
	return nil
}

// GetExecution retrieves an execution record
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*flowrun.Execution, error) {
	return e.store.GetExecution(ctx, executionID)
}

// ListExecutions lists execution records with filtering
func (e *Engine) ListExecutions(ctx context.Context, filter flowrun.ExecutionFilter) ([]*flowrun.Execution, error) {
	return e.store.ListExecutions(ctx, filter)
}

func (e *Engine) track(executionID string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running[executionID] = cancel
}

func (e *Engine) untrack(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.running[executionID]; ok {
		cancel()
		delete(e.running, executionID)
	}
}

// execute drives one run from PENDING to a terminal status
func (e *Engine) execute(ctx context.Context, wf *flowrun.Workflow, exec *flowrun.Execution, options *flowrun.RunOptions) {
	logger := flowrun.ExecutionLogger(e.logger, exec.ID, exec.WorkflowID)

	defer func() {
		e.untrack(exec.ID)
		e.capacity.Release()
		if options.OnCompletion != nil {
			options.OnCompletion(exec)
		}
	}()

	startedAt := time.Now()
	exec.Status = flowrun.ExecutionStatusRunning
	exec.StartedAt = &startedAt
	exec.UpdatedAt = startedAt

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		flowrun.LogPersistenceError(logger, "update_execution", err)
		e.fail(ctx, wf, exec, flowrun.NewExecutionError(flowrun.ErrCodeInternalError, err.Error()))
		return
	}

	flowrun.LogExecutionStarted(logger, exec.ID, exec.WorkflowID)

	for i := range wf.Steps {
		step := wf.Steps[i]

		// Stop advancing once cancelled; the record reflects the halt
		select {
		case <-ctx.Done():
			logger.Warn().
				Str("event", flowrun.EventExecutionCancelled).
				Str("step_id", step.ID).
				Msg("Execution cancelled before step")
			e.fail(ctx, wf, exec, flowrun.NewExecutionError(
				flowrun.ErrCodeCancelled, "execution cancelled"))
			return
		default:
		}

		stepErr := e.executeStep(ctx, exec, step, logger)
		if stepErr != nil {
			flowrun.LogStepFailed(logger, exec.ID, step.ID, stepErr)
			code := flowrun.ErrCodeExecutionFailed
			if flowrun.IsCancelledError(stepErr) {
				code = flowrun.ErrCodeCancelled
			}
			e.fail(ctx, wf, exec, flowrun.NewExecutionErrorWithStep(
				code, stepErr.Error(), step.ID))
			return
		}
	}

	e.complete(ctx, wf, exec)
}

// complete marks the execution COMPLETED
func (e *Engine) complete(ctx context.Context, wf *flowrun.Workflow, exec *flowrun.Execution) {
	ctx = context.WithoutCancel(ctx)

	completedAt := time.Now()
	exec.Status = flowrun.ExecutionStatusCompleted
	exec.CompletedAt = &completedAt
	exec.UpdatedAt = completedAt

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		flowrun.LogPersistenceError(e.logger, "update_execution", err)
	}
	e.bumpWorkflowCounters(ctx, wf, completedAt)

	flowrun.LogExecutionCompleted(e.logger, exec.ID, completedAt.Sub(*exec.StartedAt))
}

// fail marks the execution FAILED with the given terminal error
func (e *Engine) fail(ctx context.Context, wf *flowrun.Workflow, exec *flowrun.Execution, execErr *flowrun.ExecutionError) {
	// Cancel fires the run context, so the terminal write must not ride on it
	ctx = context.WithoutCancel(ctx)

	completedAt := time.Now()
	exec.Status = flowrun.ExecutionStatusFailed
	exec.CompletedAt = &completedAt
	exec.UpdatedAt = completedAt
	exec.Error = execErr

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		flowrun.LogPersistenceError(e.logger, "update_execution", err)
	}
	e.bumpWorkflowCounters(ctx, wf, completedAt)

	flowrun.LogExecutionFailed(e.logger, exec.ID, execErr)
}

// bumpWorkflowCounters updates the owning workflow on terminal transitions
func (e *Engine) bumpWorkflowCounters(ctx context.Context, wf *flowrun.Workflow, at time.Time) {
	current, err := e.store.GetWorkflow(ctx, wf.ID)
	if err != nil {
		flowrun.LogPersistenceError(e.logger, "get_workflow", err)
		return
	}

	current.ExecutionsCount++
	current.LastExecutionAt = &at

	if err := e.store.UpdateWorkflow(ctx, current); err != nil {
		flowrun.LogPersistenceError(e.logger, "update_workflow", err)
	}
}
