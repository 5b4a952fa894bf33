package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowrunhq/flowrun"
)

// executeStep runs a single step: resolve config placeholders, look up the
// runner, invoke it under a timeout, and record the StepExecution on the
// execution. Returns nil only when the step completed.
func (e *Engine) executeStep(
	ctx context.Context,
	exec *flowrun.Execution,
	step flowrun.Step,
	logger zerolog.Logger,
) error {
	stepLogger := flowrun.StepLogger(logger, step.ID, step.Kind)

	record := flowrun.StepExecution{
		StepID: step.ID,
		Status: flowrun.StepStatusPending,
	}
	exec.Steps = append(exec.Steps, record)
	idx := len(exec.Steps) - 1

	// Placeholder resolution happens before the runner is looked at; an
	// unresolved variable fails the step without invoking anything.
	resolvedConfig, err := flowrun.SubstituteConfig(step, exec.Variables)
	if err != nil {
		e.finishStep(ctx, exec, idx, flowrun.ToStepError(err), stepLogger)
		return err
	}

	runner, err := e.registry.Resolve(step.Kind)
	if err != nil {
		e.finishStep(ctx, exec, idx, flowrun.ToStepError(err), stepLogger)
		return err
	}

	timeout := e.config.DefaultStepTimeout
	if step.TimeoutSeconds > 0 {
		timeout = time.Duration(step.TimeoutSeconds) * time.Second
	}

	startedAt := time.Now()
	exec.Steps[idx].Status = flowrun.StepStatusRunning
	exec.Steps[idx].StartedAt = &startedAt
	exec.UpdatedAt = startedAt

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		flowrun.LogPersistenceError(stepLogger, "update_execution", err)
	}

	stepLogger.Info().
		Str("event", flowrun.EventStepStarted).
		Int("step_num", idx+1).
		Msg("Executing step")

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runnerCtx := &flowrun.StepContext{
		Context:     stepCtx,
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		StepID:      step.ID,
		Kind:        step.Kind,
		Logger:      stepLogger,
	}

	var runErr error

	// Panic in an opaque runner fails the step, not the process
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = flowrun.NewStepError(flowrun.ErrCodePanic,
					fmt.Sprintf("step panicked: %v", r))
				stepLogger.Error().Interface("panic", r).Msg("Step panicked")
			}
		}()

		_, runErr = runner.Execute(runnerCtx, resolvedConfig)
	}()

	duration := time.Since(startedAt)
	exec.Steps[idx].DurationMs = duration.Milliseconds()

	if runErr == nil && stepCtx.Err() == context.DeadlineExceeded {
		// Runner returned after the deadline without surfacing it
		runErr = stepCtx.Err()
	}

	if runErr != nil {
		if stepCtx.Err() == context.DeadlineExceeded {
			runErr = flowrun.NewStepError(flowrun.ErrCodeTimeout,
				fmt.Sprintf("step timed out after %s: %v", timeout, runErr))
			stepLogger.Error().
				Dur("timeout", timeout).
				Msg("Step execution timed out")
		}
		stepErr := flowrun.ToStepError(runErr)
		e.finishStep(ctx, exec, idx, stepErr, stepLogger)
		return stepErr
	}

	completedAt := time.Now()
	exec.Steps[idx].Status = flowrun.StepStatusCompleted
	exec.Steps[idx].CompletedAt = &completedAt
	exec.UpdatedAt = completedAt

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		flowrun.LogPersistenceError(stepLogger, "update_execution", err)
	}

	stepLogger.Info().
		Str("event", flowrun.EventStepCompleted).
		Int64("duration_ms", duration.Milliseconds()).
		Msg("Step completed")

	return nil
}

// finishStep records a failed step on the execution
func (e *Engine) finishStep(
	ctx context.Context,
	exec *flowrun.Execution,
	idx int,
	stepErr *flowrun.StepError,
	logger zerolog.Logger,
) {
	ctx = context.WithoutCancel(ctx)

	completedAt := time.Now()
	exec.Steps[idx].Status = flowrun.StepStatusFailed
	exec.Steps[idx].CompletedAt = &completedAt
	exec.Steps[idx].Error = stepErr
	exec.UpdatedAt = completedAt

	if err := e.store.UpdateExecution(ctx, exec); err != nil {
		flowrun.LogPersistenceError(logger, "update_execution", err)
	}
}
