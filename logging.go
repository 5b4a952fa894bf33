package flowrun

import (
	"time"

	"github.com/rs/zerolog"
)

// Log event names
const (
	// Execution-level events
	EventExecutionStarted   = "execution_started"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventExecutionCancelled = "execution_cancelled"

	// Step-level events
	EventStepStarted   = "step_started"
	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"

	// Scheduler events
	EventScheduleTriggered = "schedule_triggered"
	EventScheduleDeferred  = "schedule_deferred"
	EventScheduleRetired   = "schedule_retired"
	EventScheduleFailed    = "schedule_failed"

	// Persistence events
	EventPersistenceError = "persistence_error"
)

// ExecutionLogger creates a logger enriched with execution context
func ExecutionLogger(base zerolog.Logger, executionID, workflowID string) zerolog.Logger {
	return base.With().
		Str("execution_id", executionID).
		Str("workflow_id", workflowID).
		Logger()
}

// StepLogger creates a logger enriched with step context
func StepLogger(executionLogger zerolog.Logger, stepID, kind string) zerolog.Logger {
	return executionLogger.With().
		Str("step_id", stepID).
		Str("step_kind", kind).
		Logger()
}

// LogExecutionStarted logs when an execution begins running
func LogExecutionStarted(logger zerolog.Logger, executionID, workflowID string) {
	logger.Info().
		Str("event", EventExecutionStarted).
		Str("execution_id", executionID).
		Str("workflow_id", workflowID).
		Msg("Execution started")
}

// LogExecutionCompleted logs successful completion
func LogExecutionCompleted(logger zerolog.Logger, executionID string, duration time.Duration) {
	logger.Info().
		Str("event", EventExecutionCompleted).
		Str("execution_id", executionID).
		Dur("duration", duration).
		Msg("Execution completed")
}

// LogExecutionFailed logs execution failure
func LogExecutionFailed(logger zerolog.Logger, executionID string, err error) {
	logger.Error().
		Str("event", EventExecutionFailed).
		Str("execution_id", executionID).
		Err(err).
		Msg("Execution failed")
}

// LogStepFailed logs step failure
func LogStepFailed(logger zerolog.Logger, executionID, stepID string, err error) {
	logger.Error().
		Str("event", EventStepFailed).
		Str("execution_id", executionID).
		Str("step_id", stepID).
		Err(err).
		Msg("Step failed")
}

// LogPersistenceError logs errors during persistence operations
func LogPersistenceError(logger zerolog.Logger, operation string, err error) {
	logger.Error().
		Str("event", EventPersistenceError).
		Str("operation", operation).
		Err(err).
		Msg("Persistence error")
}
