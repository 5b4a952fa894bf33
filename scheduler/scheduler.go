// Package scheduler turns cron expressions into dispatched executions.
// A single periodic loop scans for due schedules so ordering and the global
// concurrency cap stay centrally enforceable; there are no per-schedule
// timers.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flowrunhq/flowrun"
	"github.com/flowrunhq/flowrun/cron"
	"github.com/flowrunhq/flowrun/engine"
)

// Scheduler owns Schedule entities and drives their recurring triggers
type Scheduler struct {
	store  flowrun.Store
	engine *engine.Engine
	logger zerolog.Logger
	config flowrun.SchedulerConfig

	ticks int
	stop  chan struct{}
	done  chan struct{}
}

// Option configures the scheduler
type Option func(*Scheduler)

// WithLogger sets a custom logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithConfig sets a custom configuration
func WithConfig(config flowrun.SchedulerConfig) Option {
	return func(s *Scheduler) {
		s.config = config
	}
}

// New creates a scheduler
func New(store flowrun.Store, eng *engine.Engine, opts ...Option) *Scheduler {
	defaultLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger().
		Level(zerolog.InfoLevel)

	s := &Scheduler{
		store:  store,
		engine: eng,
		logger: defaultLogger,
		config: flowrun.DefaultSchedulerConfig,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start runs the tick loop until Stop is called or the context ends
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.config.TickInterval)
		defer ticker.Stop()

		s.logger.Info().
			Dur("tick_interval", s.config.TickInterval).
			Msg("Scheduler started")

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Tick(ctx, time.Now())
			}
		}
	}()
}

// Stop halts the tick loop and waits for it to exit
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// Tick processes all due schedules once. Exported so callers (and tests)
// can drive the scheduler with an explicit clock.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.ticks++

	due, err := s.store.ListSchedules(ctx, flowrun.ScheduleFilter{
		Status:    flowrun.ToPtr(flowrun.ScheduleStatusActive),
		DueBefore: &now,
	})
	if err != nil {
		flowrun.LogPersistenceError(s.logger, "list_schedules", err)
		return
	}

	// Longest-overdue first so capacity pressure prefers them
	sort.Slice(due, func(i, j int) bool {
		ni, nj := due[i].NextRunAt, due[j].NextRunAt
		if ni == nil || nj == nil {
			return nj == nil
		}
		return ni.Before(*nj)
	})

	for _, sched := range due {
		s.trigger(ctx, sched, now)
	}

	if s.config.ExecutionRetention > 0 && s.config.PruneEveryTicks > 0 &&
		s.ticks%s.config.PruneEveryTicks == 0 {
		s.prune(ctx, now)
	}
}

// trigger dispatches one due schedule and advances or retires it
func (s *Scheduler) trigger(ctx context.Context, sched *flowrun.Schedule, now time.Time) {
	logger := s.logger.With().
		Str("schedule_id", sched.ID).
		Str("workflow_id", sched.WorkflowID).
		Logger()

	wf, err := s.store.GetWorkflow(ctx, sched.WorkflowID)
	if err != nil {
		// The bound workflow is gone or the store is unreachable. Either
		// way the trigger infrastructure is broken for this schedule:
		// park it until someone resumes it.
		s.failSchedule(ctx, sched, err, logger)
		return
	}

	runName := fmt.Sprintf("%s-%s", sched.Name, uuid.New().String()[:8])
	_, err = s.engine.Run(ctx, wf, sched.Variables, runName,
		flowrun.WithTrigger("schedule", sched.ID),
		flowrun.WithTTL(s.config.ExecutionRetention),
	)
	if err != nil {
		if flowrun.IsCapacityError(err) {
			// Transient: the schedule stays due and is retried next tick
			logger.Debug().
				Str("event", flowrun.EventScheduleDeferred).
				Msg("Concurrency cap reached, schedule deferred")
			return
		}
		s.failSchedule(ctx, sched, err, logger)
		return
	}

	sched.RunsCount++
	sched.LastRunAt = &now

	logger.Info().
		Str("event", flowrun.EventScheduleTriggered).
		Int("runs_count", sched.RunsCount).
		Msg("Schedule triggered")

	if sched.MaxRuns > 0 && sched.RunsCount >= sched.MaxRuns {
		sched.Status = flowrun.ScheduleStatusCompleted
		sched.NextRunAt = nil

		logger.Info().
			Str("event", flowrun.EventScheduleRetired).
			Int("max_runs", sched.MaxRuns).
			Msg("Schedule reached max runs, retired")
	} else {
		next, err := cron.NextOccurrence(sched.CronExpression, sched.Timezone, now)
		if err != nil {
			// Expression exhausted (or invalidated out of band); retire
			// rather than fail, there is simply nothing left to fire
			sched.Status = flowrun.ScheduleStatusCompleted
			sched.NextRunAt = nil

			logger.Warn().
				Str("event", flowrun.EventScheduleRetired).
				Err(err).
				Msg("No further occurrence, schedule retired")
		} else {
			sched.NextRunAt = &next
		}
	}

	sched.UpdatedAt = now
	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		flowrun.LogPersistenceError(logger, "update_schedule", err)
	}
}

// failSchedule parks a schedule after an infrastructure-level trigger
// failure. Distinct from a workflow run failing: that is recorded on the
// execution and leaves the schedule alone.
func (s *Scheduler) failSchedule(ctx context.Context, sched *flowrun.Schedule, cause error, logger zerolog.Logger) {
	sched.Status = flowrun.ScheduleStatusFailed
	sched.UpdatedAt = time.Now()

	logger.Error().
		Str("event", flowrun.EventScheduleFailed).
		Err(flowrun.NewExecutionError(flowrun.ErrCodeTriggerFailure, cause.Error())).
		Msg("Trigger failed, schedule requires manual resume")

	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		flowrun.LogPersistenceError(logger, "update_schedule", err)
	}
}

// prune removes terminal executions past the retention window
func (s *Scheduler) prune(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.config.ExecutionRetention)
	deleted, err := s.store.DeleteExecutionsBefore(ctx, cutoff)
	if err != nil {
		flowrun.LogPersistenceError(s.logger, "prune_executions", err)
		return
	}
	if deleted > 0 {
		s.logger.Info().
			Int("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Pruned expired executions")
	}
}

// CreateSchedule validates and persists a new schedule with its initial
// next-run time computed from now
func (s *Scheduler) CreateSchedule(ctx context.Context, sched *flowrun.Schedule) error {
	if sched.WorkflowID == "" {
		return flowrun.NewExecutionError(flowrun.ErrCodeValidation, "schedule requires a workflow id")
	}
	if result := cron.Validate(sched.CronExpression); !result.Valid {
		return flowrun.NewExecutionError(flowrun.ErrCodeInvalidExpression, result.Reason)
	}
	if _, err := s.store.GetWorkflow(ctx, sched.WorkflowID); err != nil {
		return fmt.Errorf("failed to resolve workflow: %w", err)
	}

	now := time.Now()
	next, err := cron.NextOccurrence(sched.CronExpression, sched.Timezone, now)
	if err != nil {
		return err
	}

	if sched.ID == "" {
		sched.ID = uuid.New().String()
	}
	sched.Status = flowrun.ScheduleStatusActive
	sched.NextRunAt = &next
	sched.RunsCount = 0
	sched.CreatedAt = now
	sched.UpdatedAt = now

	return s.store.CreateSchedule(ctx, sched)
}

// Pause freezes an active schedule. NextRunAt is left untouched so Resume
// can recompute cleanly instead of firing a backlog.
func (s *Scheduler) Pause(ctx context.Context, scheduleID string) (*flowrun.Schedule, error) {
	sched, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched.Status != flowrun.ScheduleStatusActive {
		return nil, flowrun.NewExecutionError(flowrun.ErrCodeValidation,
			fmt.Sprintf("cannot pause schedule in %s state", sched.Status))
	}

	sched.Status = flowrun.ScheduleStatusPaused
	sched.UpdatedAt = time.Now()

	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// Resume reactivates a paused or failed schedule. NextRunAt is recomputed
// from now; occurrences missed while paused are not backfilled.
func (s *Scheduler) Resume(ctx context.Context, scheduleID string) (*flowrun.Schedule, error) {
	sched, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if sched.Status != flowrun.ScheduleStatusPaused && sched.Status != flowrun.ScheduleStatusFailed {
		return nil, flowrun.NewExecutionError(flowrun.ErrCodeValidation,
			fmt.Sprintf("cannot resume schedule in %s state", sched.Status))
	}

	now := time.Now()
	next, err := cron.NextOccurrence(sched.CronExpression, sched.Timezone, now)
	if err != nil {
		return nil, err
	}

	sched.Status = flowrun.ScheduleStatusActive
	sched.NextRunAt = &next
	sched.UpdatedAt = now

	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// RetireForWorkflow retires every non-terminal schedule bound to a
// workflow. Called before the workflow itself is deleted.
func (s *Scheduler) RetireForWorkflow(ctx context.Context, workflowID string) error {
	schedules, err := s.store.ListSchedules(ctx, flowrun.ScheduleFilter{WorkflowID: workflowID})
	if err != nil {
		return err
	}

	for _, sched := range schedules {
		if sched.Status.IsTerminal() {
			continue
		}
		sched.Status = flowrun.ScheduleStatusCompleted
		sched.NextRunAt = nil
		sched.UpdatedAt = time.Now()

		if err := s.store.UpdateSchedule(ctx, sched); err != nil {
			return err
		}

		s.logger.Info().
			Str("event", flowrun.EventScheduleRetired).
			Str("schedule_id", sched.ID).
			Str("workflow_id", workflowID).
			Msg("Schedule retired with its workflow")
	}
	return nil
}
