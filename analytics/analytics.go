// Package analytics derives health and usage metrics from execution and
// schedule records. Strictly read-side: nothing here mutates a record.
package analytics

import (
	"context"
	"time"

	"github.com/flowrunhq/flowrun"
)

// Health thresholds. Breaching one downgrades the health status and adds
// an issue line to the report.
const (
	warningSuccessRate  = 90.0
	criticalSuccessRate = 70.0
	warningLoad         = 0.8
	criticalLoad        = 0.95
)

// HealthStatus classifies overall system health
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "HEALTHY"
	HealthStatusWarning  HealthStatus = "WARNING"
	HealthStatusCritical HealthStatus = "CRITICAL"
)

// StepStats aggregates the outcomes of one step across executions of a
// workflow, pinpointing the reliability bottleneck in a chain
type StepStats struct {
	StepID      string  `json:"stepId"`
	Count       int     `json:"count"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"successRate"`
	AvgDuration float64 `json:"avgDurationMs"`
}

// HealthReport is the aggregate health view for the dashboard
type HealthReport struct {
	Status          HealthStatus `json:"status"`
	Score           float64      `json:"score"`
	SuccessRate     float64      `json:"successRate"`
	AvgDurationSecs float64      `json:"avgDurationSeconds"`
	Load            float64      `json:"load"`
	Issues          []string     `json:"issues,omitempty"`
}

// Snapshot is the realtime system view
type Snapshot struct {
	RunningExecutions int               `json:"runningExecutions"`
	ActiveSchedules   int               `json:"activeSchedules"`
	ConcurrencyCap    int               `json:"concurrencyCap"`
	Load              float64           `json:"load"`
	NextSchedule      *flowrun.Schedule `json:"nextSchedule,omitempty"`
}

// Aggregator computes metrics over a store's records
type Aggregator struct {
	store    flowrun.Store
	capacity *flowrun.Capacity

	// Window of recent executions considered by Health
	window time.Duration
}

// New creates an aggregator. The capacity gauge is the one shared by the
// scheduler and engine.
func New(store flowrun.Store, capacity *flowrun.Capacity) *Aggregator {
	return &Aggregator{
		store:    store,
		capacity: capacity,
		window:   24 * time.Hour,
	}
}

// SuccessRate returns completed/(completed+failed) as a percentage.
// Pending and running executions are excluded; an empty set yields 0.
func SuccessRate(executions []*flowrun.Execution) float64 {
	completed, failed := 0, 0
	for _, exec := range executions {
		switch exec.Status {
		case flowrun.ExecutionStatusCompleted:
			completed++
		case flowrun.ExecutionStatusFailed:
			failed++
		}
	}
	if completed+failed == 0 {
		return 0
	}
	return 100 * float64(completed) / float64(completed+failed)
}

// AvgDuration averages wall-clock duration over terminal executions only
func AvgDuration(executions []*flowrun.Execution) time.Duration {
	var total time.Duration
	count := 0
	for _, exec := range executions {
		if !exec.Status.IsTerminal() || exec.StartedAt == nil || exec.CompletedAt == nil {
			continue
		}
		total += exec.CompletedAt.Sub(*exec.StartedAt)
		count++
	}
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

// StepBreakdown groups step records by step ID across all executions of a
// workflow and reports count, success rate and average duration per step
func (a *Aggregator) StepBreakdown(ctx context.Context, workflowID string) ([]StepStats, error) {
	executions, err := a.store.ListExecutions(ctx, flowrun.ExecutionFilter{WorkflowID: workflowID})
	if err != nil {
		return nil, err
	}

	wf, err := a.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	byStep := make(map[string]*StepStats)
	durations := make(map[string]int64)

	for _, exec := range executions {
		for _, step := range exec.Steps {
			stats, ok := byStep[step.StepID]
			if !ok {
				stats = &StepStats{StepID: step.StepID}
				byStep[step.StepID] = stats
			}
			stats.Count++
			switch step.Status {
			case flowrun.StepStatusCompleted:
				stats.Completed++
				durations[step.StepID] += step.DurationMs
			case flowrun.StepStatusFailed:
				stats.Failed++
				durations[step.StepID] += step.DurationMs
			}
		}
	}

	// Report in chain order so the table reads like the workflow
	breakdown := make([]StepStats, 0, len(byStep))
	for _, step := range wf.Steps {
		stats, ok := byStep[step.ID]
		if !ok {
			breakdown = append(breakdown, StepStats{StepID: step.ID})
			continue
		}
		terminal := stats.Completed + stats.Failed
		if terminal > 0 {
			stats.SuccessRate = 100 * float64(stats.Completed) / float64(terminal)
			stats.AvgDuration = float64(durations[step.ID]) / float64(terminal)
		}
		breakdown = append(breakdown, *stats)
	}
	return breakdown, nil
}

// Health computes the weighted system health report over the recent window
func (a *Aggregator) Health(ctx context.Context) (*HealthReport, error) {
	since := time.Now().Add(-a.window)
	executions, err := a.store.ListExecutions(ctx, flowrun.ExecutionFilter{Since: &since})
	if err != nil {
		return nil, err
	}

	successRate := SuccessRate(executions)
	avgDuration := AvgDuration(executions)
	load := a.capacity.Load()

	report := &HealthReport{
		Status:          HealthStatusHealthy,
		SuccessRate:     successRate,
		AvgDurationSecs: avgDuration.Seconds(),
		Load:            load,
	}

	// Success rate dominates the score; load pressure erodes the rest.
	// Average duration is reported but not scored: a single window carries
	// no baseline to trend it against.
	// With no terminal executions in the window the system is idle, not
	// failing, so the success component counts as full.
	successComponent := successRate
	if !hasTerminal(executions) {
		successComponent = 100
	}
	report.Score = successComponent*0.7 + (1-load)*100*0.3

	if hasTerminal(executions) {
		switch {
		case successRate < criticalSuccessRate:
			report.Status = HealthStatusCritical
			report.Issues = append(report.Issues, "success rate below 70%: investigate failing workflows")
		case successRate < warningSuccessRate:
			report.Status = HealthStatusWarning
			report.Issues = append(report.Issues, "success rate below 90%")
		}
	}

	switch {
	case load >= criticalLoad:
		report.Status = HealthStatusCritical
		report.Issues = append(report.Issues, "execution capacity nearly saturated: raise the cap or reduce schedules")
	case load >= warningLoad:
		if report.Status == HealthStatusHealthy {
			report.Status = HealthStatusWarning
		}
		report.Issues = append(report.Issues, "execution load above 80% of capacity")
	}

	return report, nil
}

// RealtimeSnapshot reports current load and the next schedule to fire
func (a *Aggregator) RealtimeSnapshot(ctx context.Context) (*Snapshot, error) {
	running, err := a.store.CountExecutionsByStatus(ctx, flowrun.ExecutionStatusRunning)
	if err != nil {
		return nil, err
	}

	schedules, err := a.store.ListSchedules(ctx, flowrun.ScheduleFilter{
		Status: flowrun.ToPtr(flowrun.ScheduleStatusActive),
	})
	if err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		RunningExecutions: running,
		ActiveSchedules:   len(schedules),
		ConcurrencyCap:    a.capacity.Limit(),
		Load:              a.capacity.Load(),
	}

	// Earliest NextRunAt among active schedules
	for _, sched := range schedules {
		if sched.NextRunAt == nil {
			continue
		}
		if snapshot.NextSchedule == nil || sched.NextRunAt.Before(*snapshot.NextSchedule.NextRunAt) {
			snapshot.NextSchedule = sched
		}
	}

	return snapshot, nil
}

func hasTerminal(executions []*flowrun.Execution) bool {
	for _, exec := range executions {
		if exec.Status.IsTerminal() {
			return true
		}
	}
	return false
}
