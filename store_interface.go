package flowrun

import (
	"context"
	"time"
)

// Store defines the persistence contract for workflow, execution, schedule
// and template records. Implementations must provide atomic create/read/
// update per record and status/timestamp filtered queries.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *Workflow) error
	DeleteWorkflow(ctx context.Context, workflowID string) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)

	// Executions
	CreateExecution(ctx context.Context, exec *Execution) error
	GetExecution(ctx context.Context, executionID string) (*Execution, error)
	UpdateExecution(ctx context.Context, exec *Execution) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error)
	CountExecutionsByStatus(ctx context.Context, status ExecutionStatus) (int, error)
	DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Schedules
	CreateSchedule(ctx context.Context, sched *Schedule) error
	GetSchedule(ctx context.Context, scheduleID string) (*Schedule, error)
	UpdateSchedule(ctx context.Context, sched *Schedule) error
	DeleteSchedule(ctx context.Context, scheduleID string) error
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error)

	// Templates (read-only blueprints, seeded out of band)
	CreateTemplate(ctx context.Context, tmpl *Template) error
	GetTemplate(ctx context.Context, templateID string) (*Template, error)
	ListTemplates(ctx context.Context) ([]*Template, error)
}

// WorkflowFilter defines filtering criteria for workflow listings
type WorkflowFilter struct {
	Status   WorkflowStatus
	Category string
	Limit    int
}

// ExecutionFilter defines filtering criteria for execution listings
type ExecutionFilter struct {
	WorkflowID string
	Status     *ExecutionStatus
	Since      *time.Time
	Limit      int
}

// ScheduleFilter defines filtering criteria for schedule listings
type ScheduleFilter struct {
	WorkflowID string
	Status     *ScheduleStatus
	DueBefore  *time.Time
	Limit      int
}
