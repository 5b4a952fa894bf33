package flowrun

import (
	"time"
)

// ExecutionStatus represents the current state of a workflow execution
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
)

// IsTerminal returns true if the status is a final state
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// String returns the string representation
func (s ExecutionStatus) String() string {
	return string(s)
}

// StepStatus represents the current state of a step within an execution
type StepStatus string

const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
)

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}

// String returns the string representation
func (s StepStatus) String() string {
	return string(s)
}

// WorkflowStatus represents the lifecycle state of a workflow definition
type WorkflowStatus string

const (
	WorkflowStatusActive   WorkflowStatus = "ACTIVE"
	WorkflowStatusArchived WorkflowStatus = "ARCHIVED"
)

// ScheduleStatus represents the lifecycle state of a schedule
type ScheduleStatus string

const (
	ScheduleStatusActive    ScheduleStatus = "ACTIVE"
	ScheduleStatusPaused    ScheduleStatus = "PAUSED"
	ScheduleStatusCompleted ScheduleStatus = "COMPLETED"
	ScheduleStatusFailed    ScheduleStatus = "FAILED"
)

// IsTerminal returns true if the schedule can never fire again without
// explicit user action
func (s ScheduleStatus) IsTerminal() bool {
	return s == ScheduleStatusCompleted
}

// String returns the string representation
func (s ScheduleStatus) String() string {
	return string(s)
}

// Step is one opaque unit of work within a workflow. The engine never
// interprets Kind or Config beyond placeholder substitution; dispatch goes
// through the runner registry.
type Step struct {
	ID             string            `json:"id" dynamodbav:"id"`
	Kind           string            `json:"kind" dynamodbav:"kind"`
	Config         map[string]string `json:"config,omitempty" dynamodbav:"config,omitempty"`
	TimeoutSeconds int               `json:"timeoutSeconds,omitempty" dynamodbav:"timeout_seconds,omitempty"`
}

// Workflow is a named, ordered chain of steps with declared variables.
// Step order is total; executions walk Steps front to back.
type Workflow struct {
	// Identity
	ID          string `json:"id" dynamodbav:"workflow_id"`
	Name        string `json:"name" dynamodbav:"name"`
	Description string `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Category    string `json:"category,omitempty" dynamodbav:"category,omitempty"`

	// Definition
	Steps     []Step            `json:"steps" dynamodbav:"steps"`
	Variables map[string]string `json:"variables,omitempty" dynamodbav:"variables,omitempty"`
	Tags      []string          `json:"tags,omitempty" dynamodbav:"tags,omitempty"`

	// Lifecycle
	Status    WorkflowStatus `json:"status" dynamodbav:"status"`
	CreatedAt time.Time      `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt time.Time      `json:"updatedAt" dynamodbav:"updated_at"`

	// Counters, maintained by the engine on terminal transitions
	ExecutionsCount int        `json:"executionsCount" dynamodbav:"executions_count"`
	LastExecutionAt *time.Time `json:"lastExecutionAt,omitempty" dynamodbav:"last_execution_at,omitempty"`
}

// StepByID returns the step definition with the given ID
func (w *Workflow) StepByID(stepID string) (Step, bool) {
	for _, s := range w.Steps {
		if s.ID == stepID {
			return s, true
		}
	}
	return Step{}, false
}

// TriggerInfo captures what initiated an execution
type TriggerInfo struct {
	Type      string    `json:"type" dynamodbav:"type"`     // "api", "schedule"
	Source    string    `json:"source" dynamodbav:"source"` // user ID, schedule ID
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
}

// Execution represents a single run of a workflow. Once terminal it is
// immutable; the analytics aggregator only ever reads it.
type Execution struct {
	// Identity
	ID         string `json:"id" dynamodbav:"execution_id"`
	WorkflowID string `json:"workflowId" dynamodbav:"workflow_id"`
	RunName    string `json:"runName" dynamodbav:"run_name"`

	// Status
	Status ExecutionStatus `json:"status" dynamodbav:"status"`

	// Timing
	CreatedAt   time.Time  `json:"createdAt" dynamodbav:"created_at"`
	StartedAt   *time.Time `json:"startedAt,omitempty" dynamodbav:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty" dynamodbav:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt" dynamodbav:"updated_at"`

	// Resolved input bindings snapshotted at dispatch time
	Variables map[string]string `json:"variables,omitempty" dynamodbav:"variables,omitempty"`

	// Per-step records, in chain order. Steps never reached stay absent.
	Steps []StepExecution `json:"steps,omitempty" dynamodbav:"steps,omitempty"`

	// Error handling
	Error *ExecutionError `json:"error,omitempty" dynamodbav:"error,omitempty"`

	// Metadata
	Trigger *TriggerInfo `json:"trigger,omitempty" dynamodbav:"trigger,omitempty"`

	// DynamoDB TTL, set from the retention policy
	TTL int64 `json:"-" dynamodbav:"ttl,omitempty"`
}

// DurationSeconds returns the wall-clock duration of a terminal execution,
// 0 while it is still in flight
func (e *Execution) DurationSeconds() float64 {
	if e.StartedAt == nil || e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(*e.StartedAt).Seconds()
}

// StepExecution tracks the status of one step within one execution
type StepExecution struct {
	StepID string     `json:"stepId" dynamodbav:"step_id"`
	Status StepStatus `json:"status" dynamodbav:"status"`

	StartedAt   *time.Time `json:"startedAt,omitempty" dynamodbav:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty" dynamodbav:"completed_at,omitempty"`
	DurationMs  int64      `json:"durationMs" dynamodbav:"duration_ms"`

	Error *StepError `json:"error,omitempty" dynamodbav:"error,omitempty"`
}

// Schedule is a cron-driven recurring trigger bound to exactly one workflow
type Schedule struct {
	// Identity
	ID          string `json:"id" dynamodbav:"schedule_id"`
	WorkflowID  string `json:"workflowId" dynamodbav:"workflow_id"`
	Name        string `json:"name" dynamodbav:"name"`
	Description string `json:"description,omitempty" dynamodbav:"description,omitempty"`

	// Recurrence
	CronExpression string `json:"cronExpression" dynamodbav:"cron_expression"`
	Timezone       string `json:"timezone" dynamodbav:"timezone"`

	// Bindings applied to every triggered run
	Variables map[string]string `json:"variables,omitempty" dynamodbav:"variables,omitempty"`

	// State. NextRunAt is nil exactly when the schedule is retired.
	Status    ScheduleStatus `json:"status" dynamodbav:"status"`
	NextRunAt *time.Time     `json:"nextRunAt,omitempty" dynamodbav:"next_run_at,omitempty"`
	LastRunAt *time.Time     `json:"lastRunAt,omitempty" dynamodbav:"last_run_at,omitempty"`
	RunsCount int            `json:"runsCount" dynamodbav:"runs_count"`
	MaxRuns   int            `json:"maxRuns,omitempty" dynamodbav:"max_runs,omitempty"` // 0 = unlimited

	CreatedAt time.Time `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"updated_at"`
}

// Template is a read-only, pre-authored workflow blueprint
type Template struct {
	ID          string            `json:"id" dynamodbav:"template_id"`
	Name        string            `json:"name" dynamodbav:"name"`
	Description string            `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Category    string            `json:"category,omitempty" dynamodbav:"category,omitempty"`
	Steps       []Step            `json:"steps" dynamodbav:"steps"`
	Variables   map[string]string `json:"variables,omitempty" dynamodbav:"variables,omitempty"`
	Tags        []string          `json:"tags,omitempty" dynamodbav:"tags,omitempty"`
}

// Instantiate produces a fresh workflow from the blueprint. The template
// itself is never mutated.
func (t *Template) Instantiate(workflowID, name string) *Workflow {
	now := time.Now()

	steps := make([]Step, len(t.Steps))
	copy(steps, t.Steps)

	variables := make(map[string]string, len(t.Variables))
	for k, v := range t.Variables {
		variables[k] = v
	}

	tags := make([]string, len(t.Tags))
	copy(tags, t.Tags)

	if name == "" {
		name = t.Name
	}

	return &Workflow{
		ID:          workflowID,
		Name:        name,
		Description: t.Description,
		Category:    t.Category,
		Steps:       steps,
		Variables:   variables,
		Tags:        tags,
		Status:      WorkflowStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
