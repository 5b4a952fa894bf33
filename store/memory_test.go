package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowrunhq/flowrun"
)

func testWorkflow(id string) *flowrun.Workflow {
	now := time.Now()
	return &flowrun.Workflow{
		ID:     id,
		Name:   "Test Workflow",
		Status: flowrun.WorkflowStatusActive,
		Steps: []flowrun.Step{
			{ID: "a", Kind: "noop", Config: map[string]string{"key": "value"}},
		},
		Variables: map[string]string{"env": "test"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStore_WorkflowCRUD(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	wf := testWorkflow("wf-1")
	require.NoError(t, st.CreateWorkflow(ctx, wf))

	// Duplicate create rejected
	require.Error(t, st.CreateWorkflow(ctx, wf))

	got, err := st.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Test Workflow", got.Name)

	got.Name = "Renamed"
	require.NoError(t, st.UpdateWorkflow(ctx, got))

	got, err = st.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	require.NoError(t, st.DeleteWorkflow(ctx, "wf-1"))
	_, err = st.GetWorkflow(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_NotFoundErrors(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	_, err := st.GetWorkflow(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetExecution(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetSchedule(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetTemplate(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, st.UpdateWorkflow(ctx, testWorkflow("missing")), ErrNotFound)
	assert.ErrorIs(t, st.DeleteWorkflow(ctx, "missing"), ErrNotFound)
}

func TestMemoryStore_ReadsReturnDeepCopies(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.CreateWorkflow(ctx, testWorkflow("wf-1")))

	first, err := st.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)

	// Mutating the returned record must not leak into the store
	first.Name = "mutated"
	first.Steps[0].Config["key"] = "mutated"
	first.Variables["env"] = "mutated"

	second, err := st.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Test Workflow", second.Name)
	assert.Equal(t, "value", second.Steps[0].Config["key"])
	assert.Equal(t, "test", second.Variables["env"])
}

func TestMemoryStore_ExecutionCopiesIsolatePointers(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	completed := started.Add(time.Minute)
	require.NoError(t, st.CreateExecution(ctx, &flowrun.Execution{
		ID:          "exec-1",
		WorkflowID:  "wf-1",
		Status:      flowrun.ExecutionStatusFailed,
		CreatedAt:   started,
		StartedAt:   &started,
		CompletedAt: &completed,
		Steps: []flowrun.StepExecution{
			{
				StepID:    "a",
				Status:    flowrun.StepStatusFailed,
				StartedAt: &started,
				Error:     &flowrun.StepError{Code: flowrun.ErrCodeTimeout, Message: "timed out"},
			},
		},
		Error: &flowrun.ExecutionError{Code: flowrun.ErrCodeExecutionFailed, Message: "step a failed"},
	}))

	first, err := st.GetExecution(ctx, "exec-1")
	require.NoError(t, err)

	// Mutating through the returned pointers must not leak into the store
	*first.StartedAt = first.StartedAt.Add(time.Hour)
	*first.Steps[0].StartedAt = first.Steps[0].StartedAt.Add(time.Hour)
	first.Steps[0].Error.Message = "mutated"
	first.Error.Message = "mutated"

	second, err := st.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.True(t, second.StartedAt.Equal(started))
	assert.True(t, second.Steps[0].StartedAt.Equal(started))
	assert.Equal(t, "timed out", second.Steps[0].Error.Message)
	assert.Equal(t, "step a failed", second.Error.Message)
}

func TestMemoryStore_ScheduleCopiesIsolatePointers(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	next := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.CreateSchedule(ctx, &flowrun.Schedule{
		ID: "sched-1", WorkflowID: "wf-1", Name: "s",
		CronExpression: "* * * * *",
		Status:         flowrun.ScheduleStatusActive,
		NextRunAt:      &next,
		CreatedAt:      next, UpdatedAt: next,
	}))

	first, err := st.GetSchedule(ctx, "sched-1")
	require.NoError(t, err)
	*first.NextRunAt = first.NextRunAt.Add(time.Hour)

	second, err := st.GetSchedule(ctx, "sched-1")
	require.NoError(t, err)
	assert.True(t, second.NextRunAt.Equal(next))
}

func TestMemoryStore_ListWorkflowsFilters(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	active := testWorkflow("wf-1")
	active.Category = "etl"
	require.NoError(t, st.CreateWorkflow(ctx, active))

	archived := testWorkflow("wf-2")
	archived.Status = flowrun.WorkflowStatusArchived
	require.NoError(t, st.CreateWorkflow(ctx, archived))

	all, err := st.ListWorkflows(ctx, flowrun.WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	actives, err := st.ListWorkflows(ctx, flowrun.WorkflowFilter{Status: flowrun.WorkflowStatusActive})
	require.NoError(t, err)
	require.Len(t, actives, 1)
	assert.Equal(t, "wf-1", actives[0].ID)

	etl, err := st.ListWorkflows(ctx, flowrun.WorkflowFilter{Category: "etl"})
	require.NoError(t, err)
	assert.Len(t, etl, 1)

	limited, err := st.ListWorkflows(ctx, flowrun.WorkflowFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemoryStore_ListExecutionsNewestFirst(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"exec-1", "exec-2", "exec-3"} {
		require.NoError(t, st.CreateExecution(ctx, &flowrun.Execution{
			ID:         id,
			WorkflowID: "wf-1",
			Status:     flowrun.ExecutionStatusCompleted,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	execs, err := st.ListExecutions(ctx, flowrun.ExecutionFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	require.Len(t, execs, 3)
	assert.Equal(t, "exec-3", execs[0].ID)
	assert.Equal(t, "exec-1", execs[2].ID)
}

func TestMemoryStore_ListExecutionsFilters(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, st.CreateExecution(ctx, &flowrun.Execution{
		ID: "exec-1", WorkflowID: "wf-1",
		Status: flowrun.ExecutionStatusCompleted, CreatedAt: old,
	}))
	require.NoError(t, st.CreateExecution(ctx, &flowrun.Execution{
		ID: "exec-2", WorkflowID: "wf-1",
		Status: flowrun.ExecutionStatusFailed, CreatedAt: time.Now(),
	}))
	require.NoError(t, st.CreateExecution(ctx, &flowrun.Execution{
		ID: "exec-3", WorkflowID: "wf-2",
		Status: flowrun.ExecutionStatusCompleted, CreatedAt: time.Now(),
	}))

	failed := flowrun.ExecutionStatusFailed
	byStatus, err := st.ListExecutions(ctx, flowrun.ExecutionFilter{Status: &failed})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "exec-2", byStatus[0].ID)

	since := time.Now().Add(-time.Hour)
	recent, err := st.ListExecutions(ctx, flowrun.ExecutionFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	count, err := st.CountExecutionsByStatus(ctx, flowrun.ExecutionStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryStore_DeleteExecutionsBefore(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	old := time.Now().Add(-time.Hour)
	require.NoError(t, st.CreateExecution(ctx, &flowrun.Execution{
		ID: "old-done", Status: flowrun.ExecutionStatusCompleted, CreatedAt: old,
	}))
	require.NoError(t, st.CreateExecution(ctx, &flowrun.Execution{
		ID: "old-running", Status: flowrun.ExecutionStatusRunning, CreatedAt: old,
	}))
	require.NoError(t, st.CreateExecution(ctx, &flowrun.Execution{
		ID: "new-done", Status: flowrun.ExecutionStatusCompleted, CreatedAt: time.Now(),
	}))

	deleted, err := st.DeleteExecutionsBefore(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = st.GetExecution(ctx, "old-done")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetExecution(ctx, "old-running")
	assert.NoError(t, err)
}

func TestMemoryStore_ListSchedulesDueBefore(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	overdue := now.Add(-10 * time.Minute)
	barely := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	mkSchedule := func(id string, next *time.Time, status flowrun.ScheduleStatus) {
		require.NoError(t, st.CreateSchedule(ctx, &flowrun.Schedule{
			ID: id, WorkflowID: "wf-1", Name: id,
			CronExpression: "* * * * *",
			Status:         status,
			NextRunAt:      next,
			CreatedAt:      now, UpdatedAt: now,
		}))
	}

	mkSchedule("sched-barely", &barely, flowrun.ScheduleStatusActive)
	mkSchedule("sched-overdue", &overdue, flowrun.ScheduleStatusActive)
	mkSchedule("sched-future", &future, flowrun.ScheduleStatusActive)
	mkSchedule("sched-retired", nil, flowrun.ScheduleStatusCompleted)

	active := flowrun.ScheduleStatusActive
	due, err := st.ListSchedules(ctx, flowrun.ScheduleFilter{Status: &active, DueBefore: &now})
	require.NoError(t, err)

	// Only due schedules, longest overdue first
	require.Len(t, due, 2)
	assert.Equal(t, "sched-overdue", due[0].ID)
	assert.Equal(t, "sched-barely", due[1].ID)
}

func TestMemoryStore_TemplateOps(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, st.CreateTemplate(ctx, &flowrun.Template{
		ID: "tmpl-b", Name: "B",
	}))
	require.NoError(t, st.CreateTemplate(ctx, &flowrun.Template{
		ID: "tmpl-a", Name: "A",
		Steps: []flowrun.Step{{ID: "s", Kind: "noop"}},
	}))

	got, err := st.GetTemplate(ctx, "tmpl-a")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)

	all, err := st.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "tmpl-a", all[0].ID)
}
