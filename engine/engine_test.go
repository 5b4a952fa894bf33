package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowrunhq/flowrun"
	"github.com/flowrunhq/flowrun/builder"
	"github.com/flowrunhq/flowrun/store"
)

func okRunner(ctx *flowrun.StepContext, config map[string]string) (json.RawMessage, error) {
	return json.Marshal(config)
}

func newTestEngine(t *testing.T, registry *flowrun.RunnerRegistry, opts ...Option) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return New(st, registry, opts...), st
}

func createWorkflow(t *testing.T, st flowrun.Store, wf *flowrun.Workflow) {
	t.Helper()
	require.NoError(t, st.CreateWorkflow(context.Background(), wf))
}

// waitForTerminal polls until the execution reaches a terminal status
func waitForTerminal(t *testing.T, eng *Engine, executionID string) *flowrun.Execution {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatal("timeout waiting for execution to finish")
		case <-ticker.C:
			exec, err := eng.GetExecution(context.Background(), executionID)
			require.NoError(t, err)
			if exec.Status.IsTerminal() {
				return exec
			}
		}
	}
}

func TestEngine_RunCompletesAllSteps(t *testing.T) {
	registry := flowrun.NewRunnerRegistry()
	registry.RegisterFunc("noop", okRunner)

	eng, st := newTestEngine(t, registry)

	wf := builder.NewWorkflow("wf-1", "Three Steps").
		Step("a", "noop", nil).
		Step("b", "noop", nil).
		Step("c", "noop", nil).
		MustBuild()
	createWorkflow(t, st, wf)

	exec, err := eng.Run(context.Background(), wf, nil, "", flowrun.WithSynchronous())
	require.NoError(t, err)

	assert.Equal(t, flowrun.ExecutionStatusCompleted, exec.Status)
	require.Len(t, exec.Steps, 3)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, exec.Steps[i].StepID)
		assert.Equal(t, flowrun.StepStatusCompleted, exec.Steps[i].Status)
		assert.NotNil(t, exec.Steps[i].CompletedAt)
	}
	assert.Nil(t, exec.Error)
	assert.NotNil(t, exec.StartedAt)
	assert.NotNil(t, exec.CompletedAt)

	// Slot released on completion
	assert.Equal(t, 0, eng.Capacity().InUse())
}

func TestEngine_RunFailFast(t *testing.T) {
	registry := flowrun.NewRunnerRegistry()
	registry.RegisterFunc("noop", okRunner)
	registry.RegisterFunc("explode", func(ctx *flowrun.StepContext, config map[string]string) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})

	eng, st := newTestEngine(t, registry)

	wf := builder.NewWorkflow("wf-1", "Fail Fast").
		Step("a", "noop", nil).
		Step("b", "explode", nil).
		Step("c", "noop", nil).
		MustBuild()
	createWorkflow(t, st, wf)

	exec, err := eng.Run(context.Background(), wf, nil, "", flowrun.WithSynchronous())
	require.NoError(t, err)

	assert.Equal(t, flowrun.ExecutionStatusFailed, exec.Status)

	// Step c never started, so no record exists for it
	require.Len(t, exec.Steps, 2)
	assert.Equal(t, flowrun.StepStatusCompleted, exec.Steps[0].Status)
	assert.Equal(t, flowrun.StepStatusFailed, exec.Steps[1].Status)

	require.NotNil(t, exec.Error)
	assert.Equal(t, flowrun.ErrCodeExecutionFailed, exec.Error.Code)
	assert.Equal(t, "b", exec.Error.StepID)
}

func TestEngine_ZeroStepWorkflowCompletes(t *testing.T) {
	eng, st := newTestEngine(t, flowrun.NewRunnerRegistry())

	wf := builder.NewWorkflow("wf-1", "Empty").MustBuild()
	createWorkflow(t, st, wf)

	exec, err := eng.Run(context.Background(), wf, nil, "", flowrun.WithSynchronous())
	require.NoError(t, err)

	assert.Equal(t, flowrun.ExecutionStatusCompleted, exec.Status)
	assert.Empty(t, exec.Steps)
}

func TestEngine_VariableResolutionFailsWithoutInvokingRunner(t *testing.T) {
	invoked := false
	registry := flowrun.NewRunnerRegistry()
	registry.RegisterFunc("http", func(ctx *flowrun.StepContext, config map[string]string) (json.RawMessage, error) {
		invoked = true
		return nil, nil
	})

	eng, st := newTestEngine(t, registry)

	wf := builder.NewWorkflow("wf-1", "Unbound Variable").
		Step("call", "http", map[string]string{"url": "https://{host}/ping"}).
		MustBuild()
	createWorkflow(t, st, wf)

	exec, err := eng.Run(context.Background(), wf, nil, "", flowrun.WithSynchronous())
	require.NoError(t, err)

	assert.False(t, invoked)
	assert.Equal(t, flowrun.ExecutionStatusFailed, exec.Status)
	require.Len(t, exec.Steps, 1)
	assert.Equal(t, flowrun.StepStatusFailed, exec.Steps[0].Status)
	require.NotNil(t, exec.Steps[0].Error)
	assert.Equal(t, flowrun.ErrCodeVariableResolution, exec.Steps[0].Error.Code)
}

func TestEngine_VariablesSubstitutedIntoConfig(t *testing.T) {
	var seen map[string]string
	registry := flowrun.NewRunnerRegistry()
	registry.RegisterFunc("http", func(ctx *flowrun.StepContext, config map[string]string) (json.RawMessage, error) {
		seen = config
		return nil, nil
	})

	eng, st := newTestEngine(t, registry)

	wf := builder.NewWorkflow("wf-1", "Bound Variable").
		WithVariable("host", "default.example.com").
		Step("call", "http", map[string]string{"url": "https://{host}/ping"}).
		MustBuild()
	createWorkflow(t, st, wf)

	// Explicit binding overrides the declared default
	exec, err := eng.Run(context.Background(), wf,
		map[string]string{"host": "override.example.com"}, "", flowrun.WithSynchronous())
	require.NoError(t, err)

	assert.Equal(t, flowrun.ExecutionStatusCompleted, exec.Status)
	assert.Equal(t, "https://override.example.com/ping", seen["url"])
	assert.Equal(t, "override.example.com", exec.Variables["host"])
}

func TestEngine_UnknownStepKindFails(t *testing.T) {
	eng, st := newTestEngine(t, flowrun.NewRunnerRegistry())

	wf := builder.NewWorkflow("wf-1", "Unknown Kind").
		Step("a", "nonexistent", nil).
		MustBuild()
	createWorkflow(t, st, wf)

	exec, err := eng.Run(context.Background(), wf, nil, "", flowrun.WithSynchronous())
	require.NoError(t, err)

	assert.Equal(t, flowrun.ExecutionStatusFailed, exec.Status)
	require.Len(t, exec.Steps, 1)
	assert.Equal(t, flowrun.StepStatusFailed, exec.Steps[0].Status)
}

func TestEngine_StepTimeout(t *testing.T) {
	registry := flowrun.NewRunnerRegistry()
	registry.RegisterFunc("slow", func(ctx *flowrun.StepContext, config map[string]string) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	eng, st := newTestEngine(t, registry, WithConfig(flowrun.EngineConfig{
		MaxConcurrentExecutions: 10,
		DefaultStepTimeout:      50 * time.Millisecond,
	}))

	wf := builder.NewWorkflow("wf-1", "Slow Step").
		Step("a", "slow", nil).
		MustBuild()
	createWorkflow(t, st, wf)

	exec, err := eng.Run(context.Background(), wf, nil, "", flowrun.WithSynchronous())
	require.NoError(t, err)

	assert.Equal(t, flowrun.ExecutionStatusFailed, exec.Status)
	require.Len(t, exec.Steps, 1)
	require.NotNil(t, exec.Steps[0].Error)
	assert.Equal(t, flowrun.ErrCodeTimeout, exec.Steps[0].Error.Code)
}

func TestEngine_PanicInRunnerFailsStep(t *testing.T) {
	registry := flowrun.NewRunnerRegistry()
	registry.RegisterFunc("panicky", func(ctx *flowrun.StepContext, config map[string]string) (json.RawMessage, error) {
		panic("runner bug")
	})

	eng, st := newTestEngine(t, registry)

	wf := builder.NewWorkflow("wf-1", "Panicky").
		Step("a", "panicky", nil).
		MustBuild()
	createWorkflow(t, st, wf)

	exec, err := eng.Run(context.Background(), wf, nil, "", flowrun.WithSynchronous())
	require.NoError(t, err)

	assert.Equal(t, flowrun.ExecutionStatusFailed, exec.Status)
	require.Len(t, exec.Steps, 1)
	require.NotNil(t, exec.Steps[0].Error)
	assert.Equal(t, flowrun.ErrCodePanic, exec.Steps[0].Error.Code)
}

func TestEngine_CapacityExceeded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	registry := flowrun.NewRunnerRegistry()
	registry.RegisterFunc("block", func(ctx *flowrun.StepContext, config map[string]string) (json.RawMessage, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	})

	eng, st := newTestEngine(t, registry, WithConfig(flowrun.EngineConfig{
		MaxConcurrentExecutions: 1,
		DefaultStepTimeout:      time.Minute,
	}))

	wf := builder.NewWorkflow("wf-1", "Blocking").
		Step("a", "block", nil).
		MustBuild()
	createWorkflow(t, st, wf)

	first, err := eng.Run(context.Background(), wf, nil, "")
	require.NoError(t, err)
	<-started

	// Cap saturated: second dispatch is rejected synchronously
	_, err = eng.Run(context.Background(), wf, nil, "")
	require.Error(t, err)
	assert.True(t, flowrun.IsCapacityError(err))

	close(release)
	waitForTerminal(t, eng, first.ID)

	// Slot freed, dispatch succeeds again
	second, err := eng.Run(context.Background(), wf, nil, "")
	require.NoError(t, err)
	waitForTerminal(t, eng, second.ID)
}

func TestEngine_CancelRecordsFailedWithCancelledCode(t *testing.T) {
	started := make(chan struct{})

	registry := flowrun.NewRunnerRegistry()
	registry.RegisterFunc("block", func(ctx *flowrun.StepContext, config map[string]string) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	eng, st := newTestEngine(t, registry)

	wf := builder.NewWorkflow("wf-1", "Cancellable").
		Step("a", "block", nil).
		Step("b", "block", nil).
		MustBuild()
	createWorkflow(t, st, wf)

	handle, err := eng.Run(context.Background(), wf, nil, "")
	require.NoError(t, err)
	<-started

	require.NoError(t, eng.Cancel(context.Background(), handle.ID))

	exec := waitForTerminal(t, eng, handle.ID)
	assert.Equal(t, flowrun.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.Error)
	assert.Equal(t, flowrun.ErrCodeCancelled, exec.Error.Code)

	// Step b was never reached
	require.Len(t, exec.Steps, 1)
	assert.Equal(t, "a", exec.Steps[0].StepID)
}

// strictStore rejects any operation whose context is already cancelled,
// the way a network-backed store does
type strictStore struct {
	flowrun.Store
}

func (s *strictStore) GetWorkflow(ctx context.Context, workflowID string) (*flowrun.Workflow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.GetWorkflow(ctx, workflowID)
}

func (s *strictStore) UpdateWorkflow(ctx context.Context, wf *flowrun.Workflow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.UpdateWorkflow(ctx, wf)
}

func (s *strictStore) UpdateExecution(ctx context.Context, exec *flowrun.Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.UpdateExecution(ctx, exec)
}

func TestEngine_CancelPersistsTerminalStateOnStrictStore(t *testing.T) {
	started := make(chan struct{})

	registry := flowrun.NewRunnerRegistry()
	registry.RegisterFunc("block", func(ctx *flowrun.StepContext, config map[string]string) (json.RawMessage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	mem := store.NewMemoryStore()
	st := &strictStore{Store: mem}
	eng := New(st, registry, WithLogger(zerolog.Nop()))

	wf := builder.NewWorkflow("wf-1", "Cancellable").
		Step("a", "block", nil).
		MustBuild()
	require.NoError(t, mem.CreateWorkflow(context.Background(), wf))

	done := make(chan struct{})
	handle, err := eng.Run(context.Background(), wf, nil, "",
		flowrun.WithCompletion(func(*flowrun.Execution) {
			close(done)
		}),
	)
	require.NoError(t, err)
	<-started

	require.NoError(t, eng.Cancel(context.Background(), handle.ID))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("execution never reached a terminal status")
	}

	// The terminal transition must survive the run context being cancelled
	exec, err := mem.GetExecution(context.Background(), handle.ID)
	require.NoError(t, err)
	assert.Equal(t, flowrun.ExecutionStatusFailed, exec.Status)
	require.NotNil(t, exec.Error)
	assert.Equal(t, flowrun.ErrCodeCancelled, exec.Error.Code)

	require.Len(t, exec.Steps, 1)
	assert.Equal(t, flowrun.StepStatusFailed, exec.Steps[0].Status)
	require.NotNil(t, exec.Steps[0].Error)
	assert.Equal(t, flowrun.ErrCodeCancelled, exec.Steps[0].Error.Code)

	// Workflow counters bumped despite the cancelled run context
	updated, err := mem.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.ExecutionsCount)
	assert.NotNil(t, updated.LastExecutionAt)
}

func TestEngine_CancelTerminalExecutionFails(t *testing.T) {
	registry := flowrun.NewRunnerRegistry()
	registry.RegisterFunc("noop", okRunner)

	eng, st := newTestEngine(t, registry)

	wf := builder.NewWorkflow("wf-1", "Done").
		Step("a", "noop", nil).
		MustBuild()
	createWorkflow(t, st, wf)

	exec, err := eng.Run(context.Background(), wf, nil, "", flowrun.WithSynchronous())
	require.NoError(t, err)
	require.True(t, exec.Status.IsTerminal())

	err = eng.Cancel(context.Background(), exec.ID)
	assert.Error(t, err)
}

func TestEngine_RunBumpsWorkflowCounters(t *testing.T) {
	registry := flowrun.NewRunnerRegistry()
	registry.RegisterFunc("noop", okRunner)

	eng, st := newTestEngine(t, registry)

	wf := builder.NewWorkflow("wf-1", "Counted").
		Step("a", "noop", nil).
		MustBuild()
	createWorkflow(t, st, wf)

	_, err := eng.Run(context.Background(), wf, nil, "", flowrun.WithSynchronous())
	require.NoError(t, err)
	_, err = eng.Run(context.Background(), wf, nil, "", flowrun.WithSynchronous())
	require.NoError(t, err)

	updated, err := st.GetWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.ExecutionsCount)
	assert.NotNil(t, updated.LastExecutionAt)
}

func TestEngine_RunRecordsTriggerAndRunName(t *testing.T) {
	registry := flowrun.NewRunnerRegistry()
	registry.RegisterFunc("noop", okRunner)

	eng, st := newTestEngine(t, registry)

	wf := builder.NewWorkflow("wf-1", "Triggered").
		Step("a", "noop", nil).
		MustBuild()
	createWorkflow(t, st, wf)

	exec, err := eng.Run(context.Background(), wf, nil, "nightly-01",
		flowrun.WithSynchronous(),
		flowrun.WithTrigger("schedule", "sched-1"),
	)
	require.NoError(t, err)

	assert.Equal(t, "nightly-01", exec.RunName)
	require.NotNil(t, exec.Trigger)
	assert.Equal(t, "schedule", exec.Trigger.Type)
	assert.Equal(t, "sched-1", exec.Trigger.Source)
}

func TestEngine_DefaultRunNameDerivedFromWorkflow(t *testing.T) {
	registry := flowrun.NewRunnerRegistry()
	registry.RegisterFunc("noop", okRunner)

	eng, st := newTestEngine(t, registry)

	wf := builder.NewWorkflow("wf-1", "reporting").
		Step("a", "noop", nil).
		MustBuild()
	createWorkflow(t, st, wf)

	exec, err := eng.Run(context.Background(), wf, nil, "", flowrun.WithSynchronous())
	require.NoError(t, err)
	assert.Contains(t, exec.RunName, "reporting-")
}

func TestEngine_CompletionCallback(t *testing.T) {
	registry := flowrun.NewRunnerRegistry()
	registry.RegisterFunc("noop", okRunner)

	eng, st := newTestEngine(t, registry)

	wf := builder.NewWorkflow("wf-1", "Callback").
		Step("a", "noop", nil).
		MustBuild()
	createWorkflow(t, st, wf)

	done := make(chan *flowrun.Execution, 1)
	_, err := eng.Run(context.Background(), wf, nil, "",
		flowrun.WithCompletion(func(exec *flowrun.Execution) {
			done <- exec
		}),
	)
	require.NoError(t, err)

	select {
	case exec := <-done:
		assert.Equal(t, flowrun.ExecutionStatusCompleted, exec.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("completion callback never fired")
	}
}
