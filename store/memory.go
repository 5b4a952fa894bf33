package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/flowrunhq/flowrun"
)

// MemoryStore implements flowrun.Store using in-memory maps. Used by tests
// and local development; all reads return deep copies.
type MemoryStore struct {
	workflows  map[string]*flowrun.Workflow
	executions map[string]*flowrun.Execution
	schedules  map[string]*flowrun.Schedule
	templates  map[string]*flowrun.Template
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]*flowrun.Workflow),
		executions: make(map[string]*flowrun.Execution),
		schedules:  make(map[string]*flowrun.Schedule),
		templates:  make(map[string]*flowrun.Template),
	}
}

// Deep copy helpers. Maps and slices are re-allocated so callers can never
// mutate stored records in place.

func copyWorkflow(wf *flowrun.Workflow) *flowrun.Workflow {
	c := *wf
	c.Steps = copySteps(wf.Steps)
	c.Variables = copyStringMap(wf.Variables)
	c.Tags = append([]string(nil), wf.Tags...)
	c.LastExecutionAt = copyTimePtr(wf.LastExecutionAt)
	return &c
}

func copyExecution(exec *flowrun.Execution) *flowrun.Execution {
	c := *exec
	c.Variables = copyStringMap(exec.Variables)
	c.Steps = copyStepExecutions(exec.Steps)
	c.StartedAt = copyTimePtr(exec.StartedAt)
	c.CompletedAt = copyTimePtr(exec.CompletedAt)
	if exec.Error != nil {
		e := *exec.Error
		c.Error = &e
	}
	if exec.Trigger != nil {
		tr := *exec.Trigger
		c.Trigger = &tr
	}
	return &c
}

func copySchedule(sched *flowrun.Schedule) *flowrun.Schedule {
	c := *sched
	c.Variables = copyStringMap(sched.Variables)
	c.NextRunAt = copyTimePtr(sched.NextRunAt)
	c.LastRunAt = copyTimePtr(sched.LastRunAt)
	return &c
}

func copyTemplate(tmpl *flowrun.Template) *flowrun.Template {
	c := *tmpl
	c.Steps = copySteps(tmpl.Steps)
	c.Variables = copyStringMap(tmpl.Variables)
	c.Tags = append([]string(nil), tmpl.Tags...)
	return &c
}

func copySteps(steps []flowrun.Step) []flowrun.Step {
	out := make([]flowrun.Step, len(steps))
	for i, s := range steps {
		s.Config = copyStringMap(s.Config)
		out[i] = s
	}
	return out
}

func copyStepExecutions(steps []flowrun.StepExecution) []flowrun.StepExecution {
	out := make([]flowrun.StepExecution, len(steps))
	for i, s := range steps {
		s.StartedAt = copyTimePtr(s.StartedAt)
		s.CompletedAt = copyTimePtr(s.CompletedAt)
		if s.Error != nil {
			e := *s.Error
			s.Error = &e
		}
		out[i] = s
	}
	return out
}

func copyTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Workflow operations

func (s *MemoryStore) CreateWorkflow(ctx context.Context, wf *flowrun.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[wf.ID]; exists {
		return fmt.Errorf("workflow %s already exists", wf.ID)
	}
	s.workflows[wf.ID] = copyWorkflow(wf)
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, workflowID string) (*flowrun.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, exists := s.workflows[workflowID]
	if !exists {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}
	return copyWorkflow(wf), nil
}

func (s *MemoryStore) UpdateWorkflow(ctx context.Context, wf *flowrun.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[wf.ID]; !exists {
		return fmt.Errorf("workflow %s: %w", wf.ID, ErrNotFound)
	}
	s.workflows[wf.ID] = copyWorkflow(wf)
	return nil
}

func (s *MemoryStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[workflowID]; !exists {
		return fmt.Errorf("workflow %s: %w", workflowID, ErrNotFound)
	}
	delete(s.workflows, workflowID)
	return nil
}

func (s *MemoryStore) ListWorkflows(ctx context.Context, filter flowrun.WorkflowFilter) ([]*flowrun.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var workflows []*flowrun.Workflow
	for _, wf := range s.workflows {
		if filter.Status != "" && wf.Status != filter.Status {
			continue
		}
		if filter.Category != "" && wf.Category != filter.Category {
			continue
		}
		workflows = append(workflows, copyWorkflow(wf))
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.Before(workflows[j].CreatedAt)
	})

	if filter.Limit > 0 && len(workflows) > filter.Limit {
		workflows = workflows[:filter.Limit]
	}
	return workflows, nil
}

// Execution operations

func (s *MemoryStore) CreateExecution(ctx context.Context, exec *flowrun.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[exec.ID]; exists {
		return fmt.Errorf("execution %s already exists", exec.ID)
	}
	s.executions[exec.ID] = copyExecution(exec)
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, executionID string) (*flowrun.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, exists := s.executions[executionID]
	if !exists {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	return copyExecution(exec), nil
}

func (s *MemoryStore) UpdateExecution(ctx context.Context, exec *flowrun.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.executions[exec.ID]; !exists {
		return fmt.Errorf("execution %s: %w", exec.ID, ErrNotFound)
	}
	s.executions[exec.ID] = copyExecution(exec)
	return nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, filter flowrun.ExecutionFilter) ([]*flowrun.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var executions []*flowrun.Execution
	for _, exec := range s.executions {
		if filter.WorkflowID != "" && exec.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != nil && exec.Status != *filter.Status {
			continue
		}
		if filter.Since != nil && exec.CreatedAt.Before(*filter.Since) {
			continue
		}
		executions = append(executions, copyExecution(exec))
	}

	// Newest first, matching how history is read
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	if filter.Limit > 0 && len(executions) > filter.Limit {
		executions = executions[:filter.Limit]
	}
	return executions, nil
}

func (s *MemoryStore) CountExecutionsByStatus(ctx context.Context, status flowrun.ExecutionStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, exec := range s.executions {
		if exec.Status == status {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, exec := range s.executions {
		if exec.Status.IsTerminal() && exec.CreatedAt.Before(cutoff) {
			delete(s.executions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Schedule operations

func (s *MemoryStore) CreateSchedule(ctx context.Context, sched *flowrun.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[sched.ID]; exists {
		return fmt.Errorf("schedule %s already exists", sched.ID)
	}
	s.schedules[sched.ID] = copySchedule(sched)
	return nil
}

func (s *MemoryStore) GetSchedule(ctx context.Context, scheduleID string) (*flowrun.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, exists := s.schedules[scheduleID]
	if !exists {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, ErrNotFound)
	}
	return copySchedule(sched), nil
}

func (s *MemoryStore) UpdateSchedule(ctx context.Context, sched *flowrun.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[sched.ID]; !exists {
		return fmt.Errorf("schedule %s: %w", sched.ID, ErrNotFound)
	}
	s.schedules[sched.ID] = copySchedule(sched)
	return nil
}

func (s *MemoryStore) DeleteSchedule(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[scheduleID]; !exists {
		return fmt.Errorf("schedule %s: %w", scheduleID, ErrNotFound)
	}
	delete(s.schedules, scheduleID)
	return nil
}

func (s *MemoryStore) ListSchedules(ctx context.Context, filter flowrun.ScheduleFilter) ([]*flowrun.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var schedules []*flowrun.Schedule
	for _, sched := range s.schedules {
		if filter.WorkflowID != "" && sched.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.Status != nil && sched.Status != *filter.Status {
			continue
		}
		if filter.DueBefore != nil {
			if sched.NextRunAt == nil || sched.NextRunAt.After(*filter.DueBefore) {
				continue
			}
		}
		schedules = append(schedules, copySchedule(sched))
	}

	// Longest-overdue first so capacity pressure prefers them
	sort.Slice(schedules, func(i, j int) bool {
		ni, nj := schedules[i].NextRunAt, schedules[j].NextRunAt
		switch {
		case ni == nil && nj == nil:
			return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
		case ni == nil:
			return false
		case nj == nil:
			return true
		default:
			return ni.Before(*nj)
		}
	})

	if filter.Limit > 0 && len(schedules) > filter.Limit {
		schedules = schedules[:filter.Limit]
	}
	return schedules, nil
}

// Template operations

func (s *MemoryStore) CreateTemplate(ctx context.Context, tmpl *flowrun.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.templates[tmpl.ID]; exists {
		return fmt.Errorf("template %s already exists", tmpl.ID)
	}
	s.templates[tmpl.ID] = copyTemplate(tmpl)
	return nil
}

func (s *MemoryStore) GetTemplate(ctx context.Context, templateID string) (*flowrun.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tmpl, exists := s.templates[templateID]
	if !exists {
		return nil, fmt.Errorf("template %s: %w", templateID, ErrNotFound)
	}
	return copyTemplate(tmpl), nil
}

func (s *MemoryStore) ListTemplates(ctx context.Context) ([]*flowrun.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	templates := make([]*flowrun.Template, 0, len(s.templates))
	for _, tmpl := range s.templates {
		templates = append(templates, copyTemplate(tmpl))
	}

	sort.Slice(templates, func(i, j int) bool {
		return templates[i].ID < templates[j].ID
	})
	return templates, nil
}

var _ flowrun.Store = (*MemoryStore)(nil)
