package api

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/flowrunhq/flowrun"
	"github.com/flowrunhq/flowrun/builder"
	"github.com/flowrunhq/flowrun/cron"
)

// Workflow handlers

type workflowRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    string            `json:"category"`
	Steps       []flowrun.Step    `json:"steps"`
	Variables   map[string]string `json:"variables"`
	Tags        []string          `json:"tags"`
}

func (s *Server) handleCreateWorkflow(c fiber.Ctx) error {
	var req workflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	now := time.Now()
	wf := &flowrun.Workflow{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Steps:       req.Steps,
		Variables:   req.Variables,
		Tags:        req.Tags,
		Status:      flowrun.WorkflowStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := builder.ValidateWorkflow(wf); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := s.store.CreateWorkflow(c.Context(), wf); err != nil {
		return s.errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(wf)
}

func (s *Server) handleListWorkflows(c fiber.Ctx) error {
	filter := flowrun.WorkflowFilter{
		Status:   flowrun.WorkflowStatus(c.Query("status")),
		Category: c.Query("category"),
		Limit:    fiber.Query[int](c, "limit"),
	}

	workflows, err := s.store.ListWorkflows(c.Context(), filter)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"workflows": workflows})
}

func (s *Server) handleGetWorkflow(c fiber.Ctx) error {
	wf, err := s.store.GetWorkflow(c.Context(), c.Params("workflowId"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(wf)
}

// handleUpdateWorkflow is a whole-document replace: definitions are never
// patched field by field
func (s *Server) handleUpdateWorkflow(c fiber.Ctx) error {
	current, err := s.store.GetWorkflow(c.Context(), c.Params("workflowId"))
	if err != nil {
		return s.errorResponse(c, err)
	}

	var req workflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	current.Name = req.Name
	current.Description = req.Description
	current.Category = req.Category
	current.Steps = req.Steps
	current.Variables = req.Variables
	current.Tags = req.Tags
	current.UpdatedAt = time.Now()

	if err := builder.ValidateWorkflow(current); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := s.store.UpdateWorkflow(c.Context(), current); err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(current)
}

// handleDeleteWorkflow deletes a workflow after retiring any schedules
// still bound to it
func (s *Server) handleDeleteWorkflow(c fiber.Ctx) error {
	workflowID := c.Params("workflowId")

	if _, err := s.store.GetWorkflow(c.Context(), workflowID); err != nil {
		return s.errorResponse(c, err)
	}
	if err := s.scheduler.RetireForWorkflow(c.Context(), workflowID); err != nil {
		return s.errorResponse(c, err)
	}
	if err := s.store.DeleteWorkflow(c.Context(), workflowID); err != nil {
		return s.errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Execution handlers

type executeRequest struct {
	Variables map[string]string `json:"variables"`
	RunName   string            `json:"runName"`
}

func (s *Server) handleExecuteWorkflow(c fiber.Ctx) error {
	wf, err := s.store.GetWorkflow(c.Context(), c.Params("workflowId"))
	if err != nil {
		return s.errorResponse(c, err)
	}

	var req executeRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	exec, err := s.engine.Run(c.Context(), wf, req.Variables, req.RunName,
		flowrun.WithTrigger("api", c.IP()),
	)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(exec)
}

func (s *Server) handleListExecutions(c fiber.Ctx) error {
	filter := flowrun.ExecutionFilter{
		WorkflowID: c.Query("workflowId"),
		Limit:      fiber.Query[int](c, "limit"),
	}
	if status := c.Query("status"); status != "" {
		st := flowrun.ExecutionStatus(status)
		filter.Status = &st
	}

	executions, err := s.engine.ListExecutions(c.Context(), filter)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"executions": executions})
}

func (s *Server) handleGetExecution(c fiber.Ctx) error {
	exec, err := s.engine.GetExecution(c.Context(), c.Params("executionId"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(exec)
}

func (s *Server) handleCancelExecution(c fiber.Ctx) error {
	if err := s.engine.Cancel(c.Context(), c.Params("executionId")); err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"status": "cancelling"})
}

// Schedule handlers

type scheduleRequest struct {
	WorkflowID     string            `json:"workflowId"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	CronExpression string            `json:"cronExpression"`
	Timezone       string            `json:"timezone"`
	Variables      map[string]string `json:"variables"`
	MaxRuns        int               `json:"maxRuns"`
}

func (s *Server) handleCreateSchedule(c fiber.Ctx) error {
	var req scheduleRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	sched := &flowrun.Schedule{
		WorkflowID:     req.WorkflowID,
		Name:           req.Name,
		Description:    req.Description,
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		Variables:      req.Variables,
		MaxRuns:        req.MaxRuns,
	}

	if err := s.scheduler.CreateSchedule(c.Context(), sched); err != nil {
		return s.errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sched)
}

func (s *Server) handleListSchedules(c fiber.Ctx) error {
	filter := flowrun.ScheduleFilter{
		WorkflowID: c.Query("workflowId"),
		Limit:      fiber.Query[int](c, "limit"),
	}
	if status := c.Query("status"); status != "" {
		st := flowrun.ScheduleStatus(status)
		filter.Status = &st
	}

	schedules, err := s.store.ListSchedules(c.Context(), filter)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"schedules": schedules})
}

func (s *Server) handleGetSchedule(c fiber.Ctx) error {
	sched, err := s.store.GetSchedule(c.Context(), c.Params("scheduleId"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(sched)
}

func (s *Server) handleDeleteSchedule(c fiber.Ctx) error {
	if err := s.store.DeleteSchedule(c.Context(), c.Params("scheduleId")); err != nil {
		return s.errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handlePauseSchedule(c fiber.Ctx) error {
	sched, err := s.scheduler.Pause(c.Context(), c.Params("scheduleId"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(sched)
}

func (s *Server) handleResumeSchedule(c fiber.Ctx) error {
	sched, err := s.scheduler.Resume(c.Context(), c.Params("scheduleId"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(sched)
}

// Template handlers

func (s *Server) handleListTemplates(c fiber.Ctx) error {
	templates, err := s.store.ListTemplates(c.Context())
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"templates": templates})
}

type instantiateRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleInstantiateTemplate(c fiber.Ctx) error {
	tmpl, err := s.store.GetTemplate(c.Context(), c.Params("templateId"))
	if err != nil {
		return s.errorResponse(c, err)
	}

	var req instantiateRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	wf := tmpl.Instantiate(uuid.New().String(), req.Name)
	if err := s.store.CreateWorkflow(c.Context(), wf); err != nil {
		return s.errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(wf)
}

// Cron validation

type validateCronRequest struct {
	Expression string `json:"expression"`
}

func (s *Server) handleValidateCron(c fiber.Ctx) error {
	var req validateCronRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	return c.JSON(cron.Validate(req.Expression))
}

// Dashboard handlers

func (s *Server) handleHealthReport(c fiber.Ctx) error {
	report, err := s.aggregator.Health(c.Context())
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(report)
}

func (s *Server) handleSnapshot(c fiber.Ctx) error {
	snapshot, err := s.aggregator.RealtimeSnapshot(c.Context())
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(snapshot)
}

func (s *Server) handleStepBreakdown(c fiber.Ctx) error {
	breakdown, err := s.aggregator.StepBreakdown(c.Context(), c.Params("workflowId"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"steps": breakdown})
}
