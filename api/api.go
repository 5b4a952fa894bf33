// Package api exposes the engine over HTTP: workflow and schedule CRUD,
// on-demand execution, cron validation and dashboard metrics. Each handler
// is a thin mapping onto the engine, scheduler and aggregator contracts.
package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/flowrunhq/flowrun"
	"github.com/flowrunhq/flowrun/analytics"
	"github.com/flowrunhq/flowrun/engine"
	"github.com/flowrunhq/flowrun/scheduler"
	"github.com/flowrunhq/flowrun/store"
)

// Server bundles the handler dependencies
type Server struct {
	store      flowrun.Store
	engine     *engine.Engine
	scheduler  *scheduler.Scheduler
	aggregator *analytics.Aggregator
	logger     zerolog.Logger
}

// NewServer creates the HTTP handler set
func NewServer(
	st flowrun.Store,
	eng *engine.Engine,
	sched *scheduler.Scheduler,
	agg *analytics.Aggregator,
	logger zerolog.Logger,
) *Server {
	return &Server{
		store:      st,
		engine:     eng,
		scheduler:  sched,
		aggregator: agg,
		logger:     logger,
	}
}

// RegisterRoutes registers all HTTP routes on the app
func (s *Server) RegisterRoutes(app *fiber.App) {
	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	v1 := app.Group("/api/v1")

	workflows := v1.Group("/workflows")
	workflows.Post("/", s.handleCreateWorkflow)
	workflows.Get("/", s.handleListWorkflows)
	workflows.Get("/:workflowId", s.handleGetWorkflow)
	workflows.Put("/:workflowId", s.handleUpdateWorkflow)
	workflows.Delete("/:workflowId", s.handleDeleteWorkflow)
	workflows.Post("/:workflowId/execute", s.handleExecuteWorkflow)
	workflows.Get("/:workflowId/steps", s.handleStepBreakdown)

	executions := v1.Group("/executions")
	executions.Get("/", s.handleListExecutions)
	executions.Get("/:executionId", s.handleGetExecution)
	executions.Post("/:executionId/cancel", s.handleCancelExecution)

	schedules := v1.Group("/schedules")
	schedules.Post("/", s.handleCreateSchedule)
	schedules.Get("/", s.handleListSchedules)
	schedules.Get("/:scheduleId", s.handleGetSchedule)
	schedules.Delete("/:scheduleId", s.handleDeleteSchedule)
	schedules.Post("/:scheduleId/pause", s.handlePauseSchedule)
	schedules.Post("/:scheduleId/resume", s.handleResumeSchedule)

	templates := v1.Group("/templates")
	templates.Get("/", s.handleListTemplates)
	templates.Post("/:templateId/instantiate", s.handleInstantiateTemplate)

	v1.Post("/cron/validate", s.handleValidateCron)

	dashboard := v1.Group("/dashboard")
	dashboard.Get("/health", s.handleHealthReport)
	dashboard.Get("/snapshot", s.handleSnapshot)
}

// errorResponse maps internal errors onto HTTP statuses
func (s *Server) errorResponse(c fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError

	switch {
	case errors.Is(err, store.ErrNotFound):
		status = fiber.StatusNotFound
	case flowrun.IsCapacityError(err):
		status = fiber.StatusTooManyRequests
	default:
		var ee *flowrun.ExecutionError
		if errors.As(err, &ee) &&
			(ee.Code == flowrun.ErrCodeValidation || ee.Code == flowrun.ErrCodeInvalidExpression) {
			status = fiber.StatusBadRequest
		}
	}

	if status == fiber.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}

	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
