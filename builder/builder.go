// Package builder provides a fluent API for assembling workflow
// definitions programmatically, with validation at Build time.
package builder

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowrunhq/flowrun"
)

// WorkflowBuilder provides a fluent API for building workflow definitions
type WorkflowBuilder struct {
	workflow *flowrun.Workflow
}

// NewWorkflow creates a new workflow builder. Pass an empty id to have one
// generated.
func NewWorkflow(id, name string) *WorkflowBuilder {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now()
	return &WorkflowBuilder{
		workflow: &flowrun.Workflow{
			ID:        id,
			Name:      name,
			Status:    flowrun.WorkflowStatusActive,
			Variables: make(map[string]string),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// WithDescription sets the workflow description
func (b *WorkflowBuilder) WithDescription(description string) *WorkflowBuilder {
	b.workflow.Description = description
	return b
}

// WithCategory sets the workflow category tag
func (b *WorkflowBuilder) WithCategory(category string) *WorkflowBuilder {
	b.workflow.Category = category
	return b
}

// WithTags sets workflow tags
func (b *WorkflowBuilder) WithTags(tags ...string) *WorkflowBuilder {
	b.workflow.Tags = tags
	return b
}

// WithVariable declares a variable with its default value
func (b *WorkflowBuilder) WithVariable(name, defaultValue string) *WorkflowBuilder {
	b.workflow.Variables[name] = defaultValue
	return b
}

// Step appends a step to the chain. Steps execute in the order they are
// added.
func (b *WorkflowBuilder) Step(id, kind string, config map[string]string) *WorkflowBuilder {
	b.workflow.Steps = append(b.workflow.Steps, flowrun.Step{
		ID:     id,
		Kind:   kind,
		Config: config,
	})
	return b
}

// StepWithTimeout appends a step with a per-step timeout
func (b *WorkflowBuilder) StepWithTimeout(id, kind string, config map[string]string, timeout time.Duration) *WorkflowBuilder {
	b.workflow.Steps = append(b.workflow.Steps, flowrun.Step{
		ID:             id,
		Kind:           kind,
		Config:         config,
		TimeoutSeconds: int(timeout.Seconds()),
	})
	return b
}

// Build finalizes and validates the workflow definition
func (b *WorkflowBuilder) Build() (*flowrun.Workflow, error) {
	if err := ValidateWorkflow(b.workflow); err != nil {
		return nil, err
	}
	return b.workflow, nil
}

// MustBuild finalizes and validates the workflow, panics on error.
// Intended for statically known definitions (templates, tests).
func (b *WorkflowBuilder) MustBuild() *flowrun.Workflow {
	wf, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("invalid workflow definition: %v", err))
	}
	return wf
}
