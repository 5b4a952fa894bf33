package builder

import (
	"fmt"

	"github.com/flowrunhq/flowrun"
)

// ValidateWorkflow performs structural validation on a workflow definition.
// A workflow with zero steps is valid: executing it completes immediately.
func ValidateWorkflow(w *flowrun.Workflow) error {
	if w.ID == "" {
		return fmt.Errorf("workflow requires an id")
	}
	if w.Name == "" {
		return fmt.Errorf("workflow requires a name")
	}

	seen := make(map[string]struct{}, len(w.Steps))
	for i, step := range w.Steps {
		if step.ID == "" {
			return fmt.Errorf("step at position %d has no id", i)
		}
		if step.Kind == "" {
			return fmt.Errorf("step %s has no kind", step.ID)
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("duplicate step id %s", step.ID)
		}
		seen[step.ID] = struct{}{}

		if step.TimeoutSeconds < 0 {
			return fmt.Errorf("step %s has a negative timeout", step.ID)
		}
	}

	return nil
}
