package flowrun

import (
	"regexp"
	"sort"
)

// placeholderPattern matches {variable_name} references in step config values
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ResolveVariables merges explicit bindings over workflow-declared defaults.
// Explicit values win for the same key.
func ResolveVariables(declared, overrides map[string]string) map[string]string {
	resolved := make(map[string]string, len(declared)+len(overrides))
	for k, v := range declared {
		resolved[k] = v
	}
	for k, v := range overrides {
		resolved[k] = v
	}
	return resolved
}

// SubstituteConfig replaces {name} placeholders in every config value using
// the resolved variable map. Any unresolved placeholder fails the whole step
// with a VariableResolutionError; the runner is never invoked with a
// half-substituted config.
func SubstituteConfig(step Step, variables map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(step.Config))
	missing := map[string]struct{}{}

	for key, value := range step.Config {
		resolved[key] = placeholderPattern.ReplaceAllStringFunc(value, func(match string) string {
			name := match[1 : len(match)-1]
			if v, ok := variables[name]; ok {
				return v
			}
			missing[name] = struct{}{}
			return match
		})
	}

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, &VariableResolutionError{StepID: step.ID, Missing: names}
	}

	return resolved, nil
}
