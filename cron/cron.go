// Package cron evaluates 5-field POSIX cron expressions: validation for
// live feedback and timezone-aware next-occurrence computation for schedule
// advancement. Pure functions, no clock access.
package cron

import (
	"errors"
	"fmt"
	"time"

	cronv3 "github.com/robfig/cron/v3"

	"github.com/flowrunhq/flowrun"
)

// ErrNoMatch is returned when no occurrence exists within the search
// horizon (e.g. "0 0 30 2 *").
var ErrNoMatch = errors.New("cron: no matching occurrence within horizon")

// horizon bounds the forward search so unsatisfiable expressions terminate.
// robfig/cron gives up after roughly five years; anything past four is
// treated as no match.
const horizon = 4 * 365 * 24 * time.Hour

// parser accepts the standard 5 fields (minute, hour, day-of-month, month,
// day-of-week) with ranges, steps, lists and named months/weekdays.
var parser = cronv3.NewParser(
	cronv3.Minute | cronv3.Hour | cronv3.Dom | cronv3.Month | cronv3.Dow,
)

// ValidationResult is the typed outcome of expression validation
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Validate checks a 5-field cron expression syntactically and range-wise.
// Malformed expressions come back as a result, never an error or panic.
func Validate(expression string) ValidationResult {
	if _, err := parser.Parse(expression); err != nil {
		return ValidationResult{Valid: false, Reason: err.Error()}
	}
	return ValidationResult{Valid: true}
}

// NextOccurrence computes the earliest instant strictly after `after` that
// satisfies the expression, evaluated in the given IANA timezone. Returns
// ErrNoMatch when nothing fires within the horizon, or a typed
// INVALID_EXPRESSION error for malformed input.
func NextOccurrence(expression, timezone string, after time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expression)
	if err != nil {
		return time.Time{}, flowrun.NewExecutionError(
			flowrun.ErrCodeInvalidExpression,
			fmt.Sprintf("invalid cron expression %q: %v", expression, err),
		)
	}

	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return time.Time{}, flowrun.NewExecutionError(
				flowrun.ErrCodeInvalidExpression,
				fmt.Sprintf("unknown timezone %q: %v", timezone, err),
			)
		}
	}

	// Matching happens in local wall-clock time, so DST shifts trigger
	// instants but not the rule itself.
	next := schedule.Next(after.In(loc))
	if next.IsZero() || next.Sub(after) > horizon {
		return time.Time{}, ErrNoMatch
	}

	return next, nil
}
