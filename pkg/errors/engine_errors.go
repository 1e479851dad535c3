// pkg/errors/engine_errors.go
package errors

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Category classifies engine faults. Nothing in the engine is fatal: every
// category maps to a degrade-and-continue strategy rather than a crash.
type Category string

const (
	// CategoryParse: a line matched a marker but failed structured
	// extraction. The line is skipped and the cycle continues.
	CategoryParse Category = "parse"
	// CategoryPattern: a stored regex failed to compile or evaluate. The
	// pattern is evicted from the match cache but kept in the store.
	CategoryPattern Category = "pattern"
	// CategoryPersistence: a state file could not be read or written. The
	// operation becomes a no-op for the cycle; in-memory state is retained.
	CategoryPersistence Category = "persistence"
	// CategoryCycle: an unexpected failure anywhere in the analysis loop.
	// The scheduler applies an extended backoff before the next cycle.
	CategoryCycle Category = "cycle"
)

// EngineError represents a structured error from an engine component.
type EngineError struct {
	Component   string                 `json:"component"`
	Category    Category               `json:"category"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Recoverable bool                   `json:"recoverable"`
	Cause       error                  `json:"-"`
}

// Error implements the error interface.
func (ee *EngineError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", ee.Component, ee.Category, ee.Message)
}

// Unwrap returns the underlying cause.
func (ee *EngineError) Unwrap() error {
	return ee.Cause
}

// Log writes the error to the given logger at a level matching its category.
func (ee *EngineError) Log(logger zerolog.Logger) {
	var event *zerolog.Event
	switch ee.Category {
	case CategoryCycle:
		event = logger.Error()
	case CategoryPersistence:
		event = logger.Warn()
	default:
		event = logger.Debug()
	}

	event = event.
		Str("component", ee.Component).
		Str("category", string(ee.Category)).
		Bool("recoverable", ee.Recoverable)

	if ee.Details != nil {
		event = event.Interface("details", ee.Details)
	}
	if ee.Cause != nil {
		event = event.AnErr("cause", ee.Cause)
	}

	event.Msg(ee.Message)
}

// Helper functions for creating the common error categories.

func NewParseError(component, line string, cause error) *EngineError {
	return &EngineError{
		Component: component,
		Category:  CategoryParse,
		Message:   "line matched a marker but failed extraction",
		Details: map[string]interface{}{
			"line": line,
		},
		Timestamp:   time.Now(),
		Recoverable: true,
		Cause:       cause,
	}
}

func NewPatternError(component, expression string, cause error) *EngineError {
	return &EngineError{
		Component: component,
		Category:  CategoryPattern,
		Message:   "stored pattern failed to compile or evaluate",
		Details: map[string]interface{}{
			"expression": expression,
		},
		Timestamp:   time.Now(),
		Recoverable: true,
		Cause:       cause,
	}
}

func NewPersistenceError(component, path string, cause error) *EngineError {
	return &EngineError{
		Component: component,
		Category:  CategoryPersistence,
		Message:   fmt.Sprintf("state file unavailable: %s", path),
		Details: map[string]interface{}{
			"path": path,
		},
		Timestamp:   time.Now(),
		Recoverable: true,
		Cause:       cause,
	}
}

func NewCycleError(component string, cause error) *EngineError {
	return &EngineError{
		Component:   component,
		Category:    CategoryCycle,
		Message:     "analysis cycle failed",
		Timestamp:   time.Now(),
		Recoverable: true,
		Cause:       cause,
	}
}
