package strategy

import "errors"

var (
	// ErrNotFound is returned when no bundle exists under the requested name.
	ErrNotFound = errors.New("strategy not found")
	// ErrInvalidAction is returned when a decision names an unknown tool or has bad arguments.
	ErrInvalidAction = errors.New("invalid action")
	// ErrNoTools is returned for phases the strategy defines no tools for.
	ErrNoTools = errors.New("no tools defined for phase")
)
