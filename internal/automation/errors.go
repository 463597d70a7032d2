package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrEngineBusy) {
//	    // a run is already active
//	}
var (
	// ErrPlanNotFound is returned when a plan ID does not exist.
	ErrPlanNotFound = errors.New("plan: not found")

	// ErrPlanExists is returned when creating a plan with an ID that already exists.
	ErrPlanExists = errors.New("plan: already exists")

	// ErrInvalidPlan is returned when plan validation fails.
	ErrInvalidPlan = errors.New("plan: invalid")

	// ErrInvalidSequence is returned when a sequence's replay parameters are invalid.
	ErrInvalidSequence = errors.New("plan: invalid sequence")

	// ErrInvalidAction is returned when an input action is malformed.
	ErrInvalidAction = errors.New("plan: invalid action")

	// ErrInvalidName is returned when a plan name is too long.
	ErrInvalidName = errors.New("plan: invalid name")

	// ErrRunNotFound is returned when a run ID does not exist.
	ErrRunNotFound = errors.New("run: not found")

	// ErrEngineBusy is returned when a run is requested while another is active.
	ErrEngineBusy = errors.New("engine: run already active")

	// ErrEngineClosed is returned when a run is requested after Close.
	ErrEngineClosed = errors.New("engine: closed")

	// ErrInjectorPanic wraps a panic raised by an Injector during dispatch.
	ErrInjectorPanic = errors.New("engine: injector panicked")

	// ErrNoInjector is returned by NewEngine when no Injector is supplied.
	ErrNoInjector = errors.New("engine: injector required")
)
