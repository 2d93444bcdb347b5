package domain

import "errors"

var (
	// ErrUnknownEngine is returned when an engine name or account prefix
	// does not map to a configured engine.
	ErrUnknownEngine = errors.New("unknown engine")

	// ErrEngineBusy is returned when an engine refuses a statement because
	// of a lock wait timeout. Callers report it; they never retry it.
	ErrEngineBusy = errors.New("engine busy")

	// ErrProcedureUnsupported is returned by engines that have no stored
	// procedure surface (the document store).
	ErrProcedureUnsupported = errors.New("engine does not support stored procedure calls")
)
