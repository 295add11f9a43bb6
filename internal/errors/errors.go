package errors

import (
	"errors"
)

// Sentinel errors for different categories
var (
	// ErrNetwork - transport failure or connect timeout talking to a model backend (fallback-eligible)
	ErrNetwork = errors.New("network error")

	// ErrProtocol - malformed or unterminated backend stream (fallback-eligible)
	ErrProtocol = errors.New("protocol error")

	// ErrProvider - backend accepted the request but reported a failure (fallback-eligible)
	ErrProvider = errors.New("provider error")

	// ErrTimeout - a step exceeded its overall time budget (fallback-eligible)
	ErrTimeout = errors.New("step timeout")

	// ErrToolValidation - tool arguments do not match the declared schema (absorbed into ToolResult)
	ErrToolValidation = errors.New("tool validation error")

	// ErrToolExecution - tool handler failed or panicked (absorbed into ToolResult)
	ErrToolExecution = errors.New("tool execution error")

	// ErrToolNotFound - model asked for a tool that is not registered (absorbed into ToolResult)
	ErrToolNotFound = errors.New("tool not found")

	// ErrProviderUnsupportedFeature - tool calling requested from a backend that cannot even emulate it
	ErrProviderUnsupportedFeature = errors.New("provider unsupported feature")

	// ErrInvalidInput - invalid input (bad request, bad configuration)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrConflict - conflict (session busy)
	ErrConflict = errors.New("conflict")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)
