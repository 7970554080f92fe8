package tools

import "errors"

var (
	// ErrDuplicateToolName reports a tool name advertised by two providers.
	ErrDuplicateToolName = errors.New("duplicate tool name")
	// ErrToolNotFound reports a name no registered provider advertises.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidArguments reports arguments that fail the tool's input schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)
