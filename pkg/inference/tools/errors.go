package tools

import (
	"fmt"

	"github.com/pkg/errors"
)

type ErrorKind string

const (
	ErrorKindMalformedFragment       ErrorKind = "malformed_fragment"
	ErrorKindUnknownTool             ErrorKind = "unknown_tool"
	ErrorKindMissingRequiredArgument ErrorKind = "missing_required_argument"
	ErrorKindSchemaViolation         ErrorKind = "schema_violation"
	ErrorKindNotAllowed              ErrorKind = "not_allowed"
	ErrorKindExecution               ErrorKind = "execution"
	ErrorKindTimeout                 ErrorKind = "timeout"
)

// ToolError represents an error raised while extracting, validating or
// executing a tool call.
type ToolError struct {
	Kind     ErrorKind `json:"kind"`
	ToolName string    `json:"tool_name,omitempty"`
	Message  string    `json:"message"`
	Cause    error     `json:"-"`
}

func (e *ToolError) Error() string {
	if e.ToolName != "" {
		return fmt.Sprintf("tool error [%s] %s: %s", e.Kind, e.ToolName, e.Message)
	}
	return fmt.Sprintf("tool error [%s]: %s", e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

// Is matches any ToolError of the same kind, so that errors.Is(err, ErrUnknownTool) works.
func (e *ToolError) Is(target error) bool {
	t, ok := target.(*ToolError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrMalformedFragment       = &ToolError{Kind: ErrorKindMalformedFragment, Message: "malformed tool call fragment"}
	ErrUnknownTool             = &ToolError{Kind: ErrorKindUnknownTool, Message: "unknown tool"}
	ErrMissingRequiredArgument = &ToolError{Kind: ErrorKindMissingRequiredArgument, Message: "missing required argument"}
	ErrSchemaViolation         = &ToolError{Kind: ErrorKindSchemaViolation, Message: "arguments do not match schema"}
	ErrNotAllowed              = &ToolError{Kind: ErrorKindNotAllowed, Message: "tool not allowed"}
	ErrToolExecution           = &ToolError{Kind: ErrorKindExecution, Message: "tool execution failed"}
	ErrToolTimeout             = &ToolError{Kind: ErrorKindTimeout, Message: "tool execution timed out"}
)

func newToolError(kind ErrorKind, toolName string, cause error, format string, args ...interface{}) *ToolError {
	return &ToolError{
		Kind:     kind,
		ToolName: toolName,
		Message:  fmt.Sprintf(format, args...),
		Cause:    cause,
	}
}

// KindOf returns the ErrorKind carried by err, or ErrorKindExecution for
// errors that did not originate in this package.
func KindOf(err error) ErrorKind {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ErrorKindExecution
}
