// Package schemas defines the request and response bodies of the HTTP API
// and validates inbound payloads.
package schemas

import (
	"fmt"
	"strings"
)

// APIResponse is the generic success envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

type MessageResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ErrorResponse is the {"detail": ...} error body.
type ErrorResponse struct {
	Detail any `json:"detail"`
}

// FieldError describes one rejected input field.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// ValidationError collects every FieldError found in a payload.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = strings.Join(fe.Loc, ".") + ": " + fe.Msg
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(loc []string, typ, format string, args ...any) {
	e.Errors = append(e.Errors, FieldError{Loc: loc, Msg: fmt.Sprintf(format, args...), Type: typ})
}

// errOrNil avoids returning a typed nil.
func (e *ValidationError) errOrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// NewValidationError builds a single-field ValidationError.
func NewValidationError(loc []string, typ, msg string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Loc: loc, Msg: msg, Type: typ}}}
}
