package llm

import (
	"context"
	"fmt"
	"strings"
)

// Backend is one link of the gateway cascade.
type Backend interface {
	// Name identifies the backend in logs and exhaustion reports
	// (e.g. "subprocess", "api:gpt-4o").
	Name() string

	// Complete performs one chat completion. Implementations own their
	// retry policy; a returned error means the backend is spent for this
	// request and the cascade moves on.
	Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// SupportsTools reports whether the backend can execute tool-call
	// conversations. Stdio backends cannot.
	SupportsTools() bool
}

// Error is a structured backend failure.
type Error struct {
	Backend    string `json:"backend"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Retryable  bool   `json:"retryable"`
	Cause      error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: status=%d %s", e.Backend, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Backend, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether the error may succeed on a later attempt
// against the same backend.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return true // transport-level errors are retryable by default
}

// BackendError pairs a backend name with the error it produced.
type BackendError struct {
	Backend string `json:"backend"`
	Err     string `json:"error"`
}

// ExhaustedError reports that every backend in the cascade failed. Errors
// are ordered by cascade position.
type ExhaustedError struct {
	Errors []BackendError
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, be := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", be.Backend, be.Err))
	}
	return "all LLM backends failed: " + strings.Join(parts, "; ")
}
