package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrCredentialMissing = errors.New("access token not available")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrNotFound          = errors.New("not found")
	ErrInternal          = errors.New("internal error")
	ErrUnknownTool       = errors.New("unknown tool")
	ErrToolBlocked       = errors.New("tool call blocked by policy")
)

// UpstreamError is a non-success response from an external API.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}

// ValidationError wraps ErrValidation with a client-facing message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ErrorCode returns the stable code reported to the model for a tool error.
func ErrorCode(err error) string {
	var upstream *UpstreamError
	switch {
	case errors.As(err, &upstream):
		return "upstream_error"
	case errors.Is(err, ErrCredentialMissing):
		return "credential_missing"
	case errors.Is(err, ErrUpstreamTimeout):
		return "upstream_timeout"
	case errors.Is(err, ErrValidation):
		return "invalid_arguments"
	case errors.Is(err, ErrUnknownTool):
		return "unknown_tool"
	case errors.Is(err, ErrToolBlocked):
		return "blocked"
	default:
		return "internal_error"
	}
}
