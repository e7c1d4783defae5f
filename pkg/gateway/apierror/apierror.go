// Package apierror maps gateway errors onto the JSON error envelope the
// management endpoints return.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/pitchlab/voicerelay/pkg/gateway/agents"
)

type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrUpstream       ErrorType = "upstream_error"
	ErrOverloaded     ErrorType = "overloaded_error"
	ErrAPI            ErrorType = "api_error"
)

// Error is the wire shape of one API error.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Param     string    `json:"param,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// Envelope wraps an Error the way every JSON endpoint returns it.
type Envelope struct {
	Error *Error `json:"error"`
}

// FromError maps err onto its wire error and HTTP status. Unclassified
// errors come back as an opaque internal error so details never leak.
func FromError(err error, requestID string) (*Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Type:      ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}

	// Already canonical.
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		return &out, StatusForType(apiErr.Type)
	}

	switch {
	case errors.Is(err, agents.ErrNotFound):
		return &Error{
			Type:      ErrNotFound,
			Message:   err.Error(),
			RequestID: requestID,
		}, http.StatusNotFound
	case errors.Is(err, agents.ErrInvalidParams):
		return &Error{
			Type:      ErrInvalidRequest,
			Message:   err.Error(),
			RequestID: requestID,
		}, http.StatusBadRequest
	case errors.Is(err, agents.ErrCreationFailed):
		return &Error{
			Type:      ErrUpstream,
			Message:   err.Error(),
			RequestID: requestID,
		}, http.StatusBadGateway
	}

	return &Error{
		Type:      ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

// StatusForType is the HTTP status an error of the given type travels with.
func StatusForType(t ErrorType) int {
	switch t {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrUpstream:
		return http.StatusBadGateway
	case ErrOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
