// Package errors provides the service error type used at the HTTP boundary
// and the mapping from social graph errors to it.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/mindlog/social_layer/internal/domain/graph"
)

// ErrorCode is a stable machine readable error code.
type ErrorCode string

const (
	CodeBadRequest   ErrorCode = "BAD_REQUEST"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken ErrorCode = "INVALID_TOKEN"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeConflict     ErrorCode = "CONFLICT"
	CodeRateLimited  ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is an error with an HTTP status and a client facing message.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a detail key. It returns the receiver for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func BadRequest(message string, err error) *ServiceError {
	return newError(CodeBadRequest, http.StatusBadRequest, message, err)
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "Invalid or expired token", err)
}

func Forbidden(message string) *ServiceError {
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

func NotFound(resource string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, resource+" not found", nil)
}

func Conflict(message string, err error) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, err)
}

// RateLimitExceeded reports a client over its request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "Rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Unavailable(message string, err error) *ServiceError {
	return newError(CodeUnavailable, http.StatusServiceUnavailable, message, err)
}

func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError extracts a ServiceError from err's chain.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// FromDomain maps an error returned by the social graph packages to a
// ServiceError. Errors that already are ServiceErrors pass through.
func FromDomain(err error) *ServiceError {
	if err == nil {
		return nil
	}
	if se := GetServiceError(err); se != nil {
		return se
	}

	switch {
	case stderrors.Is(err, graph.ErrSelfEdge),
		stderrors.Is(err, graph.ErrInvalidKind),
		stderrors.Is(err, graph.ErrInvalidCursor),
		stderrors.Is(err, graph.ErrMissingID),
		stderrors.Is(err, graph.ErrNoPosts):
		return BadRequest(err.Error(), err)
	case stderrors.Is(err, graph.ErrNoViewer):
		return Unauthorized("")
	case stderrors.Is(err, graph.ErrNotFound):
		return newError(CodeNotFound, http.StatusNotFound, "Resource not found", err)
	case stderrors.Is(err, graph.ErrToggleInFlight):
		return Conflict("A change for this relationship is already in progress", err)
	case stderrors.Is(err, graph.ErrBlocked):
		return Conflict("Cannot follow while a block exists between these users", err)
	case stderrors.Is(err, context.DeadlineExceeded):
		return Unavailable("Backend timed out", err)
	case graph.IsTransient(err):
		return Unavailable("Backend unavailable, retry later", err)
	}
	return Internal("Unexpected error", err)
}
