package client

import (
	"errors"
	"fmt"
	"net/http"
)

// PostgREST and Postgres error codes the service reacts to.
const (
	CodeNoRows          = "PGRST116"
	CodeUniqueViolation = "23505"
)

// APIError is a non-2xx PostgREST response.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Hint       string `json:"hint,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("supabase: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("supabase: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsNoRows reports whether err is a single-row read that matched nothing.
func IsNoRows(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == CodeNoRows ||
		(apiErr.StatusCode == http.StatusNotAcceptable && apiErr.Code == "")
}

// IsUniqueViolation reports whether err is a duplicate-key insert.
func IsUniqueViolation(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == CodeUniqueViolation ||
		(apiErr.StatusCode == http.StatusConflict && apiErr.Code == "")
}
