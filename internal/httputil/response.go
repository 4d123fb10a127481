package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mindlog/social_layer/internal/errors"
	"github.com/mindlog/social_layer/internal/logging"
)

// MaxRequestBody caps JSON request bodies.
const MaxRequestBody = 1 << 20

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

// WriteJSON writes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteErrorResponse writes an ErrorResponse carrying the request trace ID.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	resp := ErrorResponse{Code: code, Message: message, Details: details}
	if r != nil {
		resp.TraceID = logging.GetTraceID(r.Context())
	}
	WriteJSON(w, status, resp)
}

// WriteServiceError writes err, mapping graph errors to HTTP statuses.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.FromDomain(err)
	if se == nil {
		se = errors.Internal("Unexpected error", err)
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

// Unauthorized writes a 401. An empty message uses the default text.
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Authentication required"
	}
	WriteErrorResponse(w, nil, http.StatusUnauthorized, string(errors.CodeUnauthorized), message, nil)
}

// BadRequest writes a 400.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	WriteErrorResponse(w, r, http.StatusBadRequest, string(errors.CodeBadRequest), message, nil)
}

// ReadJSON decodes a JSON request body of at most MaxRequestBody bytes into v.
func ReadJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("unsupported content type %q", ct)
	}
	data, err := ReadAllStrict(r.Body, MaxRequestBody)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("empty request body")
	}
	return json.Unmarshal(data, v)
}
