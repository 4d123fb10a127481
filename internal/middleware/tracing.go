// Package middleware provides HTTP middleware for the social graph API
package middleware

import (
	"net/http"

	"github.com/mindlog/social_layer/internal/logging"
	"github.com/mindlog/social_layer/supabase/client"
)

// TraceHeader carries the trace ID on requests and responses.
const TraceHeader = "X-Trace-ID"

// Tracing assigns every request a trace ID, taken from X-Trace-ID when the
// caller sent one. The ID is echoed in the response and forwarded to
// PostgREST as X-Request-ID.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = logging.NewTraceID()
		}

		ctx := logging.WithTraceID(r.Context(), traceID)
		ctx = client.WithRequestID(ctx, traceID)
		w.Header().Set(TraceHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
