// Package middleware provides HTTP middleware for the social graph API
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mindlog/social_layer/internal/errors"
	"github.com/mindlog/social_layer/internal/httputil"
	"github.com/mindlog/social_layer/internal/logging"
	"github.com/mindlog/social_layer/internal/session"
)

// AuthMiddleware authenticates Supabase access tokens. Requests without an
// Authorization header pass through anonymously; routes that need a user
// are wrapped in RequireUserID.
type AuthMiddleware struct {
	verifier  *session.Verifier
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(verifier *session.Verifier, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		verifier:  verifier,
		logger:    logging.OrDiscard(logger),
		skipPaths: skip,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			m.respondError(w, r, errors.Unauthorized("Invalid Authorization header format"))
			return
		}

		claims, err := m.verifier.Parse(parts[1])
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := logging.WithUserID(r.Context(), claims.UserID())
		if claims.Role != "" {
			ctx = context.WithValue(ctx, logging.RoleKey, claims.Role)
		}

		m.logger.WithContext(ctx).WithField("session_id", claims.SessionID).Debug("Authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Authentication failed", err)
	}

	httputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warn("Authentication failed")
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// GetUserRole extracts user role from context
func GetUserRole(ctx context.Context) string {
	return logging.GetRole(ctx)
}

// RequireUserID middleware ensures user ID is present in context
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := GetUserID(r.Context())
		if userID == "" {
			httputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
