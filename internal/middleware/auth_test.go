package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mindlog/social_layer/internal/logging"
	"github.com/mindlog/social_layer/internal/session"
)

const testSecret = "test-jwt-secret-with-enough-length-1234"

func generateTestToken(t *testing.T, secret, userID string, expired bool) string {
	t.Helper()
	claims := &session.Claims{
		Email: "test@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{session.Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if expired {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return tokenString
}

func newTestAuth(skipPaths []string) *AuthMiddleware {
	return NewAuthMiddleware(session.NewVerifier(testSecret, session.Audience), logging.Discard(), skipPaths)
}

func captureUser(captured *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = GetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestNewAuthMiddleware(t *testing.T) {
	middleware := newTestAuth([]string{"/health", "/metrics"})

	if len(middleware.skipPaths) != 2 {
		t.Errorf("skipPaths length = %d, want 2", len(middleware.skipPaths))
	}
	if !middleware.skipPaths["/health"] {
		t.Error("skipPaths does not contain /health")
	}
}

func TestAuthMiddleware_Handler_SkipPaths(t *testing.T) {
	var user string
	handler := newTestAuth([]string{"/health"}).Handler(captureUser(&user))

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Handler_AnonymousPassesThrough(t *testing.T) {
	user := "unset"
	handler := newTestAuth(nil).Handler(captureUser(&user))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/users/u1/followers", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if user != "" {
		t.Errorf("User ID = %q, want anonymous", user)
	}
}

func TestAuthMiddleware_Handler_InvalidAuthHeaderFormat(t *testing.T) {
	var user string
	handler := newTestAuth(nil).Handler(captureUser(&user))

	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "token123"},
		{"wrong prefix", "Basic token123"},
		{"empty token", "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/test", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_Handler_ValidToken(t *testing.T) {
	var user string
	handler := newTestAuth(nil).Handler(captureUser(&user))

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, testSecret, "user-123", false))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}
	if user != "user-123" {
		t.Errorf("User ID = %v, want user-123", user)
	}
}

func TestAuthMiddleware_Handler_RejectedTokens(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"expired", generateTestToken(t, testSecret, "user-123", true)},
		{"wrong key", generateTestToken(t, "some-other-secret-of-sufficient-size", "user-123", false)},
		{"malformed", "invalid.token.here"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var user string
			handler := newTestAuth(nil).Handler(captureUser(&user))

			req := httptest.NewRequest("GET", "/api/test", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			if user != "" {
				t.Error("handler must not run for a rejected token")
			}
		})
	}
}

func TestRequireUserID(t *testing.T) {
	handler := RequireUserID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("without user ID", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("PUT", "/api/test", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Status code = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("with user ID", func(t *testing.T) {
		req := httptest.NewRequest("PUT", "/api/test", nil)
		req = req.WithContext(logging.WithUserID(req.Context(), "user-123"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
		}
	})
}

func TestAuthMiddleware_Handler_PreservesTraceID(t *testing.T) {
	var traceID, role string
	handler := Tracing(newTestAuth(nil).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = logging.GetTraceID(r.Context())
		role = GetUserRole(r.Context())
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest("GET", "/api/test", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, testSecret, "user-123", false))
	req.Header.Set(TraceHeader, "trace-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if traceID != "trace-abc" {
		t.Errorf("Trace ID = %q, want trace-abc", traceID)
	}
	if role != "authenticated" {
		t.Errorf("Role = %q, want authenticated", role)
	}
}
