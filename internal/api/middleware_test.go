package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/jwtauth/v5"
)

func authedRequest(t *testing.T, ja *jwtauth.JWTAuth, claims map[string]interface{}) *http.Request {
	t.Helper()
	req := httptest.NewRequest("GET", "/test", nil)
	if claims != nil {
		_, tokenString, err := ja.Encode(claims)
		if err != nil {
			t.Fatalf("encode token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+tokenString)
	}
	return req
}

func authChain(ja *jwtauth.JWTAuth, next http.Handler) http.Handler {
	return jwtauth.Verifier(ja)(Authenticator(ja)(next))
}

func TestAuthenticator_ValidToken(t *testing.T) {
	ja := NewTokenAuth("test-secret")

	var gotID int64
	handler := authChain(ja, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := UserID(r.Context())
		if err != nil {
			t.Errorf("UserID: %v", err)
		}
		gotID = id
		w.WriteHeader(http.StatusOK)
	}))

	req := authedRequest(t, ja, map[string]interface{}{"user_id": 4})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotID != 4 {
		t.Errorf("expected user id 4, got %d", gotID)
	}
}

func TestAuthenticator_MissingToken(t *testing.T) {
	ja := NewTokenAuth("test-secret")
	handler := authChain(ja, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a token")
	}))

	req := authedRequest(t, ja, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticator_WrongSecret(t *testing.T) {
	ja := NewTokenAuth("test-secret")
	other := NewTokenAuth("different-secret")

	handler := authChain(ja, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run with a forged token")
	}))

	req := authedRequest(t, other, map[string]interface{}{"user_id": 4})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAuthenticator_MissingUserClaim(t *testing.T) {
	ja := NewTokenAuth("test-secret")
	handler := authChain(ja, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a user_id claim")
	}))

	req := authedRequest(t, ja, map[string]interface{}{"sub": "someone"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestUserIDClaim(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  int64
		ok    bool
	}{
		{"float64", float64(4), 4, true},
		{"int64", int64(7), 7, true},
		{"string", "12", 12, true},
		{"zero", float64(0), 0, false},
		{"negative", float64(-1), 0, false},
		{"non-numeric string", "abc", 0, false},
		{"wrong type", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := userIDClaim(map[string]interface{}{"user_id": tt.value})
			if got != tt.want || ok != tt.ok {
				t.Errorf("userIDClaim(%v) = (%d, %v), want (%d, %v)", tt.value, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestUserID_NoUser(t *testing.T) {
	if _, err := UserID(context.Background()); err == nil {
		t.Error("expected error for context without user")
	}
}

func TestUserKeyFunc(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	if key := UserKeyFunc(req); key != "" {
		t.Errorf("expected empty key for unauthenticated request, got %q", key)
	}

	ctx := context.WithValue(req.Context(), userIDKey{}, int64(4))
	if key := UserKeyFunc(req.WithContext(ctx)); key != "user:4" {
		t.Errorf("expected user:4, got %q", key)
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		expected   string
	}{
		{"X-Forwarded-For", "1.2.3.4", "", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"X-Real-IP", "", "1.2.3.4", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"RemoteAddr fallback", "", "", "5.6.7.8:1234", "ip:5.6.7.8:1234"},
		{"Forwarded takes precedence", "1.1.1.1", "2.2.2.2", "3.3.3.3:1234", "ip:1.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			req.RemoteAddr = tt.remoteAddr

			result := IPKeyFunc(req)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRateLimitMiddleware_NoLimiter(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	middleware := RateLimitMiddleware(nil, nil, UserKeyFunc)
	wrapped := middleware(handler)

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
