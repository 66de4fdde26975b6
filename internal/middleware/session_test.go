package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/authd/internal/model"
)

// --- モック定義 ---

type mockVerifier struct {
	verifyFn func(raw string) (*model.SessionInfo, error)
}

func (m *mockVerifier) Verify(raw string) (*model.SessionInfo, error) {
	if m.verifyFn != nil {
		return m.verifyFn(raw)
	}
	return nil, model.ErrUnauthorized
}

func validTokenVerifier(token, userID string) *mockVerifier {
	return &mockVerifier{
		verifyFn: func(raw string) (*model.SessionInfo, error) {
			if raw == token {
				return &model.SessionInfo{UserID: userID, StartedAt: time.Now()}, nil
			}
			return nil, model.ErrUnauthorized
		},
	}
}

// --- テスト ---

func TestSessionMiddleware_ValidToken_InjectsSession(t *testing.T) {
	mw := NewSessionMiddleware(validTokenVerifier("valid-token", "user-123"))

	var capturedUserID, capturedToken string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedUserID = userID
		capturedToken = TokenFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "session", Value: "valid-token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if capturedUserID != "user-123" {
		t.Errorf("userID = %q, want %q", capturedUserID, "user-123")
	}
	if capturedToken != "valid-token" {
		t.Errorf("token = %q, want %q", capturedToken, "valid-token")
	}
}

func TestSessionMiddleware_MissingOrInvalid_PassesAnonymous(t *testing.T) {
	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{"no cookie", nil},
		{"empty cookie", &http.Cookie{Name: "session", Value: ""}},
		{"invalid token", &http.Cookie{Name: "session", Value: "tampered"}},
		{"other cookie name", &http.Cookie{Name: "session_id", Value: "valid-token"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewSessionMiddleware(validTokenVerifier("valid-token", "user-123"))

			called := false
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				if _, err := UserIDFromContext(r.Context()); err == nil {
					t.Error("expected anonymous request")
				}
				if TokenFromContext(r.Context()) != "" {
					t.Error("expected empty token")
				}
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if !called {
				t.Error("handler should be called for anonymous requests")
			}
		})
	}
}

func TestRequireSession_Anonymous_Returns401(t *testing.T) {
	handler := RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/api/auth/profile", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeUnauthorized {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
	}
}

func TestRequireSession_WithSession_PassesThrough(t *testing.T) {
	called := false
	handler := RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/password", nil)
	req = req.WithContext(ContextWithSession(req.Context(), "user-1", "tok"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called || w.Code != http.StatusNoContent {
		t.Errorf("called = %v, status = %d", called, w.Code)
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := UserIDFromContext(req.Context()); err == nil {
		t.Error("expected error for empty context")
	}
	if TokenFromContext(req.Context()) != "" {
		t.Error("expected empty token for empty context")
	}
}
