package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/authd/internal/model"
)

// mockVerifier はルーターテスト用のSessionVerifierモック。
type mockVerifier struct {
	sessions map[string]string // token -> userID
}

func (m *mockVerifier) Verify(raw string) (*model.SessionInfo, error) {
	if userID, ok := m.sessions[raw]; ok {
		return &model.SessionInfo{UserID: userID, StartedAt: time.Now()}, nil
	}
	return nil, model.ErrUnauthorized
}

// createTestRouter はテスト用の完全なルーターを構築するヘルパー。
func createTestRouter() http.Handler {
	svc := &mockAuthService{
		currentFn: func(ctx context.Context, rawToken string) *model.Identity {
			if rawToken == "valid-token" {
				return testIdentity()
			}
			return nil
		},
		metaFn: func(ctx context.Context, rawToken string) (*model.AccountMeta, error) {
			return &model.AccountMeta{LoginCount: 1}, nil
		},
		activityFn: func(ctx context.Context, rawToken string, page, pageSize int) (*model.ActivityPage, error) {
			return &model.ActivityPage{Page: 1, PageSize: pageSize, TotalPages: 1}, nil
		},
	}

	return NewRouter(&RouterDeps{
		SessionVerifier:   &mockVerifier{sessions: map[string]string{"valid-token": "user-1"}},
		CORSAllowedOrigin: "http://localhost:5173",
		AuthService:       svc,
		AuthConfig:        testHandlerConfig,
		Env:               "test",
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics"))
		}),
	})
}

func TestNewRouter_Routes(t *testing.T) {
	router := createTestRouter()

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"health", http.MethodGet, "/api/health", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"me anonymous", http.MethodGet, "/api/auth/me", "", http.StatusOK},
		{"me signed in", http.MethodGet, "/api/auth/me", "valid-token", http.StatusOK},
		{"session anonymous", http.MethodGet, "/api/auth/session", "", http.StatusOK},
		{"signout anonymous", http.MethodPost, "/api/auth/signout", "", http.StatusNoContent},
		{"meta anonymous", http.MethodGet, "/api/auth/meta", "", http.StatusUnauthorized},
		{"meta forged", http.MethodGet, "/api/auth/meta", "forged", http.StatusUnauthorized},
		{"meta signed in", http.MethodGet, "/api/auth/meta", "valid-token", http.StatusOK},
		{"activity signed in", http.MethodGet, "/api/auth/activity", "valid-token", http.StatusOK},
		{"activity anonymous", http.MethodGet, "/api/auth/activity", "", http.StatusUnauthorized},
		{"profile anonymous", http.MethodPatch, "/api/auth/profile", "", http.StatusUnauthorized},
		{"password anonymous", http.MethodPost, "/api/auth/password", "", http.StatusUnauthorized},
		{"google login unconfigured", http.MethodGet, "/api/auth/google/login", "", http.StatusInternalServerError},
		{"wrong method", http.MethodGet, "/api/auth/signin", "", http.StatusMethodNotAllowed},
		{"unknown", http.MethodGet, "/api/unknown", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				withSessionCookie(req, tt.token)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, w.Code, tt.status)
			}
		})
	}
}

func TestNewRouter_AppliesMiddleware(t *testing.T) {
	router := createTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	headers := map[string]string{
		"X-Content-Type-Options":      "nosniff",
		"X-Frame-Options":             "DENY",
		"Access-Control-Allow-Origin": "http://localhost:5173",
		"Cache-Control":               "no-store",
	}
	for k, want := range headers {
		if got := w.Header().Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestNewRouter_PreflightReturns204(t *testing.T) {
	router := createTestRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/profile", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestNewRouter_NoMetricsHandler(t *testing.T) {
	router := NewRouter(&RouterDeps{
		SessionVerifier: &mockVerifier{},
		AuthService:     &mockAuthService{},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
