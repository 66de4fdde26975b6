package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newChain はサーバーと同じ順序でミドルウェアを組み立てる。
func newChain(logBuf *bytes.Buffer, verifier SessionVerifier, next http.Handler) http.Handler {
	logger := slog.New(slog.NewJSONHandler(logBuf, nil))
	h := NewLoggingMiddleware(logger, nil)(next)
	h = NewSessionMiddleware(verifier)(h)
	h = NewCORSMiddleware("http://localhost:5173")(h)
	h = NewSecurityHeadersMiddleware()(h)
	return NewRecoveryMiddleware()(h)
}

// TestMiddlewareChain_AccessLogHasUserID はセッション解決後のアクセスログにuser_idが含まれることを検証する。
func TestMiddlewareChain_AccessLogHasUserID(t *testing.T) {
	var buf bytes.Buffer
	handler := newChain(&buf, validTokenVerifier("tok", "user-chain"), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/meta", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log: %v\nraw: %s", err, buf.String())
	}
	if entry["user_id"] != "user-chain" {
		t.Errorf("user_id = %v, want user-chain", entry["user_id"])
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Error("CORS headers missing")
	}
}

// TestMiddlewareChain_PanicReturnsJSON500 はpanicが統一フォーマットの500になることを検証する。
func TestMiddlewareChain_PanicReturnsJSON500(t *testing.T) {
	var buf bytes.Buffer
	handler := newChain(&buf, &mockVerifier{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/signin", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		t.Errorf("Content-Type = %q", w.Header().Get("Content-Type"))
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q", body.Code)
	}
}

// TestMiddlewareChain_Preflight はプリフライトがセッションなしで204になることを検証する。
func TestMiddlewareChain_Preflight(t *testing.T) {
	var buf bytes.Buffer
	handler := newChain(&buf, &mockVerifier{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not be called for preflight")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/auth/profile", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}
