// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/authd/internal/auth"
	"github.com/hitoshi/authd/internal/middleware"
	"github.com/hitoshi/authd/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	// maxBodyBytes はリクエストボディの上限（1MB）。
	maxBodyBytes = 1 << 20
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, name, email, password string) (*auth.Result, error)
	SignIn(ctx context.Context, email, password string) (*auth.Result, error)
	SignOut(ctx context.Context, rawToken string)
	GetCurrentIdentity(ctx context.Context, rawToken string) *model.Identity
	GetSession(ctx context.Context, rawToken string) *model.SessionInfo
	UpdateProfile(ctx context.Context, rawToken string, in auth.ProfileUpdate) (*model.Identity, error)
	ChangePassword(ctx context.Context, rawToken, currentPassword, newPassword string) error
	SignInWithFederatedToken(ctx context.Context, rawIDToken string) (*auth.Result, error)
	GetActivity(ctx context.Context, rawToken string, page, pageSize int) (*model.ActivityPage, error)
	GetMeta(ctx context.Context, rawToken string) (*model.AccountMeta, error)
}

// CodeFlowInterface はサーバー側のGoogle認可コードフロー。
type CodeFlowInterface interface {
	LoginURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	codeFlow CodeFlowInterface
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。codeFlowはnilでもよい。
func NewAuthHandler(service AuthServiceInterface, codeFlow CodeFlowInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		codeFlow: codeFlow,
		config:   config,
	}
}

// --- リクエスト・レスポンス ---

type signUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updateProfileRequest struct {
	Name      *string `json:"name"`
	Email     *string `json:"email"`
	AvatarURL *string `json:"avatarUrl"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type googleSignInRequest struct {
	IDToken string `json:"idToken"`
}

// userResponse は {"user": {...}} または {"user": null}。
type userResponse struct {
	User *model.PublicIdentity `json:"user"`
}

type activityItemResponse struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	Type    string `json:"type"`
	Message string `json:"message"`
	At      int64  `json:"at"`
}

type activityResponse struct {
	Items      []activityItemResponse `json:"items"`
	Total      int                    `json:"total"`
	Page       int                    `json:"page"`
	PageSize   int                    `json:"pageSize"`
	TotalPages int                    `json:"totalPages"`
}

type metaBody struct {
	CreatedAt     int64  `json:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt"`
	LoginCount    int    `json:"loginCount"`
	LastLoginAt   *int64 `json:"lastLoginAt"`
	EmailVerified bool   `json:"emailVerified"`
}

type metaResponse struct {
	Meta metaBody `json:"meta"`
}

type sessionBody struct {
	StartedAt int64 `json:"startedAt"`
}

type sessionResponse struct {
	Session *sessionBody `json:"session"`
}

// --- ハンドラー ---

// SignUp はパスワード認証のアカウントを作成する。
// POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.SignUp(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	h.setSessionCookie(w, res.Token)
	writeUser(w, res.Identity)
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /api/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, model.ErrUnauthorized) {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
			return
		}
		middleware.WriteError(w, r, err)
		return
	}

	h.setSessionCookie(w, res.Token)
	writeUser(w, res.Identity)
}

// SignOut はサインアウトを記録し、セッションCookieを削除する。
// POST /api/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.service.SignOut(r.Context(), sessionToken(r))
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のアカウントを返す。未認証の場合は {"user": null} を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeUser(w, h.service.GetCurrentIdentity(r.Context(), sessionToken(r)))
}

// UpdateProfile は指定されたフィールドのみを更新する。
// PATCH /api/auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	identity, err := h.service.UpdateProfile(r.Context(), sessionToken(r), auth.ProfileUpdate{
		Name:      req.Name,
		Email:     req.Email,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeUser(w, identity)
}

// ChangePassword はパスワードを変更する。
// POST /api/auth/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), sessionToken(r), req.CurrentPassword, req.NewPassword); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Activity は監査イベントを新しい順にページ単位で返す。
// GET /api/auth/activity?page=1&pageSize=10
func (h *AuthHandler) Activity(w http.ResponseWriter, r *http.Request) {
	page := parseIntParam(r, "page", 1)
	pageSize := parseIntParam(r, "pageSize", model.DefaultActivityPageSize)

	result, err := h.service.GetActivity(r.Context(), sessionToken(r), page, pageSize)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	items := make([]activityItemResponse, 0, len(result.Items))
	for _, e := range result.Items {
		items = append(items, activityItemResponse{
			ID:      e.ID,
			UserID:  e.UserID,
			Type:    string(e.Type),
			Message: e.Message,
			At:      e.At.UnixMilli(),
		})
	}
	writeJSON(w, http.StatusOK, activityResponse{
		Items:      items,
		Total:      result.Total,
		Page:       result.Page,
		PageSize:   result.PageSize,
		TotalPages: result.TotalPages,
	})
}

// Meta はアカウントのメタ情報を返す。
// GET /api/auth/meta
func (h *AuthHandler) Meta(w http.ResponseWriter, r *http.Request) {
	meta, err := h.service.GetMeta(r.Context(), sessionToken(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	body := metaBody{
		CreatedAt:     meta.CreatedAt.UnixMilli(),
		UpdatedAt:     meta.UpdatedAt.UnixMilli(),
		LoginCount:    meta.LoginCount,
		EmailVerified: meta.EmailVerified,
	}
	if meta.LastLoginAt != nil {
		ms := meta.LastLoginAt.UnixMilli()
		body.LastLoginAt = &ms
	}
	writeJSON(w, http.StatusOK, metaResponse{Meta: body})
}

// Session はセッション開始時刻を返す。無効な場合は {"session": null} を返す。
// GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	info := h.service.GetSession(r.Context(), sessionToken(r))
	if info == nil {
		writeJSON(w, http.StatusOK, sessionResponse{})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: &sessionBody{StartedAt: info.StartedAt.UnixMilli()}})
}

// GoogleSignIn はクライアントで取得したGoogleのIDトークンでサインインする。
// POST /api/auth/google
func (h *AuthHandler) GoogleSignIn(w http.ResponseWriter, r *http.Request) {
	var req googleSignInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.service.SignInWithFederatedToken(r.Context(), req.IDToken)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	h.setSessionCookie(w, res.Token)
	writeUser(w, res.Identity)
}

// GoogleLogin はGoogleの認可コードフローを開始する。
// GET /api/auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.codeFlow == nil {
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewGoogleNotConfiguredError())
		return
	}

	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.codeFlow.LoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback は認可コードを交換し、IDトークンでサインインする。
// GET /api/auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.codeFlow == nil {
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewGoogleNotConfiguredError())
		return
	}

	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("invalid state parameter"))
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの交換
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("missing authorization code"))
		return
	}
	rawIDToken, err := h.codeFlow.ExchangeCode(r.Context(), code)
	if err != nil {
		slog.Warn("oauth code exchange failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidGoogleTokenError())
		return
	}

	// 3. サインイン
	res, err := h.service.SignInWithFederatedToken(r.Context(), rawIDToken)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	// 4. セッションCookieを設定してフロントエンドにリダイレクト
	h.setSessionCookie(w, res.Token)
	http.Redirect(w, r, h.redirectTarget(), http.StatusTemporaryRedirect)
}

func (h *AuthHandler) redirectTarget() string {
	if h.config.BaseURL == "" {
		return "/"
	}
	return h.config.BaseURL
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// --- ヘルパー ---

// sessionToken はリクエストのセッショントークンを返す。
// セッションミドルウェアで検証済みのものを優先し、なければCookieの値をそのまま返す。
func sessionToken(r *http.Request) string {
	if token := middleware.TokenFromContext(r.Context()); token != "" {
		return token
	}
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// decodeJSON はリクエストボディを1MBまで読み取りデコードする。
// 失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewInvalidInputError("request body too large"))
			return false
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("invalid request body"))
		return false
	}
	return true
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return fallback
	}
	return v
}

func writeUser(w http.ResponseWriter, identity *model.Identity) {
	if identity == nil {
		writeJSON(w, http.StatusOK, userResponse{})
		return
	}
	public := identity.Public()
	writeJSON(w, http.StatusOK, userResponse{User: &public})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
