package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/authd/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// ErrorStatus はエラー分類をHTTPステータスとAPIErrorに変換する。
// 分類に属さないエラーは500として扱う。
func ErrorStatus(err error) (int, *model.APIError) {
	var inputErr *model.InputError
	switch {
	case errors.As(err, &inputErr):
		return http.StatusBadRequest, model.NewInvalidInputError(inputErr.Reason)
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, model.NewInvalidInputError("Invalid input")
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, model.NewEmailInUseError()
	case errors.Is(err, model.ErrInvalidCredential):
		return http.StatusBadRequest, model.NewWrongPasswordError()
	case errors.Is(err, model.ErrInvalidExternalToken):
		return http.StatusUnauthorized, model.NewInvalidGoogleTokenError()
	case errors.Is(err, model.ErrUnconfigured):
		return http.StatusInternalServerError, model.NewGoogleNotConfiguredError()
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, model.NewUserNotFoundError()
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized, model.NewUnauthorizedError()
	default:
		return http.StatusInternalServerError, model.NewInternalError()
	}
}

// WriteError はエラーを統一フォーマットで書き込む。
// 500となるエラーの詳細はログにのみ記録する。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := ErrorStatus(err)
	if status == http.StatusInternalServerError && apiErr.Code == model.ErrCodeInternal {
		slog.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	WriteErrorResponse(w, status, apiErr)
}
