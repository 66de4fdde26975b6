// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 認証サブシステムのエラー分類。
// 下位層のエラーはこれらをラップし、errors.Isで判定する。
var (
	// ErrConflict は一意制約違反（使用中のメールアドレス、重複したマイグレーション）。
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized はセッショントークンの欠落・不正・期限切れ、またはサインイン失敗。
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound は存在しないIdentityを対象とした操作。
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredential はパスワード変更時の現在のパスワード不一致。
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrInvalidExternalToken は外部IDトークンの検証失敗。
	ErrInvalidExternalToken = errors.New("invalid external token")
	// ErrUnconfigured はフェデレーションまたは署名鍵が未設定。
	ErrUnconfigured = errors.New("unconfigured")
	// ErrInvalidInput は入力値がポリシーや形式を満たさない。
	ErrInvalidInput = errors.New("invalid input")
	// ErrMigrationFailure はスキーマスクリプトの失敗。起動を中断する致命的エラー。
	ErrMigrationFailure = errors.New("migration failure")
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, account, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeEmailInUse          = "EMAIL_IN_USE"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeWrongPassword       = "WRONG_CURRENT_PASSWORD"
	ErrCodeInvalidGoogleToken  = "INVALID_GOOGLE_TOKEN"
	ErrCodeGoogleNotConfigured = "GOOGLE_NOT_CONFIGURED"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewEmailInUseError はメールアドレス重複エラーを生成する。
func NewEmailInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailInUse,
		Message:  "Email already in use",
		Category: "account",
		Action:   "別のメールアドレスを使用するか、既存のアカウントでサインインしてください。",
	}
}

// NewInvalidCredentialsError はサインイン失敗エラーを生成する。
// メールアドレスの存在有無を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid credentials",
		Category: "auth",
		Action:   "メールアドレスとパスワードを確認してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized",
		Category: "auth",
		Action:   "サインインし直してください。",
	}
}

// NewWrongPasswordError は現在のパスワード不一致エラーを生成する。
func NewWrongPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeWrongPassword,
		Message:  "Current password is incorrect",
		Category: "validation",
		Action:   "現在のパスワードを確認してください。",
	}
}

// NewInvalidGoogleTokenError はGoogleトークン検証失敗エラーを生成する。
func NewInvalidGoogleTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidGoogleToken,
		Message:  "Invalid Google token",
		Category: "auth",
		Action:   "もう一度Googleでサインインしてください。",
	}
}

// NewGoogleNotConfiguredError はGoogleログイン未設定エラーを生成する。
func NewGoogleNotConfiguredError() *APIError {
	return &APIError{
		Code:     ErrCodeGoogleNotConfigured,
		Message:  "Server not configured for Google login",
		Category: "system",
		Action:   "管理者に問い合わせてください。",
	}
}

// NewInvalidInputError は入力値エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  reason,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "サインインし直してください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Server error",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// InputError は理由付きのErrInvalidInput。
type InputError struct {
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *InputError) Error() string {
	return "invalid input: " + e.Reason
}

// Unwrap はErrInvalidInputを返す。
func (e *InputError) Unwrap() error {
	return ErrInvalidInput
}

// NewInputError はInputErrorを生成する。
func NewInputError(reason string) error {
	return &InputError{Reason: reason}
}
