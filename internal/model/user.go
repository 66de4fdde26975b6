// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Provider はアカウントの認証方式を表す。
// 閉じた集合であり、Provider毎に意味を持つフィールドが異なる。
type Provider string

const (
	// ProviderPassword はメールアドレスとパスワードによるローカル認証。
	ProviderPassword Provider = "password"
	// ProviderGoogle はGoogleのIDトークンによるフェデレーション認証。
	ProviderGoogle Provider = "google"
)

// Valid はProviderが既知の値かを返す。
func (p Provider) Valid() bool {
	return p == ProviderPassword || p == ProviderGoogle
}

// PasswordCredential はローカルパスワード認証の資格情報。
// ProviderPasswordのIdentityにのみ存在する。
type PasswordCredential struct {
	Salt string
	Hash string
}

// Identity は1つのアカウントを表す。
// Credentialはフェデレーションアカウントではnilとなり、パスワード認証は成立しない。
type Identity struct {
	ID            string
	Name          string
	Email         string // NormalizeEmail済み
	AvatarURL     string
	Provider      Provider
	Credential    *PasswordCredential
	EmailVerified bool
	LoginCount    int
	LastLoginAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasPassword はローカルパスワードで認証可能なアカウントかを返す。
func (i *Identity) HasPassword() bool {
	return i.Provider == ProviderPassword && i.Credential != nil && i.Credential.Hash != ""
}

// PublicIdentity はクライアントに公開するアカウント情報。
type PublicIdentity struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Public は資格情報を除いた公開用の射影を返す。
func (i *Identity) Public() PublicIdentity {
	return PublicIdentity{
		ID:        i.ID,
		Name:      i.Name,
		Email:     i.Email,
		AvatarURL: i.AvatarURL,
	}
}

// AccountMeta はアカウントのメタ情報の射影。
type AccountMeta struct {
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LoginCount    int        `json:"loginCount"`
	LastLoginAt   *time.Time `json:"lastLoginAt"`
	EmailVerified bool       `json:"emailVerified"`
}

// Meta はIdentityからAccountMetaを生成する。
func (i *Identity) Meta() AccountMeta {
	return AccountMeta{
		CreatedAt:     i.CreatedAt,
		UpdatedAt:     i.UpdatedAt,
		LoginCount:    i.LoginCount,
		LastLoginAt:   i.LastLoginAt,
		EmailVerified: i.EmailVerified,
	}
}

// IdentityUpdate はIdentityの部分更新内容を表す。
// nilのフィールドは変更しない。UpdatedAtは常に書き込まれる。
type IdentityUpdate struct {
	Name        *string
	Email       *string
	AvatarURL   *string
	Credential  *PasswordCredential
	LastLoginAt *time.Time
	// IncrementLoginCount はlogin_countをストア側で1加算する。
	IncrementLoginCount bool
	UpdatedAt           time.Time
}

// SessionInfo はセッショントークンから復元できる情報。
type SessionInfo struct {
	UserID    string    `json:"-"`
	StartedAt time.Time `json:"startedAt"`
}

// ExternalProfile は外部IdPで検証済みのクレーム。
type ExternalProfile struct {
	Subject       string
	Email         string
	Name          string
	Picture       string
	EmailVerified bool
}

// NormalizeEmail は比較・保存前のメールアドレスを正規化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
