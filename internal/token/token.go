// Package token は署名付きの自己完結型セッショントークンを発行・検証する。
// サーバー側にセッション状態を保持しないため、ログアウトはクライアント側の破棄に依存する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/authd/internal/model"
)

// Validity はトークンの有効期間（発行から7日）。
const Validity = 7 * 24 * time.Hour

// ErrInvalid はトークンの構造・署名・期限いずれかの検証失敗を表す。
// 失敗理由は呼び出し元に区別させない。
var ErrInvalid = fmt.Errorf("invalid session token: %w", model.ErrUnauthorized)

// Service はHS256で署名したセッショントークンを扱う。
// 署名鍵は起動時に1回だけ設定され、鍵の変更は既存トークンを全て無効化する。
type Service struct {
	key []byte
	now func() time.Time
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService はServiceを生成する。署名鍵が空の場合はErrUnconfiguredを返す。
func NewService(signingKey string, opts ...Option) (*Service, error) {
	if signingKey == "" {
		return nil, fmt.Errorf("session signing key is not set: %w", model.ErrUnconfigured)
	}
	s := &Service{
		key: []byte(signingKey),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue はユーザーIDをsubjectとするトークンを発行する。
func (s *Service) Issue(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user ID is required")
	}
	now := s.now().Truncate(time.Second)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(Validity)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、セッション情報を返す。
// どの検証に失敗してもErrInvalidのみを返す。
func (s *Service) Verify(raw string) (*model.SessionInfo, error) {
	if raw == "" {
		return nil, ErrInvalid
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
	)
	if err != nil {
		return nil, ErrInvalid
	}
	if claims.Subject == "" || claims.IssuedAt == nil {
		return nil, ErrInvalid
	}
	// 発行時刻+有効期間で判定し、expクレームの改変に依存しない
	if !s.now().Before(claims.IssuedAt.Add(Validity)) {
		return nil, ErrInvalid
	}

	return &model.SessionInfo{
		UserID:    claims.Subject,
		StartedAt: claims.IssuedAt.Time,
	}, nil
}
