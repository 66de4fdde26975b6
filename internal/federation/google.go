// Package federation は外部IdPが発行したIDトークンを検証し、ローカルIdentityへの対応付けに使う
// クレームを取り出す。
package federation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/hitoshi/authd/internal/model"
)

const (
	// GoogleIssuer はGoogleのIDトークン発行者。
	// go-oidcはスキームなしの "accounts.google.com" も同一発行者として扱う。
	GoogleIssuer = "https://accounts.google.com"
	// GoogleJWKSURL はGoogleの署名鍵セット。
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// GoogleConfig はGoogleフェデレーションの設定。
type GoogleConfig struct {
	// ClientID は期待するaudience。空の場合はフェデレーション未設定として扱う。
	ClientID string
	// HTTPClient は鍵セット取得に使うクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
	// テスト用にオーバーライド可能な値
	Issuer  string
	JWKSURL string
}

// GoogleVerifier はGoogleのIDトークンを検証する。
// 署名・発行者・audience・有効期限の検証はgo-oidcに委譲する。
type GoogleVerifier struct {
	clientID string
	verifier *oidc.IDTokenVerifier
}

// NewGoogleVerifier はリモート鍵セットを使うGoogleVerifierを生成する。
// ClientIDが空の場合も生成は成功し、Verifyが常にErrUnconfiguredを返す。
func NewGoogleVerifier(ctx context.Context, cfg GoogleConfig) *GoogleVerifier {
	if cfg.ClientID == "" {
		return &GoogleVerifier{}
	}
	if cfg.Issuer == "" {
		cfg.Issuer = GoogleIssuer
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = GoogleJWKSURL
	}
	if cfg.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, cfg.HTTPClient)
	}
	keySet := oidc.NewRemoteKeySet(ctx, cfg.JWKSURL)
	return NewGoogleVerifierWithKeySet(cfg.ClientID, cfg.Issuer, keySet)
}

// NewGoogleVerifierWithKeySet は任意の鍵セットでGoogleVerifierを生成する。
func NewGoogleVerifierWithKeySet(clientID, issuer string, keySet oidc.KeySet) *GoogleVerifier {
	if clientID == "" {
		return &GoogleVerifier{}
	}
	return &GoogleVerifier{
		clientID: clientID,
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID}),
	}
}

// Configured はaudienceが設定済みかを返す。
func (g *GoogleVerifier) Configured() bool {
	return g.verifier != nil
}

// googleClaims はGoogle IDトークンのうち利用するクレーム。
type googleClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Verify は生のIDトークンを検証し、検証済みプロフィールを返す。
// 未設定の場合はErrUnconfigured、検証失敗やemail欠落はErrInvalidExternalTokenを返す。
// 部分的に検証されたペイロードは返さない。
func (g *GoogleVerifier) Verify(ctx context.Context, rawIDToken string) (*model.ExternalProfile, error) {
	if !g.Configured() {
		return nil, fmt.Errorf("google client ID is not set: %w", model.ErrUnconfigured)
	}
	if strings.TrimSpace(rawIDToken) == "" {
		return nil, fmt.Errorf("empty id token: %w", model.ErrInvalidExternalToken)
	}

	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		slog.Warn("google id token verification failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("id token verification failed: %w", model.ErrInvalidExternalToken)
	}

	var claims googleClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse id token claims: %w", model.ErrInvalidExternalToken)
	}
	if strings.TrimSpace(claims.Email) == "" {
		return nil, fmt.Errorf("id token has no email: %w", model.ErrInvalidExternalToken)
	}

	return &model.ExternalProfile{
		Subject:       claims.Subject,
		Email:         claims.Email,
		Name:          claims.Name,
		Picture:       claims.Picture,
		EmailVerified: parseBoolClaim(claims.EmailVerified),
	}, nil
}

// parseBoolClaim はemail_verifiedの真偽値を解釈する。
// 一部の発行者は文字列 "true" を返す。
func parseBoolClaim(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true")
	default:
		return false
	}
}
