package federation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

const (
	defaultGoogleAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL = "https://oauth2.googleapis.com/token"
)

// CodeFlowConfig はサーバー側の認可コードフローの設定。
type CodeFlowConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// HTTPClient はトークン交換に使うクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
}

// CodeFlow はGoogle OAuth 2.0の認可コードを交換し、IDトークンを取り出す。
// 取り出したIDトークンの検証はGoogleVerifierが行う。
type CodeFlow struct {
	conf       *oauth2.Config
	httpClient *http.Client
}

// NewCodeFlow はCodeFlowを生成する。必須項目が欠けている場合はnilを返す。
func NewCodeFlow(cfg CodeFlowConfig) *CodeFlow {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURL == "" {
		return nil
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultGoogleAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultGoogleTokenURL
	}
	return &CodeFlow{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			Scopes: []string{"openid", "email", "profile"},
		},
		httpClient: cfg.HTTPClient,
	}
}

// LoginURL はstateを含むGoogleの認可URLを生成する。
func (f *CodeFlow) LoginURL(state string) string {
	return f.conf.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// ExchangeCode は認可コードをトークンに交換し、生のIDトークンを返す。
func (f *CodeFlow) ExchangeCode(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", errors.New("authorization code is required")
	}
	if f.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	}

	tok, err := f.conf.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return "", errors.New("token response has no id_token")
	}
	return rawIDToken, nil
}
