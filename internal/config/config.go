package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string `env:"DATABASE_URL,required,notEmpty"`
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	MigrationsDir  string `env:"MIGRATIONS_DIR"`
	AutoMigrate    bool   `env:"AUTO_MIGRATE" envDefault:"true"`

	// Session
	JWTSecret string `env:"JWT_SECRET,required,notEmpty"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	// Password
	BcryptCost           int  `env:"BCRYPT_COST" envDefault:"10"`
	PasswordMinLength    int  `env:"PASSWORD_MIN_LENGTH" envDefault:"0"`
	PasswordRequireMixed bool `env:"PASSWORD_REQUIRE_MIXED" envDefault:"false"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL"`
	Env        string `env:"APP_ENV" envDefault:"development"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"`
}

// GoogleCodeFlowEnabled はサーバー側の認可コードフローに必要な値が揃っているかを返す。
func (c *Config) GoogleCodeFlowEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	switch strings.ToLower(cfg.DatabaseDriver) {
	case "postgres", "postgresql", "sqlite", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER: %q", cfg.DatabaseDriver)
	}
	if cfg.PasswordMinLength < 0 {
		return nil, fmt.Errorf("PASSWORD_MIN_LENGTH must not be negative: %d", cfg.PasswordMinLength)
	}

	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return &cfg, nil
}
