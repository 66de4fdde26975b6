package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authd/internal/auth"
	"github.com/hitoshi/authd/internal/config"
	"github.com/hitoshi/authd/internal/database"
	"github.com/hitoshi/authd/internal/federation"
	"github.com/hitoshi/authd/internal/handler"
	"github.com/hitoshi/authd/internal/logger"
	"github.com/hitoshi/authd/internal/metrics"
	"github.com/hitoshi/authd/internal/password"
	"github.com/hitoshi/authd/internal/repository"
	"github.com/hitoshi/authd/internal/security"
	"github.com/hitoshi/authd/internal/token"
)

// providerTimeout はGoogleへの外部通信（鍵セット取得・コード交換）のタイムアウト。
const providerTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを差し替える
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	logger.SetupDefault(w, level)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("database_driver", cfg.DatabaseDriver),
		slog.String("env", cfg.Env),
	)

	ctx := context.Background()
	switch cmd {
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	case CommandMigrateStatus:
		return runMigrateStatus(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openStore は設定に従ってデータベース接続を開き、疎通を確認する。
func openStore(ctx context.Context, cfg *config.Config) (*sql.DB, database.Dialect, error) {
	dialect, err := database.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return nil, "", err
	}

	db, err := database.Open(dialect, cfg.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", database.MaskURL(cfg.DatabaseURL)),
	)
	return db, dialect, nil
}

// newRunner はMIGRATIONS_DIRまたは埋め込みスクリプトを使うRunnerを生成する。
func newRunner(db *sql.DB, dialect database.Dialect, cfg *config.Config) (*database.Runner, error) {
	scripts, err := database.Scripts(dialect, cfg.MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load migration scripts: %w", err)
	}
	return database.NewRunner(db, dialect, scripts), nil
}

// migrate は未適用のスクリプトを適用し、適用件数をメトリクスに記録する。
func migrate(ctx context.Context, db *sql.DB, dialect database.Dialect, cfg *config.Config, collector metrics.MetricsCollector) error {
	runner, err := newRunner(db, dialect, cfg)
	if err != nil {
		return err
	}

	applied, err := runner.Run(ctx)
	collector.RecordMigrationsApplied(len(applied))
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed",
		slog.Int("applied", len(applied)),
	)
	return nil
}

// NewHandler は全依存関係をワイヤリングしたHTTPハンドラーを返す。
// collectorとgathererがnilの場合はメトリクスを記録・公開しない。
func NewHandler(cfg *config.Config, db *sql.DB, dialect database.Dialect, collector metrics.MetricsCollector, gatherer prometheus.Gatherer) (http.Handler, error) {
	if collector == nil {
		collector = metrics.Nop{}
	}

	// 1. セッショントークン
	tokens, err := token.NewService(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}

	// 2. リポジトリの初期化
	identityRepo := repository.NewSQLIdentityRepo(db, dialect)
	activityRepo := repository.NewSQLActivityRepo(db, dialect)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	providerClient := ssrfGuard.NewSafeClient(providerTimeout)

	// 4. Googleフェデレーション
	verifier := federation.NewGoogleVerifier(context.Background(), federation.GoogleConfig{
		ClientID:   cfg.GoogleClientID,
		HTTPClient: providerClient,
	})
	if !verifier.Configured() {
		slog.Warn("google sign-in is not configured")
	}

	// 未設定のままインターフェースに*CodeFlow(nil)を入れないよう分岐する
	var codeFlow handler.CodeFlowInterface
	if cfg.GoogleCodeFlowEnabled() {
		codeFlow = federation.NewCodeFlow(federation.CodeFlowConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			HTTPClient:   providerClient,
		})
	}

	// 5. ドメインサービスの初期化
	authService := auth.NewService(auth.Deps{
		Identities: identityRepo,
		Activities: activityRepo,
		Hasher:     password.NewHasher(cfg.BcryptCost),
		Tokens:     tokens,
		Federation: verifier,
		Names:      security.NewNameSanitizer(),
		Avatars:    ssrfGuard,
		Metrics:    collector,
		Policy: password.Policy{
			MinLength:    cfg.PasswordMinLength,
			RequireMixed: cfg.PasswordRequireMixed,
		},
	})

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		SessionVerifier:   tokens,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Logger:            slog.Default(),
		Metrics:           collector,

		AuthService: authService,
		CodeFlow:    codeFlow,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: int(token.Validity / time.Second),
		},

		Env: cfg.Env,
	}
	if gatherer != nil {
		deps.MetricsHandler = metrics.Handler(gatherer)
	}

	return handler.NewRouter(deps), nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、AUTO_MIGRATEが有効ならマイグレーションを適用してから、HTTPサーバーを起動する。
// マイグレーションが失敗した場合はサーバーを起動しない。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, dialect, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. マイグレーション
	if cfg.AutoMigrate {
		if err := migrate(ctx, db, dialect, cfg, collector); err != nil {
			return err
		}
	}

	// 4. ハンドラーの構築
	router, err := NewHandler(cfg, db, dialect, collector, registry)
	if err != nil {
		return err
	}

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションをファイル名順に適用する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	db, dialect, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return migrate(ctx, db, dialect, cfg, metrics.Nop{})
}

// runMigrateStatus は各スクリプトの適用状況をログに出力する。
func runMigrateStatus(ctx context.Context, cfg *config.Config) error {
	db, dialect, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	runner, err := newRunner(db, dialect, cfg)
	if err != nil {
		return err
	}

	statuses, err := runner.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}

	pending := 0
	for _, s := range statuses {
		attrs := []any{
			slog.String("filename", s.Filename),
			slog.Bool("applied", s.Applied),
		}
		if s.AppliedAt != nil {
			attrs = append(attrs, slog.Time("applied_at", *s.AppliedAt))
		}
		if !s.Applied {
			pending++
		}
		slog.Info("migration status", attrs...)
	}

	slog.Info("migration status summary",
		slog.Int("total", len(statuses)),
		slog.Int("pending", pending),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /api/health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/api/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
