package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/minimalapi/internal/auth"
	"github.com/hitoshi/minimalapi/internal/config"
	"github.com/hitoshi/minimalapi/internal/database"
	"github.com/hitoshi/minimalapi/internal/handler"
	"github.com/hitoshi/minimalapi/internal/ledger"
	"github.com/hitoshi/minimalapi/internal/logger"
	"github.com/hitoshi/minimalapi/internal/metrics"
	"github.com/hitoshi/minimalapi/internal/middleware"
	"github.com/hitoshi/minimalapi/internal/security"
	"github.com/hitoshi/minimalapi/internal/token"
	"github.com/hitoshi/minimalapi/internal/user"
	"github.com/hitoshi/minimalapi/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.LogLevel)

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
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// application はserveモードで組み立てた依存関係を保持する。
type application struct {
	handler     http.Handler
	users       *user.Service
	collector   *metrics.Collector
	rateLimiter *middleware.RateLimiter
}

// newApplication はストアの上にサービス群とルーターを組み立てる。
func newApplication(cfg *config.Config, st *store, reg *prometheus.Registry) (*application, error) {
	// 1. メトリクス
	collector := metrics.NewCollector(reg)

	// 2. ドメインサービスの初期化
	issuer, err := token.NewIssuer(token.Config{
		Secret: []byte(cfg.JWTSecretKey),
		TTL:    cfg.TokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	tokenLedger := ledger.New(st.histories)
	userService := user.NewService(st.users, tokenLedger, security.NewTextSanitizer(), cfg.BcryptCost)
	authService := auth.NewService(userService, issuer, tokenLedger, collector)

	// 3. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitLogin))

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		HTTPRecorder:      collector,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Authenticator:     authService,
		HealthChecker:     st.pinger,
		MetricsHandler:    metrics.Handler(reg),
		AuthService:       authService,
		UserService:       userService,
	}

	return &application{
		handler:     handler.NewRouter(deps),
		users:       userService,
		collector:   collector,
		rateLimiter: rateLimiter,
	}, nil
}

// newRegistry はプロセス・ランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// bootstrapAdmin は設定された管理ユーザーが存在しない場合に作成する。
func bootstrapAdmin(ctx context.Context, cfg *config.Config, users *user.Service) error {
	if !cfg.HasBootstrapAdmin() {
		return nil
	}

	created, err := users.EnsureUser(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminPassword, cfg.BootstrapAdminName)
	if err != nil {
		return fmt.Errorf("failed to bootstrap admin user: %w", err)
	}
	if created {
		slog.Info("bootstrap admin user created", slog.String("email", cfg.BootstrapAdminEmail))
	}
	return nil
}

// runServe はAPIサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. ストア
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// 2. サービスとルーター
	app, err := newApplication(cfg, st, newRegistry())
	if err != nil {
		return err
	}
	defer app.rateLimiter.Stop()

	if err := bootstrapAdmin(ctx, cfg, app.users); err != nil {
		return err
	}

	// インメモリストアは別プロセスのワーカーと共有できないため、同一プロセスでクリーンアップする
	if cfg.StoreDriver == config.DriverMemory && cfg.TokenHistoryRetentionDays > 0 {
		job := cleanup.NewCleanupJob(st.histories, slog.Default(), app.collector, cfg.TokenHistoryRetention())
		go job.Start(ctx, cfg.CleanupInterval)
	}

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// ストアを開き、台帳の保持期間クリーンアップを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.StoreDriver == config.DriverMemory {
		return fmt.Errorf("worker requires a persistent store; STORE_DRIVER=%s", cfg.StoreDriver)
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	collector := metrics.NewCollector(prometheus.NewRegistry())
	job := cleanup.NewCleanupJob(st.histories, slog.Default(), collector, cfg.TokenHistoryRetention())

	if cfg.TokenHistoryRetentionDays == 0 {
		slog.Info("token history retention is disabled; worker is idle")
	}

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", cfg.TokenHistoryRetentionDays),
	)

	// クリーンアップジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
// PostgreSQL以外のドライバーは起動時にスキーマを作成するため何もしない。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreDriver != config.DriverPostgres {
		slog.Info("migrations are only required for postgres; nothing to do",
			slog.String("store_driver", cfg.StoreDriver),
		)
		return nil
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
