package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/minimalapi/internal/auth"
	"github.com/hitoshi/minimalapi/internal/metrics"
	"github.com/hitoshi/minimalapi/internal/middleware"
	"github.com/hitoshi/minimalapi/internal/repository"
	"github.com/hitoshi/minimalapi/internal/user"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	HTTPRecorder      metrics.HTTPRecorder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Authenticator     middleware.TokenAuthenticator

	// ヘルスチェック・メトリクス
	HealthChecker  repository.Pinger
	MetricsHandler http.Handler

	// サービス
	AuthService AuthServiceInterface
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → (ルート別) RateLimit / TokenAuth
//
// ログイン・ログアウト・検証はトークン認証ミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/auth", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
		} else {
			r.Post("/login", authHandler.Login)
		}
		r.Post("/logout", authHandler.Logout)
		r.Get("/validate", authHandler.Validate)

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewTokenAuthMiddleware(deps.Authenticator))
			r.Get("/me", authHandler.Me)
			r.Get("/tokens", authHandler.Tokens)
		})
	})

	r.Route("/api/users", func(r chi.Router) {
		r.Use(middleware.NewTokenAuthMiddleware(deps.Authenticator))

		r.Get("/list", userHandler.List)
		r.Post("/add", userHandler.Add)
		r.Put("/update", userHandler.Update)
		r.Get("/{id}", userHandler.Get)
		r.Delete("/{id}", userHandler.Delete)
	})

	return r
}

// --- compile-time interface checks ---

var _ AuthServiceInterface = (*auth.Service)(nil)
var _ UserServiceInterface = (*user.Service)(nil)
var _ middleware.TokenAuthenticator = (*auth.Service)(nil)
