// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/minimalapi/internal/auth"
	"github.com/hitoshi/minimalapi/internal/middleware"
	"github.com/hitoshi/minimalapi/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Logout(ctx context.Context, tokenString string) error
	IsTokenValid(ctx context.Context, tokenString string) bool
	CurrentUser(ctx context.Context, userID string) (*model.UserSummary, error)
	ListTokens(ctx context.Context, userID string) ([]*model.TokenHistory, error)
}

// AuthHandler はトークン認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{
		service: service,
	}
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse はログイン成功時のレスポンス。
type loginResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
}

// validateResponse はトークン検証結果のレスポンス。
type validateResponse struct {
	Valid bool `json:"valid"`
}

// tokenHistoryResponse は台帳レコードのレスポンス。トークン文字列はマスクする。
type tokenHistoryResponse struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	IsValid   bool      `json:"is_valid"`
}

// Login はメールアドレスとパスワードでログインし、トークンを返す。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		TokenType: "Bearer",
		ExpiresAt: result.ExpiresAt.UTC(),
		UserID:    result.UserID,
	})
}

// Logout はAuthorizationヘッダーのトークンを失効させる。
// 有効期限切れのトークンでもログアウトできるよう、トークン検証ミドルウェアは通さない。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), middleware.BearerToken(r)); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Validate はAuthorizationヘッダーのトークンが有効かどうかを返す。常に200を返す。
// GET /api/auth/validate
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	valid := h.service.IsTokenValid(r.Context(), middleware.BearerToken(r))
	writeJSON(w, http.StatusOK, validateResponse{Valid: valid})
}

// Me は現在のログインユーザー情報を返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthenticated(w)
		return
	}

	summary, err := h.service.CurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// Tokens はログインユーザーのトークン台帳を新しい順に返す。
// GET /api/auth/tokens
func (h *AuthHandler) Tokens(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteUnauthenticated(w)
		return
	}

	histories, err := h.service.ListTokens(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]tokenHistoryResponse, len(histories))
	for i, history := range histories {
		resp[i] = tokenHistoryResponse{
			ID:        history.ID,
			Token:     maskToken(history.Token),
			CreatedAt: history.CreatedAt.UTC(),
			IsValid:   history.IsValid,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// maskToken はトークン文字列の先頭と末尾のみを残してマスクする。
func maskToken(tokenString string) string {
	const head, tail = 8, 4
	if len(tokenString) <= head+tail {
		return "***"
	}
	return tokenString[:head] + "..." + tokenString[len(tokenString)-tail:]
}
