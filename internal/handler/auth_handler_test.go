package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/minimalapi/internal/auth"
	"github.com/hitoshi/minimalapi/internal/middleware"
	"github.com/hitoshi/minimalapi/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	loginFn        func(ctx context.Context, email, password string) (*auth.LoginResult, error)
	logoutFn       func(ctx context.Context, tokenString string) error
	isTokenValidFn func(ctx context.Context, tokenString string) bool
	currentUserFn  func(ctx context.Context, userID string) (*model.UserSummary, error)
	listTokensFn   func(ctx context.Context, userID string) ([]*model.TokenHistory, error)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, tokenString string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, tokenString)
	}
	return nil
}

func (m *mockAuthService) IsTokenValid(ctx context.Context, tokenString string) bool {
	if m.isTokenValidFn != nil {
		return m.isTokenValidFn(ctx, tokenString)
	}
	return false
}

func (m *mockAuthService) CurrentUser(ctx context.Context, userID string) (*model.UserSummary, error) {
	if m.currentUserFn != nil {
		return m.currentUserFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockAuthService) ListTokens(ctx context.Context, userID string) ([]*model.TokenHistory, error) {
	if m.listTokensFn != nil {
		return m.listTokensFn(ctx, userID)
	}
	return nil, nil
}

// withUserID はテスト用にリクエストコンテキストへユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

func decodeErrorBody(t *testing.T, resp *http.Response) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

// --- POST /api/auth/login ---

func TestAuthHandler_Login_Success(t *testing.T) {
	expiresAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, email, password string) (*auth.LoginResult, error) {
			if email != "alice@example.com" || password != "p4ssw0rd!" {
				t.Errorf("Login(%q, %q)", email, password)
			}
			return &auth.LoginResult{Token: "signed.jwt.token", ExpiresAt: expiresAt, UserID: "user-1"}, nil
		},
	}
	h := NewAuthHandler(svc)

	body := `{"email":"alice@example.com","password":"p4ssw0rd!"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if got.Token != "signed.jwt.token" || got.TokenType != "Bearer" || got.UserID != "user-1" {
		t.Errorf("response = %+v", got)
	}
	if !got.ExpiresAt.Equal(expiresAt) {
		t.Errorf("expires_at = %v, want %v", got.ExpiresAt, expiresAt)
	}
}

func TestAuthHandler_Login_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{"不正なJSON", `{"email":`, nil, http.StatusBadRequest, model.ErrCodeInvalidArgument},
		{"空のボディ", ``, nil, http.StatusBadRequest, model.ErrCodeInvalidArgument},
		{"入力値不正", `{"email":"","password":"x"}`, model.NewInvalidArgumentError("email", "required"), http.StatusBadRequest, model.ErrCodeInvalidArgument},
		{"認証失敗", `{"email":"a@example.com","password":"bad"}`, model.NewUnauthenticatedError(), http.StatusUnauthorized, model.ErrCodeUnauthenticated},
		{"想定外エラー", `{"email":"a@example.com","password":"x"}`, model.NewOperationFailedError("ログイン処理に失敗しました。", errors.New("db down")), http.StatusInternalServerError, model.ErrCodeOperationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				loginFn: func(ctx context.Context, email, password string) (*auth.LoginResult, error) {
					return nil, tt.serviceErr
				},
			}
			h := NewAuthHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			h.Login(w, req)

			resp := w.Result()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			body := decodeErrorBody(t, resp)
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if strings.Contains(body.Message, "db down") {
				t.Error("internal cause must not be exposed")
			}
		})
	}
}

// --- POST /api/auth/logout ---

func TestAuthHandler_Logout_PassesBearerToken(t *testing.T) {
	var gotToken string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, tokenString string) error {
			gotToken = tokenString
			return nil
		},
	}
	h := NewAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer tok-123")
	w := httptest.NewRecorder()

	h.Logout(w, req)

	if w.Result().StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNoContent)
	}
	if gotToken != "tok-123" {
		t.Errorf("token = %q, want %q", gotToken, "tok-123")
	}
}

func TestAuthHandler_Logout_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"台帳にない", model.NewTokenNotFoundError(), http.StatusNotFound},
		{"トークンなし", model.NewInvalidArgumentError("token", "required"), http.StatusBadRequest},
		{"想定外エラー", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(&mockAuthService{
				logoutFn: func(ctx context.Context, tokenString string) error { return tt.err },
			})

			w := httptest.NewRecorder()
			h.Logout(w, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))

			if w.Result().StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, tt.wantStatus)
			}
		})
	}
}

// --- GET /api/auth/validate ---

func TestAuthHandler_Validate(t *testing.T) {
	for _, valid := range []bool{true, false} {
		h := NewAuthHandler(&mockAuthService{
			isTokenValidFn: func(ctx context.Context, tokenString string) bool {
				return valid && tokenString == "tok"
			},
		})

		req := httptest.NewRequest(http.MethodGet, "/api/auth/validate", nil)
		req.Header.Set("Authorization", "Bearer tok")
		w := httptest.NewRecorder()

		h.Validate(w, req)

		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		var got validateResponse
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if got.Valid != valid {
			t.Errorf("valid = %v, want %v", got.Valid, valid)
		}
	}
}

// --- GET /api/auth/me ---

func TestAuthHandler_Me_ReturnsCurrentUser(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{
		currentUserFn: func(ctx context.Context, userID string) (*model.UserSummary, error) {
			return &model.UserSummary{ID: userID, Email: "alice@example.com", Name: "Alice"}, nil
		},
	})

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), "user-1")
	w := httptest.NewRecorder()

	h.Me(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var got model.UserSummary
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if got.ID != "user-1" || got.Email != "alice@example.com" {
		t.Errorf("response = %+v", got)
	}
}

func TestAuthHandler_Me_NoUserID_ReturnsUnauthorized(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})

	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthHandler_Me_DeletedUser_ReturnsNotFound(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{
		currentUserFn: func(ctx context.Context, userID string) (*model.UserSummary, error) {
			return nil, model.NewUserNotFoundError()
		},
	})

	w := httptest.NewRecorder()
	h.Me(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), "gone"))

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusNotFound)
	}
}

// --- GET /api/auth/tokens ---

func TestAuthHandler_Tokens_MasksTokenStrings(t *testing.T) {
	fullToken := "eyJhbGciOiJIUzI1NiJ9.payload.signature-abcd"
	h := NewAuthHandler(&mockAuthService{
		listTokensFn: func(ctx context.Context, userID string) ([]*model.TokenHistory, error) {
			return []*model.TokenHistory{
				{ID: "h-1", UserID: userID, Token: fullToken, CreatedAt: time.Now(), IsValid: true},
				{ID: "h-2", UserID: userID, Token: "short", CreatedAt: time.Now(), IsValid: false},
			}, nil
		},
	})

	w := httptest.NewRecorder()
	h.Tokens(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/auth/tokens", nil), "user-1"))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var got []tokenHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Token == fullToken || got[0].Token != "eyJhbGci...abcd" {
		t.Errorf("masked token = %q", got[0].Token)
	}
	if got[1].Token != "***" || got[1].IsValid {
		t.Errorf("second entry = %+v", got[1])
	}
}

func TestAuthHandler_Tokens_Empty_ReturnsEmptyArray(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{})

	w := httptest.NewRecorder()
	h.Tokens(w, withUserID(httptest.NewRequest(http.MethodGet, "/api/auth/tokens", nil), "user-1"))

	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}
