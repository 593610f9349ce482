// Package auth はログイン・ログアウトとトークン検証を提供する。
// トークンは署名と有効期限の検証に加え、台帳上で有効な場合のみ受け付ける。
package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/minimalapi/internal/metrics"
	"github.com/hitoshi/minimalapi/internal/model"
	"github.com/hitoshi/minimalapi/internal/token"
)

// UserLookup は認証に必要なユーザー操作のインターフェース。
type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.UserSummary, error)
	VerifyPassword(user *model.User, password string) bool
}

// TokenIssuer はトークンの発行と検証のインターフェース。
type TokenIssuer interface {
	IssueWithExpiry(user *model.User) (string, time.Time, error)
	Parse(tokenString string) (*token.Claims, error)
}

// TokenLedger はトークン台帳のインターフェース。
type TokenLedger interface {
	Record(ctx context.Context, userID, token string) (*model.TokenHistory, error)
	FindActiveByToken(ctx context.Context, token string) (*model.TokenHistory, error)
	FindByToken(ctx context.Context, token string) (*model.TokenHistory, error)
	Invalidate(ctx context.Context, history *model.TokenHistory) error
	ListByUser(ctx context.Context, userID string) ([]*model.TokenHistory, error)
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	UserID    string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users    UserLookup
	issuer   TokenIssuer
	ledger   TokenLedger
	recorder metrics.AuthRecorder
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(users UserLookup, issuer TokenIssuer, ledger TokenLedger, recorder metrics.AuthRecorder) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		users:    users,
		issuer:   issuer,
		ledger:   ledger,
		recorder: recorder,
	}
}

// Login は資格情報を検証してトークンを発行する。
// 発行したトークンは返却前に台帳へ1回だけ記録する。
// メールアドレス未登録とパスワード不一致は同じエラーを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, model.NewInvalidArgumentError("email", "required")
	}
	// パスワードは登録時と同じく空文字列のみを欠落とみなす。空白も有効な文字。
	if password == "" {
		return nil, model.NewInvalidArgumentError("password", "required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if model.IsCode(err, model.ErrCodeNotFound) {
			s.recorder.RecordLogin(metrics.ResultFailure)
			slog.Info("ログインに失敗しました", slog.String("reason", "unknown_email"))
			return nil, model.NewUnauthenticatedError()
		}
		s.recorder.RecordLogin(metrics.ResultError)
		return nil, s.operationFailed("ログイン処理に失敗しました。", err)
	}

	if !s.users.VerifyPassword(user, password) {
		s.recorder.RecordLogin(metrics.ResultFailure)
		slog.Info("ログインに失敗しました",
			slog.String("user_id", user.ID),
			slog.String("reason", "password_mismatch"),
		)
		return nil, model.NewUnauthenticatedError()
	}

	signed, expiresAt, err := s.issuer.IssueWithExpiry(user)
	if err != nil {
		s.recorder.RecordLogin(metrics.ResultError)
		return nil, s.operationFailed("トークンの発行に失敗しました。", err)
	}

	if _, err := s.ledger.Record(ctx, user.ID, signed); err != nil {
		s.recorder.RecordLogin(metrics.ResultError)
		return nil, s.operationFailed("トークンの記録に失敗しました。", err)
	}

	s.recorder.RecordLogin(metrics.ResultSuccess)
	slog.Info("ログインしました", slog.String("user_id", user.ID))

	return &LoginResult{
		Token:     signed,
		ExpiresAt: expiresAt,
		UserID:    user.ID,
	}, nil
}

// Logout はトークンを失効させる。
// 台帳にないトークンはNotFound、既に失効済みのトークンは何もせず成功とする。
// 署名や有効期限は検証しない。
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	if strings.TrimSpace(tokenString) == "" {
		return model.NewInvalidArgumentError("token", "required")
	}

	history, err := s.ledger.FindByToken(ctx, tokenString)
	if err != nil {
		s.recorder.RecordLogout(metrics.ResultError)
		return s.operationFailed("ログアウト処理に失敗しました。", err)
	}
	if history == nil {
		s.recorder.RecordLogout(metrics.ResultFailure)
		return model.NewTokenNotFoundError()
	}

	if err := s.ledger.Invalidate(ctx, history); err != nil {
		s.recorder.RecordLogout(metrics.ResultError)
		return s.operationFailed("ログアウト処理に失敗しました。", err)
	}

	s.recorder.RecordLogout(metrics.ResultSuccess)
	slog.Info("ログアウトしました", slog.String("user_id", history.UserID))
	return nil
}

// IsTokenValid はトークンが有効かどうかを返す。エラーはすべてfalseとして扱う。
func (s *Service) IsTokenValid(ctx context.Context, tokenString string) bool {
	_, ok := s.Authenticate(ctx, tokenString)
	return ok
}

// Authenticate はトークンを検証し、有効な場合はクレームを返す。
// 署名・有効期限の検証と台帳の確認の両方に通った場合のみ有効とする。
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*token.Claims, bool) {
	claims, ok := s.authenticate(ctx, tokenString)
	s.recorder.RecordTokenValidation(ok)
	return claims, ok
}

func (s *Service) authenticate(ctx context.Context, tokenString string) (*token.Claims, bool) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, false
	}

	claims, err := s.issuer.Parse(tokenString)
	if err != nil {
		slog.Debug("トークンの検証に失敗しました", slog.String("error", err.Error()))
		return nil, false
	}

	history, err := s.ledger.FindActiveByToken(ctx, tokenString)
	if err != nil {
		slog.Warn("トークン台帳の参照に失敗しました", slog.String("error", err.Error()))
		return nil, false
	}
	if history == nil || history.UserID != claims.UserID() {
		return nil, false
	}

	return claims, true
}

// CurrentUser は認証済みユーザーの公開情報を返す。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.UserSummary, error) {
	return s.users.GetByID(ctx, userID)
}

// ListTokens はユーザーの台帳レコードを新しい順に返す。
func (s *Service) ListTokens(ctx context.Context, userID string) ([]*model.TokenHistory, error) {
	histories, err := s.ledger.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.operationFailed("トークン履歴の取得に失敗しました。", err)
	}
	return histories, nil
}

// operationFailed は想定外のエラーをログに記録してOperationFailedとして返す。
// 既にAPIErrorの場合はそのまま返す。
func (s *Service) operationFailed(message string, err error) error {
	slog.Error(message, slog.String("error", err.Error()))
	if model.IsCode(err, model.ErrCodeOperationFailed) {
		return err
	}
	return model.NewOperationFailedError(message, err)
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string)         {}
func (nopRecorder) RecordLogout(string)        {}
func (nopRecorder) RecordTokenValidation(bool) {}
