// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/minimalapi/internal/model"
	"github.com/hitoshi/minimalapi/internal/repository"
	"github.com/hitoshi/minimalapi/internal/security"
)

// TokenRevoker はユーザー単位のトークン失効インターフェース。
type TokenRevoker interface {
	RevokeAllForUser(ctx context.Context, userID string) (int64, error)
}

// AddUserInput はユーザー作成の入力。
type AddUserInput struct {
	Email    string
	Password string
	Name     string
}

// UpdateUserInput はユーザー更新の入力。Passwordが空の場合はパスワードを変更しない。
type UpdateUserInput struct {
	ID       string
	Email    string
	Name     string
	Password string
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo   repository.UserRepository
	revoker    TokenRevoker
	sanitizer  security.TextSanitizer
	bcryptCost int
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// bcryptCostが範囲外の場合はbcrypt.DefaultCostを使用する。
func NewService(
	userRepo repository.UserRepository,
	revoker TokenRevoker,
	sanitizer security.TextSanitizer,
	bcryptCost int,
) *Service {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &Service{
		userRepo:   userRepo,
		revoker:    revoker,
		sanitizer:  sanitizer,
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

// List は全ユーザーの公開情報を返す。
func (s *Service) List(ctx context.Context) ([]model.UserSummary, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, model.NewOperationFailedError("ユーザー一覧の取得に失敗しました。", err)
	}
	summaries := make([]model.UserSummary, 0, len(users))
	for _, u := range users {
		summaries = append(summaries, u.Summary())
	}
	return summaries, nil
}

// GetByID は指定IDのユーザーの公開情報を返す。
func (s *Service) GetByID(ctx context.Context, id string) (*model.UserSummary, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	user, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := user.Summary()
	return &summary, nil
}

// GetByEmail はメールアドレスでユーザーを取得する。認証処理で使用する。
// 見つからない場合はNotFoundエラーを返す。
func (s *Service) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	if strings.TrimSpace(email) == "" {
		return nil, model.NewInvalidArgumentError("email", "required")
	}
	user, err := s.userRepo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, model.NewOperationFailedError("ユーザーの取得に失敗しました。", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// VerifyPassword はパスワードがユーザーのハッシュと一致するかを返す。
func (s *Service) VerifyPassword(user *model.User, password string) bool {
	if user == nil || user.PasswordHash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}

// Add はユーザーを作成する。
func (s *Service) Add(ctx context.Context, input AddUserInput) (*model.UserSummary, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	name := s.sanitizer.Sanitize(input.Name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, err
	}

	hash, err := s.hashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateEmailError(email)
		}
		return nil, model.NewOperationFailedError("ユーザーの作成に失敗しました。", err)
	}

	slog.Info("ユーザーを作成しました", slog.String("user_id", user.ID))

	summary := user.Summary()
	return &summary, nil
}

// Update はユーザー情報を更新する。
func (s *Service) Update(ctx context.Context, input UpdateUserInput) (*model.UserSummary, error) {
	if err := validateID(input.ID); err != nil {
		return nil, err
	}
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	name := s.sanitizer.Sanitize(input.Name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if input.Password != "" {
		if err := validatePassword(input.Password); err != nil {
			return nil, err
		}
	}

	user, err := s.findByID(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	user.Email = email
	user.Name = name
	if input.Password != "" {
		hash, err := s.hashPassword(input.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}
	user.UpdatedAt = s.now().UTC()

	if err := s.userRepo.Update(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicate):
			return nil, model.NewDuplicateEmailError(email)
		case errors.Is(err, repository.ErrNotFound):
			return nil, model.NewUserNotFoundError()
		}
		return nil, model.NewOperationFailedError("ユーザーの更新に失敗しました。", err)
	}

	summary := user.Summary()
	return &summary, nil
}

// Delete はユーザーを削除する。
// 削除前にユーザーの有効なトークンをすべて失効させる。台帳レコード自体は残す。
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if _, err := s.findByID(ctx, id); err != nil {
		return err
	}

	// 失効を先に行う。削除が失敗した場合もトークンは失効したままとなる。
	if s.revoker != nil {
		revoked, err := s.revoker.RevokeAllForUser(ctx, id)
		if err != nil {
			return model.NewOperationFailedError("トークンの失効に失敗しました。", err)
		}
		slog.Info("ユーザーのトークンを失効しました",
			slog.String("user_id", id),
			slog.Int64("revoked", revoked),
		)
	}

	if err := s.userRepo.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewUserNotFoundError()
		}
		return model.NewOperationFailedError("ユーザーの削除に失敗しました。", err)
	}

	slog.Info("ユーザーを削除しました", slog.String("user_id", id))
	return nil
}

// EnsureUser は指定メールアドレスのユーザーが存在しない場合のみ作成する。
// 起動時の初期管理者作成で使用する。作成した場合はtrueを返す。
func (s *Service) EnsureUser(ctx context.Context, email, password, name string) (bool, error) {
	existing, err := s.GetByEmail(ctx, email)
	if err != nil && !model.IsCode(err, model.ErrCodeNotFound) {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	if _, err := s.Add(ctx, AddUserInput{Email: email, Password: password, Name: name}); err != nil {
		// 同時起動した別プロセスが先に作成した場合
		if model.IsCode(err, model.ErrCodeConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Service) findByID(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewOperationFailedError("ユーザーの取得に失敗しました。", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", model.NewOperationFailedError("パスワードの処理に失敗しました。", err)
	}
	return string(hash), nil
}
