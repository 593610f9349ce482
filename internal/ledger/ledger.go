// Package ledger は発行済みトークンの台帳を管理する。
// 台帳の有効フラグがトークン失効リストとして機能する。
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/minimalapi/internal/model"
	"github.com/hitoshi/minimalapi/internal/repository"
)

// Ledger はトークン台帳の操作を提供する。
type Ledger struct {
	repo repository.TokenHistoryRepository
	now  func() time.Time
}

// New はLedgerを生成する。
func New(repo repository.TokenHistoryRepository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Record は発行したトークンを有効な状態で台帳に記録する。
func (l *Ledger) Record(ctx context.Context, userID, token string) (*model.TokenHistory, error) {
	history := &model.TokenHistory{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		CreatedAt: l.now().UTC(),
		IsValid:   true,
	}
	if err := l.repo.Create(ctx, history); err != nil {
		return nil, fmt.Errorf("failed to record token: %w", err)
	}
	return history, nil
}

// FindActiveByToken は有効なレコードを完全一致で検索する。見つからない場合はnilを返す。
func (l *Ledger) FindActiveByToken(ctx context.Context, token string) (*model.TokenHistory, error) {
	history, err := l.repo.FindActiveByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find active token: %w", err)
	}
	return history, nil
}

// FindByToken は有効フラグに関わらずレコードを完全一致で検索する。見つからない場合はnilを返す。
func (l *Ledger) FindByToken(ctx context.Context, token string) (*model.TokenHistory, error) {
	history, err := l.repo.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find token: %w", err)
	}
	return history, nil
}

// Invalidate はレコードを無効化する。既に無効な場合は何もしない。
// 同時に無効化された場合も結果は同じになる。
func (l *Ledger) Invalidate(ctx context.Context, history *model.TokenHistory) error {
	if history == nil || !history.IsValid {
		return nil
	}
	if _, err := l.repo.Invalidate(ctx, history.ID); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}
	history.IsValid = false
	return nil
}

// RevokeAllForUser は指定ユーザーの有効なトークンをすべて無効化し、件数を返す。
func (l *Ledger) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	n, err := l.repo.InvalidateByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user tokens: %w", err)
	}
	return n, nil
}

// ListByUser は指定ユーザーの台帳レコードを新しい順に返す。
func (l *Ledger) ListByUser(ctx context.Context, userID string) ([]*model.TokenHistory, error) {
	histories, err := l.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	return histories, nil
}
