package repository

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/minimalapi/internal/model"
)

// MemoryUserRepo はTableを使用したインメモリのユーザーリポジトリ。
// 開発用（STORE_DRIVER=memory）とテストで使用する。プロセス終了でデータは消える。
type MemoryUserRepo struct {
	table *Table[model.User]
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		table: NewTable(
			func(u model.User) string { return u.ID },
			func(u model.User) string { return strings.ToLower(u.Email) },
		),
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	u, ok := r.table.FindByID(id)
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	u, ok := r.table.First(func(u model.User) bool {
		return strings.EqualFold(u.Email, email)
	})
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// List は全ユーザーを作成日時の昇順で返す。
func (r *MemoryUserRepo) List(_ context.Context) ([]*model.User, error) {
	rows := r.table.All()
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
	users := make([]*model.User, 0, len(rows))
	for i := range rows {
		users = append(users, &rows[i])
	}
	return users, nil
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	return r.table.Add(*user)
}

// Update はユーザー情報を更新する。作成日時は既存の値を維持する。
func (r *MemoryUserRepo) Update(_ context.Context, user *model.User) error {
	existing, ok := r.table.FindByID(user.ID)
	if !ok {
		return ErrNotFound
	}
	updated := *user
	updated.CreatedAt = existing.CreatedAt
	return r.table.Update(updated)
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *MemoryUserRepo) DeleteByID(_ context.Context, id string) error {
	return r.table.Remove(id)
}

// PingContext はインメモリストアのため常に成功する。
func (r *MemoryUserRepo) PingContext(_ context.Context) error {
	return nil
}

// MemoryTokenHistoryRepo はTableを使用したインメモリのトークン台帳リポジトリ。
type MemoryTokenHistoryRepo struct {
	table *Table[model.TokenHistory]
}

// NewMemoryTokenHistoryRepo はMemoryTokenHistoryRepoを生成する。
func NewMemoryTokenHistoryRepo() *MemoryTokenHistoryRepo {
	return &MemoryTokenHistoryRepo{
		table: NewTable(
			func(h model.TokenHistory) string { return h.ID },
			func(h model.TokenHistory) string { return h.Token },
		),
	}
}

// Create は台帳レコードを追加する。
func (r *MemoryTokenHistoryRepo) Create(_ context.Context, history *model.TokenHistory) error {
	return r.table.Add(*history)
}

// FindByToken は有効フラグに関わらずトークンに一致するレコードを取得する。
func (r *MemoryTokenHistoryRepo) FindByToken(_ context.Context, token string) (*model.TokenHistory, error) {
	h, ok := r.table.First(func(h model.TokenHistory) bool { return h.Token == token })
	if !ok {
		return nil, nil
	}
	return &h, nil
}

// FindActiveByToken は有効なレコードのみを対象にトークンを検索する。
func (r *MemoryTokenHistoryRepo) FindActiveByToken(_ context.Context, token string) (*model.TokenHistory, error) {
	h, ok := r.table.First(func(h model.TokenHistory) bool { return h.IsValid && h.Token == token })
	if !ok {
		return nil, nil
	}
	return &h, nil
}

// Invalidate は有効なレコードのみを無効化する。
func (r *MemoryTokenHistoryRepo) Invalidate(_ context.Context, id string) (bool, error) {
	changed, err := r.table.Modify(id, flipInvalid)
	if err == ErrNotFound {
		return false, nil
	}
	return changed, err
}

// InvalidateByUserID は指定ユーザーの有効なレコードをすべて無効化する。
func (r *MemoryTokenHistoryRepo) InvalidateByUserID(_ context.Context, userID string) (int64, error) {
	n := r.table.ModifyWhere(func(h model.TokenHistory) bool { return h.UserID == userID }, flipInvalid)
	return n, nil
}

// ListByUserID は指定ユーザーのレコードを作成日時の降順で返す。
func (r *MemoryTokenHistoryRepo) ListByUserID(_ context.Context, userID string) ([]*model.TokenHistory, error) {
	var histories []*model.TokenHistory
	for _, h := range r.table.All() {
		if h.UserID == userID {
			h := h
			histories = append(histories, &h)
		}
	}
	sort.SliceStable(histories, func(i, j int) bool {
		return histories[i].CreatedAt.After(histories[j].CreatedAt)
	})
	return histories, nil
}

// DeleteCreatedBefore はcutoffより前に作成されたレコードを削除する。
func (r *MemoryTokenHistoryRepo) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	return r.table.RemoveWhere(func(h model.TokenHistory) bool {
		return h.CreatedAt.Before(cutoff)
	}), nil
}

func flipInvalid(h *model.TokenHistory) bool {
	if !h.IsValid {
		return false
	}
	h.IsValid = false
	return true
}

// compile-time interface check
var (
	_ UserRepository         = (*MemoryUserRepo)(nil)
	_ TokenHistoryRepository = (*MemoryTokenHistoryRepo)(nil)
)
