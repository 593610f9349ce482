package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/minimalapi/internal/database"
	"github.com/hitoshi/minimalapi/internal/model"
)

// backend はリポジトリ実装の組。同じ振る舞いをバックエンドごとに検証する。
type backend struct {
	name string
	open func(t *testing.T) (UserRepository, TokenHistoryRepository)
}

func backends() []backend {
	return []backend{
		{
			name: "memory",
			open: func(t *testing.T) (UserRepository, TokenHistoryRepository) {
				return NewMemoryUserRepo(), NewMemoryTokenHistoryRepo()
			},
		},
		{
			name: "sqlite",
			open: func(t *testing.T) (UserRepository, TokenHistoryRepository) {
				db, err := database.OpenSQLite(context.Background(), ":memory:")
				require.NoError(t, err)
				t.Cleanup(func() { db.Close() })
				return NewSQLiteUserRepo(db), NewSQLiteTokenHistoryRepo(db)
			},
		},
	}
}

func testUser(id, email string, createdAt time.Time) *model.User {
	return &model.User{
		ID:           id,
		Email:        email,
		PasswordHash: "hash",
		Name:         "name-" + id,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func TestUserRepository_Contract(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			users, _ := b.open(t)

			require.NoError(t, users.Create(ctx, testUser("u-1", "alice@example.com", base)))
			require.NoError(t, users.Create(ctx, testUser("u-2", "bob@example.com", base.Add(time.Minute))))

			// メールアドレスの重複は大文字小文字を区別しない
			err := users.Create(ctx, testUser("u-3", "ALICE@example.com", base))
			assert.ErrorIs(t, err, ErrDuplicate)

			got, err := users.FindByEmail(ctx, "Alice@Example.com")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "u-1", got.ID)

			missing, err := users.FindByEmail(ctx, "alice")
			require.NoError(t, err)
			assert.Nil(t, missing, "部分一致では見つからない")

			list, err := users.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "u-1", list[0].ID)

			updated := testUser("u-2", "bobby@example.com", base)
			updated.Name = "Bobby"
			updated.UpdatedAt = base.Add(time.Hour)
			require.NoError(t, users.Update(ctx, updated))
			got, err = users.FindByID(ctx, "u-2")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "Bobby", got.Name)
			assert.Equal(t, "bobby@example.com", got.Email)

			assert.ErrorIs(t, users.Update(ctx, testUser("u-9", "x@example.com", base)), ErrNotFound)
			assert.ErrorIs(t, users.Update(ctx, testUser("u-2", "alice@example.com", base)), ErrDuplicate)

			require.NoError(t, users.DeleteByID(ctx, "u-1"))
			assert.ErrorIs(t, users.DeleteByID(ctx, "u-1"), ErrNotFound)
			got, err = users.FindByID(ctx, "u-1")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestTokenHistoryRepository_Contract(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			_, histories := b.open(t)

			records := []*model.TokenHistory{
				{ID: "h-1", UserID: "u-1", Token: "tok-1", CreatedAt: base, IsValid: true},
				{ID: "h-2", UserID: "u-1", Token: "tok-2", CreatedAt: base.Add(time.Minute), IsValid: true},
				{ID: "h-3", UserID: "u-2", Token: "tok-3", CreatedAt: base.Add(2 * time.Minute), IsValid: true},
			}
			for _, r := range records {
				require.NoError(t, histories.Create(ctx, r))
			}
			assert.ErrorIs(t, histories.Create(ctx, &model.TokenHistory{ID: "h-4", UserID: "u-1", Token: "tok-1", CreatedAt: base, IsValid: true}), ErrDuplicate)

			active, err := histories.FindActiveByToken(ctx, "tok-1")
			require.NoError(t, err)
			require.NotNil(t, active)
			assert.Equal(t, "h-1", active.ID)

			none, err := histories.FindActiveByToken(ctx, "tok")
			require.NoError(t, err)
			assert.Nil(t, none, "部分一致では見つからない")

			changed, err := histories.Invalidate(ctx, "h-1")
			require.NoError(t, err)
			assert.True(t, changed)

			changed, err = histories.Invalidate(ctx, "h-1")
			require.NoError(t, err)
			assert.False(t, changed, "2回目の無効化は何もしない")

			active, err = histories.FindActiveByToken(ctx, "tok-1")
			require.NoError(t, err)
			assert.Nil(t, active)

			found, err := histories.FindByToken(ctx, "tok-1")
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.False(t, found.IsValid)

			n, err := histories.InvalidateByUserID(ctx, "u-1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			list, err := histories.ListByUserID(ctx, "u-1")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "h-2", list[0].ID, "新しい順")

			deleted, err := histories.DeleteCreatedBefore(ctx, base.Add(90*time.Second))
			require.NoError(t, err)
			assert.Equal(t, int64(2), deleted)

			remaining, err := histories.FindByToken(ctx, "tok-3")
			require.NoError(t, err)
			require.NotNil(t, remaining)
			assert.True(t, remaining.IsValid)
		})
	}
}

// 作成日時とcutoffのタイムゾーンが異なっても時刻として比較される。
func TestTokenHistoryRepository_DeleteCreatedBefore_MixedZones(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			_, histories := b.open(t)

			require.NoError(t, histories.Create(ctx, &model.TokenHistory{
				ID: "h-utc", UserID: "u-1", Token: "tok-utc", CreatedAt: now.Add(-2 * time.Hour), IsValid: true,
			}))
			require.NoError(t, histories.Create(ctx, &model.TokenHistory{
				ID: "h-jst", UserID: "u-1", Token: "tok-jst", CreatedAt: now.Add(-3 * time.Hour).In(jst), IsValid: true,
			}))

			deleted, err := histories.DeleteCreatedBefore(ctx, now.Add(-5*time.Hour).In(jst))
			require.NoError(t, err)
			assert.Equal(t, int64(0), deleted, "5時間より新しいレコードは残る")

			deleted, err = histories.DeleteCreatedBefore(ctx, now.Add(-150*time.Minute).In(jst))
			require.NoError(t, err)
			assert.Equal(t, int64(1), deleted, "3時間前のレコードのみ削除")

			remaining, err := histories.FindByToken(ctx, "tok-utc")
			require.NoError(t, err)
			assert.NotNil(t, remaining)
		})
	}
}
