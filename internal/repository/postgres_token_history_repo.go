package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/minimalapi/internal/model"
)

// PostgresTokenHistoryRepo はPostgreSQLを使用したトークン台帳リポジトリ。
type PostgresTokenHistoryRepo struct {
	db *sql.DB
}

// NewPostgresTokenHistoryRepo はPostgresTokenHistoryRepoを生成する。
func NewPostgresTokenHistoryRepo(db *sql.DB) *PostgresTokenHistoryRepo {
	return &PostgresTokenHistoryRepo{db: db}
}

const postgresTokenHistoryColumns = `id, user_id, token, created_at, is_valid`

// Create は台帳レコードを追加する。
func (r *PostgresTokenHistoryRepo) Create(ctx context.Context, history *model.TokenHistory) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO token_histories (id, user_id, token, created_at, is_valid)
		 VALUES ($1, $2, $3, $4, $5)`,
		history.ID, history.UserID, history.Token, history.CreatedAt, history.IsValid,
	)
	if isPostgresUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert token history: %w", err)
	}
	return nil
}

// FindByToken は有効フラグに関わらずトークンに一致するレコードを取得する。
func (r *PostgresTokenHistoryRepo) FindByToken(ctx context.Context, token string) (*model.TokenHistory, error) {
	return r.findOne(ctx,
		`SELECT `+postgresTokenHistoryColumns+` FROM token_histories WHERE token = $1`,
		token,
	)
}

// FindActiveByToken は有効なレコードのみを対象にトークンを検索する。
func (r *PostgresTokenHistoryRepo) FindActiveByToken(ctx context.Context, token string) (*model.TokenHistory, error) {
	return r.findOne(ctx,
		`SELECT `+postgresTokenHistoryColumns+` FROM token_histories WHERE token = $1 AND is_valid`,
		token,
	)
}

// Invalidate は有効なレコードのみを条件付きで無効化する。
// 同時に2回呼ばれても実際に更新されるのは1回のみ。
func (r *PostgresTokenHistoryRepo) Invalidate(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE token_histories SET is_valid = false WHERE id = $1 AND is_valid`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to invalidate token history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// InvalidateByUserID は指定ユーザーの有効なレコードをすべて無効化する。
func (r *PostgresTokenHistoryRepo) InvalidateByUserID(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE token_histories SET is_valid = false WHERE user_id = $1 AND is_valid`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate user token histories: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// ListByUserID は指定ユーザーのレコードを作成日時の降順で返す。
func (r *PostgresTokenHistoryRepo) ListByUserID(ctx context.Context, userID string) ([]*model.TokenHistory, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postgresTokenHistoryColumns+` FROM token_histories
		 WHERE user_id = $1 ORDER BY created_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list token histories: %w", err)
	}
	defer rows.Close()

	var histories []*model.TokenHistory
	for rows.Next() {
		h, err := scanPostgresTokenHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token history: %w", err)
		}
		histories = append(histories, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate token histories: %w", err)
	}
	return histories, nil
}

// DeleteCreatedBefore はcutoffより前に作成されたレコードを削除する。
func (r *PostgresTokenHistoryRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM token_histories WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete token histories: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *PostgresTokenHistoryRepo) findOne(ctx context.Context, query string, args ...any) (*model.TokenHistory, error) {
	h, err := scanPostgresTokenHistory(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find token history: %w", err)
	}
	return h, nil
}

func scanPostgresTokenHistory(s rowScanner) (*model.TokenHistory, error) {
	h := &model.TokenHistory{}
	if err := s.Scan(&h.ID, &h.UserID, &h.Token, &h.CreatedAt, &h.IsValid); err != nil {
		return nil, err
	}
	return h, nil
}

// compile-time interface check
var _ TokenHistoryRepository = (*PostgresTokenHistoryRepo)(nil)
