package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/hitoshi/minimalapi/internal/model"
)

// sqliteUserRow はusersテーブルの行。
type sqliteUserRow struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Name         string    `db:"name"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r sqliteUserRow) toModel() *model.User {
	return &model.User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Name:         r.Name,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// sqliteTokenHistoryRow はtoken_historiesテーブルの行。
type sqliteTokenHistoryRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Token     string    `db:"token"`
	CreatedAt time.Time `db:"created_at"`
	IsValid   bool      `db:"is_valid"`
}

func (r sqliteTokenHistoryRow) toModel() *model.TokenHistory {
	return &model.TokenHistory{
		ID:        r.ID,
		UserID:    r.UserID,
		Token:     r.Token,
		CreatedAt: r.CreatedAt,
		IsValid:   r.IsValid,
	}
}

// SQLiteUserRepo はSQLite（sqlx）を使用したユーザーリポジトリ。
type SQLiteUserRepo struct {
	db *sqlx.DB
}

// NewSQLiteUserRepo はSQLiteUserRepoを生成する。
func NewSQLiteUserRepo(db *sqlx.DB) *SQLiteUserRepo {
	return &SQLiteUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *SQLiteUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var row sqliteUserRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return row.toModel(), nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *SQLiteUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var row sqliteUserRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM users WHERE email = ? COLLATE NOCASE`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return row.toModel(), nil
}

// List は全ユーザーを作成日時の昇順で返す。
func (r *SQLiteUserRepo) List(ctx context.Context) ([]*model.User, error) {
	var rows []sqliteUserRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM users ORDER BY created_at, id`); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]*model.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toModel())
	}
	return users, nil
}

// Create はユーザーを作成する。
func (r *SQLiteUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, name, created_at, updated_at)
		 VALUES (:id, :email, :password_hash, :name, :created_at, :updated_at)`,
		sqliteUserRow{
			ID:           user.ID,
			Email:        user.Email,
			PasswordHash: user.PasswordHash,
			Name:         user.Name,
			CreatedAt:    user.CreatedAt.UTC(),
			UpdatedAt:    user.UpdatedAt.UTC(),
		},
	)
	if isSQLiteUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// Update はユーザー情報を更新する。
func (r *SQLiteUserRepo) Update(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET email = ?, password_hash = ?, name = ?, updated_at = ? WHERE id = ?`,
		user.Email, user.PasswordHash, user.Name, user.UpdatedAt.UTC(), user.ID,
	)
	if isSQLiteUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireAffected(result)
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *SQLiteUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireAffected(result)
}

// SQLiteTokenHistoryRepo はSQLite（sqlx）を使用したトークン台帳リポジトリ。
type SQLiteTokenHistoryRepo struct {
	db *sqlx.DB
}

// NewSQLiteTokenHistoryRepo はSQLiteTokenHistoryRepoを生成する。
func NewSQLiteTokenHistoryRepo(db *sqlx.DB) *SQLiteTokenHistoryRepo {
	return &SQLiteTokenHistoryRepo{db: db}
}

// Create は台帳レコードを追加する。
func (r *SQLiteTokenHistoryRepo) Create(ctx context.Context, history *model.TokenHistory) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO token_histories (id, user_id, token, created_at, is_valid)
		 VALUES (:id, :user_id, :token, :created_at, :is_valid)`,
		sqliteTokenHistoryRow{
			ID:        history.ID,
			UserID:    history.UserID,
			Token:     history.Token,
			CreatedAt: history.CreatedAt.UTC(),
			IsValid:   history.IsValid,
		},
	)
	if isSQLiteUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert token history: %w", err)
	}
	return nil
}

// FindByToken は有効フラグに関わらずトークンに一致するレコードを取得する。
func (r *SQLiteTokenHistoryRepo) FindByToken(ctx context.Context, token string) (*model.TokenHistory, error) {
	return r.findOne(ctx, `SELECT * FROM token_histories WHERE token = ?`, token)
}

// FindActiveByToken は有効なレコードのみを対象にトークンを検索する。
func (r *SQLiteTokenHistoryRepo) FindActiveByToken(ctx context.Context, token string) (*model.TokenHistory, error) {
	return r.findOne(ctx, `SELECT * FROM token_histories WHERE token = ? AND is_valid = 1`, token)
}

// Invalidate は有効なレコードのみを条件付きで無効化する。
func (r *SQLiteTokenHistoryRepo) Invalidate(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE token_histories SET is_valid = 0 WHERE id = ? AND is_valid = 1`, id)
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
func (r *SQLiteTokenHistoryRepo) InvalidateByUserID(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE token_histories SET is_valid = 0 WHERE user_id = ? AND is_valid = 1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate user token histories: %w", err)
	}
	return result.RowsAffected()
}

// ListByUserID は指定ユーザーのレコードを作成日時の降順で返す。
func (r *SQLiteTokenHistoryRepo) ListByUserID(ctx context.Context, userID string) ([]*model.TokenHistory, error) {
	var rows []sqliteTokenHistoryRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM token_histories WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list token histories: %w", err)
	}
	histories := make([]*model.TokenHistory, 0, len(rows))
	for _, row := range rows {
		histories = append(histories, row.toModel())
	}
	return histories, nil
}

// DeleteCreatedBefore はcutoffより前に作成されたレコードを削除する。
// created_atはUTCの文字列として比較されるため、cutoffもUTCに揃える。
func (r *SQLiteTokenHistoryRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM token_histories WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete token histories: %w", err)
	}
	return result.RowsAffected()
}

func (r *SQLiteTokenHistoryRepo) findOne(ctx context.Context, query string, args ...any) (*model.TokenHistory, error) {
	var row sqliteTokenHistoryRow
	err := r.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find token history: %w", err)
	}
	return row.toModel(), nil
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// compile-time interface check
var (
	_ UserRepository         = (*SQLiteUserRepo)(nil)
	_ TokenHistoryRepository = (*SQLiteTokenHistoryRepo)(nil)
)
