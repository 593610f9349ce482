// Package repository はデータ永続化のインターフェースを定義する。
// PostgreSQL・SQLite・インメモリの3種類の実装を提供する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/minimalapi/internal/model"
)

var (
	// ErrNotFound は更新・削除対象のレコードが存在しないことを表す。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate は一意制約（メールアドレス、トークン文字列）に違反したことを表す。
	ErrDuplicate = errors.New("duplicate record")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない完全一致）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// List は全ユーザーを作成日時の昇順で返す。
	List(ctx context.Context) ([]*model.User, error)

	// Create はユーザーを作成する。メールアドレス重複時はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はメールアドレス・名前・パスワードハッシュを更新する。
	// 対象が存在しない場合はErrNotFound、メールアドレス重複時はErrDuplicateを返す。
	Update(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error
}

// TokenHistoryRepository はトークン台帳の永続化インターフェース。
// トークン文字列の照合はすべて完全一致で行う。
type TokenHistoryRepository interface {
	// Create は台帳レコードを追加する。
	Create(ctx context.Context, history *model.TokenHistory) error

	// FindByToken は有効フラグに関わらずトークンに一致するレコードを取得する。
	// 見つからない場合はnilを返す。
	FindByToken(ctx context.Context, token string) (*model.TokenHistory, error)

	// FindActiveByToken はis_valid = trueのレコードのみを対象に検索する。
	// 見つからない場合はnilを返す。
	FindActiveByToken(ctx context.Context, token string) (*model.TokenHistory, error)

	// Invalidate は指定IDのレコードが有効な場合のみ無効化する。
	// 実際に無効化した場合はtrueを返す。既に無効な場合はfalse（エラーなし）。
	Invalidate(ctx context.Context, id string) (bool, error)

	// InvalidateByUserID は指定ユーザーの有効なレコードをすべて無効化し、件数を返す。
	InvalidateByUserID(ctx context.Context, userID string) (int64, error)

	// ListByUserID は指定ユーザーのレコードを作成日時の降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.TokenHistory, error)

	// DeleteCreatedBefore はcutoffより前に作成されたレコードを削除し、件数を返す。
	// 保持期間クリーンアップジョブ専用。
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pinger はストアの疎通確認インターフェース。ヘルスチェックで使用する。
type Pinger interface {
	PingContext(ctx context.Context) error
}
