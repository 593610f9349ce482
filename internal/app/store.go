package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/minimalapi/internal/config"
	"github.com/hitoshi/minimalapi/internal/database"
	"github.com/hitoshi/minimalapi/internal/repository"
)

// pingAttempts は起動時のDB接続確認の最大試行回数。
const pingAttempts = 5

// store は設定されたドライバーで開いたリポジトリ群を保持する。
type store struct {
	driver    string
	users     repository.UserRepository
	histories repository.TokenHistoryRepository
	pinger    repository.Pinger // インメモリの場合はnil
	close     func() error
}

// Close はストアの接続を閉じる。
func (s *store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// openStore はSTORE_DRIVERに応じてストアを開く。
// PostgreSQLはマイグレーション適用済みであること。SQLiteは起動時にスキーマを作成する。
func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := database.PingWithRetry(ctx, db, pingAttempts); err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("database connection established", slog.String("driver", cfg.StoreDriver))

		return &store{
			driver:    cfg.StoreDriver,
			users:     repository.NewPostgresUserRepo(db),
			histories: repository.NewPostgresTokenHistoryRepo(db),
			pinger:    db,
			close:     db.Close,
		}, nil

	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("database connection established", slog.String("driver", cfg.StoreDriver))

		return &store{
			driver:    cfg.StoreDriver,
			users:     repository.NewSQLiteUserRepo(db),
			histories: repository.NewSQLiteTokenHistoryRepo(db),
			pinger:    db,
			close:     db.Close,
		}, nil

	case config.DriverMemory:
		slog.Warn("using in-memory store; data is lost on restart")
		return &store{
			driver:    cfg.StoreDriver,
			users:     repository.NewMemoryUserRepo(),
			histories: repository.NewMemoryTokenHistoryRepo(),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.StoreDriver)
	}
}
