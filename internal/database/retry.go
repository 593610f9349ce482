package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// initialPingBackoff は接続再試行の初回待機時間。
	initialPingBackoff = 500 * time.Millisecond
	// maxPingBackoff は接続再試行の最大待機時間。
	maxPingBackoff = 10 * time.Second
)

// Pinger は疎通確認可能なデータベース接続。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// pingBackoff は失敗回数に基づいて指数バックオフ遅延を計算する。
// 初回500ms、2倍ずつ増加、最大10秒。
func pingBackoff(failures int) time.Duration {
	delay := initialPingBackoff
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay > maxPingBackoff {
			return maxPingBackoff
		}
	}
	return delay
}

// PingWithRetry はデータベースへの疎通確認が成功するまで指数バックオフで再試行する。
// コンテナ起動直後でDBが準備中の場合に備える。attempts回失敗した時点でエラーを返す。
func PingWithRetry(ctx context.Context, db Pinger, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = db.PingContext(ctx); lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		delay := pingBackoff(i)
		slog.Warn("database is not ready, retrying",
			slog.Int("attempt", i+1),
			slog.Duration("retry_in", delay),
			slog.String("error", lastErr.Error()),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("database ping canceled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("failed to connect to database after %d attempts: %w", attempts, lastErr)
}
