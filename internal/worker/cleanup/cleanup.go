// Package cleanup はトークン台帳の保持期間クリーンアップジョブを提供する。
// 保持期間はトークンの有効期限より長いため、対象レコードはすべて期限切れである。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/minimalapi/internal/metrics"
)

// Purger は指定時刻より前に作成された台帳レコードを削除するインターフェース。
// repository.TokenHistoryRepositoryの部分集合。
type Purger interface {
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した台帳レコードの削除ジョブ。
// 冪等な削除処理で、定期実行を想定している。
type CleanupJob struct {
	purger    Purger
	logger    *slog.Logger
	recorder  metrics.CleanupRecorder
	Retention time.Duration // 台帳レコードの保持期間
	now       func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewCleanupJob(purger Purger, logger *slog.Logger, recorder metrics.CleanupRecorder, retention time.Duration) *CleanupJob {
	return &CleanupJob{
		purger:    purger,
		logger:    logger,
		recorder:  recorder,
		Retention: retention,
		now:       time.Now,
	}
}

// Run は保持期間を超過した台帳レコードを削除し、削除件数を返す。
// Retentionが0以下の場合は何もしない。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	if j.Retention <= 0 {
		return 0, nil
	}

	start := j.now()
	cutoff := start.UTC().Add(-j.Retention)

	deletedCount, err := j.purger.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("台帳クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return 0, fmt.Errorf("台帳クリーンアップの実行に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordTokenHistoriesPurged(deletedCount)
	}

	j.logger.Info("台帳クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return deletedCount, nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。個々の実行エラーはログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *CleanupJob) runOnce(ctx context.Context) {
	if _, err := j.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		j.logger.Warn("cleanup job failed", slog.String("error", err.Error()))
	}
}
