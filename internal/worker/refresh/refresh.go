// Package refresh はスナップショットの定期リビルドワーカーを提供する。
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/coindeck/internal/cache"
	"github.com/hitoshi/coindeck/internal/config"
	"github.com/hitoshi/coindeck/internal/feed"
)

// Worker はスナップショットの定期リビルドを行う。
// 提供系プロセスとは独立に動作し、スナップショットファイルの
// 唯一の書き込み主体となる。
type Worker struct {
	builder  *cache.Builder
	mode     string
	interval time.Duration
	logger   *slog.Logger
	sink     feed.ProgressSink
}

// NewWorker はWorkerの新しいインスタンスを生成する。
// intervalが0以下の場合はデフォルト値30分を使用する。
// sinkがnilの場合は進捗ファイルを書き出さない。
func NewWorker(builder *cache.Builder, mode string, interval time.Duration, sink feed.ProgressSink, logger *slog.Logger) *Worker {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if mode == "" {
		mode = config.ModeIncremental
	}
	return &Worker{
		builder:  builder,
		mode:     mode,
		interval: interval,
		logger:   logger,
		sink:     sink,
	}
}

// Start は定期リビルドループを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("リフレッシュワーカーを開始しました",
		slog.Duration("interval", w.interval),
		slog.String("mode", w.mode),
	)

	// 起動直後に1回実行
	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("リフレッシュワーカーを停止しました")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// runOnce はスナップショットを1回リビルドする。
// 失敗してもワーカーは停止せず、次のティックで再試行する。
func (w *Worker) runOnce(ctx context.Context) {
	if _, err := w.builder.Build(ctx, w.mode, w.sink); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("スナップショットのリビルドに失敗しました",
			slog.String("mode", w.mode),
			slog.String("error", err.Error()),
		)
	}
}
