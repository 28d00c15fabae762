package feed

import (
	"context"
	"log/slog"

	"github.com/hitoshi/coindeck/internal/model"
)

// liveMaxFailures はライブ取得時の連続失敗許容回数。
// バッチビルドと違い、一時的な失敗で即座にプロフィールを切り捨てない。
const liveMaxFailures = 3

// LiveFeed はスナップショットより新しいアイテムのライブ取得を提供する。
// ハイブリッドマージサービスから呼ばれる。
type LiveFeed struct {
	collector   *Collector
	profiles    []string
	pageSize    int
	concurrency int
	maxItems    int
	logger      *slog.Logger
}

// NewLiveFeed はLiveFeed の新しいインスタンスを生成する。
// maxItemsはライブ取得するユニークアイテム数の上限。
func NewLiveFeed(collector *Collector, profiles []string, pageSize, concurrency, maxItems int, logger *slog.Logger) *LiveFeed {
	return &LiveFeed{
		collector:   collector,
		profiles:    profiles,
		pageSize:    pageSize,
		concurrency: concurrency,
		maxItems:    maxItems,
		logger:      logger,
	}
}

// FetchNewerThan はcutoff（unixミリ秒）より新しいアイテムを全プロフィールから収集する。
// 各プロフィールはカットオフ到達時点で早期停止し、全体でmaxItems件を上限とする。
// cutoffが0の場合はカットオフなしで上限件数まで収集する（スナップショット不在時）。
func (l *LiveFeed) FetchNewerThan(ctx context.Context, cutoff int64) ([]model.FeedItem, error) {
	items, _, err := l.collector.Collect(ctx, CollectParams{
		Profiles:    l.profiles,
		Target:      l.maxItems,
		Cutoff:      cutoff,
		PageSize:    l.pageSize,
		Concurrency: l.concurrency,
		MaxFailures: liveMaxFailures,
	})
	if err != nil {
		return nil, err
	}
	// Collectの目標件数は停止条件であり、最終ページの分だけ超過しうる
	if l.maxItems > 0 && len(items) > l.maxItems {
		items = items[:l.maxItems]
	}
	l.logger.Info("ライブ取得が完了しました",
		slog.Int("items", len(items)),
		slog.Int64("cutoff", cutoff),
	)
	return items, nil
}
