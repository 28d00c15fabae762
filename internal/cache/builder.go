package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/coindeck/internal/config"
	"github.com/hitoshi/coindeck/internal/feed"
	"github.com/hitoshi/coindeck/internal/metrics"
	"github.com/hitoshi/coindeck/internal/model"
)

// Builder はスナップショットのビルドを統括する。
// フルモードは既存スナップショットを無視して目標件数まで収集し、
// インクリメンタルモードは既存の最新アイテム以降の差分のみを収集してマージする。
type Builder struct {
	store       *Store
	collector   *feed.Collector
	profiles    []string
	target      int
	pageSize    int
	concurrency int
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
}

// NewBuilder はBuilder の新しいインスタンスを生成する。
func NewBuilder(store *Store, collector *feed.Collector, cfg *config.Config, mc metrics.MetricsCollector, logger *slog.Logger) *Builder {
	return &Builder{
		store:       store,
		collector:   collector,
		profiles:    cfg.Profiles,
		target:      cfg.CacheTarget,
		pageSize:    cfg.CachePageSize,
		concurrency: cfg.CacheConcurrency,
		metrics:     mc,
		logger:      logger,
	}
}

// Build は指定モードでスナップショットをビルドして書き込む。
// インクリメンタル指定でも既存スナップショットが無い場合はフルビルドにフォールバックする。
func (b *Builder) Build(ctx context.Context, mode string, sink feed.ProgressSink) (*model.CacheFile, error) {
	started := time.Now()

	var existing *model.CacheFile
	if mode == config.ModeIncremental {
		existing = b.store.Read()
		if existing == nil {
			b.logger.Info("既存スナップショットが無いためフルビルドにフォールバックします")
			mode = config.ModeFull
		}
	}

	// 進捗ファイルにはビルドのメタデータも含める
	if pw, ok := sink.(*ProgressWriter); ok {
		info := BuildInfo{
			Mode:        mode,
			PageSize:    b.pageSize,
			Concurrency: b.concurrency,
			Profiles:    b.profiles,
		}
		if mode == config.ModeIncremental {
			info.Cutoff = incrementalCutoff(existing)
			info.MaxRounds = feed.MaxRounds(0, b.pageSize)
		} else {
			info.Target = b.target
			info.MaxRounds = feed.MaxRounds(b.target, b.pageSize)
		}
		pw.SetBuildInfo(info)
	}

	var cf *model.CacheFile
	var err error
	switch mode {
	case config.ModeIncremental:
		cf, err = b.buildIncremental(ctx, existing, sink)
	default:
		cf, err = b.buildFull(ctx, sink)
	}
	if err != nil {
		return nil, err
	}

	if err := b.store.Write(cf); err != nil {
		return nil, err
	}

	if pw, ok := sink.(*ProgressWriter); ok {
		pw.ReportResult(cf)
	}

	b.metrics.RecordCacheBuild(cf.Mode)
	b.metrics.RecordCacheItems(cf.Total)
	b.logger.Info("スナップショットビルドが完了しました",
		slog.String("mode", cf.Mode),
		slog.Int("total", cf.Total),
		slog.Duration("elapsed", time.Since(started)),
	)
	return cf, nil
}

// buildFull は全プロフィールから目標件数まで収集し、
// 目標件数ちょうどにトリムしたスナップショットを生成する（末尾=最古から削る）。
func (b *Builder) buildFull(ctx context.Context, sink feed.ProgressSink) (*model.CacheFile, error) {
	items, _, err := b.collector.Collect(ctx, feed.CollectParams{
		Profiles:    b.profiles,
		Target:      b.target,
		PageSize:    b.pageSize,
		Concurrency: b.concurrency,
		MaxFailures: 1,
		Sink:        sink,
	})
	if err != nil {
		return nil, fmt.Errorf("フルビルドの収集に失敗しました: %w", err)
	}

	if b.target > 0 && len(items) > b.target {
		items = items[:b.target]
	}
	return b.newCacheFile(items, config.ModeFull), nil
}

// buildIncremental は既存スナップショットの最新アイテム以降のみを収集し、
// 既存アイテム全体とマージする。トリムは行わない（スナップショットは
// フルビルドされるまで単調に成長する）。
func (b *Builder) buildIncremental(ctx context.Context, existing *model.CacheFile, sink feed.ProgressSink) (*model.CacheFile, error) {
	existingItems := model.NormalizeItems(existing.Items)
	cutoff := incrementalCutoff(existing)

	knownIDs := make(map[string]struct{}, len(existingItems))
	for _, item := range existingItems {
		knownIDs[item.ID] = struct{}{}
	}

	newItems, _, err := b.collector.Collect(ctx, feed.CollectParams{
		Profiles:    b.profiles,
		Cutoff:      cutoff,
		PageSize:    b.pageSize,
		Concurrency: b.concurrency,
		MaxFailures: 1,
		KnownIDs:    knownIDs,
		Sink:        sink,
	})
	if err != nil {
		return nil, fmt.Errorf("インクリメンタルビルドの収集に失敗しました: %w", err)
	}

	merged := model.NormalizeItems(append(newItems, existingItems...))
	return b.newCacheFile(merged, config.ModeIncremental), nil
}

// incrementalCutoff は既存スナップショットからカットオフ（unixミリ秒）を導出する。
// newestCreatedAtが欠落・不正な場合はアイテム列から最新時刻を求める。
func incrementalCutoff(existing *model.CacheFile) int64 {
	if existing == nil {
		return 0
	}
	if c := model.ParseCreatedAt(existing.NewestCreatedAt); c > 0 {
		return c
	}
	var newest int64
	for _, item := range existing.Items {
		if ts := model.ParseCreatedAt(item.CreatedAt); ts > newest {
			newest = ts
		}
	}
	return newest
}

// newCacheFile はソート済みアイテム列からスナップショットを組み立てる。
func (b *Builder) newCacheFile(items []model.FeedItem, mode string) *model.CacheFile {
	cf := &model.CacheFile{
		Version:     model.CacheFileVersion,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Profiles:    b.profiles,
		Mode:        mode,
		Total:       len(items),
		Items:       items,
	}
	if len(items) > 0 {
		cf.NewestCreatedAt = items[0].CreatedAt
		cf.OldestCreatedAt = items[len(items)-1].CreatedAt
	}
	return cf
}
