package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/coindeck/internal/metrics"
	"github.com/hitoshi/coindeck/internal/model"
)

// backgroundFetchTimeout はタイムアウト敗退後もバックグラウンドで継続する
// ライブ取得自体の上限時間。
const backgroundFetchTimeout = 10 * time.Second

// LiveFetcher はライブ取得のインターフェース。
type LiveFetcher interface {
	FetchNewerThan(ctx context.Context, cutoff int64) ([]model.FeedItem, error)
}

// HybridService はスナップショットとライブ取得をマージしてページを提供する。
//
// ライブ取得はTTL付きでメモ化され、同時リクエストはsingleflightで
// 1つの実行を共有する。さらに各リクエストは短いタイムアウトとレースし、
// タイムアウト敗退時は前回のメモ結果（無ければ空）で応答する。
// 敗退したライブ取得はバックグラウンドで完走し、結果はメモに反映されて
// 以降の呼び出しに効く。
//
// メモとsingleflightがリクエスト処理系で唯一の可変共有状態であり、
// プロセスローカル。プロセス再起動で失われても正確性には影響しない。
type HybridService struct {
	store   *Store
	live    LiveFetcher
	ttl     time.Duration
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *slog.Logger

	group     singleflight.Group
	mu        sync.Mutex
	memoKey   string
	memoItems []model.FeedItem
	memoAt    time.Time
}

// NewHybridService はHybridService の新しいインスタンスを生成する。
// ttlはライブ取得結果の鮮度上限、timeoutは1リクエストがライブ取得を待つ上限。
func NewHybridService(store *Store, live LiveFetcher, ttl, timeout time.Duration, mc metrics.MetricsCollector, logger *slog.Logger) *HybridService {
	return &HybridService{
		store:   store,
		live:    live,
		ttl:     ttl,
		timeout: timeout,
		metrics: mc,
		logger:  logger,
	}
}

// GetHybridPage はライブとスナップショットのマージ結果から1ページを返す。
// IDの衝突時はライブ側が優先される（ライブを先頭に並べた先勝ち重複排除）。
// カーソルはマージ済み列へのオフセットで、ライブ成分の変動により
// ページ境界がずれうる（結果整合性のトレードオフとして許容）。
func (s *HybridService) GetHybridPage(ctx context.Context, after string, count int) *model.FeedPage {
	var cacheItems []model.FeedItem
	liveKey := ""
	var cutoff int64

	if cf := s.store.Read(); cf != nil {
		cacheItems = model.NormalizeItems(cf.Items)
		if len(cacheItems) > 0 {
			liveKey = cacheItems[0].CreatedAt
			cutoff = model.ParseCreatedAt(liveKey)
		}
	}

	liveItems := s.fetchLive(ctx, liveKey, cutoff)

	merged := make([]model.FeedItem, 0, len(liveItems)+len(cacheItems))
	merged = append(merged, liveItems...)
	merged = append(merged, cacheItems...)
	merged = model.NormalizeItems(merged)

	offset := DecodeCursor(after)
	page, nextCursor, hasNext := SlicePage(merged, offset, count)

	source := model.SourceHybrid
	if len(cacheItems) == 0 && len(liveItems) == 0 {
		source = model.SourceEmpty
	}
	s.metrics.RecordServedPage(source)

	return &model.FeedPage{
		Items:       page,
		NextCursor:  nextCursor,
		HasNextPage: hasNext,
		Total:       len(merged),
		Source:      source,
		LiveCount:   len(liveItems),
		CacheCount:  len(cacheItems),
	}
}

// GetCachePage はライブ取得を行わずスナップショットのみから1ページを返す。
func (s *HybridService) GetCachePage(after string, count int) *model.FeedPage {
	cf := s.store.Read()
	if cf == nil {
		s.metrics.RecordServedPage(model.SourceEmpty)
		return &model.FeedPage{
			Items:  []model.FeedItem{},
			Source: model.SourceEmpty,
		}
	}

	items := model.NormalizeItems(cf.Items)
	offset := DecodeCursor(after)
	page, nextCursor, hasNext := SlicePage(items, offset, count)

	s.metrics.RecordServedPage(model.SourceCache)
	return &model.FeedPage{
		Items:       page,
		NextCursor:  nextCursor,
		HasNextPage: hasNext,
		Total:       len(items),
		Source:      model.SourceCache,
		CacheCount:  len(items),
	}
}

// fetchLive はメモ・singleflight・タイムアウトレースを適用してライブアイテムを返す。
// 失敗・タイムアウト時は前回のメモ結果（無ければnil）を返し、決してエラーにしない。
func (s *HybridService) fetchLive(ctx context.Context, key string, cutoff int64) []model.FeedItem {
	s.mu.Lock()
	if s.memoKey == key && !s.memoAt.IsZero() && time.Since(s.memoAt) < s.ttl {
		items := s.memoItems
		s.mu.Unlock()
		return items
	}
	prev := s.memoItems
	s.mu.Unlock()

	// singleflightのキーは全体で1つ: 同時に走るライブ取得は常に1本。
	ch := s.group.DoChan("live", func() (interface{}, error) {
		// リクエストのタイムアウトに敗退しても取得自体は完走させ、
		// 結果をメモへ反映して以降の呼び出しに効かせる。
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundFetchTimeout)
		defer cancel()

		items, err := s.live.FetchNewerThan(fetchCtx, cutoff)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.memoKey = key
		s.memoItems = items
		s.memoAt = time.Now()
		s.mu.Unlock()
		return items, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			s.metrics.RecordLiveFetch("error")
			s.logger.Warn("ライブ取得に失敗したため前回結果で応答します",
				slog.String("error", res.Err.Error()),
			)
			return prev
		}
		s.metrics.RecordLiveFetch("success")
		return res.Val.([]model.FeedItem)
	case <-time.After(s.timeout):
		s.metrics.RecordLiveFetch("timeout")
		s.logger.Warn("ライブ取得がタイムアウトしたため前回結果で応答します",
			slog.Duration("timeout", s.timeout),
		)
		return prev
	case <-ctx.Done():
		return prev
	}
}
