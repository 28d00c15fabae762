package refresh

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/hitoshi/coindeck/internal/cache"
	"github.com/hitoshi/coindeck/internal/config"
	"github.com/hitoshi/coindeck/internal/feed"
	"github.com/hitoshi/coindeck/internal/media"
	"github.com/hitoshi/coindeck/internal/metrics"
	"github.com/hitoshi/coindeck/internal/security"
	"github.com/hitoshi/coindeck/internal/upstream"
)

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, coin *upstream.CoinRecord) media.Resolution {
	return media.Resolution{}
}

// staticFetcher は常に同じ1ページを返すPageFetcher。
type staticFetcher struct{}

func (staticFetcher) FetchPage(ctx context.Context, identifier string, count int, after string) (*upstream.Page, error) {
	return &upstream.Page{
		Coins: []upstream.CoinRecord{
			{ID: "coin-1", Name: "One", CreatedAt: "2024-06-01T00:00:00Z"},
		},
	}, nil
}

func newTestWorkerBuilder(t *testing.T) (*cache.Builder, *cache.Store) {
	t.Helper()
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	mapper := feed.NewMapper(stubResolver{}, security.NewTextSanitizer())
	collector := feed.NewCollector(staticFetcher{}, mapper, log)
	store := cache.NewStore(filepath.Join(t.TempDir(), "cache.json"), log)

	cfg := &config.Config{
		Profiles:         []string{"alice"},
		CacheTarget:      10,
		CachePageSize:    10,
		CacheConcurrency: 1,
	}
	return cache.NewBuilder(store, collector, cfg, metrics.NopCollector{}, log), store
}

// --- NewWorker のテスト ---

func TestNewWorker_Defaults(t *testing.T) {
	builder, _ := newTestWorkerBuilder(t)
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	w := NewWorker(builder, "", 0, nil, log)

	if w.interval != 30*time.Minute {
		t.Errorf("interval = %v, want 30m", w.interval)
	}
	if w.mode != config.ModeIncremental {
		t.Errorf("mode = %s, want incremental", w.mode)
	}
}

// --- Start のテスト ---

func TestWorker_Start_BuildsImmediatelyAndStopsOnCancel(t *testing.T) {
	builder, store := newTestWorkerBuilder(t)
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	// ティックを待たずに起動直後のビルドを検証するため長い間隔にする
	w := NewWorker(builder, config.ModeFull, time.Hour, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	// 起動直後の1回のビルドでスナップショットが書かれるのを待つ
	deadline := time.After(5 * time.Second)
	for store.Read() == nil {
		select {
		case <-deadline:
			t.Fatal("起動直後のビルドが実行されない")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("キャンセル後にStartが終了しない")
	}

	if got := store.Read(); got == nil || got.Total != 1 {
		t.Errorf("スナップショットが不正: %+v", got)
	}
}
