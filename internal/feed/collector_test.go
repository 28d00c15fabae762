package feed

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"testing"

	"github.com/hitoshi/coindeck/internal/media"
	"github.com/hitoshi/coindeck/internal/model"
	"github.com/hitoshi/coindeck/internal/security"
	"github.com/hitoshi/coindeck/internal/upstream"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// mockFetcher は関数フィールドで挙動を差し替えられるPageFetcherのモック。
// チャンク内のフェッチは並行実行されるため、呼び出し記録はミューテックスで保護する。
type mockFetcher struct {
	mu        sync.Mutex
	fetchFunc func(identifier string, count int, after string, call int) (*upstream.Page, error)
	calls     map[string]int
}

func newMockFetcher(fetchFunc func(identifier string, count int, after string, call int) (*upstream.Page, error)) *mockFetcher {
	return &mockFetcher{
		fetchFunc: fetchFunc,
		calls:     make(map[string]int),
	}
}

func (m *mockFetcher) FetchPage(ctx context.Context, identifier string, count int, after string) (*upstream.Page, error) {
	m.mu.Lock()
	m.calls[identifier]++
	call := m.calls[identifier]
	m.mu.Unlock()
	return m.fetchFunc(identifier, count, after, call)
}

func (m *mockFetcher) callCount(identifier string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[identifier]
}

func coinPage(coins []upstream.CoinRecord, endCursor string, hasNext bool) *upstream.Page {
	return &upstream.Page{
		Coins:       coins,
		EndCursor:   endCursor,
		HasNextPage: hasNext && endCursor != "",
	}
}

func newTestCollector(fetcher PageFetcher, buf *bytes.Buffer) *Collector {
	mapper := NewMapper(&stubResolver{result: media.Resolution{}}, security.NewTextSanitizer())
	return NewCollector(fetcher, mapper, newTestLogger(buf))
}

// --- Collect のテスト ---

func TestCollector_Collect_PaginatesUntilNoNextPage(t *testing.T) {
	fetcher := newMockFetcher(func(identifier string, count int, after string, call int) (*upstream.Page, error) {
		switch after {
		case "":
			return coinPage([]upstream.CoinRecord{
				{ID: "a", CreatedAt: "2024-06-03T00:00:00Z"},
				{ID: "b", CreatedAt: "2024-06-02T00:00:00Z"},
			}, "cursor-1", true), nil
		case "cursor-1":
			return coinPage([]upstream.CoinRecord{
				{ID: "c", CreatedAt: "2024-06-01T00:00:00Z"},
			}, "", false), nil
		default:
			t.Errorf("予期しないカーソル: %s", after)
			return coinPage(nil, "", false), nil
		}
	})

	var buf bytes.Buffer
	c := newTestCollector(fetcher, &buf)

	items, states, err := c.Collect(context.Background(), CollectParams{
		Profiles:    []string{"alice"},
		PageSize:    2,
		Concurrency: 1,
	})
	if err != nil {
		t.Fatalf("Collect エラー: %v", err)
	}

	if len(items) != 3 {
		t.Fatalf("件数 = %d, want 3", len(items))
	}
	wantOrder := []string{"a", "b", "c"}
	for i, want := range wantOrder {
		if items[i].ID != want {
			t.Errorf("items[%d].ID = %s, want %s", i, items[i].ID, want)
		}
	}
	if !states["alice"].Stopped {
		t.Error("次ページ無しでプロフィールは停止するべき")
	}
	if fetcher.callCount("alice") != 2 {
		t.Errorf("フェッチ回数 = %d, want 2", fetcher.callCount("alice"))
	}
}

func TestCollector_Collect_CutoffStopsMidPage(t *testing.T) {
	cutoff := model.ParseCreatedAt("2024-06-02T00:00:00Z")

	fetcher := newMockFetcher(func(identifier string, count int, after string, call int) (*upstream.Page, error) {
		return coinPage([]upstream.CoinRecord{
			{ID: "new", CreatedAt: "2024-06-03T00:00:00Z"},
			{ID: "at-cutoff", CreatedAt: "2024-06-02T00:00:00Z"},
			{ID: "older", CreatedAt: "2024-06-01T00:00:00Z"},
		}, "cursor-1", true), nil
	})

	var buf bytes.Buffer
	c := newTestCollector(fetcher, &buf)

	items, states, err := c.Collect(context.Background(), CollectParams{
		Profiles:    []string{"alice"},
		Cutoff:      cutoff,
		PageSize:    10,
		Concurrency: 1,
	})
	if err != nil {
		t.Fatalf("Collect エラー: %v", err)
	}

	// カットオフちょうどのアイテムとそれより古いアイテムは捨てられる
	if len(items) != 1 {
		t.Fatalf("件数 = %d, want 1", len(items))
	}
	if items[0].ID != "new" {
		t.Errorf("items[0].ID = %s, want new", items[0].ID)
	}
	if !states["alice"].ReachedCutoff {
		t.Error("ReachedCutoff = false, want true")
	}
	if fetcher.callCount("alice") != 1 {
		t.Errorf("カットオフ到達後は追加フェッチしない: 呼び出し %d回", fetcher.callCount("alice"))
	}
}

func TestCollector_Collect_TargetStopsEarly(t *testing.T) {
	fetcher := newMockFetcher(func(identifier string, count int, after string, call int) (*upstream.Page, error) {
		// 無限にページを返すプロフィール
		coins := []upstream.CoinRecord{
			{ID: identifier + "-" + after + "-1", CreatedAt: "2024-06-01T00:00:00Z"},
			{ID: identifier + "-" + after + "-2", CreatedAt: "2024-06-01T00:00:00Z"},
		}
		return coinPage(coins, "cursor-next-"+after, true), nil
	})

	var buf bytes.Buffer
	c := newTestCollector(fetcher, &buf)

	items, _, err := c.Collect(context.Background(), CollectParams{
		Profiles:    []string{"alice"},
		Target:      4,
		PageSize:    2,
		Concurrency: 1,
	})
	if err != nil {
		t.Fatalf("Collect エラー: %v", err)
	}

	if len(items) < 4 {
		t.Errorf("目標件数に達するまで収集すべき: %d", len(items))
	}
	if fetcher.callCount("alice") > 3 {
		t.Errorf("目標到達後はフェッチを打ち切るべき: 呼び出し %d回", fetcher.callCount("alice"))
	}
}

func TestCollector_Collect_SingleFailureStopsProfile(t *testing.T) {
	fetcher := newMockFetcher(func(identifier string, count int, after string, call int) (*upstream.Page, error) {
		if identifier == "broken" {
			return nil, errors.New("アップストリーム障害")
		}
		return coinPage([]upstream.CoinRecord{
			{ID: "ok-1", CreatedAt: "2024-06-01T00:00:00Z"},
		}, "", false), nil
	})

	var buf bytes.Buffer
	c := newTestCollector(fetcher, &buf)

	items, states, err := c.Collect(context.Background(), CollectParams{
		Profiles:    []string{"broken", "alice"},
		PageSize:    10,
		Concurrency: 2,
		MaxFailures: 1,
	})
	if err != nil {
		t.Fatalf("Collect エラー: %v", err)
	}

	// 失敗プロフィールは停止するが、収集全体は継続して完了する
	if len(items) != 1 {
		t.Fatalf("件数 = %d, want 1", len(items))
	}
	if !states["broken"].Stopped {
		t.Error("失敗プロフィールは停止するべき")
	}
	if fetcher.callCount("broken") != 1 {
		t.Errorf("MaxFailures=1での呼び出し回数 = %d, want 1", fetcher.callCount("broken"))
	}
}

func TestCollector_Collect_ThreeConsecutiveFailuresStop(t *testing.T) {
	fetcher := newMockFetcher(func(identifier string, count int, after string, call int) (*upstream.Page, error) {
		return nil, errors.New("恒常的な障害")
	})

	var buf bytes.Buffer
	c := newTestCollector(fetcher, &buf)

	_, states, err := c.Collect(context.Background(), CollectParams{
		Profiles:    []string{"alice"},
		PageSize:    10,
		Concurrency: 1,
		MaxFailures: 3,
	})
	if err != nil {
		t.Fatalf("Collect エラー: %v", err)
	}

	if !states["alice"].Stopped {
		t.Error("3回連続失敗で停止するべき")
	}
	if fetcher.callCount("alice") != 3 {
		t.Errorf("呼び出し回数 = %d, want 3", fetcher.callCount("alice"))
	}
}

func TestCollector_Collect_SuccessResetsFailureCount(t *testing.T) {
	fetcher := newMockFetcher(func(identifier string, count int, after string, call int) (*upstream.Page, error) {
		// 失敗と成功を交互に繰り返す
		if call%2 == 1 {
			return nil, errors.New("断続的な障害")
		}
		if call >= 6 {
			return coinPage(nil, "", false), nil
		}
		return coinPage([]upstream.CoinRecord{
			{ID: identifier + "-" + strconv.Itoa(call), CreatedAt: "2024-06-01T00:00:00Z"},
		}, "cursor", true), nil
	})

	var buf bytes.Buffer
	c := newTestCollector(fetcher, &buf)

	_, states, err := c.Collect(context.Background(), CollectParams{
		Profiles:    []string{"alice"},
		PageSize:    10,
		Concurrency: 1,
		MaxFailures: 3,
	})
	if err != nil {
		t.Fatalf("Collect エラー: %v", err)
	}

	// 連続3回失敗には一度も到達しないため、停止理由は次ページ無しになる
	if states["alice"].ReachedCutoff {
		t.Error("カットオフ未設定でReachedCutoffはfalseであるべき")
	}
	if fetcher.callCount("alice") != 6 {
		t.Errorf("呼び出し回数 = %d, want 6", fetcher.callCount("alice"))
	}
}

func TestCollector_Collect_SkipsKnownIDs(t *testing.T) {
	fetcher := newMockFetcher(func(identifier string, count int, after string, call int) (*upstream.Page, error) {
		return coinPage([]upstream.CoinRecord{
			{ID: "known", CreatedAt: "2024-06-02T00:00:00Z"},
			{ID: "fresh", CreatedAt: "2024-06-01T00:00:00Z"},
		}, "", false), nil
	})

	var buf bytes.Buffer
	c := newTestCollector(fetcher, &buf)

	items, _, err := c.Collect(context.Background(), CollectParams{
		Profiles:    []string{"alice"},
		PageSize:    10,
		Concurrency: 1,
		KnownIDs:    map[string]struct{}{"known": {}},
	})
	if err != nil {
		t.Fatalf("Collect エラー: %v", err)
	}

	if len(items) != 1 {
		t.Fatalf("件数 = %d, want 1", len(items))
	}
	if items[0].ID != "fresh" {
		t.Errorf("既知IDはスキップされるべき: %s", items[0].ID)
	}
}

func TestCollector_Collect_DeduplicatesAcrossProfiles(t *testing.T) {
	fetcher := newMockFetcher(func(identifier string, count int, after string, call int) (*upstream.Page, error) {
		// 両プロフィールが同じコインを返す
		return coinPage([]upstream.CoinRecord{
			{ID: "shared", CreatedAt: "2024-06-01T00:00:00Z"},
		}, "", false), nil
	})

	var buf bytes.Buffer
	c := newTestCollector(fetcher, &buf)

	items, _, err := c.Collect(context.Background(), CollectParams{
		Profiles:    []string{"alice", "bob"},
		PageSize:    10,
		Concurrency: 2,
	})
	if err != nil {
		t.Fatalf("Collect エラー: %v", err)
	}

	if len(items) != 1 {
		t.Errorf("プロフィール間で重複排除されるべき: %d件", len(items))
	}
}

func TestCollector_Collect_CancelledContext(t *testing.T) {
	fetcher := newMockFetcher(func(identifier string, count int, after string, call int) (*upstream.Page, error) {
		return coinPage(nil, "cursor", true), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	c := newTestCollector(fetcher, &buf)

	_, _, err := c.Collect(ctx, CollectParams{
		Profiles:    []string{"alice"},
		PageSize:    10,
		Concurrency: 1,
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("キャンセル済みコンテキストでcontext.Canceledを返すべき: %v", err)
	}
}

// recordingSink は進捗通知を記録するProgressSinkのモック。
type recordingSink struct {
	mu            sync.Mutex
	rounds        int
	chunks        int
	profileErrors []string
	done          bool
	final         int
}

func (s *recordingSink) ReportRound(round, collected, active int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds++
}

func (s *recordingSink) ReportChunk(round, collected, active int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks++
}

func (s *recordingSink) ReportProfileError(identifier string, consecutiveFailures int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profileErrors = append(s.profileErrors, identifier)
}

func (s *recordingSink) ReportDone(collected int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.final = collected
}

func TestCollector_Collect_ReportsProgress(t *testing.T) {
	fetcher := newMockFetcher(func(identifier string, count int, after string, call int) (*upstream.Page, error) {
		return coinPage([]upstream.CoinRecord{
			{ID: "a", CreatedAt: "2024-06-01T00:00:00Z"},
		}, "", false), nil
	})

	sink := &recordingSink{}
	var buf bytes.Buffer
	c := newTestCollector(fetcher, &buf)

	_, _, err := c.Collect(context.Background(), CollectParams{
		Profiles:    []string{"alice"},
		PageSize:    10,
		Concurrency: 1,
		Sink:        sink,
	})
	if err != nil {
		t.Fatalf("Collect エラー: %v", err)
	}

	if sink.rounds < 1 {
		t.Error("ラウンド進捗が通知されるべき")
	}
	if sink.chunks < 1 {
		t.Error("チャンク進捗が通知されるべき")
	}
	if !sink.done || sink.final != 1 {
		t.Errorf("完了通知 done=%v final=%d, want done=true final=1", sink.done, sink.final)
	}
}

func TestCollector_Collect_ReportsChunkPerChunk(t *testing.T) {
	// 4プロフィール・並行度2 = 1ラウンドあたり2チャンク
	fetcher := newMockFetcher(func(identifier string, count int, after string, call int) (*upstream.Page, error) {
		return coinPage(nil, "", false), nil
	})

	sink := &recordingSink{}
	var buf bytes.Buffer
	c := newTestCollector(fetcher, &buf)

	_, _, err := c.Collect(context.Background(), CollectParams{
		Profiles:    []string{"a", "b", "c", "d"},
		PageSize:    10,
		Concurrency: 2,
		Sink:        sink,
	})
	if err != nil {
		t.Fatalf("Collect エラー: %v", err)
	}

	if sink.chunks != 2 {
		t.Errorf("チャンク通知 = %d, want 2", sink.chunks)
	}
}

func TestCollector_Collect_ReportsProfileError(t *testing.T) {
	fetcher := newMockFetcher(func(identifier string, count int, after string, call int) (*upstream.Page, error) {
		if identifier == "broken" {
			return nil, errors.New("upstream down")
		}
		return coinPage([]upstream.CoinRecord{
			{ID: "a", CreatedAt: "2024-06-01T00:00:00Z"},
		}, "", false), nil
	})

	sink := &recordingSink{}
	var buf bytes.Buffer
	c := newTestCollector(fetcher, &buf)

	_, _, err := c.Collect(context.Background(), CollectParams{
		Profiles:    []string{"alice", "broken"},
		PageSize:    10,
		Concurrency: 2,
		MaxFailures: 1,
		Sink:        sink,
	})
	if err != nil {
		t.Fatalf("Collect エラー: %v", err)
	}

	if len(sink.profileErrors) != 1 || sink.profileErrors[0] != "broken" {
		t.Errorf("プロフィールエラー通知 = %v, want [broken]", sink.profileErrors)
	}
}
