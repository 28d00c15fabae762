package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/coindeck/internal/metrics"
	"github.com/hitoshi/coindeck/internal/middleware"
	"github.com/hitoshi/coindeck/internal/model"
)

func newTestRouter(t *testing.T, rl *middleware.RateLimiter) http.Handler {
	t.Helper()
	home := &mockHomeFeedService{
		getHybridPageFunc: func(ctx context.Context, after string, count int) *model.FeedPage {
			return emptyPage(model.SourceHybrid)
		},
		getCachePageFunc: func(after string, count int) *model.FeedPage {
			return emptyPage(model.SourceCache)
		},
	}
	artist := &mockArtistService{
		getPageFunc: func(ctx context.Context, handle string, count int, after string) (*model.ArtistPage, error) {
			return &model.ArtistPage{Items: []model.FeedItem{}}, nil
		},
	}

	reg := prometheus.NewRegistry()
	metrics.NewCollector(reg)

	return NewRouter(&RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		HomeService:       home,
		ArtistService:     artist,
		Gatherer:          reg,
	})
}

// --- ルーティングのテスト ---

func TestRouter_HealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d, want 200", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %s, want ok", body["status"])
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ステータスコード = %d, want 200", rec.Code)
	}
}

func TestRouter_FeedRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, path := range []string{"/api/home/works", "/api/artist/alice/works"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("%s: ステータスコード = %d, want 200", path, rec.Code)
		}
	}
}

func TestRouter_UnknownRouteReturns404(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("ステータスコード = %d, want 404", rec.Code)
	}
}

// --- ミドルウェアチェーンのテスト ---

func TestRouter_AppliesSecurityAndCORSHeaders(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/home/works", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestRouter_RateLimitAppliesToFeedRoutesOnly(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	router := newTestRouter(t, rl)

	// 1回目のフィードリクエストでバーストを消費
	req := httptest.NewRequest(http.MethodGet, "/api/home/works", nil)
	req.RemoteAddr = "203.0.113.50:1111"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("1回目: ステータスコード = %d, want 200", rec.Code)
	}

	// 2回目は429
	req2 := httptest.NewRequest(http.MethodGet, "/api/home/works", nil)
	req2.RemoteAddr = "203.0.113.50:1111"
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)

	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("2回目: ステータスコード = %d, want 429", rec2.Code)
	}

	// /healthはレート制限の外
	reqHealth := httptest.NewRequest(http.MethodGet, "/health", nil)
	reqHealth.RemoteAddr = "203.0.113.50:1111"
	recHealth := httptest.NewRecorder()
	router.ServeHTTP(recHealth, reqHealth)

	if recHealth.Code != http.StatusOK {
		t.Errorf("/health: ステータスコード = %d, want 200", recHealth.Code)
	}
}
