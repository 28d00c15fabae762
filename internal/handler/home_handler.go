// Package handler はHTTP APIハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/coindeck/internal/model"
)

// HomeFeedServiceInterface はホームフィードハンドラーが必要とするサービスインターフェース。
type HomeFeedServiceInterface interface {
	// GetHybridPage はライブとスナップショットのマージ結果から1ページを返す。
	GetHybridPage(ctx context.Context, after string, count int) *model.FeedPage
	// GetCachePage はスナップショットのみから1ページを返す。
	GetCachePage(after string, count int) *model.FeedPage
}

// HomeHandler はホームフィードのHTTPハンドラー。
type HomeHandler struct {
	service HomeFeedServiceInterface
}

// NewHomeHandler はHomeHandlerを生成する。
func NewHomeHandler(service HomeFeedServiceInterface) *HomeHandler {
	return &HomeHandler{service: service}
}

const (
	homeDefaultCount = 36
	homeMaxCount     = 80
)

// GetWorks はホームフィードの1ページを返す。
// GET /api/home/works?after=<cursor>&count=<1..80>
// source=cacheを指定するとライブ取得を行わずスナップショットのみで応答する（デバッグ用）。
func (h *HomeHandler) GetWorks(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	count := parseCount(r.URL.Query().Get("count"), homeDefaultCount, homeMaxCount)

	var page *model.FeedPage
	if r.URL.Query().Get("source") == "cache" {
		page = h.service.GetCachePage(after, count)
	} else {
		page = h.service.GetHybridPage(r.Context(), after, count)
	}

	writeJSON(w, http.StatusOK, page)
}

// parseCount はcountクエリパラメータをパースする。
// 未指定・パース不能・0以下はデフォルト値、上限超過は上限値にクランプする。
func parseCount(raw string, defaultCount, maxCount int) int {
	if raw == "" {
		return defaultCount
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 1 {
		return defaultCount
	}
	if count > maxCount {
		return maxCount
	}
	return count
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("レスポンスの書き込みに失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
