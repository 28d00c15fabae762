package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/coindeck/internal/model"
)

// ArtistServiceInterface はアーティストハンドラーが必要とするサービスインターフェース。
type ArtistServiceInterface interface {
	// GetPage は指定ハンドルのアーティストの作品を1ページ取得する。
	GetPage(ctx context.Context, handle string, count int, after string) (*model.ArtistPage, error)
}

// ArtistHandler はアーティスト作品一覧のHTTPハンドラー。
type ArtistHandler struct {
	service ArtistServiceInterface
}

// NewArtistHandler はArtistHandlerを生成する。
func NewArtistHandler(service ArtistServiceInterface) *ArtistHandler {
	return &ArtistHandler{service: service}
}

const (
	artistDefaultCount = 18
	artistMaxCount     = 50
)

// GetWorks はアーティストの作品一覧の1ページを返す。
// GET /api/artist/{handle}/works?after=<upstreamCursor>&count=<1..50>
// アップストリーム失敗時は例外にせず、502と空ページで応答する
// （UIは空状態を表示でき、リトライはクライアント側の判断に委ねる）。
func (h *ArtistHandler) GetWorks(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if handle == "" {
		writeJSON(w, http.StatusBadRequest, model.NewInvalidRequestError("handleが指定されていません"))
		return
	}

	after := r.URL.Query().Get("after")
	count := parseCount(r.URL.Query().Get("count"), artistDefaultCount, artistMaxCount)

	page, err := h.service.GetPage(r.Context(), handle, count, after)
	if err != nil {
		slog.Warn("アーティストページを空で応答します",
			slog.String("handle", handle),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadGateway, &model.ArtistPage{
			Items:       []model.FeedItem{},
			HasNextPage: false,
		})
		return
	}

	writeJSON(w, http.StatusOK, page)
}
