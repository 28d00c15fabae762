package feed

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hitoshi/coindeck/internal/model"
	"github.com/hitoshi/coindeck/internal/upstream"
)

// ArtistService はアーティスト単位の作品一覧取得を提供する。
// アップストリームのカーソルをそのまま透過するシンプルなページングを行う。
type ArtistService struct {
	fetcher PageFetcher
	mapper  *Mapper
	logger  *slog.Logger
}

// NewArtistService はArtistService の新しいインスタンスを生成する。
func NewArtistService(fetcher PageFetcher, mapper *Mapper, logger *slog.Logger) *ArtistService {
	return &ArtistService{
		fetcher: fetcher,
		mapper:  mapper,
		logger:  logger,
	}
}

// GetPage は指定ハンドルのアーティストの作品を1ページ取得する。
// ハンドルの先頭の@は除去してアップストリームに渡す。
// afterはアップストリームのカーソル（空文字列で先頭ページ）。
// アップストリーム失敗時はエラーを返す（呼び出し元が空ページ応答を判断する）。
func (s *ArtistService) GetPage(ctx context.Context, handle string, count int, after string) (*model.ArtistPage, error) {
	handle = strings.TrimPrefix(handle, "@")
	page, err := s.fetcher.FetchPage(ctx, handle, count, after)
	if err != nil {
		s.logger.Error("アーティストページの取得に失敗しました",
			slog.String("handle", handle),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamFailedError(handle)
	}

	items := make([]model.FeedItem, 0, len(page.Coins))
	for _, coin := range page.Coins {
		if coin.ID == "" {
			continue
		}
		items = append(items, s.mapper.MapCoin(ctx, coin, page.Profile))
	}

	result := &model.ArtistPage{
		Items:       items,
		NextCursor:  page.EndCursor,
		HasNextPage: page.HasNextPage,
	}
	if page.Profile != nil {
		result.Profile = &model.ArtistProfile{
			Handle:    page.Profile.Handle,
			AvatarURL: AvatarURL(page.Profile),
			Social:    mapSocial(page.Profile.SocialAccounts),
		}
	}
	return result, nil
}

// mapSocial はアップストリームのSNSアカウント情報をレスポンス形式に変換する。
func mapSocial(accounts *upstream.SocialAccounts) model.ArtistSocial {
	if accounts == nil {
		return model.ArtistSocial{}
	}
	return model.ArtistSocial{
		Twitter:   accounts.Twitter.User(),
		Instagram: accounts.Instagram.User(),
		Farcaster: accounts.Farcaster.User(),
		TikTok:    accounts.TikTok.User(),
	}
}
