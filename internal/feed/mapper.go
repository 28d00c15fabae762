// Package feed はフィード集約のコアロジックを提供する。
// アップストリームのコインからフィードアイテムへの変換、
// マルチプロフィールのページング収集、ライブ取得、アーティストページを含む。
package feed

import (
	"context"

	"github.com/hitoshi/coindeck/internal/media"
	"github.com/hitoshi/coindeck/internal/model"
	"github.com/hitoshi/coindeck/internal/security"
	"github.com/hitoshi/coindeck/internal/upstream"
)

// defaultTitle はタイトル欠落時の表示名。
const defaultTitle = "Untitled"

// Mapper はアップストリームのコインレコードをフィードアイテムに変換する。
// テキストフィールドはサニタイズし、メディアURLはリゾルバで解決する。
type Mapper struct {
	resolver  media.MediaResolverService
	sanitizer security.TextSanitizerService
}

// NewMapper はMapper の新しいインスタンスを生成する。
func NewMapper(resolver media.MediaResolverService, sanitizer security.TextSanitizerService) *Mapper {
	return &Mapper{
		resolver:  resolver,
		sanitizer: sanitizer,
	}
}

// MapCoin はコインレコードを表示用フィードアイテムに変換する。
// クリエイター情報はコイン自身のcreatorProfileを優先し、
// なければページ取得元のプロフィールで補完する。
func (m *Mapper) MapCoin(ctx context.Context, coin upstream.CoinRecord, pageProfile *upstream.Profile) model.FeedItem {
	item := model.FeedItem{
		ID:          coin.ID,
		CoinAddress: coin.Address,
		ChainID:     coin.ChainID,
		CreatedAt:   coin.CreatedAt,
		Title:       m.sanitizer.Sanitize(coin.Name),
		Description: m.sanitizer.Sanitize(coin.Description),
		Symbol:      m.sanitizer.Sanitize(coin.Symbol),
		TokenURI:    media.ToHTTPURL(coin.TokenURI),
	}
	if item.Title == "" {
		item.Title = defaultTitle
	}

	creator := coin.CreatorProfile
	if creator == nil {
		creator = pageProfile
	}
	if creator != nil {
		item.CreatorHandle = creator.Handle
		item.CreatorAvatarURL = AvatarURL(creator)
	}

	res := m.resolver.Resolve(ctx, &coin)
	item.MediaURL = res.MediaURL
	item.MediaPreviewURL = res.MediaPreviewURL
	item.MediaMimeType = res.MediaMimeType
	item.MediaWidth = res.Width
	item.MediaHeight = res.Height

	return item
}

// AvatarURL はプロフィールからアバターURLを導出する。
// プレビュー画像（medium優先）、次にavatar本体のmedium、smallの順で使用する。
func AvatarURL(p *upstream.Profile) string {
	if p == nil || p.Avatar == nil {
		return ""
	}
	if url := p.Avatar.PreviewImage.MediumOrSmall(); url != "" {
		return url
	}
	if p.Avatar.Medium != "" {
		return p.Avatar.Medium
	}
	return p.Avatar.Small
}
