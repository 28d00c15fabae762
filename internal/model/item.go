// Package model はドメインモデルを定義する。
package model

import (
	"sort"
	"time"
)

// FeedItem は表示用に正規化されたコインのレコードを表す。
// JSONフィールド名はフロントエンドが期待するcamelCase形式に合わせる。
type FeedItem struct {
	ID          string `json:"id"`
	CoinAddress string `json:"coinAddress"`
	ChainID     int    `json:"chainId"`
	CreatedAt   string `json:"createdAt,omitempty"`

	Title       string `json:"title"`
	Description string `json:"description"`
	Symbol      string `json:"symbol"`

	CreatorHandle    string `json:"creatorHandle,omitempty"`
	CreatorAvatarURL string `json:"creatorAvatarUrl,omitempty"`

	TokenURI        string `json:"tokenUri,omitempty"`
	MediaURL        string `json:"mediaUrl,omitempty"`
	MediaPreviewURL string `json:"mediaPreviewUrl,omitempty"`
	MediaMimeType   string `json:"mediaMimeType,omitempty"`
	MediaWidth      int    `json:"mediaWidth,omitempty"`
	MediaHeight     int    `json:"mediaHeight,omitempty"`
}

// ParseCreatedAt はISO-8601形式のcreatedAtをunixミリ秒に変換する。
// 空文字列またはパース不能な値は0を返す（降順ソートで最後尾に回る）。
func ParseCreatedAt(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// NormalizeItems はIDで重複排除（先勝ち）し、createdAt降順でソートした
// 新しいスライスを返す。IDが空のアイテムは除外する。入力は変更しない。
// 安定ソートのため、同一時刻のアイテムは入力順（先勝ち順）を保つ。
func NormalizeItems(items []FeedItem) []FeedItem {
	seen := make(map[string]struct{}, len(items))
	result := make([]FeedItem, 0, len(items))

	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		result = append(result, item)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return ParseCreatedAt(result[i].CreatedAt) > ParseCreatedAt(result[j].CreatedAt)
	})

	return result
}
