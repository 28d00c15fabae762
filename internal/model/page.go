package model

// フィードページのsource種別。
const (
	// SourceHybrid はキャッシュとライブ取得のマージ結果。
	SourceHybrid = "hybrid"
	// SourceCache はスナップショットのみの結果。
	SourceCache = "cache"
	// SourceEmpty はスナップショット不在時の空結果。
	SourceEmpty = "empty"
)

// FeedPage はホームフィードの1ページ分のレスポンスを表す。
// NextCursorが空文字列の場合はJSONから省略される（最終ページ）。
type FeedPage struct {
	Items       []FeedItem `json:"items"`
	NextCursor  string     `json:"nextCursor,omitempty"`
	HasNextPage bool       `json:"hasNextPage"`
	Total       int        `json:"total"`
	Source      string     `json:"source"`
	LiveCount   int        `json:"liveCount"`
	CacheCount  int        `json:"cacheCount"`
}

// ArtistSocial はアーティストのSNSアカウント名を保持する。
type ArtistSocial struct {
	Twitter   string `json:"twitter,omitempty"`
	Instagram string `json:"instagram,omitempty"`
	Farcaster string `json:"farcaster,omitempty"`
	TikTok    string `json:"tiktok,omitempty"`
}

// ArtistProfile はアーティストページ用のプロフィール情報を表す。
type ArtistProfile struct {
	Handle    string       `json:"handle"`
	AvatarURL string       `json:"avatarUrl,omitempty"`
	Social    ArtistSocial `json:"social"`
}

// ArtistPage はアーティスト作品一覧の1ページ分の結果を表す。
// NextCursorはアップストリームのカーソルをそのまま透過する。
type ArtistPage struct {
	Profile     *ArtistProfile `json:"profile,omitempty"`
	Items       []FeedItem     `json:"items"`
	NextCursor  string         `json:"nextCursor,omitempty"`
	HasNextPage bool           `json:"hasNextPage"`
}
