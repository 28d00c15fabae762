// Package upstream はコイン発行プラットフォームAPIのクライアントを提供する。
// プロフィール単位のコイン一覧取得とリトライ付きページフェッチを含む。
package upstream

import "encoding/json"

// Envelope はprofileCoinsエンドポイントのレスポンス全体を表す。
// 成功時は {"data":{"profile":...}}、失敗時は {"error":...} の形をとる。
type Envelope struct {
	Data  *EnvelopeData   `json:"data"`
	Error json.RawMessage `json:"error,omitempty"`
}

// EnvelopeData はエンベロープのdataフィールドを表す。
type EnvelopeData struct {
	Profile *Profile `json:"profile"`
}

// HasError はエンベロープがエラーペイロードを含むかを返す。
func (e *Envelope) HasError() bool {
	return len(e.Error) > 0 && string(e.Error) != "null"
}

// Profile はアップストリームのクリエイタープロフィールを表す。
type Profile struct {
	Handle         string          `json:"handle"`
	Avatar         *Avatar         `json:"avatar"`
	SocialAccounts *SocialAccounts `json:"socialAccounts"`
	CreatedCoins   *CoinPage       `json:"createdCoins"`
}

// Avatar はプロフィール画像のURL群を表す。
type Avatar struct {
	Small        string        `json:"small,omitempty"`
	Medium       string        `json:"medium,omitempty"`
	PreviewImage *PreviewImage `json:"previewImage"`
}

// PreviewImage はプレビュー画像のサイズ別URLを表す。
type PreviewImage struct {
	Small  string `json:"small,omitempty"`
	Medium string `json:"medium,omitempty"`
}

// MediumOrSmall はmediumを優先してプレビューURLを返す。
// nilレシーバでも安全に空文字列を返す。
func (p *PreviewImage) MediumOrSmall() string {
	if p == nil {
		return ""
	}
	if p.Medium != "" {
		return p.Medium
	}
	return p.Small
}

// SocialAccounts はプロフィールに紐づくSNSアカウントを表す。
type SocialAccounts struct {
	Twitter   *SocialAccount `json:"twitter"`
	Instagram *SocialAccount `json:"instagram"`
	Farcaster *SocialAccount `json:"farcaster"`
	TikTok    *SocialAccount `json:"tiktok"`
}

// SocialAccount は単一SNSアカウントのユーザー名を表す。
type SocialAccount struct {
	Username string `json:"username,omitempty"`
}

// User はnilレシーバでも安全にユーザー名を返す。
func (s *SocialAccount) User() string {
	if s == nil {
		return ""
	}
	return s.Username
}

// CoinPage はカーソルページング付きのコイン一覧を表す。
type CoinPage struct {
	Edges    []CoinEdge `json:"edges"`
	PageInfo PageInfo   `json:"pageInfo"`
}

// CoinEdge はコイン一覧の1要素を表す。
type CoinEdge struct {
	Node CoinRecord `json:"node"`
}

// PageInfo はアップストリームのカーソルページング情報を表す。
type PageInfo struct {
	EndCursor   string `json:"endCursor,omitempty"`
	HasNextPage bool   `json:"hasNextPage"`
}

// CoinRecord はアップストリームの1コインを表す。
type CoinRecord struct {
	ID             string        `json:"id,omitempty"`
	Address        string        `json:"address,omitempty"`
	ChainID        int           `json:"chainId,omitempty"`
	Name           string        `json:"name,omitempty"`
	Description    string        `json:"description,omitempty"`
	Symbol         string        `json:"symbol,omitempty"`
	CreatedAt      string        `json:"createdAt,omitempty"`
	TokenURI       string        `json:"tokenUri,omitempty"`
	MediaContent   *MediaContent `json:"mediaContent"`
	CreatorProfile *Profile      `json:"creatorProfile"`
}

// MediaContent はコインのメディア情報を表す。
type MediaContent struct {
	MimeType         string        `json:"mimeType,omitempty"`
	OriginalURI      string        `json:"originalUri,omitempty"`
	PreviewImage     *PreviewImage `json:"previewImage"`
	OriginalImageURL string        `json:"originalImageUrl,omitempty"`
	Dimensions       *Dimensions   `json:"dimensions"`
}

// Dimensions はメディアの縦横サイズを表す。
type Dimensions struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// Page はクライアントが返す1ページ分の取得結果を表す。
// EndCursorが空文字列の場合、HasNextPageは必ずfalseになる。
type Page struct {
	Profile     *Profile
	Coins       []CoinRecord
	EndCursor   string
	HasNextPage bool
}
