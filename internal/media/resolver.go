// Package media はコインのメディアURL解決を提供する。
// 宣言済みメディア情報からの導出と、トークンメタデータ取得によるフォールバックを含む。
package media

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/coindeck/internal/security"
	"github.com/hitoshi/coindeck/internal/upstream"
)

// maxMetadataSize はトークンメタデータの最大読み取りサイズ（1MB）。
const maxMetadataSize = 1 << 20

// ToHTTPURL はIPFS/ArweaveのURIスキームをHTTPSゲートウェイURLに正規化する。
// それ以外のスキームはそのまま返す。空文字列には空文字列を返す。
func ToHTTPURL(uri string) string {
	switch {
	case uri == "":
		return ""
	case strings.HasPrefix(uri, "ipfs://"):
		return "https://ipfs.io/ipfs/" + strings.TrimPrefix(uri, "ipfs://")
	case strings.HasPrefix(uri, "ar://"):
		return "https://arweave.net/" + strings.TrimPrefix(uri, "ar://")
	default:
		return uri
	}
}

// Resolution はメディア解決の結果を表す。
// 解決できなかったフィールドは空のまま残る。
type Resolution struct {
	MediaURL        string
	MediaPreviewURL string
	MediaMimeType   string
	Width           int
	Height          int
}

// MediaResolverService はメディア解決機能のインターフェースを定義する。
type MediaResolverService interface {
	// Resolve はコインレコードから表示用メディアURLを導出する。
	// 宣言済みメディア情報が不十分な場合のみ、トークンメタデータを
	// 1回だけネットワーク取得する。失敗しても決してエラーを返さず、
	// 解決できた範囲の結果を返す。
	Resolve(ctx context.Context, coin *upstream.CoinRecord) Resolution
}

// tokenMetadata はトークンメタデータJSONのうち解決に使うフィールド。
type tokenMetadata struct {
	Image        string `json:"image"`
	AnimationURL string `json:"animation_url"`
}

// resolver はMediaResolverServiceの実装。
// メタデータ取得にはSSRFガード付きのHTTPクライアントを使用する。
type resolver struct {
	httpClient *http.Client
	guard      security.SSRFGuardService
	logger     *slog.Logger
}

// NewResolver はMediaResolverServiceの新しいインスタンスを生成する。
// httpClientはSSRFガード付きクライアントを渡すこと。
func NewResolver(httpClient *http.Client, guard security.SSRFGuardService, logger *slog.Logger) *resolver {
	return &resolver{
		httpClient: httpClient,
		guard:      guard,
		logger:     logger,
	}
}

// Resolve はコインレコードから表示用メディアURLを導出する。
// 解決ルール:
//  1. 画像MIMEタイプ: プレビュー画像（medium優先）を使用し、
//     メディアURLはプレビュー、なければ元URIを正規化して使用する。
//  2. 動画MIMEタイプ: メディアURLは必ず元URI（再生可能なメディアに解決する）。
//     プレビューは宣言済みプレビュー画像。
//  3. それ以外: トークンメタデータを取得してimage/animation_urlを抽出する。
//     取得・パース失敗は握りつぶし、それまでに判明した結果を返す。
func (r *resolver) Resolve(ctx context.Context, coin *upstream.CoinRecord) Resolution {
	var res Resolution
	if coin == nil {
		return res
	}

	mc := coin.MediaContent
	if mc != nil {
		res.MediaMimeType = mc.MimeType
		if mc.Dimensions != nil {
			res.Width = mc.Dimensions.Width
			res.Height = mc.Dimensions.Height
		}

		switch {
		case strings.HasPrefix(mc.MimeType, "image/"):
			res.MediaPreviewURL = mc.PreviewImage.MediumOrSmall()
			if res.MediaPreviewURL != "" {
				res.MediaURL = res.MediaPreviewURL
			} else {
				res.MediaURL = ToHTTPURL(mc.OriginalURI)
			}
			return res
		case strings.HasPrefix(mc.MimeType, "video/"):
			res.MediaPreviewURL = mc.PreviewImage.MediumOrSmall()
			res.MediaURL = ToHTTPURL(mc.OriginalURI)
			return res
		}
	}

	// 宣言済みメディアで解決できない場合のメタデータフォールバック
	metadataURL := ToHTTPURL(coin.TokenURI)
	if metadataURL == "" {
		return res
	}

	meta, ok := r.fetchMetadata(ctx, metadataURL)
	if !ok {
		return res
	}

	res.MediaPreviewURL = ToHTTPURL(meta.Image)
	if meta.AnimationURL != "" {
		res.MediaURL = ToHTTPURL(meta.AnimationURL)
	} else {
		res.MediaURL = ToHTTPURL(meta.Image)
	}
	return res
}

// fetchMetadata はトークンメタデータJSONを取得してパースする。
// あらゆる失敗はfalseとして返し、エラーにしない（メディア欠落は許容される）。
func (r *resolver) fetchMetadata(ctx context.Context, metadataURL string) (tokenMetadata, bool) {
	var meta tokenMetadata

	if err := r.guard.ValidateURL(metadataURL); err != nil {
		r.logger.Warn("メタデータURLの検証に失敗しました",
			slog.String("url", metadataURL),
			slog.String("error", err.Error()),
		)
		return meta, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return meta, false
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Coindeck/1.0 Feed Aggregator")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return meta, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return meta, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return meta, false
	}

	if err := json.Unmarshal(body, &meta); err != nil {
		return meta, false
	}

	return meta, true
}
