package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/hitoshi/coindeck/internal/metrics"
)

const (
	// defaultEndpoint はコインAPIのベースエンドポイント。
	defaultEndpoint = "https://api-sdk.zora.engineering"
	// maxCountPerRequest は1リクエストあたりの最大取得件数。
	maxCountPerRequest = 50
)

// Client はコインAPIのクライアント。
// profileCoinsエンドポイントを使用してプロフィール単位のコイン一覧を取得する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	metrics    metrics.MetricsCollector
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClient の新しいインスタンスを生成する。
// requestsPerSecが0以下の場合はレート制限を行わない。
func NewClient(httpClient *http.Client, logger *slog.Logger, requestsPerSec float64, collector metrics.MetricsCollector) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSec), int(requestsPerSec)+1)
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		limiter:    limiter,
		metrics:    collector,
		endpoint:   defaultEndpoint,
	}
}

// SetEndpoint はAPIのベースエンドポイントを差し替える。
func (c *Client) SetEndpoint(endpoint string) {
	c.endpoint = endpoint
}

// GetProfileCoins は指定プロフィールの作成コイン一覧を1ページ取得する。
// countは最大50件。afterが空文字列の場合は先頭ページを取得する。
// endCursorが空のレスポンスはhasNextPageをfalseに矯正する（無限ループ防止）。
func (c *Client) GetProfileCoins(ctx context.Context, identifier string, count int, after string) (*Page, error) {
	if identifier == "" {
		return nil, fmt.Errorf("プロフィール識別子が空です")
	}
	if count < 1 || count > maxCountPerRequest {
		return nil, fmt.Errorf("取得件数が範囲外です: %d (1-%d)", count, maxCountPerRequest)
	}

	// レート制限待機
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("レート制限の待機に失敗しました: %w", err)
	}

	// リクエストURL構築
	reqURL, err := url.Parse(c.endpoint + "/profileCoins")
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}

	q := reqURL.Query()
	q.Set("identifier", identifier)
	q.Set("count", strconv.Itoa(count))
	if after != "" {
		q.Set("after", after)
	}
	reqURL.RawQuery = q.Encode()

	// HTTPリクエスト作成
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Coindeck/1.0 Feed Aggregator")

	// HTTPリクエスト実行
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("コインAPIの呼び出しに失敗しました",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()),
		)
		c.metrics.RecordUpstreamFailure(identifier, "request_error")
		return nil, err
	}
	defer resp.Body.Close()

	// HTTPステータスチェック
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("コインAPIがエラーステータスを返しました",
			slog.String("identifier", identifier),
			slog.Int("http_status", resp.StatusCode),
		)
		c.metrics.RecordUpstreamFailure(identifier, "http_status")
		return nil, fmt.Errorf("コインAPIがステータス %d を返しました", resp.StatusCode)
	}

	// レスポンスボディ読み取り
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordUpstreamFailure(identifier, "read_error")
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	// JSONデコード
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.logger.Error("コインAPIのレスポンスのパースに失敗しました",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()),
		)
		c.metrics.RecordUpstreamFailure(identifier, "parse_error")
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	// エラーペイロードは一時障害として扱い、呼び出し側のリトライに委ねる
	if envelope.HasError() {
		c.logger.Error("コインAPIがエラーペイロードを返しました",
			slog.String("identifier", identifier),
			slog.String("payload", string(envelope.Error)),
		)
		c.metrics.RecordUpstreamFailure(identifier, "error_payload")
		return nil, fmt.Errorf("コインAPIがエラーペイロードを返しました: %s", envelope.Error)
	}

	var profile *Profile
	if envelope.Data != nil {
		profile = envelope.Data.Profile
	}

	page := &Page{Profile: profile}
	if profile != nil && profile.CreatedCoins != nil {
		coinPage := profile.CreatedCoins
		page.Coins = make([]CoinRecord, 0, len(coinPage.Edges))
		for _, edge := range coinPage.Edges {
			page.Coins = append(page.Coins, edge.Node)
		}
		page.EndCursor = coinPage.PageInfo.EndCursor
		page.HasNextPage = coinPage.PageInfo.HasNextPage
	}

	// endCursorが空のままhasNextPage=trueを返すアップストリームへの防御
	if page.EndCursor == "" {
		page.HasNextPage = false
	}

	c.metrics.RecordUpstreamSuccess(identifier)
	return page, nil
}
