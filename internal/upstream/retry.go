package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PageClient はコインページ取得のインターフェース。
// 収集系からはこのインターフェース越しにClientを利用する。
type PageClient interface {
	GetProfileCoins(ctx context.Context, identifier string, count int, after string) (*Page, error)
}

// RetryPolicy はページ取得のリトライ戦略を表す。
// バックオフは線形で、attempt回目の失敗後に Backoff*attempt 待機する。
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy はバッチ収集用の標準リトライ戦略を返す。
// 最大3回試行、250ms×試行回数の線形バックオフ。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 250 * time.Millisecond}
}

// SingleAttemptPolicy はリトライなしの戦略を返す。
// レイテンシ上限が厳しいライブ取得用。
func SingleAttemptPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// Fetcher はリトライとタイムアウトを適用してページを取得する。
type Fetcher struct {
	client  PageClient
	logger  *slog.Logger
	policy  RetryPolicy
	timeout time.Duration
}

// NewFetcher はFetcher の新しいインスタンスを生成する。
// timeoutは1試行あたりの上限時間。0以下の場合はタイムアウトを適用しない。
func NewFetcher(client PageClient, logger *slog.Logger, policy RetryPolicy, timeout time.Duration) *Fetcher {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Fetcher{
		client:  client,
		logger:  logger,
		policy:  policy,
		timeout: timeout,
	}
}

// FetchPage はリトライ戦略に従ってプロフィールのコインページを取得する。
// 各試行には個別のタイムアウトが適用される。全試行失敗時は最後のエラーを返す。
// 親コンテキストのキャンセルはバックオフ待機中にも反映される。
func (f *Fetcher) FetchPage(ctx context.Context, identifier string, count int, after string) (*Page, error) {
	var lastErr error

	for attempt := 1; attempt <= f.policy.MaxAttempts; attempt++ {
		page, err := f.fetchOnce(ctx, identifier, count, after)
		if err == nil {
			return page, nil
		}
		lastErr = err

		if attempt < f.policy.MaxAttempts {
			f.logger.Warn("ページ取得に失敗したためリトライします",
				slog.String("identifier", identifier),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			select {
			case <-time.After(f.policy.Backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("ページ取得が%d回失敗しました: %w", f.policy.MaxAttempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, identifier string, count int, after string) (*Page, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	return f.client.GetProfileCoins(ctx, identifier, count, after)
}
